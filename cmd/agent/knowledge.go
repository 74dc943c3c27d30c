package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func knowledgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "knowledge",
		Short: "Manage a guild's knowledge base",
	}
	cmd.AddCommand(knowledgeAddCmd())
	cmd.AddCommand(knowledgeListCmd())
	return cmd
}

func knowledgeAddCmd() *cobra.Command {
	var guildID, addedBy string

	cmd := &cobra.Command{
		Use:   "add [text]",
		Short: "Add a moderator-confirmed fact",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(context.Background())

			entry, err := rt.agent.AddManualKnowledge(ctx, guildID, addedBy, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored #%d (confidence %.2f, %s)\n", entry.ID, entry.Confidence, entry.Source)
			return nil
		},
	}

	cmd.Flags().StringVarP(&guildID, "guild", "g", "", "guild id")
	cmd.Flags().StringVar(&addedBy, "added-by", "cli", "author recorded on the entry")
	_ = cmd.MarkFlagRequired("guild")
	return cmd
}

func knowledgeListCmd() *cobra.Command {
	var (
		guildID string
		limit   int
		review  bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the newest knowledge entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(context.Background())

			list := rt.agent.ListKnowledge
			if review {
				list = rt.agent.ReviewKnowledge
			}
			entries, err := list(ctx, guildID, limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCONFIDENCE\tSOURCE\tTEXT")
			for _, e := range entries {
				fmt.Fprintf(w, "%d\t%.2f\t%s\t%s\n", e.ID, e.Confidence, e.Source, e.Text)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&guildID, "guild", "g", "", "guild id")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum entries")
	cmd.Flags().BoolVar(&review, "review", false, "list low-confidence learned entries instead")
	_ = cmd.MarkFlagRequired("guild")
	return cmd
}
