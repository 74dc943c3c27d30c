package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"text/template"

	"github.com/spf13/cobra"
	"google.golang.org/adk/agent"
	"google.golang.org/adk/agent/llmagent"
	"google.golang.org/adk/cmd/launcher"
	"google.golang.org/adk/cmd/launcher/full"
	"google.golang.org/adk/model/gemini"
	"google.golang.org/genai"

	"github.com/easeaico/guild-memory-agent/internal/config"
	"github.com/easeaico/guild-memory-agent/internal/memory"
	"github.com/easeaico/guild-memory-agent/internal/tools"
)

const defaultCuratorModel = "gemini-2.0-flash"

func consoleCmd() *cobra.Command {
	var guildID, model string

	cmd := &cobra.Command{
		Use:   "console [launcher args]",
		Short: "Run the knowledge curator agent through the ADK launcher",
		Long: `Run an ADK agent that curates one guild's knowledge base.
Remaining arguments are passed to the ADK launcher (e.g. "console" or "web").

Examples:
  agent console --guild 1234 -- console
  agent console --guild 1234 -- web api webui`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsole(cmd.Context(), guildID, model, args)
		},
	}

	cmd.Flags().StringVarP(&guildID, "guild", "g", "", "guild whose knowledge is curated")
	cmd.Flags().StringVar(&model, "model", defaultCuratorModel, "Gemini model of the curator")
	_ = cmd.MarkFlagRequired("guild")
	return cmd
}

func runConsole(ctx context.Context, guildID, model string, args []string) error {
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	apiKey := os.Getenv("GOOGLE_API_KEY")
	if apiKey == "" && rt.cfg.LLM.Provider == config.ProviderGemini {
		apiKey = rt.cfg.LLM.APIKey
	}
	if apiKey == "" {
		return fmt.Errorf("GOOGLE_API_KEY environment variable is required for the curator console")
	}

	agentTools, err := tools.BuildTools(tools.ToolsConfig{Curator: rt.agent, GuildID: guildID})
	if err != nil {
		return fmt.Errorf("failed to build tools: %w", err)
	}

	llmModel, err := gemini.NewModel(ctx, model, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return fmt.Errorf("failed to create LLM model: %w", err)
	}

	curator, err := llmagent.New(llmagent.Config{
		Name:        "guild_curator",
		Description: "Helps moderators review and maintain a guild's knowledge base",
		Model:       llmModel,
		Instruction: buildInstruction(guildID, rt.cfg.UX),
		Tools:       agentTools,
	})
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}

	launchCfg := &launcher.Config{
		AgentLoader:   agent.NewSingleLoader(curator),
		MemoryService: memory.NewService(rt.store, rt.cfg.UX.MaxConversationMessages),
	}
	l := full.NewLauncher()
	if err := l.Execute(ctx, launchCfg, args); err != nil {
		return fmt.Errorf("failed to run agent: %w\n\n%s", err, l.CommandLineSyntax())
	}
	return nil
}

var instructionTmpl = template.Must(template.New("instruction").Parse(`
You are the knowledge curator of guild {{.GuildID}}.
You help moderators keep the server knowledge base accurate.

You can:
1. Search the knowledge base with search_knowledge
2. Add moderator-confirmed facts with add_knowledge (at most {{.MaxLength}} characters)
3. List learned facts with confidence at or below {{.Threshold}} using review_knowledge
4. Explain what went into a member's latest reply with explain_last_reply

When answering:
- Search before adding so duplicates get merged instead of repeated
- Only add facts a moderator has confirmed
- Quote entry ids so moderators can remove wrong entries
`))

// buildInstruction renders the curator system instruction.
func buildInstruction(guildID string, ux config.UXConfig) string {
	data := struct {
		GuildID   string
		MaxLength int
		Threshold float64
	}{
		GuildID:   guildID,
		MaxLength: ux.MaxKnowledgeLength,
		Threshold: ux.LowConfidenceThreshold,
	}

	var buf bytes.Buffer
	_ = instructionTmpl.Execute(&buf, data)
	return buf.String()
}
