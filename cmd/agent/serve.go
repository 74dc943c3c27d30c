package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/easeaico/guild-memory-agent/internal/httpapi"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP gateway",
		Long: `Start the HTTP gateway that a chat bot forwards mentions and commands to.

Examples:
  agent serve
  agent serve --config config.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}
}

func runServe(ctx context.Context) error {
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}

	server, err := httpapi.NewServer(rt.agent, rt.registry, rt.logger.Named("http"), rt.cfg.HTTP)
	if err != nil {
		rt.Close(context.Background())
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		rt.logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			rt.logger.Warn("http shutdown failed", zap.Error(err))
		}
		rt.Close(shutdownCtx)
		return nil
	})

	return g.Wait()
}
