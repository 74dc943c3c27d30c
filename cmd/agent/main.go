// Package main is the entry point for the guild memory agent.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/easeaico/guild-memory-agent/internal/config"
	"github.com/easeaico/guild-memory-agent/internal/llm"
	"github.com/easeaico/guild-memory-agent/internal/logging"
	"github.com/easeaico/guild-memory-agent/internal/memory"
	"github.com/easeaico/guild-memory-agent/internal/service"
	"github.com/easeaico/guild-memory-agent/internal/worker"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:          "agent",
		Short:        "Guild memory agent - a chat companion that remembers server knowledge",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(consoleCmd())
	rootCmd.AddCommand(knowledgeCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runtime bundles the components shared by every command.
type runtime struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    memory.Store
	pool     *worker.Pool
	registry *prometheus.Registry
	agent    *service.Agent
}

func newRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	client, err := llm.New(ctx, cfg.LLM)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create llm client: %w", err)
	}

	pool := worker.New(cfg.Worker.Workers, cfg.Worker.QueueSize, logger.Named("worker"))
	registry := prometheus.NewRegistry()
	agent := service.NewAgent(service.Deps{
		Config:     cfg,
		Store:      store,
		Client:     client,
		Pool:       pool,
		Registerer: registry,
		Logger:     logger,
	})

	logger.Info("agent initialized",
		zap.String("provider", cfg.LLM.Provider),
		zap.String("model", cfg.LLM.Model),
		zap.String("database", cfg.Database.Type),
		zap.Int("workers", cfg.Worker.Workers))

	return &runtime{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		pool:     pool,
		registry: registry,
		agent:    agent,
	}, nil
}

// Close drains the worker pool before releasing the store.
func (r *runtime) Close(ctx context.Context) {
	if err := r.pool.Close(ctx); err != nil {
		r.logger.Warn("worker pool did not drain", zap.Error(err))
	}
	if err := r.store.Close(); err != nil {
		r.logger.Warn("failed to close store", zap.Error(err))
	}
	_ = r.logger.Sync()
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (memory.Store, error) {
	switch cfg.Type {
	case config.DBTypePostgres:
		store, err := memory.NewPostgresStore(ctx, cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := store.InitSchema(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
		return store, nil
	default:
		store, err := memory.NewSQLiteStore(ctx, cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := store.InitSchema(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
		return store, nil
	}
}
