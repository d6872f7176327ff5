package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/projectx/agentx/internal/agent"
	"github.com/projectx/agentx/internal/config"
	"github.com/projectx/agentx/internal/gateway"
	"github.com/projectx/agentx/internal/providers"
	"github.com/projectx/agentx/internal/sandbox"
	"github.com/projectx/agentx/internal/store"
	"github.com/projectx/agentx/internal/telemetry"
	"github.com/projectx/agentx/internal/tools"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run migrations and start the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	if cfg.AnthropicAPIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is not set")
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdownTracing(flushCtx)
	}()

	if err := store.Migrate(cfg.DatabaseURL); err != nil {
		return err
	}
	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer st.Close()

	validator, err := sandbox.NewValidator([]string{cfg.SandboxDir})
	if err != nil {
		return err
	}
	workspace := tools.NewWorkspace(cfg.SandboxDir, validator)
	registry := tools.DefaultRegistry(workspace, tools.NewProcessRegistry())

	provider := providers.NewAnthropicProvider(cfg.AnthropicAPIKey, providers.WithAnthropicModel(cfg.Model))
	runner := &agent.Runner{
		Provider: provider,
		Registry: registry,
		System:   agent.SystemPrompt(cfg.SandboxDir),
		Model:    cfg.Model,
	}

	var compactor *agent.Compactor
	if cfg.CompactionEnabled {
		compactor = &agent.Compactor{Provider: provider, Threshold: cfg.CompactionThreshold}
	}

	slog.Info("agentx starting",
		"sandbox", cfg.SandboxDir,
		"model", cfg.Model,
		"compaction", cfg.CompactionEnabled)

	srv := gateway.NewServer(cfg, st, runner, compactor)
	return srv.Start(ctx)
}
