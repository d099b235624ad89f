package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/envoy/internal/anthropic"
	"github.com/MikeSquared-Agency/envoy/internal/clarifier"
	"github.com/MikeSquared-Agency/envoy/internal/engine"
	"github.com/MikeSquared-Agency/envoy/internal/hermes"
	"github.com/MikeSquared-Agency/envoy/internal/prefs"
	"github.com/MikeSquared-Agency/envoy/internal/processor"
	"github.com/MikeSquared-Agency/envoy/internal/session"
	"github.com/MikeSquared-Agency/envoy/internal/task"
	"github.com/MikeSquared-Agency/envoy/internal/watchdog"
)

// newSweepCommand runs a single watchdog pass and prints the report. Useful
// for cron-style deployments and for inspecting sweep behavior by hand.
func newSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one timeout sweep and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return sweepOnce()
		},
	}
}

func sweepOnce() error {
	cfg := loadConfig()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	store, err := session.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer store.Close()

	if cfg.AnthropicAPIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	llm := anthropic.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicModel)

	team, err := prefs.Load(cfg.PrefsPath)
	if err != nil {
		return fmt.Errorf("load preferences: %w", err)
	}

	hermesClient, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer hermesClient.Close()

	materializer := task.New(store.Pool(), hermesClient, slog.Default())
	eng := engine.New(store, clarifier.New(llm, slog.Default()), materializer, team, slog.Default())
	proc := processor.New(eng, store, hermesClient, nil, slog.Default())

	wd := watchdog.New(store, eng, proc, watchdog.Config{
		RemindAfter:   cfg.RemindAfter,
		FinalizeAfter: cfg.FinalizeAfter,
		ActiveTTL:     cfg.ActiveTTL,
		TerminalTTL:   cfg.TerminalTTL,
	}, slog.Default())

	report := wd.Sweep(ctx, time.Now().UTC())
	return json.NewEncoder(os.Stdout).Encode(report)
}
