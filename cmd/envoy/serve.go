package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/envoy/internal/anthropic"
	"github.com/MikeSquared-Agency/envoy/internal/api"
	"github.com/MikeSquared-Agency/envoy/internal/clarifier"
	"github.com/MikeSquared-Agency/envoy/internal/engine"
	"github.com/MikeSquared-Agency/envoy/internal/hermes"
	"github.com/MikeSquared-Agency/envoy/internal/prefs"
	"github.com/MikeSquared-Agency/envoy/internal/processor"
	"github.com/MikeSquared-Agency/envoy/internal/session"
	"github.com/MikeSquared-Agency/envoy/internal/slack"
	"github.com/MikeSquared-Agency/envoy/internal/task"
	"github.com/MikeSquared-Agency/envoy/internal/watchdog"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the envoy agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func serve() error {
	cfg := loadConfig()
	slog.Info("envoy starting", "port", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	store, err := session.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	slog.Info("database connected")

	if cfg.AnthropicAPIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	llm := anthropic.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	slog.Info("anthropic client ready", "model", cfg.AnthropicModel)

	team, err := prefs.Load(cfg.PrefsPath)
	if err != nil {
		return fmt.Errorf("load preferences: %w", err)
	}
	if cfg.PrefsPath != "" {
		slog.Info("preferences loaded", "path", cfg.PrefsPath, "members", len(team.Team))
	}

	hermesClient, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer hermesClient.Close()
	slog.Info("NATS connected", "url", cfg.NatsURL)

	materializer := task.New(store.Pool(), hermesClient, slog.Default())
	if err := materializer.Migrate(ctx); err != nil {
		return err
	}

	clar := clarifier.New(llm, slog.Default())
	eng := engine.New(store, clar, materializer, team, slog.Default())

	// Slack poster is optional. Without it previews are typed-reply only.
	var slackPoster *slack.Poster
	if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
		slackPoster = slack.NewPoster(cfg.SlackBotToken, cfg.SlackChannel, slog.Default())
		slog.Info("slack poster ready", "channel", cfg.SlackChannel)
	} else {
		slog.Warn("slack not configured, previews are reply-only")
	}

	proc := processor.New(eng, store, hermesClient, slackPoster, slog.Default())

	if err := hermesClient.Subscribe(hermes.SubjectInboundMessage, proc.HandleInboundMessage); err != nil {
		return err
	}
	if err := hermesClient.Subscribe(hermes.SubjectSlackReaction, proc.HandleReaction); err != nil {
		return err
	}

	wd := watchdog.New(store, eng, proc, watchdog.Config{
		RemindAfter:   cfg.RemindAfter,
		FinalizeAfter: cfg.FinalizeAfter,
		ActiveTTL:     cfg.ActiveTTL,
		TerminalTTL:   cfg.TerminalTTL,
	}, slog.Default())
	go wd.Run(ctx, cfg.SweepInterval)

	srv := api.NewServer(cfg.Port, cfg.APIToken, eng, store, wd, slog.Default())
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	proc.Register()
	slog.Info("envoy ready", "port", cfg.Port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")
	cancel()
	slog.Info("envoy stopped")
	return nil
}
