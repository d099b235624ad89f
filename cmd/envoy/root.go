package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/envoy/internal/config"
)

var version = "dev"

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "envoy",
		Short: "Envoy - chat-driven task delegation for the swarm",
		Long: `Envoy turns chat messages into structured, assigned tasks.

It listens on the swarm bus for gateway messages, asks clarifying questions
when a request is ambiguous, previews the drafted task for confirmation, and
materializes confirmed drafts into the task store.`,
		Version:      version,
		SilenceUsage: true,
	}

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newSweepCommand())

	return cmd
}

func execute() error {
	return newRootCommand().Execute()
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}

func loadConfig() config.Config {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)
	return cfg
}
