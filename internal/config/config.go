package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port            int
	NatsURL         string
	NatsToken       string
	DatabaseURL     string
	LogLevel        string
	AnthropicAPIKey string
	AnthropicModel  string
	SlackBotToken   string
	SlackChannel    string
	PrefsPath       string
	APIToken        string

	RemindAfter   time.Duration
	FinalizeAfter time.Duration
	SweepInterval time.Duration
	ActiveTTL     time.Duration
	TerminalTTL   time.Duration
}

func Load() Config {
	return Config{
		Port:            envInt("ENVOY_PORT", 8760),
		NatsURL:         envStr("NATS_URL", "nats://hermes:4222"),
		NatsToken:       envStr("NATS_TOKEN", ""),
		DatabaseURL:     envStr("DATABASE_URL", ""),
		LogLevel:        envStr("LOG_LEVEL", "info"),
		AnthropicAPIKey: envStr("ANTHROPIC_API_KEY", ""),
		AnthropicModel:  envStr("ENVOY_MODEL", "claude-sonnet-4-20250514"),
		SlackBotToken:   envStr("SLACK_BOT_TOKEN", ""),
		SlackChannel:    envStr("SLACK_TASKS_CHANNEL", ""),
		PrefsPath:       envStr("ENVOY_PREFS_PATH", ""),
		APIToken:        envStr("ENVOY_API_TOKEN", ""),

		RemindAfter:   envDuration("ENVOY_REMIND_AFTER", 30*time.Minute),
		FinalizeAfter: envDuration("ENVOY_FINALIZE_AFTER", 2*time.Hour),
		SweepInterval: envDuration("ENVOY_SWEEP_INTERVAL", 5*time.Minute),
		ActiveTTL:     envDuration("ENVOY_ACTIVE_TTL", 72*time.Hour),
		TerminalTTL:   envDuration("ENVOY_TERMINAL_TTL", 336*time.Hour),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
