package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	Login           string
	Channels        []string
	Policy          string
	ChannelsPer     int
	MaxShards       int
	InitialShards   int
	GatewayURL      string
	NATSURL         string
	MetricsPort     int
	LogLevel        string
	LogFormat       string
	Debug           bool
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}
	var channels string

	flag.StringVar(&cfg.Login, "login",
		getEnv("TWITCH_LOGIN", ""),
		"Twitch account to connect as (env: TWITCH_LOGIN)")

	flag.StringVar(&channels, "channels",
		getEnv("TWITCH_CHANNELS", ""),
		"Comma-separated channels to join (env: TWITCH_CHANNELS)")

	flag.StringVar(&cfg.Policy, "policy",
		getEnv("TWITCH_POLICY", "distributed"),
		"Assignment policy: default, distributed (env: TWITCH_POLICY)")

	flag.IntVar(&cfg.ChannelsPer, "channels-per-shard",
		getEnvInt("TWITCH_CHANNELS_PER_SHARD", 25),
		"Per-shard channel cap (env: TWITCH_CHANNELS_PER_SHARD)")

	flag.IntVar(&cfg.MaxShards, "max-shards",
		getEnvInt("TWITCH_MAX_SHARDS", 5),
		"Hard ceiling on concurrent shards (env: TWITCH_MAX_SHARDS)")

	flag.IntVar(&cfg.InitialShards, "initial-shards",
		getEnvInt("TWITCH_INITIAL_SHARDS", 1),
		"Starting shard count (env: TWITCH_INITIAL_SHARDS)")

	flag.StringVar(&cfg.GatewayURL, "gateway",
		getEnv("TWITCH_GATEWAY", ""),
		"Websocket gateway URL, empty for production (env: TWITCH_GATEWAY)")

	flag.StringVar(&cfg.NATSURL, "nats",
		getEnv("TWITCH_NATS_URL", ""),
		"NATS URL for lifecycle events, empty to disable (env: TWITCH_NATS_URL)")

	flag.IntVar(&cfg.MetricsPort, "metrics-port",
		getEnvInt("TWITCH_METRICS_PORT", 9090),
		"Prometheus metrics port, 0 to disable (env: TWITCH_METRICS_PORT)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("TWITCH_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: TWITCH_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("TWITCH_LOG_FORMAT", "json"),
		"Log format: json, text (env: TWITCH_LOG_FORMAT)")

	flag.BoolVar(&cfg.Debug, "debug",
		getEnvBool("TWITCH_DEBUG", false),
		"Enable debug mode (env: TWITCH_DEBUG)")

	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("TWITCH_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: TWITCH_SHUTDOWN_TIMEOUT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")

	flag.Usage = func() {
		printDetailedHelp()
	}

	flag.Parse()

	if cfg.Debug {
		cfg.LogLevel = "debug"
	}

	for _, ch := range strings.Split(channels, ",") {
		ch = strings.TrimSpace(ch)
		if ch != "" {
			cfg.Channels = append(cfg.Channels, ch)
		}
	}

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if cfg.Login == "" {
		return fmt.Errorf("login is required (flag -login or env TWITCH_LOGIN)")
	}

	if os.Getenv("TWITCH_TOKEN") == "" {
		return fmt.Errorf("TWITCH_TOKEN environment variable is required")
	}

	validPolicies := []string{"default", "distributed"}
	if !contains(validPolicies, cfg.Policy) {
		return fmt.Errorf("invalid policy: %s", cfg.Policy)
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	validFormats := []string{"json", "text"}
	if !contains(validFormats, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if cfg.MetricsPort < 0 || cfg.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.MetricsPort)
	}

	return nil
}

func printDetailedHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - Twitch IRC shard manager

Usage: %s [options]

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Join three channels on the distributed policy
  export TWITCH_TOKEN=oauth:...
  %s --login=mybot --channels=gotime,gophers,systems

  # Single-shard policy with text logs
  %s --login=mybot --channels=gotime --policy=default --log-format=text

  # Publish lifecycle events to NATS
  %s --login=mybot --channels=gotime --nats=nats://localhost:4222

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
