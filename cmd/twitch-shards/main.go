// Package main implements the twitch-shards daemon: a presence service
// that keeps membership in a configured set of Twitch chat channels,
// spread across a bounded pool of sharded IRC connections.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Zarithya/TwitchIO/credential"
	"github.com/Zarithya/TwitchIO/health"
	"github.com/Zarithya/TwitchIO/metric"
	"github.com/Zarithya/TwitchIO/shards"
	"github.com/Zarithya/TwitchIO/transport/ircws"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "twitch-shards"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	// Core infrastructure: metrics registry + exposition, health
	// monitor, optional NATS event publishing.
	metricsRegistry := metric.NewMetricsRegistry()
	healthMonitor := health.NewMonitor()

	var metricsServer *metric.Server
	if cliCfg.MetricsPort > 0 {
		metricsServer = metric.NewServer(cliCfg.MetricsPort, "/metrics", metricsRegistry)
		go func() {
			if serveErr := metricsServer.Start(); serveErr != nil {
				slog.Error("metrics server failed", "error", serveErr)
			}
		}()
		defer func() { _ = metricsServer.Stop() }()
		slog.Info("Metrics server listening", "port", cliCfg.MetricsPort)
	}

	events, closeNATS, err := setupEventLogger(cliCfg)
	if err != nil {
		return err
	}
	defer closeNATS()

	manager, err := buildManager(cliCfg, metricsRegistry, healthMonitor, events)
	if err != nil {
		return fmt.Errorf("create manager: %w", err)
	}

	if err := manager.Setup(signalCtx); err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	if err := manager.Start(signalCtx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	slog.Info("Shard manager started",
		"shards", manager.ShardCount(),
		"channels", manager.ChannelCount(),
		"policy", cliCfg.Policy)

	// Block until a shutdown signal or a fatal shard error.
	waitErr := manager.WaitUntilExit(signalCtx)
	if waitErr != nil && !stderrors.Is(waitErr, context.Canceled) {
		slog.Warn("exiting", "reason", waitErr)
	} else {
		slog.Info("Received shutdown signal")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cliCfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := manager.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("Shutdown complete")
	return nil
}

// initializeCLI parses flags and sets up logging
func initializeCLI() (*CLIConfig, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting twitch-shards",
		"version", Version,
		"build_time", BuildTime,
		"login", cliCfg.Login,
		"channels", len(cliCfg.Channels))

	return cliCfg, false, nil
}

// setupEventLogger optionally connects to NATS for lifecycle event
// publishing. Without a URL events stay local.
func setupEventLogger(cliCfg *CLIConfig) (*shards.EventLogger, func(), error) {
	if cliCfg.NATSURL == "" {
		return shards.NewEventLogger(appName, nil, slog.Default()), func() {}, nil
	}

	nc, err := nats.Connect(cliCfg.NATSURL,
		nats.Name(appName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second))
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}
	slog.Info("Connected to NATS", "url", cliCfg.NATSURL)

	return shards.NewEventLogger(appName, nc, slog.Default()), nc.Close, nil
}

// buildManager wires credentials, transport, and observability into a
// shard manager with the selected policy.
func buildManager(
	cliCfg *CLIConfig,
	metricsRegistry *metric.MetricsRegistry,
	healthMonitor *health.Monitor,
	events *shards.EventLogger,
) (*shards.Manager, error) {
	var policy shards.Policy
	switch cliCfg.Policy {
	case "default":
		policy = shards.NewDefaultPolicy()
	default:
		policy = shards.NewDistributedPolicy()
	}

	gateway := ircws.DefaultConfig()
	if cliCfg.GatewayURL != "" {
		gateway.URL = cliCfg.GatewayURL
	}

	opts := shards.Options{
		Identity:          cliCfg.Login,
		Provider:          credential.NewStatic(cliCfg.Login, os.Getenv("TWITCH_TOKEN")),
		Transport:         ircws.New(gateway),
		ChannelsPerShard:  cliCfg.ChannelsPer,
		MaxShardCount:     cliCfg.MaxShards,
		InitialShardCount: cliCfg.InitialShards,
		InitialChannels:   cliCfg.Channels,
		Logger:            slog.Default(),
		Events:            events,
		Health:            healthMonitor,
		Metrics:           metricsRegistry.CoreMetrics(),
		FrameHandler: func(shardID, line string) {
			slog.Debug("frame", "shard", shardID, "line", line)
		},
	}

	return shards.NewManager(appName, policy, opts)
}
