package shards

import (
	"log/slog"
	"time"

	"github.com/Zarithya/TwitchIO/credential"
	"github.com/Zarithya/TwitchIO/errors"
	"github.com/Zarithya/TwitchIO/health"
	"github.com/Zarithya/TwitchIO/metric"
	"github.com/Zarithya/TwitchIO/pkg/ratelimit"
	"github.com/Zarithya/TwitchIO/pkg/retry"
	"github.com/Zarithya/TwitchIO/transport"
)

const (
	// DefaultChannelsPerShard is the per-shard channel cap.
	DefaultChannelsPerShard = 25
	// DefaultMaxShardCount is the hard ceiling on concurrent shards.
	DefaultMaxShardCount = 5
	// DefaultInitialShardCount is the starting shard count before
	// auto-escalation.
	DefaultInitialShardCount = 1

	defaultConnectTimeout = 30 * time.Second
	defaultAuthTimeout    = 15 * time.Second

	// Inbound frame dispatch pool per shard.
	dispatchWorkers   = 2
	dispatchQueueSize = 256
)

// FrameHandler receives inbound frames a shard does not consume itself.
// It runs on a bounded worker pool, so a slow handler drops frames
// rather than stalling the shard's read loop.
type FrameHandler func(shardID, line string)

// Options configures a Manager and the shards it creates.
type Options struct {
	// Identity is the account login hint passed to the credential
	// provider and the transport.
	Identity string
	// Provider resolves the login and token per connection attempt.
	Provider credential.Provider
	// Transport opens connections to the chat endpoint.
	Transport transport.Transport

	// ChannelsPerShard caps channel membership per shard.
	ChannelsPerShard int
	// MaxShardCount caps the number of concurrent shards.
	MaxShardCount int
	// InitialShardCount is how many shards Setup creates before any
	// capacity escalation.
	InitialShardCount int
	// InitialChannels are partitioned across the initial shards
	// during Setup.
	InitialChannels []string

	// ConnectTimeout bounds each transport dial.
	ConnectTimeout time.Duration
	// AuthTimeout bounds the auth handshake after the dial.
	AuthTimeout time.Duration
	// Backoff shapes the reconnect schedule. Zero value means the
	// unbounded reconnect preset.
	Backoff retry.Config
	// Status selects the rate-limit bucket for joins and messages.
	Status ratelimit.Status

	// FrameHandler optionally receives frames the shard itself does
	// not consume.
	FrameHandler FrameHandler

	// Logger defaults to slog.Default.
	Logger *slog.Logger
	// Events optionally publishes lifecycle events.
	Events *EventLogger
	// Health optionally tracks per-shard health.
	Health *health.Monitor
	// Metrics optionally records domain metrics.
	Metrics *metric.Metrics
}

func (o Options) withDefaults() Options {
	if o.ChannelsPerShard == 0 {
		o.ChannelsPerShard = DefaultChannelsPerShard
	}
	if o.MaxShardCount == 0 {
		o.MaxShardCount = DefaultMaxShardCount
	}
	if o.InitialShardCount == 0 {
		o.InitialShardCount = DefaultInitialShardCount
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = defaultConnectTimeout
	}
	if o.AuthTimeout <= 0 {
		o.AuthTimeout = defaultAuthTimeout
	}
	if o.Backoff == (retry.Config{}) {
		o.Backoff = retry.Reconnect()
	}
	if o.Status == "" {
		o.Status = ratelimit.StatusUser
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Validate checks the options after defaulting.
func (o Options) Validate() error {
	if o.Transport == nil {
		return errors.WrapFatal(errors.ErrConfiguration, "shards", "validate", "transport is required")
	}
	if o.Provider == nil {
		return errors.WrapFatal(errors.ErrConfiguration, "shards", "validate", "credential provider is required")
	}
	if o.ChannelsPerShard < 1 {
		return errors.WrapFatal(errors.ErrConfiguration, "shards", "validate", "channels per shard must be positive")
	}
	if o.MaxShardCount < 1 {
		return errors.WrapFatal(errors.ErrConfiguration, "shards", "validate", "max shard count must be positive")
	}
	if o.InitialShardCount < 1 {
		return errors.WrapFatal(errors.ErrConfiguration, "shards", "validate", "initial shard count must be positive")
	}
	if o.InitialShardCount > o.MaxShardCount {
		return errors.WrapFatal(errors.ErrConfiguration, "shards", "validate", "initial shard count exceeds max shard count")
	}
	return nil
}
