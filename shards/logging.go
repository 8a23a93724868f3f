package shards

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// EventType tags a lifecycle event published by the EventLogger.
type EventType string

const (
	// EventStateChanged fires on every shard state transition.
	EventStateChanged EventType = "state_changed"
	// EventChannelAssigned fires when assignment binds a channel to a shard.
	EventChannelAssigned EventType = "channel_assigned"
	// EventShardError fires when a shard terminates with a fatal error.
	EventShardError EventType = "shard_error"
)

// Event is one lifecycle event, published to NATS as JSON and consumed
// by external dashboards or alerting.
type Event struct {
	Timestamp string    `json:"timestamp"` // RFC3339 format
	Manager   string    `json:"manager"`
	Shard     string    `json:"shard"`
	Type      EventType `json:"type"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Channel   string    `json:"channel,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// EventLogger publishes shard lifecycle events to NATS for real-time
// consumption while mirroring them to a local slog.Logger. Without a
// NATS connection it degrades to local logging only. A nil EventLogger
// is valid and drops everything.
type EventLogger struct {
	manager string
	nc      *nats.Conn
	logger  *slog.Logger
	enabled bool
}

// NewEventLogger creates an event logger for one manager. nc may be
// nil to disable publishing.
func NewEventLogger(manager string, nc *nats.Conn, logger *slog.Logger) *EventLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventLogger{
		manager: manager,
		nc:      nc,
		logger:  logger,
		enabled: nc != nil,
	}
}

// StateChanged records a shard state transition.
func (el *EventLogger) StateChanged(shard string, from, to State) {
	if el == nil {
		return
	}
	el.publish(Event{
		Manager: el.manager,
		Shard:   shard,
		Type:    EventStateChanged,
		From:    from.String(),
		To:      to.String(),
	})
}

// ChannelAssigned records a channel-to-shard binding.
func (el *EventLogger) ChannelAssigned(shard, channel string) {
	if el == nil {
		return
	}
	el.publish(Event{
		Manager: el.manager,
		Shard:   shard,
		Type:    EventChannelAssigned,
		Channel: channel,
	})
}

// ShardError records a fatal shard termination.
func (el *EventLogger) ShardError(shard string, err error) {
	if el == nil {
		return
	}
	event := Event{
		Manager: el.manager,
		Shard:   shard,
		Type:    EventShardError,
	}
	if err != nil {
		event.Error = err.Error()
	}
	el.publish(event)
}

// Subject returns the NATS subject events for a shard publish to.
func (el *EventLogger) Subject(shard string) string {
	return "shards." + subjectToken(el.manager) + "." + subjectToken(shard)
}

func (el *EventLogger) publish(event Event) {
	event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)

	el.logger.Debug("lifecycle event",
		"type", string(event.Type),
		"shard", event.Shard,
		"from", event.From,
		"to", event.To,
		"channel", event.Channel)

	if !el.enabled {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		el.logger.Error("failed to marshal lifecycle event", "error", err)
		return
	}

	nc := el.nc
	if nc == nil {
		return
	}
	if err := nc.Publish(el.Subject(event.Shard), data); err != nil {
		// Publishing is best effort; the local log already has it.
		el.logger.Warn("failed to publish lifecycle event", "error", err)
	}
}

// subjectToken makes a name safe for use as one NATS subject token.
func subjectToken(name string) string {
	if name == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ':
			return '-'
		default:
			return r
		}
	}, name)
}
