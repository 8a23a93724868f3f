package shards

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventLoggerNilSafe(t *testing.T) {
	var el *EventLogger

	// A nil logger drops everything without panicking.
	el.StateChanged("shard", StateConnecting, StateActive)
	el.ChannelAssigned("shard", "gotime")
	el.ShardError("shard", assert.AnError)
}

func TestEventLoggerWithoutNATS(t *testing.T) {
	el := NewEventLogger("test-manager", nil, slog.Default())

	// Degrades to local logging only.
	el.StateChanged("main-shard", StateDisconnected, StateConnecting)
	el.ShardError("main-shard", assert.AnError)
	assert.False(t, el.enabled)
}

func TestEventLoggerSubject(t *testing.T) {
	el := NewEventLogger("my-manager", nil, nil)

	assert.Equal(t, "shards.my-manager.main-shard", el.Subject("main-shard"))
	assert.Equal(t, "shards.my-manager.odd-name", el.Subject("odd.name"))
	assert.Equal(t, "shards.my-manager.unknown", el.Subject(""))
}

func TestSubjectToken(t *testing.T) {
	assert.Equal(t, "a-b-c-d", subjectToken("a.b*c>d"))
	assert.Equal(t, "no-spaces", subjectToken("no spaces"))
	assert.Equal(t, "unknown", subjectToken(""))
}
