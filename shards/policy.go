package shards

import (
	"context"

	"github.com/Zarithya/TwitchIO/errors"
)

// Policy is the pluggable strategy governing channel-to-shard
// assignment and sender resolution. Setup, AssignShard and SenderShard
// are invoked by the Manager with its mutex held so the observe-then-act
// sequence is atomic; implementations use the manager's locked helpers
// and must not call its public methods. Start and Stop run without the
// lock.
type Policy interface {
	// Name identifies the policy in logs and metrics.
	Name() string
	// Setup runs once, creating the initial shards and placing the
	// initial channels.
	Setup(ctx context.Context, m *Manager) error
	// AssignShard attaches a not-yet-indexed channel to a shard,
	// possibly creating one.
	AssignShard(ctx context.Context, m *Manager, channel string) (*Shard, error)
	// SenderShard returns a registered, non-stopped shard capable of
	// sending.
	SenderShard(m *Manager) (*Shard, error)
	// Start brings the policy's shards up.
	Start(ctx context.Context, m *Manager) error
	// Stop tears the policy's shards down, waiting for completion.
	Stop(ctx context.Context, m *Manager) error
}

// basePolicy supplies the shared lifecycle helpers.
type basePolicy struct{}

func (basePolicy) Start(ctx context.Context, m *Manager) error {
	return m.StartAllShards(ctx)
}

func (basePolicy) Stop(ctx context.Context, m *Manager) error {
	return m.StopAllShards(ctx)
}

// DefaultPolicy runs a single shard and routes every channel to it.
type DefaultPolicy struct {
	basePolicy
}

// NewDefaultPolicy creates the single-shard policy.
func NewDefaultPolicy() *DefaultPolicy {
	return &DefaultPolicy{}
}

// Name implements Policy.
func (*DefaultPolicy) Name() string { return "default" }

// Setup creates exactly one shard and places all initial channels on
// it directly, bypassing assignment so nothing is joined twice.
func (*DefaultPolicy) Setup(_ context.Context, m *Manager) error {
	sh := m.createShardLocked("main-shard")
	for _, ch := range m.opts.InitialChannels {
		m.attachChannelLocked(sh, normalizeChannel(ch))
	}
	return nil
}

// AssignShard always attaches the channel to the single shard.
func (*DefaultPolicy) AssignShard(_ context.Context, m *Manager, channel string) (*Shard, error) {
	if len(m.order) == 0 {
		return nil, errors.WrapInvalid(errors.ErrNotStarted, "shards", "assign_shard", "setup has not run")
	}
	sh := m.order[0]
	m.attachChannelLocked(sh, channel)
	return sh, nil
}

// SenderShard returns the single shard unless it has stopped.
func (*DefaultPolicy) SenderShard(m *Manager) (*Shard, error) {
	if len(m.order) == 0 {
		return nil, errors.WrapTransient(errors.ErrNoShardAvailable, "shards", "sender_shard", "no shard registered")
	}
	sh := m.order[0]
	if sh.State() == StateStopped {
		return nil, errors.WrapTransient(errors.ErrNoShardAvailable, "shards", "sender_shard", "shard stopped")
	}
	return sh, nil
}

// DistributedPolicy balances channels across shards by load and scales
// the shard count up on demand, bounded by MaxShardCount.
type DistributedPolicy struct {
	basePolicy
}

// NewDistributedPolicy creates the capacity-balanced policy.
func NewDistributedPolicy() *DistributedPolicy {
	return &DistributedPolicy{}
}

// Name implements Policy.
func (*DistributedPolicy) Name() string { return "distributed" }

// Setup partitions the initial channels into contiguous, evenly sized
// slices. Capacity violations are caught here, before any shard is
// created, rather than discovered mid-run.
func (*DistributedPolicy) Setup(_ context.Context, m *Manager) error {
	slices, err := planInitialPartition(
		m.opts.InitialChannels,
		m.opts.InitialShardCount,
		m.opts.ChannelsPerShard,
		m.opts.MaxShardCount,
	)
	if err != nil {
		return err
	}

	for i, slice := range slices {
		sh := m.createShardLocked(initialShardID(i + 1))
		for _, ch := range slice {
			m.attachChannelLocked(sh, normalizeChannel(ch))
		}
	}
	return nil
}

// AssignShard picks the least-loaded shard, breaking ties by earliest
// creation order. When every shard is full it creates a new one if the
// shard budget allows, otherwise the assignment fails with
// ErrCapacityExceeded and existing assignments are untouched.
func (*DistributedPolicy) AssignShard(_ context.Context, m *Manager, channel string) (*Shard, error) {
	sh := m.leastLoadedLocked()
	if sh != nil && sh.ChannelCount() < m.opts.ChannelsPerShard {
		m.attachChannelLocked(sh, channel)
		return sh, nil
	}

	if len(m.order) >= m.opts.MaxShardCount {
		return nil, errors.WrapInvalid(errors.ErrCapacityExceeded, "shards", "assign_shard", channel)
	}

	sh = m.createShardLocked(m.nextExtendedIDLocked())
	m.attachChannelLocked(sh, channel)
	m.startShardLocked(sh)
	return sh, nil
}

// SenderShard returns the earliest-created shard still able to send,
// preferring one that is fully active. All shards share one identity,
// so sending does not require channel membership.
func (*DistributedPolicy) SenderShard(m *Manager) (*Shard, error) {
	for _, sh := range m.order {
		if sh.State() == StateActive {
			return sh, nil
		}
	}
	for _, sh := range m.order {
		if sh.State() != StateStopped {
			return sh, nil
		}
	}
	return nil, errors.WrapTransient(errors.ErrNoShardAvailable, "shards", "sender_shard", "no sendable shard")
}

// planInitialPartition splits channels into contiguous slices whose
// sizes differ by at most one. If an even split over shardCount shards
// would overflow perShard, the shard count escalates to the minimum
// that fits; exceeding maxShards fails before any shard exists.
func planInitialPartition(channels []string, shardCount, perShard, maxShards int) ([][]string, error) {
	count := shardCount
	total := len(channels)

	if total > 0 && ceilDiv(total, count) > perShard {
		count = ceilDiv(total, perShard)
		if count > maxShards {
			return nil, errors.WrapFatal(errors.ErrConfiguration, "shards", "setup",
				"initial channels exceed total capacity")
		}
	}

	slices := make([][]string, count)
	if total == 0 {
		return slices, nil
	}

	base := total / count
	extra := total % count
	offset := 0
	for i := range slices {
		size := base
		if i < extra {
			size++
		}
		slices[i] = channels[offset : offset+size]
		offset += size
	}
	return slices, nil
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
