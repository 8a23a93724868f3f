package shards

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Zarithya/TwitchIO/errors"
	"github.com/Zarithya/TwitchIO/health"
	"github.com/Zarithya/TwitchIO/metric"
)

// Manager owns the shard registry, the channel index, and the
// assignment contract. Assignment decisions run under one mutex per
// manager so concurrent calls cannot both observe spare capacity and
// overshoot the shard budget or a shard's channel cap.
type Manager struct {
	name   string
	opts   Options
	policy Policy

	logger    *slog.Logger
	events    *EventLogger
	healthMon *health.Monitor
	metrics   *metric.Metrics

	mu           sync.Mutex
	shards       map[string]*Shard
	order        []*Shard
	channelIndex map[string]string
	nextShardID  int
	runCtx       context.Context
	setupDone    bool
	started      bool

	exitOnce sync.Once
	exit     chan struct{}
}

// NewManager creates a manager with the given policy. A nil policy
// selects DefaultPolicy.
func NewManager(name string, policy Policy, opts Options) (*Manager, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if name == "" {
		name = "shard-manager"
	}
	if policy == nil {
		policy = NewDefaultPolicy()
	}

	return &Manager{
		name:         name,
		opts:         opts,
		policy:       policy,
		logger:       opts.Logger.With("manager", name, "policy", policy.Name()),
		events:       opts.Events,
		healthMon:    opts.Health,
		metrics:      opts.Metrics,
		shards:       make(map[string]*Shard),
		channelIndex: make(map[string]string),
		exit:         make(chan struct{}),
	}, nil
}

// Name returns the manager's name.
func (m *Manager) Name() string { return m.name }

// Setup runs once, delegating initial shard creation and channel
// placement to the policy. A configuration failure leaves the registry
// empty.
func (m *Manager) Setup(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.setupDone {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "shards", "setup", "setup already ran")
	}
	if err := m.policy.Setup(ctx, m); err != nil {
		return err
	}
	m.setupDone = true
	m.logger.Info("setup complete",
		"shards", len(m.order),
		"channels", len(m.channelIndex))
	return nil
}

// AssignShard routes a channel-join request to a shard. Calls for a
// channel that is already indexed return its owning shard unchanged.
// Calls with isInitial=true correspond to channels placed during Setup
// and are no-ops; an unknown initial channel returns (nil, nil).
// Non-initial calls for new channels delegate to the policy, which may
// create a shard, and fail with ErrCapacityExceeded when no shard has
// room and the shard budget is exhausted.
func (m *Manager) AssignShard(ctx context.Context, channel string, isInitial bool) (*Shard, error) {
	ch := normalizeChannel(channel)
	if ch == "" {
		return nil, errors.WrapInvalid(errors.ErrConfiguration, "shards", "assign_shard", "empty channel name")
	}

	m.mu.Lock()
	if !m.setupDone {
		m.mu.Unlock()
		return nil, errors.WrapInvalid(errors.ErrNotStarted, "shards", "assign_shard", "setup has not run")
	}
	if owner, ok := m.channelIndex[ch]; ok {
		sh := m.shards[owner]
		m.mu.Unlock()
		// Re-assignments retry the membership frame; the shard's
		// per-session joined set makes this a no-op once the JOIN has
		// gone out.
		if jerr := sh.sendJoin(ctx, ch); jerr != nil {
			m.logger.Warn("membership send failed, will replay on reconnect",
				"shard", sh.ID(), "channel", ch, "error", jerr)
		}
		return sh, nil
	}
	if isInitial {
		m.mu.Unlock()
		return nil, nil
	}

	sh, err := m.policy.AssignShard(ctx, m, ch)
	m.mu.Unlock()

	if err != nil {
		if m.metrics != nil {
			m.metrics.RecordAssignmentFailure(m.name, m.policy.Name())
		}
		return nil, err
	}

	if m.metrics != nil {
		m.metrics.RecordAssignment(m.name, m.policy.Name())
	}
	m.events.ChannelAssigned(sh.ID(), ch)

	// Membership is issued outside the lock; if the shard is not yet
	// connected the replay on (re)connect covers it.
	if jerr := sh.sendJoin(ctx, ch); jerr != nil {
		m.logger.Warn("membership send failed, will replay on reconnect",
			"shard", sh.ID(), "channel", ch, "error", jerr)
	}
	return sh, nil
}

// SenderShard returns a registered, non-stopped shard capable of
// sending to the channel. The channel argument is advisory; neither
// reference policy requires membership to send.
func (m *Manager) SenderShard(channel string) (*Shard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_ = channel
	return m.policy.SenderShard(m)
}

// RemoveChannel detaches a channel from its owning shard, sending the
// PART frame when connected.
func (m *Manager) RemoveChannel(ctx context.Context, channel string) error {
	ch := normalizeChannel(channel)

	m.mu.Lock()
	owner, ok := m.channelIndex[ch]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.channelIndex, ch)
	sh := m.shards[owner]
	m.mu.Unlock()

	return sh.RemoveChannels(ctx, ch)
}

// Start brings every registered shard up via the policy. The context
// outlives Start: it is retained as the parent of every shard run loop,
// including shards created later by assignment.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if !m.setupDone {
		m.mu.Unlock()
		return errors.WrapInvalid(errors.ErrNotStarted, "shards", "start", "setup has not run")
	}
	if m.started {
		m.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "shards", "start", m.name)
	}
	m.started = true
	m.runCtx = ctx
	m.mu.Unlock()

	return m.policy.Start(ctx, m)
}

// Stop tears every shard down via the policy, waits for full teardown,
// and signals WaitUntilExit.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	m.started = false
	m.mu.Unlock()

	err := m.policy.Stop(ctx, m)
	m.signalExit()
	m.logger.Info("manager stopped")
	return err
}

// StartAllShards starts every registered shard non-blocking. Shards
// already running are left alone.
func (m *Manager) StartAllShards(ctx context.Context) error {
	for _, sh := range m.Shards() {
		if err := sh.Start(ctx, false); err != nil {
			if stderrors.Is(err, errors.ErrAlreadyStarted) {
				continue
			}
			return err
		}
		go m.watch(sh)
	}
	return nil
}

// StopAllShards stops every registered shard in parallel and returns
// only once each has completed teardown.
func (m *Manager) StopAllShards(_ context.Context) error {
	var g errgroup.Group
	for _, sh := range m.Shards() {
		g.Go(func() error {
			sh.Stop()
			return nil
		})
	}
	return g.Wait()
}

// WaitUntilExit suspends the caller, without polling, until the
// manager is explicitly stopped or a shard terminates with a fatal
// error. The context bounds the wait.
func (m *Manager) WaitUntilExit(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "shards", "wait_until_exit", "context done")
	case <-m.exit:
		return nil
	}
}

// Shards returns a snapshot of the registry in creation order.
func (m *Manager) Shards() []*Shard {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Shard, len(m.order))
	copy(out, m.order)
	return out
}

// Shard looks up a shard by id.
func (m *Manager) Shard(id string) (*Shard, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sh, ok := m.shards[id]
	return sh, ok
}

// ShardCount returns the number of registered shards.
func (m *Manager) ShardCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

// ChannelCount returns the number of indexed channels.
func (m *Manager) ChannelCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.channelIndex)
}

// Health aggregates per-shard health into one status for the manager.
// Without a health monitor it reports healthy.
func (m *Manager) Health() health.Status {
	if m.healthMon == nil {
		return health.NewHealthy(m.name, "no monitor configured")
	}
	return m.healthMon.AggregateHealth(m.name)
}

// watch signals exit when a shard's run loop ends with a recorded
// terminal error, so WaitUntilExit callers observe fatal auth failures.
func (m *Manager) watch(sh *Shard) {
	<-sh.Done()
	if sh.Err() != nil {
		m.signalExit()
	}
}

func (m *Manager) signalExit() {
	m.exitOnce.Do(func() {
		close(m.exit)
	})
}

// createShardLocked registers a new shard. Duplicate ids and budget
// overruns are programming errors and fail fast.
func (m *Manager) createShardLocked(id string) *Shard {
	if _, exists := m.shards[id]; exists {
		panic(fmt.Errorf("shards: create %q: %w", id, errors.ErrDuplicateShard))
	}
	if len(m.order) >= m.opts.MaxShardCount {
		panic(fmt.Sprintf("shards: shard budget exhausted creating %q", id))
	}

	sh := newShard(id, len(m.order), m.opts)
	m.shards[id] = sh
	m.order = append(m.order, sh)
	m.logger.Info("shard created", "shard", id)
	return sh
}

// attachChannelLocked binds one channel to one shard, keeping the
// channel index and the shard's channel set mutually consistent. A
// channel already owned by another shard is a programming error.
func (m *Manager) attachChannelLocked(sh *Shard, ch string) {
	if ch == "" {
		return
	}
	if owner, ok := m.channelIndex[ch]; ok {
		if owner != sh.id {
			panic(fmt.Errorf("shards: channel %q held by %q, attach to %q: %w",
				ch, owner, sh.id, errors.ErrChannelOwned))
		}
		return
	}
	m.channelIndex[ch] = sh.id

	sh.mu.Lock()
	sh.channels[ch] = struct{}{}
	count := len(sh.channels)
	sh.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordChannelsTracked(sh.id, count)
	}
}

// leastLoadedLocked returns the shard with the fewest channels,
// earliest creation order winning ties, or nil when no shard exists.
func (m *Manager) leastLoadedLocked() *Shard {
	var best *Shard
	bestCount := 0
	for _, sh := range m.order {
		count := sh.ChannelCount()
		if best == nil || count < bestCount {
			best = sh
			bestCount = count
		}
	}
	return best
}

// startShardLocked starts a shard created mid-run. Before the manager
// itself has started, the shard waits for StartAllShards.
func (m *Manager) startShardLocked(sh *Shard) {
	if !m.started {
		return
	}
	ctx := m.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := sh.Start(ctx, false); err != nil {
		m.logger.Error("failed to start shard", "shard", sh.ID(), "error", err)
		return
	}
	go m.watch(sh)
}

func (m *Manager) nextExtendedIDLocked() string {
	m.nextShardID++
	return fmt.Sprintf("extended-shard-%d", m.nextShardID)
}

func initialShardID(n int) string {
	return fmt.Sprintf("initial-shard-%d", n)
}
