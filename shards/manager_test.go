package shards

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Zarithya/TwitchIO/errors"
	"github.com/Zarithya/TwitchIO/health"
)

func channelNames(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("channel-%02d", i)
	}
	return out
}

func newTestManager(t *testing.T, policy Policy, mutate func(*Options)) (*Manager, *fakeTransport) {
	t.Helper()

	tr := newFakeTransport()
	opts := testOptions(tr)
	if mutate != nil {
		mutate(&opts)
	}

	m, err := NewManager("test-manager", policy, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Stop(context.Background()) })
	return m, tr
}

func TestNewManagerValidatesOptions(t *testing.T) {
	_, err := NewManager("bad", nil, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrConfiguration)
}

func TestDefaultPolicySetup(t *testing.T) {
	m, _ := newTestManager(t, NewDefaultPolicy(), func(o *Options) {
		o.InitialChannels = channelNames(30) // default policy has no cap
	})

	require.NoError(t, m.Setup(context.Background()))

	require.Equal(t, 1, m.ShardCount())
	sh, ok := m.Shard("main-shard")
	require.True(t, ok)
	assert.Equal(t, 30, sh.ChannelCount())
	assert.Equal(t, 30, m.ChannelCount())
}

func TestSetupTwiceFails(t *testing.T) {
	m, _ := newTestManager(t, NewDefaultPolicy(), nil)

	require.NoError(t, m.Setup(context.Background()))
	err := m.Setup(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrAlreadyStarted)
}

func TestDistributedSetupEvenPartition(t *testing.T) {
	m, _ := newTestManager(t, NewDistributedPolicy(), func(o *Options) {
		o.InitialChannels = channelNames(9)
		o.InitialShardCount = 3
	})

	require.NoError(t, m.Setup(context.Background()))

	shards := m.Shards()
	require.Len(t, shards, 3)
	for i, sh := range shards {
		assert.Equal(t, initialShardID(i+1), sh.ID())
		assert.Equal(t, 3, sh.ChannelCount())
	}
}

func TestDistributedSetupEscalatesShardCount(t *testing.T) {
	m, _ := newTestManager(t, NewDistributedPolicy(), func(o *Options) {
		o.InitialChannels = channelNames(15)
		o.InitialShardCount = 1
		o.ChannelsPerShard = 10
		o.MaxShardCount = 5
	})

	require.NoError(t, m.Setup(context.Background()))

	shards := m.Shards()
	require.Len(t, shards, 2)
	assert.Equal(t, 8, shards[0].ChannelCount())
	assert.Equal(t, 7, shards[1].ChannelCount())
}

func TestDistributedSetupConfigurationError(t *testing.T) {
	m, _ := newTestManager(t, NewDistributedPolicy(), func(o *Options) {
		o.InitialChannels = channelNames(51)
		o.ChannelsPerShard = 10
		o.MaxShardCount = 5
	})

	err := m.Setup(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrConfiguration)
	assert.True(t, errors.IsFatal(err))
	assert.Equal(t, 0, m.ShardCount(), "no shard may exist after a failed setup")
}

func TestDistributedSetupEmptyChannels(t *testing.T) {
	m, _ := newTestManager(t, NewDistributedPolicy(), func(o *Options) {
		o.InitialShardCount = 2
	})

	require.NoError(t, m.Setup(context.Background()))

	require.Equal(t, 2, m.ShardCount())
	for _, sh := range m.Shards() {
		assert.Equal(t, 0, sh.ChannelCount())
	}
}

func TestPlanInitialPartition(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		count     int
		perShard  int
		maxShards int
		wantSizes []int
		wantErr   bool
	}{
		{name: "even split", total: 9, count: 3, perShard: 25, maxShards: 5, wantSizes: []int{3, 3, 3}},
		{name: "remainder spread", total: 10, count: 3, perShard: 25, maxShards: 5, wantSizes: []int{4, 3, 3}},
		{name: "escalation", total: 15, count: 1, perShard: 10, maxShards: 5, wantSizes: []int{8, 7}},
		{name: "exact fit", total: 50, count: 1, perShard: 10, maxShards: 5, wantSizes: []int{10, 10, 10, 10, 10}},
		{name: "over capacity", total: 51, count: 1, perShard: 10, maxShards: 5, wantErr: true},
		{name: "empty", total: 0, count: 2, perShard: 10, maxShards: 5, wantSizes: []int{0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slices, err := planInitialPartition(channelNames(tt.total), tt.count, tt.perShard, tt.maxShards)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, errors.ErrConfiguration)
				return
			}
			require.NoError(t, err)
			sizes := make([]int, len(slices))
			for i, s := range slices {
				sizes[i] = len(s)
			}
			assert.Equal(t, tt.wantSizes, sizes)
		})
	}
}

func TestAssignBeforeSetup(t *testing.T) {
	m, _ := newTestManager(t, NewDistributedPolicy(), nil)

	_, err := m.AssignShard(context.Background(), "gotime", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNotStarted)
}

func TestAssignInitialIsNoOp(t *testing.T) {
	m, _ := newTestManager(t, NewDistributedPolicy(), func(o *Options) {
		o.InitialChannels = []string{"alpha", "beta"}
	})
	require.NoError(t, m.Setup(context.Background()))

	sh, err := m.AssignShard(context.Background(), "alpha", true)
	require.NoError(t, err)
	require.NotNil(t, sh)
	assert.Equal(t, "initial-shard-1", sh.ID())
	assert.Equal(t, 1, m.ShardCount())
	assert.Equal(t, 2, m.ChannelCount())
}

func TestAssignUnknownInitialIsNoOp(t *testing.T) {
	m, _ := newTestManager(t, NewDistributedPolicy(), nil)
	require.NoError(t, m.Setup(context.Background()))

	sh, err := m.AssignShard(context.Background(), "never-placed", true)
	require.NoError(t, err)
	assert.Nil(t, sh)
	assert.Equal(t, 0, m.ChannelCount())
}

func TestAssignIdempotentForIndexedChannel(t *testing.T) {
	m, _ := newTestManager(t, NewDistributedPolicy(), nil)
	require.NoError(t, m.Setup(context.Background()))

	first, err := m.AssignShard(context.Background(), "gotime", false)
	require.NoError(t, err)
	second, err := m.AssignShard(context.Background(), "gotime", false)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, m.ChannelCount())
}

func TestAssignPicksLeastLoadedEarliestTie(t *testing.T) {
	m, _ := newTestManager(t, NewDistributedPolicy(), func(o *Options) {
		o.InitialShardCount = 3
		o.ChannelsPerShard = 5
	})
	require.NoError(t, m.Setup(context.Background()))

	// All empty: tie broken by earliest creation order.
	sh, err := m.AssignShard(context.Background(), "alpha", false)
	require.NoError(t, err)
	assert.Equal(t, "initial-shard-1", sh.ID())

	// Now shard 2 and 3 tie at zero.
	sh, err = m.AssignShard(context.Background(), "beta", false)
	require.NoError(t, err)
	assert.Equal(t, "initial-shard-2", sh.ID())
}

func TestAssignCreatesExtendedShardWhenFull(t *testing.T) {
	m, _ := newTestManager(t, NewDistributedPolicy(), func(o *Options) {
		o.ChannelsPerShard = 2
		o.MaxShardCount = 3
	})
	require.NoError(t, m.Setup(context.Background()))

	for _, ch := range []string{"a", "b"} {
		_, err := m.AssignShard(context.Background(), ch, false)
		require.NoError(t, err)
	}

	sh, err := m.AssignShard(context.Background(), "c", false)
	require.NoError(t, err)
	assert.Equal(t, "extended-shard-1", sh.ID())
	assert.Equal(t, 2, m.ShardCount())
}

func TestAssignCapacityExceeded(t *testing.T) {
	m, _ := newTestManager(t, NewDistributedPolicy(), func(o *Options) {
		o.ChannelsPerShard = 2
		o.MaxShardCount = 2
	})
	require.NoError(t, m.Setup(context.Background()))

	for i := 0; i < 4; i++ {
		_, err := m.AssignShard(context.Background(), fmt.Sprintf("ch-%d", i), false)
		require.NoError(t, err)
	}

	_, err := m.AssignShard(context.Background(), "one-too-many", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrCapacityExceeded)
	assert.True(t, errors.IsInvalid(err))

	// Existing assignments are untouched.
	assert.Equal(t, 2, m.ShardCount())
	assert.Equal(t, 4, m.ChannelCount())
}

func TestFullCapacityScenario(t *testing.T) {
	// 15 initial channels, one requested shard, cap 10: setup escalates
	// to 2 shards of 8 and 7. Assignment then fills toward 5 shards and
	// 50 channels total; the 51st distinct channel fails.
	m, _ := newTestManager(t, NewDistributedPolicy(), func(o *Options) {
		o.InitialChannels = channelNames(15)
		o.InitialShardCount = 1
		o.ChannelsPerShard = 10
		o.MaxShardCount = 5
	})
	require.NoError(t, m.Setup(context.Background()))
	require.Equal(t, 2, m.ShardCount())

	for i := 0; i < 35; i++ {
		sh, err := m.AssignShard(context.Background(), fmt.Sprintf("extra-%02d", i), false)
		require.NoError(t, err)
		assert.LessOrEqual(t, sh.ChannelCount(), 10)
		assert.LessOrEqual(t, m.ShardCount(), 5)
	}

	assert.Equal(t, 5, m.ShardCount())
	assert.Equal(t, 50, m.ChannelCount())

	_, err := m.AssignShard(context.Background(), "the-51st", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrCapacityExceeded)
}

func TestConcurrentAssignmentsSerialized(t *testing.T) {
	m, _ := newTestManager(t, NewDistributedPolicy(), func(o *Options) {
		o.ChannelsPerShard = 5
		o.MaxShardCount = 4
	})
	require.NoError(t, m.Setup(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.AssignShard(context.Background(), fmt.Sprintf("ch-%02d", i), false)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, m.ChannelCount())
	assert.LessOrEqual(t, m.ShardCount(), 4)
	total := 0
	for _, sh := range m.Shards() {
		count := sh.ChannelCount()
		assert.LessOrEqual(t, count, 5)
		total += count
	}
	assert.Equal(t, 20, total)
}

func TestAssignJoinsOnRunningShard(t *testing.T) {
	m, tr := newTestManager(t, NewDistributedPolicy(), nil)
	require.NoError(t, m.Setup(context.Background()))
	require.NoError(t, m.Start(context.Background()))
	waitForState(t, m.Shards()[0], StateActive)

	_, err := m.AssignShard(context.Background(), "gotime", false)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		conn := tr.conn(0)
		return conn != nil && len(conn.joins()) == 1
	}, 3*time.Second, 2*time.Millisecond)
}

func TestRegistryInvariantViolationsPanic(t *testing.T) {
	m, _ := newTestManager(t, NewDefaultPolicy(), nil)
	require.NoError(t, m.Setup(context.Background()))

	recovered := func(fn func()) (err error) {
		defer func() {
			err, _ = recover().(error)
		}()
		fn()
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	err := recovered(func() { m.createShardLocked("main-shard") })
	assert.ErrorIs(t, err, errors.ErrDuplicateShard)

	other := &Shard{id: "other-shard", channels: make(map[string]struct{})}
	m.channelIndex["gotime"] = "main-shard"
	err = recovered(func() { m.attachChannelLocked(other, "gotime") })
	assert.ErrorIs(t, err, errors.ErrChannelOwned)
}

func TestReassignRetriesFailedJoin(t *testing.T) {
	m, tr := newTestManager(t, NewDistributedPolicy(), nil)
	require.NoError(t, m.Setup(context.Background()))
	require.NoError(t, m.Start(context.Background()))
	waitForState(t, m.Shards()[0], StateActive)

	// The first assignment attaches the channel but its JOIN fails on
	// the cancelled context.
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	sh, err := m.AssignShard(cancelled, "gotime", false)
	require.NoError(t, err)
	require.NotNil(t, sh)

	// Assigning the same channel again sends the missing JOIN on the
	// live connection.
	again, err := m.AssignShard(context.Background(), "gotime", false)
	require.NoError(t, err)
	assert.Same(t, sh, again)

	assert.Eventually(t, func() bool {
		conn := tr.conn(0)
		return conn != nil && len(conn.joins()) == 1
	}, 3*time.Second, 2*time.Millisecond)
	assert.Equal(t, []string{"gotime"}, tr.conn(0).joins())
}

func TestExtendedShardStartsWhenManagerRunning(t *testing.T) {
	m, tr := newTestManager(t, NewDistributedPolicy(), func(o *Options) {
		o.ChannelsPerShard = 1
		o.MaxShardCount = 3
	})
	require.NoError(t, m.Setup(context.Background()))
	require.NoError(t, m.Start(context.Background()))
	waitForState(t, m.Shards()[0], StateActive)

	_, err := m.AssignShard(context.Background(), "first", false)
	require.NoError(t, err)

	sh, err := m.AssignShard(context.Background(), "second", false)
	require.NoError(t, err)
	assert.Equal(t, "extended-shard-1", sh.ID())
	waitForState(t, sh, StateActive)
	assert.GreaterOrEqual(t, tr.connCount(), 2)
}

func TestSenderShardDefault(t *testing.T) {
	m, _ := newTestManager(t, NewDefaultPolicy(), nil)
	require.NoError(t, m.Setup(context.Background()))

	sh, err := m.SenderShard("gotime")
	require.NoError(t, err)
	assert.Equal(t, "main-shard", sh.ID())
}

func TestSenderShardDistributedPrefersActive(t *testing.T) {
	m, _ := newTestManager(t, NewDistributedPolicy(), func(o *Options) {
		o.InitialShardCount = 2
	})
	require.NoError(t, m.Setup(context.Background()))

	// Nothing started: earliest non-stopped shard.
	sh, err := m.SenderShard("gotime")
	require.NoError(t, err)
	assert.Equal(t, "initial-shard-1", sh.ID())

	require.NoError(t, m.Start(context.Background()))
	for _, s := range m.Shards() {
		waitForState(t, s, StateActive)
	}

	sh, err = m.SenderShard("gotime")
	require.NoError(t, err)
	assert.Equal(t, "initial-shard-1", sh.ID())
	assert.Equal(t, StateActive, sh.State())
}

func TestSenderShardNeverReturnsStopped(t *testing.T) {
	m, _ := newTestManager(t, NewDistributedPolicy(), nil)
	require.NoError(t, m.Setup(context.Background()))
	require.NoError(t, m.Start(context.Background()))
	waitForState(t, m.Shards()[0], StateActive)

	require.NoError(t, m.Stop(context.Background()))

	_, err := m.SenderShard("gotime")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNoShardAvailable)
}

func TestManagerStartStopLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)

	tr := newFakeTransport()
	opts := testOptions(tr)
	opts.InitialChannels = channelNames(6)
	opts.InitialShardCount = 2
	opts.Health = health.NewMonitor()

	m, err := NewManager("lifecycle", NewDistributedPolicy(), opts)
	require.NoError(t, err)

	require.NoError(t, m.Setup(context.Background()))
	require.NoError(t, m.Start(context.Background()))
	for _, sh := range m.Shards() {
		waitForState(t, sh, StateActive)
	}
	assert.True(t, m.Health().IsHealthy())

	require.NoError(t, m.Stop(context.Background()))
	for _, sh := range m.Shards() {
		assert.Equal(t, StateStopped, sh.State())
	}
}

func TestManagerStartBeforeSetup(t *testing.T) {
	m, _ := newTestManager(t, NewDistributedPolicy(), nil)

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNotStarted)
}

func TestWaitUntilExitOnStop(t *testing.T) {
	m, _ := newTestManager(t, NewDistributedPolicy(), nil)
	require.NoError(t, m.Setup(context.Background()))
	require.NoError(t, m.Start(context.Background()))

	exited := make(chan error, 1)
	go func() {
		exited <- m.WaitUntilExit(context.Background())
	}()

	require.NoError(t, m.Stop(context.Background()))

	select {
	case err := <-exited:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("WaitUntilExit did not unblock after stop")
	}
}

func TestWaitUntilExitOnAuthFailure(t *testing.T) {
	tr := newFakeTransport()
	tr.rejectAuth = true

	opts := testOptions(tr)
	m, err := NewManager("auth-exit", NewDistributedPolicy(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Stop(context.Background()) })

	require.NoError(t, m.Setup(context.Background()))
	require.NoError(t, m.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, m.WaitUntilExit(ctx), "fatal shard error must signal exit")

	sh := m.Shards()[0]
	assert.ErrorIs(t, sh.Err(), errors.ErrAuthenticationFailed)
}

func TestWaitUntilExitContextBound(t *testing.T) {
	m, _ := newTestManager(t, NewDistributedPolicy(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := m.WaitUntilExit(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRemoveChannel(t *testing.T) {
	m, tr := newTestManager(t, NewDistributedPolicy(), func(o *Options) {
		o.InitialChannels = []string{"alpha", "beta"}
	})
	require.NoError(t, m.Setup(context.Background()))
	require.NoError(t, m.Start(context.Background()))
	waitForState(t, m.Shards()[0], StateActive)

	require.NoError(t, m.RemoveChannel(context.Background(), "beta"))

	assert.Equal(t, 1, m.ChannelCount())
	assert.Equal(t, []string{"alpha"}, m.Shards()[0].Channels())
	assert.Contains(t, tr.conn(0).sentLines(), "PART #beta")

	// Removing an unindexed channel is a no-op.
	require.NoError(t, m.RemoveChannel(context.Background(), "never-there"))
}

func TestChannelNamesNormalized(t *testing.T) {
	m, _ := newTestManager(t, NewDistributedPolicy(), nil)
	require.NoError(t, m.Setup(context.Background()))

	first, err := m.AssignShard(context.Background(), "#GoTime", false)
	require.NoError(t, err)
	second, err := m.AssignShard(context.Background(), "gotime", false)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, m.ChannelCount())
}
