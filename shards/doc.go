// Package shards maintains live presence across many chat channels by
// spreading membership over a bounded set of independently connected
// shards.
//
// # Overview
//
// A Manager owns the shard registry and the channel index, and routes
// every channel-join request through its assignment policy. Each Shard
// owns one transport-backed connection under one identity and runs its
// own connect/authenticate/join/reconnect state machine, so shards
// fail and recover independently.
//
// Two reference policies are provided. DefaultPolicy runs a single
// shard and routes everything there. DistributedPolicy balances
// channels across shards by load, growing the shard count on demand up
// to MaxShardCount; when every shard is full and the budget is
// exhausted, assignment fails with ErrCapacityExceeded and existing
// assignments are untouched.
//
// # Lifecycle
//
//	manager, err := shards.NewManager("chat", shards.NewDistributedPolicy(), shards.Options{
//		Identity:        "botaccount",
//		Provider:        credential.NewStatic("botaccount", token),
//		Transport:       ircws.New(ircws.DefaultConfig()),
//		InitialChannels: channels,
//	})
//	// ...
//	if err := manager.Setup(ctx); err != nil { ... }
//	if err := manager.Start(ctx); err != nil { ... }
//	defer manager.Stop(context.Background())
//
//	manager.WaitUntilExit(ctx)
//
// Setup runs once and partitions the initial channels; Start brings
// every shard up; WaitUntilExit suspends until an explicit Stop or a
// fatal shard error (failed authentication), without polling.
//
// # Connection behavior
//
// Transport failures are recovered locally with unbounded exponential
// backoff. On every (re)connect a shard re-issues membership for a
// snapshot of its tracked channels, exactly once per channel, so
// channels added or removed while disconnected are honored. A failed
// authentication is terminal for the shard: it is not retried, the
// error is observable via Err, and the manager's WaitUntilExit fires
// so the owner can refresh credentials and start again.
//
// Sends addressed to a shard that is not active fail fast with a
// transient error; frames are never queued while disconnected.
package shards
