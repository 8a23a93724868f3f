// Package twitchio provides shard-based connection management for Twitch IRC chat.
//
// # Overview
//
// A single IRC connection can authenticate as exactly one user and can only
// hold membership in a bounded number of channels before join rate limits and
// delivery latency become a problem. This module maintains live presence
// across an unbounded channel set by spreading membership over multiple
// independently connected "shards", each running its own
// connect/authenticate/reconnect state machine.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│           shards.Manager            │  registry, channel index,
//	│   (setup, assign, start, stop)      │  capacity planning
//	└─────────────────────────────────────┘
//	           ↓ owns
//	┌─────────────────────────────────────┐
//	│            shards.Shard             │  one connection, one identity,
//	│  (connect → auth → join → active)   │  disjoint channel subset
//	└─────────────────────────────────────┘
//	           ↓ speaks through
//	┌─────────────────────────────────────┐
//	│       transport / credential        │  websocket IRC transport,
//	│                                     │  token resolution
//	└─────────────────────────────────────┘
//
// Channel-to-shard assignment is pluggable through shards.Policy. Two
// reference policies ship with the module: shards.DefaultPolicy routes every
// channel to a single shard, and shards.DistributedPolicy balances channels
// across shards by load and grows the shard count on demand up to a hard
// ceiling.
//
// Supporting packages supply the ambient infrastructure: errors for
// classified error handling, metric for prometheus registration and
// exposition, health for per-shard health tracking, pkg/retry for
// reconnection backoff, pkg/ratelimit for IRC join/message limits and
// pkg/worker for inbound frame dispatch.
//
// The module holds no persisted state. Assignment is rebuilt in memory from
// configuration and the current channel list on every process start.
package twitchio
