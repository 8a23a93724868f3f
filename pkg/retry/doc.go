// Package retry provides exponential backoff for transient connection failures.
//
// # Overview
//
// Two shapes of retry are offered. Do executes a function a bounded number of
// times with exponential backoff between attempts, for operations like an
// initial credential resolution. Backoff is a stateful delay generator for
// unbounded loops: a shard's reconnection loop asks it for the next delay
// after every transport failure and resets it after every successful
// connection.
//
// # Usage
//
// Bounded retry:
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
//	    return conn.Handshake()
//	})
//
// Reconnection loop:
//
//	backoff := retry.NewBackoff(retry.Reconnect())
//	for {
//	    if err := connect(ctx); err != nil {
//	        if err := backoff.Wait(ctx); err != nil {
//	            return err // cancelled
//	        }
//	        continue
//	    }
//	    backoff.Reset()
//	    // ... serve connection ...
//	}
//
// Wrap errors with NonRetryable to bail out of Do immediately, e.g. for
// authentication failures that no amount of retrying will fix.
//
// # Configuration Presets
//
//   - DefaultConfig(): 3 attempts, 100ms-5s delay (normal operations)
//   - Reconnect(): unbounded, 1s-2m delay (connection loops)
//
// Jitter (up to 25% of the delay) is enabled in both presets to avoid
// thundering-herd reconnects when many shards lose connectivity at once.
package retry
