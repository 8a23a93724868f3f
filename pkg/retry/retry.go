// Package retry provides exponential backoff for transient connection failures
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// NonRetryableError wraps errors that should not be retried
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable: %v", e.Err)
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// NonRetryable wraps an error to indicate it should not be retried
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable checks if an error is marked as non-retryable
func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return errors.As(err, &nre)
}

// Config provides backoff configuration
type Config struct {
	MaxAttempts  int           // Maximum number of attempts (0 = unbounded for Backoff, 1 for Do)
	InitialDelay time.Duration // Initial delay between attempts
	MaxDelay     time.Duration // Maximum delay between attempts
	Multiplier   float64       // Backoff multiplier (typically 2.0)
	AddJitter    bool          // Add randomness to prevent thundering herd
}

// DefaultConfig returns sensible defaults for retry operations
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

// Reconnect returns a config for unbounded reconnection loops. A shard
// retries transport failures indefinitely, so MaxAttempts is zero and only
// the delay schedule matters.
func Reconnect() Config {
	return Config{
		MaxAttempts:  0,
		InitialDelay: time.Second,
		MaxDelay:     2 * time.Minute,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

func (cfg Config) withDefaults() Config {
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = cfg.InitialDelay
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 2.0
	}
	// Prevent overflow with extremely large multipliers
	if cfg.Multiplier > 1000 {
		cfg.Multiplier = 1000
	}
	return cfg
}

// Do executes fn with exponential backoff retry
func Do(ctx context.Context, cfg Config, fn func() error) error {
	cfg = cfg.withDefaults()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1 // At least try once
	}

	var lastErr error
	backoff := NewBackoff(cfg)

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		// Non-retryable errors fail immediately
		if IsNonRetryable(err) {
			return err
		}

		if ctx.Err() != nil {
			return fmt.Errorf("retry cancelled before attempt %d: %w", attempt, ctx.Err())
		}

		// Don't sleep after the last attempt
		if attempt == cfg.MaxAttempts {
			break
		}

		if err := backoff.Wait(ctx); err != nil {
			return fmt.Errorf("retry cancelled during backoff for attempt %d: %w", attempt+1, ctx.Err())
		}
	}

	return fmt.Errorf("retry failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// DoWithResult executes fn with retry and returns both result and error
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() error {
		var innerErr error
		result, innerErr = fn()
		return innerErr
	})
	return result, err
}

// Backoff is a stateful exponential delay generator for reconnection loops.
// Each call to Next returns a longer delay until MaxDelay is reached; Reset
// restores the initial delay after a successful connection. Backoff is not
// safe for concurrent use; each connection loop owns its own instance.
type Backoff struct {
	cfg     Config
	delay   time.Duration
	attempt int
}

// NewBackoff creates a backoff generator from cfg, applying defaults for
// unset fields.
func NewBackoff(cfg Config) *Backoff {
	cfg = cfg.withDefaults()
	return &Backoff{cfg: cfg, delay: cfg.InitialDelay}
}

// Attempt returns the number of delays handed out since the last Reset.
func (b *Backoff) Attempt() int {
	return b.attempt
}

// Next returns the next delay and advances the schedule.
func (b *Backoff) Next() time.Duration {
	d := b.delay
	b.attempt++

	next := float64(b.delay) * b.cfg.Multiplier
	if next > float64(b.cfg.MaxDelay) {
		b.delay = b.cfg.MaxDelay
	} else {
		b.delay = time.Duration(next)
	}

	if b.cfg.AddJitter {
		// Add up to 25% jitter
		d += rand.N(d/4 + 1)
	}
	return d
}

// Reset restores the initial delay. Call after a successful attempt.
func (b *Backoff) Reset() {
	b.delay = b.cfg.InitialDelay
	b.attempt = 0
}

// Wait sleeps for the next delay in the schedule, returning early with the
// context error if ctx is cancelled.
func (b *Backoff) Wait(ctx context.Context) error {
	timer := time.NewTimer(b.Next())
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
