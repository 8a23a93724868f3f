// Package errors provides standardized error handling for the shard
// management library.
//
// # Overview
//
// The package implements a three-class error classification system:
// Transient (temporary, retryable), Invalid (bad input or exhausted
// capacity, non-retryable but recoverable by the caller), and Fatal
// (unrecoverable, stop the shard).
//
// Classification drives the behavior of the shard state machine: transient
// connection errors feed the backoff-and-reconnect loop, invalid errors such
// as ErrCapacityExceeded are surfaced to the assignment caller with existing
// state untouched, and fatal errors such as ErrAuthenticationFailed
// terminate the shard so the owner can refresh credentials and restart.
//
// # Error Wrapping Pattern
//
// All error wrapping follows the standardized format:
//
//	"component.method: action failed: %w"
//
// Three wrapper functions provide classification-aware wrapping:
//
//	errors.WrapTransient(err, "Shard", "connect", "dial")
//	errors.WrapInvalid(err, "Manager", "AssignShard", "capacity check")
//	errors.WrapFatal(err, "Shard", "authenticate", "login rejected")
//
// The generic Wrap() function adds context without forcing a class and
// preserves the original classification through the chain.
//
// # Integration with errors.Is/As
//
// All error types support standard library inspection. Classification is
// preserved through wrapping chains:
//
//	wrapped := errors.WrapTransient(errors.ErrConnectionLost, "Shard", "run", "read frame")
//	errors.IsTransient(wrapped) // true
//	errors.Is(wrapped, errors.ErrConnectionLost) // true
//
// Context errors (context.DeadlineExceeded, context.Canceled) are classified
// as Transient so context-based connect timeouts behave like network
// timeouts.
package errors
