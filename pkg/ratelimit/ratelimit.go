// Package ratelimit provides IRC command rate limiting for shard connections
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Status is the account standing the IRC endpoint grants a login. Verified
// bots get a dramatically higher join allowance than ordinary users.
type Status string

const (
	StatusUser      Status = "user"
	StatusModerator Status = "moderator"
	StatusVerified  Status = "verified"
)

// IRC chat limits per account status: joins are counted over a 10 second
// window, messages over a 30 second window.
const (
	joinWindow    = 10 * time.Second
	messageWindow = 30 * time.Second
)

var joinTokens = map[Status]int{
	StatusUser:      20,
	StatusModerator: 20,
	StatusVerified:  2000,
}

var messageTokens = map[Status]int{
	StatusUser:      20,
	StatusModerator: 100,
	StatusVerified:  100,
}

// Limiter paces IRC commands so a shard never trips the endpoint's window
// limits. It is safe for concurrent use.
type Limiter struct {
	limiter *rate.Limiter
}

// NewJoinLimiter returns a limiter for JOIN/PART commands under the given
// account status. Unknown statuses fall back to the user allowance.
func NewJoinLimiter(status Status) *Limiter {
	return newLimiter(joinTokens, status, joinWindow)
}

// NewMessageLimiter returns a limiter for PRIVMSG commands under the given
// account status.
func NewMessageLimiter(status Status) *Limiter {
	return newLimiter(messageTokens, status, messageWindow)
}

func newLimiter(tokens map[Status]int, status Status, window time.Duration) *Limiter {
	n, ok := tokens[status]
	if !ok {
		n = tokens[StatusUser]
	}
	return &Limiter{
		limiter: rate.NewLimiter(rate.Every(window/time.Duration(n)), n),
	}
}

// Wait blocks until the next command may be sent or ctx is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// Allow reports whether a command may be sent immediately, consuming a token
// if so.
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}
