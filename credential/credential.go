// Package credential resolves the login and OAuth token a shard
// authenticates with. Tokens are resolved per connection attempt so a
// refreshed token is picked up on the next reconnect without restarting
// the shard.
package credential

import (
	"context"
	"strings"

	"github.com/Zarithya/TwitchIO/errors"
)

// Credentials carries the IRC login name and OAuth token for one connection.
type Credentials struct {
	// Login is the Twitch account name the shard authenticates as.
	Login string
	// Token is the OAuth access token, without the "oauth:" prefix.
	Token string
}

// Validate checks that the credentials are usable for authentication.
func (c Credentials) Validate() error {
	if strings.TrimSpace(c.Login) == "" {
		return errors.WrapInvalid(errors.ErrConfiguration, "credential", "validate", "login is empty")
	}
	if strings.TrimSpace(c.Token) == "" {
		return errors.WrapFatal(errors.ErrNoToken, "credential", "validate", "token is empty")
	}
	return nil
}

// PassLine returns the token formatted for the IRC PASS command.
func (c Credentials) PassLine() string {
	token := strings.TrimPrefix(c.Token, "oauth:")
	return "PASS oauth:" + token
}

// Provider resolves credentials for a shard. Implementations may hit a
// token service or refresh endpoint, so Resolve takes a context.
//
// identityHint names the account the caller wants to connect as; channel
// optionally scopes the token to one channel. Either may be empty, and
// simple providers ignore both.
type Provider interface {
	// Resolve returns the credentials a shard should authenticate with.
	// It is called once per connection attempt, including reconnects.
	Resolve(ctx context.Context, identityHint, channel string) (Credentials, error)
}

// ProviderFunc adapts a plain function to the Provider interface.
type ProviderFunc func(ctx context.Context, identityHint, channel string) (Credentials, error)

// Resolve calls f.
func (f ProviderFunc) Resolve(ctx context.Context, identityHint, channel string) (Credentials, error) {
	return f(ctx, identityHint, channel)
}

// Static is a Provider that always returns the same credentials.
type Static struct {
	creds Credentials
}

// NewStatic creates a provider for a fixed login and token.
func NewStatic(login, token string) *Static {
	return &Static{creds: Credentials{Login: login, Token: token}}
}

// Resolve returns the fixed credentials, validating them first. The
// identity hint and channel scope are ignored.
func (s *Static) Resolve(_ context.Context, _, _ string) (Credentials, error) {
	if err := s.creds.Validate(); err != nil {
		return Credentials{}, err
	}
	return s.creds, nil
}
