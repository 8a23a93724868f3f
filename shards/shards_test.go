package shards

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Zarithya/TwitchIO/credential"
	"github.com/Zarithya/TwitchIO/pkg/retry"
	"github.com/Zarithya/TwitchIO/transport"
)

// fakeConn is an in-memory gateway connection. It answers the auth
// handshake on its own so shard tests exercise the real state machine
// without a network.
type fakeConn struct {
	rejectAuth bool

	mu      sync.Mutex
	sent    []string
	inbound chan string

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn(rejectAuth bool) *fakeConn {
	return &fakeConn{
		rejectAuth: rejectAuth,
		inbound:    make(chan string, 256),
		closed:     make(chan struct{}),
	}
}

func (c *fakeConn) Send(_ context.Context, line string) error {
	select {
	case <-c.closed:
		return stderrors.New("connection closed")
	default:
	}

	c.mu.Lock()
	c.sent = append(c.sent, line)
	c.mu.Unlock()

	if nick, ok := strings.CutPrefix(line, "NICK "); ok {
		if c.rejectAuth {
			c.push(":tmi.twitch.tv NOTICE * :Login authentication failed")
		} else {
			c.push(":tmi.twitch.tv 001 " + nick + " :Welcome, GLHF!")
		}
	}
	return nil
}

func (c *fakeConn) Recv(ctx context.Context) (string, error) {
	select {
	case line := <-c.inbound:
		return line, nil
	default:
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-c.closed:
		return "", stderrors.New("connection closed")
	case line := <-c.inbound:
		return line, nil
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) push(line string) {
	select {
	case c.inbound <- line:
	case <-c.closed:
	}
}

func (c *fakeConn) sentLines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *fakeConn) joins() []string {
	var out []string
	for _, line := range c.sentLines() {
		if ch, ok := strings.CutPrefix(line, "JOIN #"); ok {
			out = append(out, ch)
		}
	}
	return out
}

func (c *fakeConn) sentContaining(prefix string) []string {
	var out []string
	for _, line := range c.sentLines() {
		if strings.HasPrefix(line, prefix) {
			out = append(out, line)
		}
	}
	return out
}

// fakeTransport hands out fakeConns, optionally refusing dials to hold
// a shard in its backoff window.
type fakeTransport struct {
	rejectAuth bool

	mu      sync.Mutex
	conns   []*fakeConn
	dials   int
	dialErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{}
}

func (t *fakeTransport) Open(_ context.Context, _ string) (transport.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.dials++
	if t.dialErr != nil {
		return nil, t.dialErr
	}

	c := newFakeConn(t.rejectAuth)
	t.conns = append(t.conns, c)
	return c, nil
}

func (t *fakeTransport) setDialErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dialErr = err
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

func (t *fakeTransport) connCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

func (t *fakeTransport) conn(i int) *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i < 0 {
		i += len(t.conns)
	}
	if i < 0 || i >= len(t.conns) {
		return nil
	}
	return t.conns[i]
}

// countingProvider records how often credentials were resolved.
type countingProvider struct {
	mu       sync.Mutex
	resolves int
}

func (p *countingProvider) Resolve(_ context.Context, _, _ string) (credential.Credentials, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resolves++
	return credential.Credentials{Login: "botaccount", Token: "testtoken"}, nil
}

func (p *countingProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resolves
}

// fastBackoff keeps reconnect tests quick.
func fastBackoff() retry.Config {
	return retry.Config{
		MaxAttempts:  1,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func testOptions(tr transport.Transport) Options {
	return Options{
		Identity:  "botaccount",
		Provider:  credential.NewStatic("botaccount", "testtoken"),
		Transport: tr,
		Backoff:   fastBackoff(),
	}
}

func waitForState(t *testing.T, sh *Shard, want State) {
	t.Helper()
	assert.Eventually(t, func() bool {
		return sh.State() == want
	}, 3*time.Second, 2*time.Millisecond, "shard %s never reached %s (now %s)", sh.ID(), want, sh.State())
}
