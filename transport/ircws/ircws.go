// Package ircws implements the shard transport over a websocket
// connection to the Twitch IRC gateway.
package ircws

import (
	"context"
	"crypto/tls"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Zarithya/TwitchIO/errors"
	"github.com/Zarithya/TwitchIO/transport"
)

const (
	// DefaultEndpoint is the secure Twitch IRC websocket gateway.
	DefaultEndpoint = "wss://irc-ws.chat.twitch.tv:443"

	defaultHandshakeTimeout = 45 * time.Second
	defaultWriteTimeout     = 10 * time.Second

	// recvBuffer bounds lines decoded ahead of the consumer. One
	// websocket frame may carry several CRLF-separated IRC lines.
	recvBuffer = 64
)

// Config holds configuration for the websocket transport.
type Config struct {
	// URL is the websocket endpoint. Defaults to DefaultEndpoint.
	URL string
	// HandshakeTimeout bounds the websocket handshake.
	HandshakeTimeout time.Duration
	// WriteTimeout bounds each outbound write.
	WriteTimeout time.Duration
	// TLSClientConfig overrides TLS settings, mainly for tests.
	TLSClientConfig *tls.Config
}

// DefaultConfig returns the production gateway configuration.
func DefaultConfig() Config {
	return Config{
		URL:              DefaultEndpoint,
		HandshakeTimeout: defaultHandshakeTimeout,
		WriteTimeout:     defaultWriteTimeout,
	}
}

// Transport dials the IRC gateway over websocket.
type Transport struct {
	cfg Config
}

// New creates a websocket transport, filling unset fields from DefaultConfig.
func New(cfg Config) *Transport {
	def := DefaultConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	return &Transport{cfg: cfg}
}

// Open dials the gateway and returns an established connection. The
// identity is ignored; the IRC gateway authenticates in-band via
// PASS/NICK after the connection is up.
func (t *Transport) Open(ctx context.Context, _ string) (transport.Conn, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: t.cfg.HandshakeTimeout,
		TLSClientConfig:  t.cfg.TLSClientConfig,
	}

	ws, resp, err := dialer.DialContext(ctx, t.cfg.URL, nil)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		return nil, errors.WrapTransient(err, "ircws", "open", "dial "+t.cfg.URL)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	c := &Conn{
		ws:           ws,
		writeTimeout: t.cfg.WriteTimeout,
		lines:        make(chan string, recvBuffer),
		done:         make(chan struct{}),
	}
	go c.readPump()
	return c, nil
}

// Conn is an established websocket connection carrying IRC lines.
// It supports one concurrent reader and any number of writers.
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex

	lines chan string
	done  chan struct{}

	closeOnce sync.Once

	errMu   sync.Mutex
	readErr error
}

// readPump decodes inbound websocket frames into IRC lines. It exits
// when the underlying connection errors or the Conn is closed, closing
// the lines channel on the way out.
func (c *Conn) readPump() {
	defer close(c.lines)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.errMu.Lock()
			c.readErr = err
			c.errMu.Unlock()
			return
		}

		for _, line := range strings.Split(string(data), "\r\n") {
			line = strings.TrimRight(line, "\r\n")
			if line == "" {
				continue
			}
			select {
			case c.lines <- line:
			case <-c.done:
				return
			}
		}
	}
}

// Send writes one IRC line to the connection.
func (c *Conn) Send(ctx context.Context, line string) error {
	select {
	case <-c.done:
		return errors.WrapTransient(errors.ErrNotConnected, "ircws", "send", "connection closed")
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "ircws", "send", "context done")
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.ws.SetWriteDeadline(deadline)

	if err := c.ws.WriteMessage(websocket.TextMessage, []byte(line+"\r\n")); err != nil {
		return errors.WrapTransient(err, "ircws", "send", "write")
	}
	return nil
}

// Recv blocks until the next IRC line arrives, the context is done, or
// the connection is lost.
func (c *Conn) Recv(ctx context.Context) (string, error) {
	// Drain decoded lines before reporting a lost connection.
	select {
	case line, ok := <-c.lines:
		if ok {
			return line, nil
		}
		return "", c.lostErr()
	default:
	}

	select {
	case <-ctx.Done():
		return "", errors.WrapTransient(ctx.Err(), "ircws", "recv", "context done")
	case line, ok := <-c.lines:
		if !ok {
			return "", c.lostErr()
		}
		return line, nil
	}
}

func (c *Conn) lostErr() error {
	c.errMu.Lock()
	err := c.readErr
	c.errMu.Unlock()

	if err == nil {
		err = errors.ErrConnectionLost
	}
	return errors.WrapTransient(err, "ircws", "recv", "connection lost")
}

// Close performs a best-effort close handshake, tears the socket down,
// and unblocks pending Recv calls.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.writeMu.Lock()
		_ = c.ws.SetWriteDeadline(time.Now().Add(time.Second))
		_ = c.ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()

		err = c.ws.Close()
	})
	return err
}
