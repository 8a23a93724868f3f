// Package transport abstracts the wire connection a shard reads and
// writes IRC lines over. The concrete websocket implementation lives in
// the ircws subpackage; tests substitute in-memory fakes.
package transport

import "context"

// Conn is a single established connection carrying IRC lines.
//
// Send and Recv operate on complete lines without trailing CRLF.
// Implementations must support one concurrent reader and one concurrent
// writer; Close may be called from any goroutine and unblocks pending
// Recv calls.
type Conn interface {
	// Send writes one IRC line to the connection.
	Send(ctx context.Context, line string) error
	// Recv blocks until the next IRC line arrives.
	Recv(ctx context.Context) (string, error)
	// Close tears down the connection.
	Close() error
}

// Transport opens connections to the chat endpoint. identity names the
// account the connection will authenticate as; implementations that
// authenticate in-band after connecting may ignore it.
type Transport interface {
	// Open dials the endpoint and returns an established connection.
	Open(ctx context.Context, identity string) (Conn, error)
}

// TransportFunc adapts a dial function to the Transport interface.
type TransportFunc func(ctx context.Context, identity string) (Conn, error)

// Open calls f.
func (f TransportFunc) Open(ctx context.Context, identity string) (Conn, error) {
	return f(ctx, identity)
}
