// Package tcpclient defines the TCP Client Adapter interface the relay
// core consumes (§4.6) and a default net.Dial-backed implementation. The
// interface is the seam between the relay's session lifecycle state
// machine and the outside world; tests drive the relay against a fake
// implementation instead of a real socket.
package tcpclient

import (
	"context"
	"time"

	"github.com/mk6i/stomp-relay/stompframe"
)

// Handler receives the asynchronous events of a single TCP connection
// attempt and its subsequent lifetime. A Session Handler in package
// relay implements this interface.
type Handler interface {
	AfterConnected(ctx context.Context, conn Connection)
	AfterConnectFailure(err error)
	HandleFrame(frame stompframe.Frame)
	HandleFailure(err error)
	AfterConnectionClosed()
}

// Connection is a single live TCP connection to the broker, wrapped with
// the STOMP codec.
type Connection interface {
	// Send writes frame and returns a channel that receives exactly one
	// error (nil on success) when the write completes.
	Send(frame stompframe.Frame) <-chan error
	// Close is idempotent.
	Close() error
	// OnWriteInactivity registers task to run every intervalMs of
	// outbound silence. Only one write watchdog may be registered per
	// connection; registering again replaces it.
	OnWriteInactivity(task func(), intervalMs int64)
	// OnReadInactivity registers task to run once intervalMs elapses
	// without an inbound frame. Only one read watchdog may be registered
	// per connection; registering again replaces it.
	OnReadInactivity(task func(), intervalMs int64)
}

// ReconnectStrategy determines the delay before the next connection
// attempt after a disconnect or failure. A nil ReconnectStrategy means
// "don't reconnect", the same as Connect, which client sessions use.
type ReconnectStrategy interface {
	NextDelay() time.Duration
}

// FixedReconnectStrategy reconnects after the same fixed interval every
// time, matching the relay's system-session reconnect policy (§4.1: a
// fixed 5000 ms interval).
type FixedReconnectStrategy struct {
	Interval time.Duration
}

func (f FixedReconnectStrategy) NextDelay() time.Duration { return f.Interval }

// Client is the TCP Client Adapter interface consumed by the relay core.
type Client interface {
	// Connect initiates a one-shot TCP connection; handler receives the
	// lifecycle callbacks.
	Connect(ctx context.Context, handler Handler) error
	// ConnectWithReconnect behaves like Connect, but re-invokes Connect
	// after strategy.NextDelay() on every disconnect or failure, until
	// the client is shut down.
	ConnectWithReconnect(ctx context.Context, handler Handler, strategy ReconnectStrategy) error
	// Shutdown closes every connection the client holds and returns once
	// they are all closed, or ctx is done.
	Shutdown(ctx context.Context) error
}
