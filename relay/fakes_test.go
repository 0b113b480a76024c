package relay

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mk6i/stomp-relay/messaging"
	"github.com/mk6i/stomp-relay/stompframe"
	"github.com/mk6i/stomp-relay/tcpclient"
)

type fakeConn struct {
	mu   sync.Mutex
	sent []stompframe.Frame

	sendErr error

	writeTask       func()
	writeIntervalMs int64
	readTask        func()
	readIntervalMs  int64

	closed bool
}

func (c *fakeConn) Send(frame stompframe.Frame) <-chan error {
	c.mu.Lock()
	c.sent = append(c.sent, frame)
	c.mu.Unlock()
	ch := make(chan error, 1)
	ch <- c.sendErr
	return ch
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) OnWriteInactivity(task func(), intervalMs int64) {
	c.writeTask, c.writeIntervalMs = task, intervalMs
}

func (c *fakeConn) OnReadInactivity(task func(), intervalMs int64) {
	c.readTask, c.readIntervalMs = task, intervalMs
}

func (c *fakeConn) sentFrames() []stompframe.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]stompframe.Frame, len(c.sent))
	copy(out, c.sent)
	return out
}

type fakeChannel struct {
	mu   sync.Mutex
	sent []messaging.Message
}

func (c *fakeChannel) Send(_ context.Context, msg messaging.Message) error {
	c.mu.Lock()
	c.sent = append(c.sent, msg)
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) Subscribe(func(context.Context, messaging.Message)) func() {
	return func() {}
}

func (c *fakeChannel) messages() []messaging.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]messaging.Message, len(c.sent))
	copy(out, c.sent)
	return out
}

// fakeTcpClient lets tests drive a Session Handler's lifecycle directly
// (AfterConnected/HandleFrame/...) instead of dialing a real socket. Its
// Connect immediately invokes AfterConnected with a tracked fakeConn so
// controller-level tests can inspect what was sent to "the broker".
type fakeTcpClient struct {
	mu    sync.Mutex
	conns []*fakeConn

	connectErr error
}

func newFakeTcpClient() *fakeTcpClient {
	return &fakeTcpClient{}
}

func (f *fakeTcpClient) Connect(ctx context.Context, handler tcpclient.Handler) error {
	if f.connectErr != nil {
		handler.AfterConnectFailure(f.connectErr)
		return f.connectErr
	}
	c := &fakeConn{}
	f.mu.Lock()
	f.conns = append(f.conns, c)
	f.mu.Unlock()
	handler.AfterConnected(ctx, c)
	return nil
}

func (f *fakeTcpClient) ConnectWithReconnect(ctx context.Context, handler tcpclient.Handler, strategy tcpclient.ReconnectStrategy) error {
	return f.Connect(ctx, handler)
}

func (f *fakeTcpClient) Shutdown(ctx context.Context) error { return nil }

func (f *fakeTcpClient) lastConn() *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		return nil
	}
	return f.conns[len(f.conns)-1]
}

func testLogger() *slog.Logger { return slog.Default() }
