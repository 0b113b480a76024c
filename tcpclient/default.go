package tcpclient

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/mk6i/stomp-relay/stompframe"
)

// DefaultClient is the default TCP Client Adapter, dialing plain TCP and
// speaking the STOMP text codec. It throttles connection attempts with a
// token-bucket limiter (golang.org/x/time/rate) so a broker that accepts
// then immediately resets can't spin a reconnect loop into a busy loop —
// an enrichment over the bare fixed-interval strategy the core relies
// on, since the limiter only ever adds delay, never skips a reconnect.
type DefaultClient struct {
	addr    string
	logger  *slog.Logger
	limiter *rate.Limiter

	mu      sync.Mutex
	conns   map[string]*conn
	closed  bool
	closeCh chan struct{}
}

// NewDefaultClient constructs a client that dials host:port. burst
// allows the first `burst` connection attempts through immediately; rps
// bounds sustained reconnect attempts per second thereafter.
func NewDefaultClient(host string, port string, logger *slog.Logger, rps float64, burst int) *DefaultClient {
	if rps <= 0 {
		rps = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &DefaultClient{
		addr:    net.JoinHostPort(host, port),
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		conns:   make(map[string]*conn),
		closeCh: make(chan struct{}),
	}
}

func (c *DefaultClient) Connect(ctx context.Context, handler Handler) error {
	return c.connectOnce(ctx, handler)
}

func (c *DefaultClient) ConnectWithReconnect(ctx context.Context, handler Handler, strategy ReconnectStrategy) error {
	if strategy == nil {
		return c.connectOnce(ctx, handler)
	}
	go func() {
		for {
			done := make(chan struct{})
			wrapped := &reconnectHandler{Handler: handler, onTerminal: func() { close(done) }}
			if err := c.connectOnce(ctx, wrapped); err != nil {
				wrapped.signal()
			}
			select {
			case <-done:
			case <-ctx.Done():
				return
			case <-c.closeCh:
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-c.closeCh:
				return
			case <-time.After(strategy.NextDelay()):
			}
		}
	}()
	return nil
}

// reconnectHandler forwards every callback to the wrapped handler and
// additionally signals onTerminal exactly once when the connection
// reaches a terminal state (failure, close, or connect failure) so the
// reconnect loop above knows when to schedule the next attempt.
type reconnectHandler struct {
	Handler
	once       sync.Once
	onTerminal func()
}

func (r *reconnectHandler) signal() { r.once.Do(r.onTerminal) }

func (r *reconnectHandler) AfterConnectFailure(err error) {
	r.Handler.AfterConnectFailure(err)
	r.signal()
}

func (r *reconnectHandler) HandleFailure(err error) {
	r.Handler.HandleFailure(err)
	r.signal()
}

func (r *reconnectHandler) AfterConnectionClosed() {
	r.Handler.AfterConnectionClosed()
	r.signal()
}

func (c *DefaultClient) connectOnce(ctx context.Context, handler Handler) error {
	if err := c.limiter.Wait(ctx); err != nil {
		handler.AfterConnectFailure(err)
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		err := errors.New("tcpclient: client is shut down")
		handler.AfterConnectFailure(err)
		return err
	}
	c.mu.Unlock()

	nc, err := net.Dial("tcp", c.addr)
	if err != nil {
		handler.AfterConnectFailure(err)
		return err
	}

	id := uuid.New().String()
	cn := &conn{
		id:     id,
		nc:     nc,
		w:      bufio.NewWriter(nc),
		logger: c.logger,
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = nc.Close()
		err := errors.New("tcpclient: client is shut down")
		handler.AfterConnectFailure(err)
		return err
	}
	c.conns[id] = cn
	c.mu.Unlock()

	go cn.readLoop(handler)

	handler.AfterConnected(ctx, cn)
	return nil
}

func (c *DefaultClient) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.closeCh)
	conns := make([]*conn, 0, len(c.conns))
	for _, cn := range c.conns {
		conns = append(conns, cn)
	}
	c.mu.Unlock()

	var firstErr error
	for _, cn := range conns {
		if err := cn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// conn implements Connection over a real net.Conn.
type conn struct {
	id     string
	nc     net.Conn
	logger *slog.Logger

	writeMu sync.Mutex
	w       *bufio.Writer

	closeOnce sync.Once

	wdMu      sync.Mutex
	writeStop chan struct{}
	readStop  chan struct{}

	lastWrite atomic.Int64 // UnixNano of the last successful write
	lastRead  atomic.Int64 // UnixNano of the last frame read
}

func (c *conn) Send(frame stompframe.Frame) <-chan error {
	result := make(chan error, 1)
	go func() {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		err := writeFrame(c.w, frame)
		if err == nil {
			c.lastWrite.Store(time.Now().UnixNano())
		}
		result <- err
	}()
	return result
}

func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.wdMu.Lock()
		if c.writeStop != nil {
			close(c.writeStop)
		}
		if c.readStop != nil {
			close(c.readStop)
		}
		c.wdMu.Unlock()
		err = c.nc.Close()
	})
	return err
}

// OnWriteInactivity polls every intervalMs and fires task the moment at
// least intervalMs have elapsed since the last successful write,
// resetting the clock at that point (a fired task is expected to send a
// heartbeat, which itself counts as the next write).
func (c *conn) OnWriteInactivity(task func(), intervalMs int64) {
	c.wdMu.Lock()
	defer c.wdMu.Unlock()
	if c.writeStop != nil {
		close(c.writeStop)
	}
	stop := make(chan struct{})
	c.writeStop = stop
	c.lastWrite.Store(time.Now().UnixNano())
	interval := time.Duration(intervalMs) * time.Millisecond
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				if time.Since(time.Unix(0, c.lastWrite.Load())) >= interval {
					task()
				}
			case <-stop:
				return
			}
		}
	}()
}

// OnReadInactivity polls every intervalMs and fires task once
// intervalMs have elapsed since the last frame was read (including
// since registration). Unlike OnWriteInactivity, task here is expected
// to tear the connection down, so firing is effectively one-shot.
func (c *conn) OnReadInactivity(task func(), intervalMs int64) {
	c.wdMu.Lock()
	defer c.wdMu.Unlock()
	if c.readStop != nil {
		close(c.readStop)
	}
	stop := make(chan struct{})
	c.readStop = stop
	c.lastRead.Store(time.Now().UnixNano())
	interval := time.Duration(intervalMs) * time.Millisecond
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				if time.Since(time.Unix(0, c.lastRead.Load())) >= interval {
					task()
					return
				}
			case <-stop:
				return
			}
		}
	}()
}

func (c *conn) readLoop(handler Handler) {
	r := bufio.NewReader(c.nc)
	for {
		frame, err := readFrame(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				handler.AfterConnectionClosed()
			} else {
				handler.HandleFailure(fmt.Errorf("connection %s: %w", c.id, err))
			}
			return
		}
		c.lastRead.Store(time.Now().UnixNano())
		handler.HandleFrame(frame)
	}
}
