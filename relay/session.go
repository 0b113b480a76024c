package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/mk6i/stomp-relay/logging"
	"github.com/mk6i/stomp-relay/messaging"
	"github.com/mk6i/stomp-relay/stompframe"
	"github.com/mk6i/stomp-relay/tcpclient"
)

// connHolder lets SessionHandler keep its current tcpclient.Connection
// behind an atomic.Pointer: atomic.Pointer[T] needs a concrete pointee,
// and an interface value doesn't qualify directly, so it is boxed in a
// one-field struct instead.
type connHolder struct {
	conn tcpclient.Connection
}

// SessionHandler is one instance per live logical session (§4.2): it owns
// a TCP connection to the broker, tracks STOMP-level connectedness,
// forwards application->broker frames, ingests broker->application
// frames, runs the heartbeat watchdogs once CONNECTED arrives, and tears
// itself down on any TCP failure. The system session and every client
// session are the same type with a Role tag (§9 design note) rather than
// a subclass, since the behavioral delta — auto-reconnect, synchronous
// forward-failure, availability publication — is small enough that a
// handful of role checks read more plainly than a second type.
type SessionHandler struct {
	sessionID string
	role      Role

	ctrl *Controller

	// clientAcceptVersion is the accept-version the client's own CONNECT
	// carried, when recoverable (§6: client sessions echo the client's
	// accept-version rather than the relay's hardcoded default). Set once
	// by the controller before the handler is ever connected, so it
	// needs no atomic protection.
	clientAcceptVersion string

	connPtr        atomic.Pointer[connHolder]
	stompConnected atomic.Bool
	tornDown       atomic.Bool
}

// NewSessionHandler constructs a handler not yet attached to any TCP
// connection.
func NewSessionHandler(sessionID string, role Role, ctrl *Controller) *SessionHandler {
	return &SessionHandler{sessionID: sessionID, role: role, ctrl: ctrl}
}

// SetClientAcceptVersion records the accept-version the client's own
// CONNECT requested, for use in the outbound CONNECT this handler sends
// once its TCP connection comes up. Only meaningful for RoleClient.
func (h *SessionHandler) SetClientAcceptVersion(versions string) {
	h.clientAcceptVersion = versions
}

func (h *SessionHandler) conn() tcpclient.Connection {
	holder := h.connPtr.Load()
	if holder == nil {
		return nil
	}
	return holder.conn
}

func (h *SessionHandler) logger() *slog.Logger {
	return h.ctrl.logger.With("sessionId", h.sessionID, "role", h.role.String())
}

// AfterConnected implements tcpclient.Handler: a new TCP connection to
// the broker is live. It sends the connect frame for this session's role
// and remembers the connection for subsequent forwards.
func (h *SessionHandler) AfterConnected(ctx context.Context, conn tcpclient.Connection) {
	h.tornDown.Store(false)
	h.connPtr.Store(&connHolder{conn: conn})

	login, passcode := h.ctrl.clientLogin, h.ctrl.clientPasscode
	acceptVersion := stompframe.ProtocolVersions
	sendMs, recvMs := int64(0), int64(0)
	if h.role == RoleSystem {
		login, passcode = h.ctrl.systemLogin, h.ctrl.systemPasscode
		sendMs = h.ctrl.systemHeartbeatSendInterval.Milliseconds()
		recvMs = h.ctrl.systemHeartbeatReceiveInterval.Milliseconds()
	} else if h.clientAcceptVersion != "" {
		acceptVersion = h.clientAcceptVersion
	}

	headers := stompframe.Headers{}.
		Set(stompframe.HeaderAcceptVersion, acceptVersion).
		Set(stompframe.HeaderHeartBeat, stompframe.HeartBeat{SendMS: sendMs, ReceiveMS: recvMs}.String())
	if h.ctrl.virtualHost != "" {
		headers = headers.Set(stompframe.HeaderHost, h.ctrl.virtualHost)
	}
	if login != "" {
		headers = headers.Set(stompframe.HeaderLogin, login)
	}
	if passcode != "" {
		headers = headers.Set(stompframe.HeaderPasscode, passcode)
	}

	h.logger().Log(ctx, slog.LevelDebug, "sending CONNECT to broker")
	<-conn.Send(stompframe.Frame{Command: stompframe.CmdConnect, Headers: headers})
}

// AfterConnectFailure implements tcpclient.Handler.
func (h *SessionHandler) AfterConnectFailure(err error) {
	h.handleTcpConnectionFailure("tcp connect failed", err)
}

// HandleFailure implements tcpclient.Handler.
func (h *SessionHandler) HandleFailure(err error) {
	h.handleTcpConnectionFailure("tcp connection failure", err)
}

// AfterConnectionClosed implements tcpclient.Handler.
func (h *SessionHandler) AfterConnectionClosed() {
	h.handleTcpConnectionFailure("tcp connection closed", nil)
}

// HandleFrame implements tcpclient.Handler: a frame arrived from the
// broker on this session's connection.
func (h *SessionHandler) HandleFrame(frame stompframe.Frame) {
	// Traced unconditionally, heartbeats included: at TRACE the point is
	// to see the wire traffic as it actually happened, not a filtered
	// view of it.
	h.logger().Log(context.Background(), logging.LevelTrace, "received frame from broker", "command", frame.Command)

	if frame.IsHeartbeat() {
		return
	}

	switch frame.Command {
	case stompframe.CmdConnected:
		h.onConnected(frame)
	case stompframe.CmdError:
		brokerMsg, _ := frame.Headers.Get(stompframe.HeaderMessage)
		if brokerMsg == "" {
			brokerMsg = "broker sent ERROR"
		}
		h.handleTcpConnectionFailure("broker sent ERROR", fmt.Errorf("%s", brokerMsg))
	default:
		h.forwardToApplication(frame)
	}
}

func (h *SessionHandler) onConnected(frame stompframe.Frame) {
	h.stompConnected.Store(true)

	ours := stompframe.HeartBeat{}
	if h.role == RoleSystem {
		ours = stompframe.HeartBeat{
			SendMS:    h.ctrl.systemHeartbeatSendInterval.Milliseconds(),
			ReceiveMS: h.ctrl.systemHeartbeatReceiveInterval.Milliseconds(),
		}
	}
	broker := stompframe.HeartBeat{}
	if v, ok := frame.Headers.Get(stompframe.HeaderHeartBeat); ok {
		broker = stompframe.ParseHeartBeat(v)
	}

	if h.role == RoleSystem {
		writeMs, readMs := heartbeatIntervals(ours, broker)
		if c := h.conn(); c != nil {
			if writeMs > 0 {
				c.OnWriteInactivity(func() {
					h.logger().Log(context.Background(), logging.LevelTrace, "sending heartbeat to broker")
					if err := <-c.Send(stompframe.NewHeartbeatFrame()); err != nil {
						h.handleTcpConnectionFailure("failed to send heartbeat", err)
					}
				}, writeMs)
			}
			if readMs > 0 {
				c.OnReadInactivity(func() {
					h.ctrl.metrics.RecordHeartbeatTimeout()
					h.handleTcpConnectionFailure("read inactivity timeout", fmt.Errorf("no frame from broker within %dms", readMs))
				}, readMs)
			}
		}
		h.ctrl.availability.PublishAvailable()
	}

	h.forwardToApplication(frame)
}

func (h *SessionHandler) forwardToApplication(frame stompframe.Frame) {
	acc := stompframe.NewAccessor(frame)
	acc.SetSessionID(h.sessionID)
	acc.Seal()

	msg := messaging.Message{Payload: frame.Body, Headers: map[string]any{
		messaging.HeaderSessionID: h.sessionID,
	}}
	stompHeaders := acc.Frame().Headers
	for i := 0; i+1 < len(stompHeaders); i += 2 {
		msg.Headers[stompHeaders[i]] = stompHeaders[i+1]
	}
	if dest, ok := acc.Destination(); ok {
		msg.Headers[messaging.HeaderDestination] = dest
	}
	if h.ctrl.headerInitializer != nil {
		h.ctrl.headerInitializer(msg.Headers)
	}

	if err := h.ctrl.appChannel.Send(context.Background(), msg); err != nil {
		h.logger().Error("failed delivering broker frame to application channel", "error", err)
		return
	}
	h.ctrl.metrics.RecordFrameForwarded("to_application")
}

// handleTcpConnectionFailure is the single teardown path for every kind
// of connection loss (§4.2). It is idempotent: concurrent callbacks from
// the same dying connection (a read error racing a watchdog timeout, say)
// only tear down once. It first clears and closes the connection; for a
// remote client session it then emits one STOMP ERROR frame downstream,
// carrying the failure reason in its message header, before
// deregistering — §4.2 step 2, §8 invariant 4.
func (h *SessionHandler) handleTcpConnectionFailure(reason string, cause error) {
	if !h.tornDown.CompareAndSwap(false, true) {
		return
	}
	h.stompConnected.Store(false)
	if holder := h.connPtr.Swap(nil); holder != nil {
		_ = holder.conn.Close()
	}

	if cause != nil {
		h.logger().Warn("session connection torn down", "reason", reason, "error", cause)
	} else {
		h.logger().Debug("session connection torn down", "reason", reason)
	}

	if h.role == RoleSystem {
		h.ctrl.availability.PublishUnavailable()
		return
	}

	message := reason
	if cause != nil {
		message = cause.Error()
	}
	h.forwardToApplication(stompframe.Frame{
		Command: stompframe.CmdError,
		Headers: stompframe.Headers{}.Set(stompframe.HeaderMessage, message),
	})

	h.ctrl.registry.Remove(h.sessionID, h)
	h.ctrl.metrics.SetSessionsActive(h.ctrl.registry.Size())
}

// teardownAfterDisconnect completes a clean client-initiated shutdown:
// the DISCONNECT frame was already written successfully, so there is no
// failure to report downstream, just the same bookkeeping
// handleTcpConnectionFailure does minus the ERROR frame (§8 property 3,
// scenario S6).
func (h *SessionHandler) teardownAfterDisconnect() {
	if !h.tornDown.CompareAndSwap(false, true) {
		return
	}
	h.stompConnected.Store(false)
	if holder := h.connPtr.Swap(nil); holder != nil {
		_ = holder.conn.Close()
	}
	h.logger().Debug("session torn down after client DISCONNECT")

	if h.role == RoleSystem {
		h.ctrl.availability.PublishUnavailable()
		return
	}

	h.ctrl.registry.Remove(h.sessionID, h)
	h.ctrl.metrics.SetSessionsActive(h.ctrl.registry.Size())
}

// Forward sends acc's frame to the broker over this session's current
// connection, returning a future resolving when the write completes (or
// is rejected). A client session not yet STOMP-connected — whether
// because the TCP dial hasn't completed or CONNECTED hasn't arrived yet
// — is a no-op success, matching the "queue nothing, just don't fail"
// pre-connect posture client sessions take; a system session in the
// same state fails synchronously with BrokerUnavailable, since callers
// of the system session's forward are expected to read the result
// before proceeding (§4.1 step 2, §8 S3, S5).
func (h *SessionHandler) Forward(ctx context.Context, acc stompframe.HeaderAccessor) <-chan error {
	result := make(chan error, 1)
	c := h.conn()
	if c == nil || !h.IsStompConnected() {
		if h.role == RoleSystem {
			result <- newBrokerUnavailableError()
		} else {
			result <- nil
		}
		return result
	}
	command := acc.Command()
	out := c.Send(acc.Frame())
	forwarded := make(chan error, 1)
	go func() {
		err := <-out
		if err == nil {
			h.ctrl.metrics.RecordFrameForwarded("to_broker")
			if command == stompframe.CmdDisconnect {
				h.teardownAfterDisconnect()
			}
		} else {
			h.handleTcpConnectionFailure("failed to forward frame to broker", err)
		}
		forwarded <- err
	}()
	return forwarded
}

// IsStompConnected reports whether this session has a live, CONNECTED
// broker link.
func (h *SessionHandler) IsStompConnected() bool { return h.stompConnected.Load() }

// ClearConnection drops the handler's reference to its TCP connection
// without running the rest of the teardown path; used when a displaced
// handler is being retired and its connection's future events should no
// longer trigger this handler's side effects.
func (h *SessionHandler) ClearConnection() {
	h.tornDown.Store(true)
	h.connPtr.Store(nil)
	h.stompConnected.Store(false)
}
