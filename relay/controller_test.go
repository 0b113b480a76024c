package relay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mk6i/stomp-relay/messaging"
	"github.com/mk6i/stomp-relay/stompframe"
)

// bootstrapSystemAvailable wires a system session directly into ctrl's
// registry and drives it to StompConnected, bypassing the real TCP
// client so Dispatch's broker-availability gate passes without Start().
func bootstrapSystemAvailable(ctrl *Controller) *fakeConn {
	system := NewSessionHandler(SystemSessionID, RoleSystem, ctrl)
	ctrl.registry.Insert(SystemSessionID, system)
	sc := &fakeConn{}
	system.AfterConnected(context.Background(), sc)
	system.HandleFrame(stompframe.Frame{
		Command: stompframe.CmdConnected,
		Headers: stompframe.Headers{}.Set(stompframe.HeaderHeartBeat, "0,0"),
	})
	return sc
}

func connectMsg(sessionID string) messaging.Message {
	return messaging.Message{Headers: map[string]any{
		messaging.HeaderSessionID:   sessionID,
		messaging.HeaderMessageType: messaging.TypeConnect,
	}}
}

func sendMsg(sessionID, destination string, payload []byte) messaging.Message {
	return messaging.Message{
		Payload: payload,
		Headers: map[string]any{
			messaging.HeaderSessionID:   sessionID,
			messaging.HeaderMessageType: messaging.TypeMessage,
			messaging.HeaderDestination: destination,
		},
	}
}

func disconnectMsg(sessionID string) messaging.Message {
	return messaging.Message{Headers: map[string]any{
		messaging.HeaderSessionID:   sessionID,
		messaging.HeaderMessageType: messaging.TypeDisconnect,
	}}
}

// connectAndHandshake dispatches a CONNECT for sessionID and drives the
// resulting session to StompConnected, returning its broker-side fake
// connection.
func connectAndHandshake(t *testing.T, ctrl *Controller, tcp *fakeTcpClient, sessionID string) *fakeConn {
	t.Helper()
	require.NoError(t, ctrl.Dispatch(context.Background(), connectMsg(sessionID)))

	h, ok := ctrl.registry.Lookup(sessionID)
	require.True(t, ok)
	conn := tcp.lastConn()
	require.NotNil(t, conn)

	h.HandleFrame(stompframe.Frame{
		Command: stompframe.CmdConnected,
		Headers: stompframe.Headers{}.Set(stompframe.HeaderHeartBeat, "0,0"),
	})
	return conn
}

func TestDispatchS1HappyPathClientSession(t *testing.T) {
	ch := &fakeChannel{}
	tcp := newFakeTcpClient()
	ctrl := NewController(Config{TcpClient: tcp, DestinationPrefixes: []string{"/topic/"}}, ch, testLogger())
	bootstrapSystemAvailable(ctrl)

	conn := connectAndHandshake(t, ctrl, tcp, "A")
	require.NoError(t, ctrl.Dispatch(context.Background(), sendMsg("A", "/topic/x", []byte("hi"))))

	sent := conn.sentFrames()
	require.Len(t, sent, 2)
	assert.Equal(t, stompframe.CmdConnect, sent[0].Command)
	login, _ := sent[0].Headers.Get(stompframe.HeaderLogin)
	assert.Equal(t, "guest", login)
	passcode, _ := sent[0].Headers.Get(stompframe.HeaderPasscode)
	assert.Equal(t, "guest", passcode)

	assert.Equal(t, stompframe.CmdSend, sent[1].Command)
	assert.Equal(t, []byte("hi"), sent[1].Body)

	_, ok := ctrl.registry.Lookup("A")
	assert.True(t, ok)
}

func TestDispatchS2DestinationPrefixRejection(t *testing.T) {
	ch := &fakeChannel{}
	tcp := newFakeTcpClient()
	ctrl := NewController(Config{TcpClient: tcp, DestinationPrefixes: []string{"/topic/"}}, ch, testLogger())
	bootstrapSystemAvailable(ctrl)

	conn := connectAndHandshake(t, ctrl, tcp, "A")
	beforeSent := len(conn.sentFrames())
	beforeMsgs := len(ch.messages())

	require.NoError(t, ctrl.Dispatch(context.Background(), sendMsg("A", "/queue/y", []byte("nope"))))

	assert.Len(t, conn.sentFrames(), beforeSent)
	assert.Len(t, ch.messages(), beforeMsgs)
}

func TestDispatchS3ForwardBeforeConnected(t *testing.T) {
	ch := &fakeChannel{}
	tcp := newFakeTcpClient()
	ctrl := NewController(Config{TcpClient: tcp, DestinationPrefixes: []string{"/topic/"}}, ch, testLogger())
	bootstrapSystemAvailable(ctrl)

	beforeMsgs := len(ch.messages())

	require.NoError(t, ctrl.Dispatch(context.Background(), connectMsg("A")))
	conn := tcp.lastConn()
	require.NotNil(t, conn)
	require.Len(t, conn.sentFrames(), 1) // only the outbound CONNECT so far

	// SEND arrives before this session's own CONNECTED has been observed.
	require.NoError(t, ctrl.Dispatch(context.Background(), sendMsg("A", "/topic/x", []byte("hi"))))

	assert.Len(t, conn.sentFrames(), 1)       // no SEND forwarded
	assert.Len(t, ch.messages(), beforeMsgs) // no downstream ERROR either
}

func TestDispatchS4HeartbeatTimeoutOnSystemSession(t *testing.T) {
	ch := &fakeChannel{}
	tcp := newFakeTcpClient()
	ctrl := NewController(Config{
		TcpClient:                      tcp,
		SystemHeartbeatSendInterval:    10000 * 1000000,
		SystemHeartbeatReceiveInterval: 10000 * 1000000,
	}, ch, testLogger())

	system := NewSessionHandler(SystemSessionID, RoleSystem, ctrl)
	ctrl.registry.Insert(SystemSessionID, system)
	sc := &fakeConn{}
	system.AfterConnected(context.Background(), sc)
	system.HandleFrame(stompframe.Frame{
		Command: stompframe.CmdConnected,
		Headers: stompframe.Headers{}.Set(stompframe.HeaderHeartBeat, "5000,5000"),
	})
	require.True(t, system.IsStompConnected())
	require.NotNil(t, sc.readTask)
	assert.Equal(t, int64(30000), sc.readIntervalMs) // 3 * max(cy=10000, sx=5000)

	// Fire the watchdog as the scheduler would after readIntervalMs of silence.
	sc.readTask()

	assert.False(t, system.IsStompConnected())
	_, ok := ctrl.registry.Lookup(SystemSessionID)
	assert.True(t, ok, "system session entry is never removed from the registry")
}

func TestDispatchS5ServerSendWhileBrokerUnavailable(t *testing.T) {
	ch := &fakeChannel{}
	ctrl := NewController(Config{}, ch, testLogger())

	system := NewSessionHandler(SystemSessionID, RoleSystem, ctrl)
	ctrl.registry.Insert(SystemSessionID, system) // not yet STOMP-connected

	msg := messaging.Message{
		Payload: []byte("hi"),
		Headers: map[string]any{
			messaging.HeaderMessageType: messaging.TypeMessage,
			messaging.HeaderDestination: "/topic/x",
		},
	}

	err := ctrl.Dispatch(context.Background(), msg)
	require.Error(t, err)
	assert.Equal(t, brokerUnavailableMsg, err.Error())
}

func TestDispatchS6DisconnectCleanup(t *testing.T) {
	ch := &fakeChannel{}
	tcp := newFakeTcpClient()
	ctrl := NewController(Config{TcpClient: tcp}, ch, testLogger())
	bootstrapSystemAvailable(ctrl)

	conn := connectAndHandshake(t, ctrl, tcp, "B")
	beforeDisconnect := len(ch.messages())

	require.NoError(t, ctrl.Dispatch(context.Background(), disconnectMsg("B")))

	sent := conn.sentFrames()
	assert.Equal(t, stompframe.CmdDisconnect, sent[len(sent)-1].Command)

	_, ok := ctrl.registry.Lookup("B")
	assert.False(t, ok)

	// Clean disconnect, not a failure: no ERROR frame downstream.
	assert.Len(t, ch.messages(), beforeDisconnect)

	// A later message for the now-gone session is dropped, not errored.
	err := ctrl.Dispatch(context.Background(), sendMsg("B", "/topic/x", []byte("late")))
	assert.NoError(t, err)
}

func TestDispatchConnectEchoesClientAcceptVersion(t *testing.T) {
	ch := &fakeChannel{}
	tcp := newFakeTcpClient()
	ctrl := NewController(Config{TcpClient: tcp}, ch, testLogger())
	bootstrapSystemAvailable(ctrl)

	msg := messaging.Message{Headers: map[string]any{
		messaging.HeaderSessionID:      "A",
		messaging.HeaderMessageType:    messaging.TypeConnect,
		stompframe.HeaderAcceptVersion: "1.2",
	}}
	require.NoError(t, ctrl.Dispatch(context.Background(), msg))

	conn := tcp.lastConn()
	require.NotNil(t, conn)
	av, ok := conn.sentFrames()[0].Headers.Get(stompframe.HeaderAcceptVersion)
	assert.True(t, ok)
	assert.Equal(t, "1.2", av)
}

func TestDispatchDropsSessionlessNonMessage(t *testing.T) {
	ch := &fakeChannel{}
	tcp := newFakeTcpClient()
	ctrl := NewController(Config{TcpClient: tcp}, ch, testLogger())
	bootstrapSystemAvailable(ctrl)
	beforeMsgs := len(ch.messages()) // the system session's forwarded CONNECTED

	msg := messaging.Message{Headers: map[string]any{
		messaging.HeaderMessageType: messaging.TypeSubscribe,
	}}
	assert.NoError(t, ctrl.Dispatch(context.Background(), msg))
	assert.Len(t, ch.messages(), beforeMsgs)
}

func TestDispatchAssignsSystemSessionToSessionlessMessage(t *testing.T) {
	ch := &fakeChannel{}
	ctrl := NewController(Config{}, ch, testLogger())
	sysConn := bootstrapSystemAvailable(ctrl)

	msg := messaging.Message{
		Payload: []byte("srv"),
		Headers: map[string]any{
			messaging.HeaderMessageType: messaging.TypeMessage,
			messaging.HeaderDestination: "/topic/broadcast",
		},
	}
	require.NoError(t, ctrl.Dispatch(context.Background(), msg))

	sent := sysConn.sentFrames()
	last := sent[len(sent)-1]
	assert.Equal(t, stompframe.CmdSend, last.Command)
	assert.Equal(t, []byte("srv"), last.Body)
}

func TestDispatchMalformedAccessorIsDroppedNotErrored(t *testing.T) {
	ch := &fakeChannel{}
	tcp := newFakeTcpClient()
	ctrl := NewController(Config{TcpClient: tcp}, ch, testLogger())
	bootstrapSystemAvailable(ctrl)

	// No headers and no payload: accessorFor has nothing to build a
	// usable accessor from.
	assert.NoError(t, ctrl.Dispatch(context.Background(), messaging.Message{}))
}

func TestDispatchUnknownSessionIsDroppedWithWarning(t *testing.T) {
	ch := &fakeChannel{}
	tcp := newFakeTcpClient()
	ctrl := NewController(Config{TcpClient: tcp}, ch, testLogger())
	bootstrapSystemAvailable(ctrl)

	err := ctrl.Dispatch(context.Background(), sendMsg("ghost", "/topic/x", []byte("x")))
	assert.NoError(t, err)
}
