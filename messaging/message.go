// Package messaging models the upstream application message bus the
// relay sits behind: a generic publish/subscribe channel carrying
// Messages tagged with a handful of well-known headers (message type,
// session id, destination). The bus itself — its transport, its
// subscriber dispatch, its delivery guarantees — is an EXTERNAL
// collaborator; this package only gives its Message/HeaderAccessor
// shape a concrete Go type so relay code can be written and tested
// against it.
package messaging

import "context"

// Well-known generic header keys, matching Spring's simple-messaging
// header names as closely as a flat Go map allows.
const (
	HeaderMessageType = "simpMessageType"
	HeaderSessionID   = "simpSessionId"
	HeaderDestination = "simpDestination"
)

// Type enumerates the generic simple-messaging message types. Only the
// handful the relay cares about are named; anything else decodes to
// TypeOther.
type Type int

const (
	TypeOther Type = iota
	TypeConnect
	TypeConnectAck
	TypeDisconnect
	TypeDisconnectAck
	TypeSubscribe
	TypeUnsubscribe
	TypeMessage
	TypeHeartbeat
)

// Message is a payload plus a generic header set, the unit of traffic on
// the application message bus in both directions.
type Message struct {
	Payload []byte
	Headers map[string]any
}

// Channel is the publish/subscribe abstraction the Relay Controller
// subscribes to for inbound application traffic and broker-directed
// traffic, and publishes to for broker->application traffic. A real
// implementation might be backed by an in-process event bus, a message
// queue client, or a WebSocket session registry; the relay core only
// needs Send/Subscribe.
type Channel interface {
	// Send publishes a message to the channel. It may block according to
	// the implementation's delivery semantics.
	Send(ctx context.Context, msg Message) error
	// Subscribe registers a handler invoked for every message published
	// to the channel, returning an unsubscribe function.
	Subscribe(handler func(context.Context, Message)) (unsubscribe func())
}

// DeliveryFailure is returned synchronously to a caller whose message
// could not be routed to the broker (§7 BrokerUnavailable).
type DeliveryFailure struct {
	Reason string
}

func (e *DeliveryFailure) Error() string { return e.Reason }
