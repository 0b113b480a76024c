// Package relay implements the STOMP broker relay core: the Relay
// Controller, the per-session Session Handler state machine, the
// Session Registry, heartbeat watchdogs, and broker-availability event
// propagation. The STOMP codec, the TCP transport, and the upstream
// application message bus are consumed as interfaces (packages
// stompframe, tcpclient, messaging); this package only contains the
// session lifecycle and routing logic the spec calls out as the hard
// engineering.
package relay

import (
	"errors"
	"fmt"
)

// SystemSessionID is the reserved session id for the shared
// server-originated connection.
const SystemSessionID = "stompRelaySystemSessionId"

// Role distinguishes the system session from ordinary client sessions.
// The source achieves this split by subclassing; a single Session
// Handler type with a role tag is preferred here since the behavioral
// difference is small: auto-reconnect, synchronous forward, broker
// availability publication, and heartbeat management are all
// system-only (§9 design note).
type Role int

const (
	RoleClient Role = iota
	RoleSystem
)

func (r Role) String() string {
	if r == RoleSystem {
		return "system"
	}
	return "client"
}

// Sentinel errors, per §7 error kinds.
var (
	ErrConfigurationInvalid = errors.New("relay: invalid configuration")
	ErrBrokerUnavailable    = errors.New("relay: message broker is not active")
	ErrUnroutableMessage    = errors.New("relay: unroutable message")
	ErrMalformedAccessor    = errors.New("relay: message has no usable header accessor")
)

// brokerUnavailableMsg is the exact synchronous failure text §4.1 step 2
// and §8 scenario S5 require for server-originated sends while the
// system session is not STOMP-connected.
const brokerUnavailableMsg = "Message broker is not active."

func newBrokerUnavailableError() error {
	return fmt.Errorf("%w: %s", ErrBrokerUnavailable, brokerUnavailableMsg)
}
