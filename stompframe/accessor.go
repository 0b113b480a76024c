package stompframe

import (
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/mk6i/stomp-relay/messaging"
)

// HeartBeat is the negotiated (sendInterval, receiveInterval) pair in
// milliseconds carried by CONNECT/CONNECTED heart-beat headers.
type HeartBeat struct {
	SendMS    int64
	ReceiveMS int64
}

func (h HeartBeat) String() string {
	return strconv.FormatInt(h.SendMS, 10) + "," + strconv.FormatInt(h.ReceiveMS, 10)
}

// ParseHeartBeat parses a "x,y" heart-beat header value. A malformed
// value decodes to the zero HeartBeat (both sides disabled), matching
// the permissive posture of the rest of the accessor.
func ParseHeartBeat(s string) HeartBeat {
	parts := strings.SplitN(s, ",", 2)
	if len(parts) != 2 {
		return HeartBeat{}
	}
	send, errS := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	recv, errR := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if errS != nil || errR != nil {
		return HeartBeat{}
	}
	return HeartBeat{SendMS: send, ReceiveMS: recv}
}

// HeaderAccessor is a mutable view over a STOMP message's headers and
// command, per the data model's Header Accessor. It is implemented by
// Accessor below; the interface exists so relay code can accept either a
// STOMP-typed accessor or one freshly adapted from a
// messaging.GenericAccessor without caring which.
type HeaderAccessor interface {
	Command() string
	SetCommand(cmd string)
	Destination() (string, bool)
	SetDestination(dest string)
	SessionID() (string, bool)
	SetSessionID(id string)
	HeartBeat() HeartBeat
	SetHeartBeat(hb HeartBeat)
	Login() (string, bool)
	SetLogin(login string)
	Passcode() (string, bool)
	SetPasscode(passcode string)
	Host() (string, bool)
	SetHost(host string)
	AcceptVersion() (string, bool)
	SetAcceptVersion(versions string)
	Mutated() bool
	Seal()
	IsSealed() bool
	Frame() Frame
}

// Accessor is the concrete STOMP-typed HeaderAccessor implementation.
// Frame() always builds a fresh frame from the payload and the current
// command and headers, so any mutation is reflected in what forward()
// sends.
type Accessor struct {
	command string
	headers Headers
	body    []byte
	mutated bool
	sealed  atomic.Bool
}

// NewAccessor creates a STOMP-typed accessor over the given frame.
func NewAccessor(f Frame) *Accessor {
	return &Accessor{
		command: f.Command,
		headers: f.Headers.Clone(),
		body:    f.Body,
	}
}

func (a *Accessor) checkSealed() {
	if a.sealed.Load() {
		panic("stompframe: mutation of a sealed accessor")
	}
}

func (a *Accessor) Command() string { return a.command }

func (a *Accessor) SetCommand(cmd string) {
	a.checkSealed()
	a.command = cmd
	a.mutated = true
}

func (a *Accessor) Destination() (string, bool) { return a.headers.Get(HeaderDestination) }

func (a *Accessor) SetDestination(dest string) {
	a.checkSealed()
	a.headers = a.headers.Set(HeaderDestination, dest)
	a.mutated = true
}

func (a *Accessor) SessionID() (string, bool) { return a.headers.Get(HeaderSession) }

func (a *Accessor) SetSessionID(id string) {
	a.checkSealed()
	a.headers = a.headers.Set(HeaderSession, id)
	a.mutated = true
}

func (a *Accessor) HeartBeat() HeartBeat {
	v, ok := a.headers.Get(HeaderHeartBeat)
	if !ok {
		return HeartBeat{}
	}
	return ParseHeartBeat(v)
}

func (a *Accessor) SetHeartBeat(hb HeartBeat) {
	a.checkSealed()
	a.headers = a.headers.Set(HeaderHeartBeat, hb.String())
	a.mutated = true
}

func (a *Accessor) Login() (string, bool) { return a.headers.Get(HeaderLogin) }

func (a *Accessor) SetLogin(login string) {
	a.checkSealed()
	a.headers = a.headers.Set(HeaderLogin, login)
	a.mutated = true
}

func (a *Accessor) Passcode() (string, bool) { return a.headers.Get(HeaderPasscode) }

func (a *Accessor) SetPasscode(passcode string) {
	a.checkSealed()
	a.headers = a.headers.Set(HeaderPasscode, passcode)
	a.mutated = true
}

func (a *Accessor) Host() (string, bool) { return a.headers.Get(HeaderHost) }

func (a *Accessor) SetHost(host string) {
	a.checkSealed()
	a.headers = a.headers.Set(HeaderHost, host)
	a.mutated = true
}

func (a *Accessor) AcceptVersion() (string, bool) { return a.headers.Get(HeaderAcceptVersion) }

func (a *Accessor) SetAcceptVersion(versions string) {
	a.checkSealed()
	a.headers = a.headers.Set(HeaderAcceptVersion, versions)
	a.mutated = true
}

func (a *Accessor) Mutated() bool { return a.mutated }

// Seal freezes the accessor so it can be handed to the outbound
// application channel without risking downstream mutation races, per
// the header-mutation contract in §6.
func (a *Accessor) Seal() { a.sealed.Store(true) }

func (a *Accessor) IsSealed() bool { return a.sealed.Load() }

// Frame rebuilds a Frame from the accessor's current command, headers,
// and body.
func (a *Accessor) Frame() Frame {
	return Frame{Command: a.command, Headers: a.headers.Clone(), Body: a.body}
}

// FromGeneric adapts a messaging.GenericAccessor into a STOMP-typed
// Accessor, deriving the STOMP command from the generic message type
// when none is already set, per §4.1 step 3.
func FromGeneric(g *messaging.GenericAccessor, payload []byte) *Accessor {
	a := NewAccessor(Frame{Body: payload})
	if cmd, ok := messaging.DeriveStompCommand(g.MessageType()); ok {
		a.command = cmd
	}
	if sid, ok := g.SessionID(); ok {
		a.headers = a.headers.Set(HeaderSession, sid)
	}
	if dest, ok := g.Destination(); ok {
		a.headers = a.headers.Set(HeaderDestination, dest)
	}
	if av, ok := g.RawHeader(HeaderAcceptVersion); ok {
		a.headers = a.headers.Set(HeaderAcceptVersion, av)
	}
	a.mutated = false
	return a
}
