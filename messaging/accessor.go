package messaging

// GenericAccessor is a mutable view over a Message's generic
// simple-messaging headers. It is the "generic simple-messaging
// accessor" the data model describes as an alternative to a STOMP-typed
// accessor: some producers on the application bus only ever set the
// generic headers (message type, destination, session id) and leave
// STOMP command translation to the relay.
type GenericAccessor struct {
	msg *Message
}

// NewGenericAccessor wraps msg, initializing its header map if nil.
func NewGenericAccessor(msg *Message) *GenericAccessor {
	if msg.Headers == nil {
		msg.Headers = make(map[string]any)
	}
	return &GenericAccessor{msg: msg}
}

// MessageType returns the generic message type, or TypeOther if unset or
// unrecognized.
func (a *GenericAccessor) MessageType() Type {
	t, _ := a.msg.Headers[HeaderMessageType].(Type)
	return t
}

// SetMessageType sets the generic message type header.
func (a *GenericAccessor) SetMessageType(t Type) {
	a.msg.Headers[HeaderMessageType] = t
}

// SessionID returns the generic session id header, if present.
func (a *GenericAccessor) SessionID() (string, bool) {
	s, ok := a.msg.Headers[HeaderSessionID].(string)
	return s, ok
}

// SetSessionID sets the generic session id header.
func (a *GenericAccessor) SetSessionID(id string) {
	a.msg.Headers[HeaderSessionID] = id
}

// Destination returns the generic destination header, if present.
func (a *GenericAccessor) Destination() (string, bool) {
	d, ok := a.msg.Headers[HeaderDestination].(string)
	return d, ok
}

// RawHeader returns a header stored verbatim under key, letting callers
// recover STOMP-native headers (e.g. accept-version) that a producer
// set directly on the message alongside the generic simple-messaging
// ones, rather than translating through this accessor.
func (a *GenericAccessor) RawHeader(key string) (string, bool) {
	s, ok := a.msg.Headers[key].(string)
	return s, ok
}

// DeriveStompCommand maps a generic simple-messaging type to the STOMP
// client-side command the relay should treat the message as, per §4.1
// step 3 (e.g. MESSAGE -> SEND).
func DeriveStompCommand(t Type) (string, bool) {
	switch t {
	case TypeConnect:
		return "CONNECT", true
	case TypeDisconnect:
		return "DISCONNECT", true
	case TypeSubscribe:
		return "SUBSCRIBE", true
	case TypeUnsubscribe:
		return "UNSUBSCRIBE", true
	case TypeMessage:
		return "SEND", true
	default:
		return "", false
	}
}
