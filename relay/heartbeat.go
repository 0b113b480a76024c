package relay

import "github.com/mk6i/stomp-relay/stompframe"

// heartbeatIntervals resolves the negotiated STOMP heart-beat pair into
// the write interval this side must honor and the read inactivity limit
// beyond which the broker is declared dead, per §4.3. ours is what this
// side advertised on CONNECT; broker is what CONNECTED returned. A
// returned interval of 0 means "disabled".
func heartbeatIntervals(ours, broker stompframe.HeartBeat) (writeIntervalMs, readTimeoutMs int64) {
	if ours.SendMS > 0 && broker.ReceiveMS > 0 {
		writeIntervalMs = max64(ours.SendMS, broker.ReceiveMS)
	}
	if ours.ReceiveMS > 0 && broker.SendMS > 0 {
		// STOMP-recommended tolerance: the peer's heartbeats jitter under
		// load, so the read timeout is a generous multiple of the
		// negotiated maximum rather than the maximum itself.
		readTimeoutMs = max64(ours.ReceiveMS, broker.SendMS) * 3
	}
	return writeIntervalMs, readTimeoutMs
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
