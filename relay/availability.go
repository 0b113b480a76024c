package relay

import (
	"log/slog"
	"sync"
	"time"
)

// AvailabilityEvent is one transition of the broker's reachability as
// observed through the system session.
type AvailabilityEvent struct {
	Available bool
	At        time.Time
}

// AvailabilityPublisher fans out broker up/down transitions to any
// number of listeners (§4.5). It never deduplicates: two consecutive
// PublishAvailable calls both reach every listener, since a listener
// (the eventlog, say) may care about a renewed connection even if the
// broker never registered as unavailable in between.
type AvailabilityPublisher struct {
	mu        sync.RWMutex
	listeners []func(AvailabilityEvent)

	logger *slog.Logger
	clock  func() time.Time
}

// NewAvailabilityPublisher constructs a publisher with no listeners.
func NewAvailabilityPublisher(logger *slog.Logger) *AvailabilityPublisher {
	return &AvailabilityPublisher{logger: logger, clock: time.Now}
}

// Subscribe registers fn to be called, synchronously and in registration
// order, on every subsequent availability transition.
func (p *AvailabilityPublisher) Subscribe(fn func(AvailabilityEvent)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

func (p *AvailabilityPublisher) publish(available bool) {
	ev := AvailabilityEvent{Available: available, At: p.clock()}
	p.logger.Info("broker availability changed", "available", available)

	p.mu.RLock()
	listeners := make([]func(AvailabilityEvent), len(p.listeners))
	copy(listeners, p.listeners)
	p.mu.RUnlock()

	for _, fn := range listeners {
		fn(ev)
	}
}

// PublishAvailable announces the broker is reachable and STOMP-connected.
func (p *AvailabilityPublisher) PublishAvailable() { p.publish(true) }

// PublishUnavailable announces the broker connection was lost.
func (p *AvailabilityPublisher) PublishUnavailable() { p.publish(false) }
