// Package metrics exposes Prometheus counters and gauges for the relay:
// active sessions, frames forwarded per direction, heartbeat timeouts,
// and broker availability flips. All metrics use the relay_ prefix.
// Every method is nil-receiver safe so the relay can run with metrics
// disabled by passing around a nil *Metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics tracks relay-specific Prometheus metrics.
type Metrics struct {
	SessionsActive prometheus.Gauge

	FramesForwardedTotal *prometheus.CounterVec

	HeartbeatTimeoutsTotal prometheus.Counter

	BrokerAvailableTotal   prometheus.Counter
	BrokerUnavailableTotal prometheus.Counter
}

// NewMetrics creates relay metrics registered against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_sessions_active",
			Help: "Current number of registered session handlers, including the system session.",
		}),
		FramesForwardedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_frames_forwarded_total",
				Help: "Total STOMP frames forwarded by direction.",
			},
			[]string{"direction"}, // "to_broker", "to_application"
		),
		HeartbeatTimeoutsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_heartbeat_timeouts_total",
			Help: "Total times the system session's read-inactivity watchdog fired.",
		}),
		BrokerAvailableTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_broker_available_total",
			Help: "Total times the broker transitioned to available.",
		}),
		BrokerUnavailableTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_broker_unavailable_total",
			Help: "Total times the broker transitioned to unavailable.",
		}),
	}

	reg.MustRegister(
		m.SessionsActive,
		m.FramesForwardedTotal,
		m.HeartbeatTimeoutsTotal,
		m.BrokerAvailableTotal,
		m.BrokerUnavailableTotal,
	)

	return m
}

func (m *Metrics) SetSessionsActive(n int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(n))
}

func (m *Metrics) RecordFrameForwarded(direction string) {
	if m == nil {
		return
	}
	m.FramesForwardedTotal.WithLabelValues(direction).Inc()
}

func (m *Metrics) RecordHeartbeatTimeout() {
	if m == nil {
		return
	}
	m.HeartbeatTimeoutsTotal.Inc()
}

func (m *Metrics) RecordBrokerAvailable() {
	if m == nil {
		return
	}
	m.BrokerAvailableTotal.Inc()
}

func (m *Metrics) RecordBrokerUnavailable() {
	if m == nil {
		return
	}
	m.BrokerUnavailableTotal.Inc()
}

// NullMetrics returns nil, which every Metrics method treats as a no-op.
func NullMetrics() *Metrics { return nil }
