// Package prom reports call metrics to Prometheus.
package prom

import (
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const subsystem = "call"

// Metrics implements port.CallMetrics.
type Metrics struct {
	started     *prometheus.CounterVec
	terminated  *prometheus.CounterVec
	transitions *prometheus.CounterVec
	discarded   *prometheus.CounterVec
	mediaErrors *prometheus.CounterVec
	active      prometheus.Gauge
	talkTime    prometheus.Histogram
}

// New registers the call metrics with reg under namespace.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		started: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions_started_total",
			Help:      "Call sessions created, by direction and kind.",
		}, []string{"direction", "kind"}),
		terminated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions_terminated_total",
			Help:      "Call sessions terminated, by reason.",
		}, []string{"reason", "category"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "state_transitions_total",
			Help:      "Session state transitions.",
		}, []string{"from", "to"}),
		discarded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "stale_events_total",
			Help:      "Signaling events discarded as stale.",
		}, []string{"event"}),
		mediaErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "media_errors_total",
			Help:      "Capture and playback operations that failed.",
		}, []string{"op"}),
		active: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions_live",
			Help:      "Sessions between creation and termination.",
		}),
		talkTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "talk_seconds",
			Help:      "Talk time of calls that reached active.",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
	}
}

func (m *Metrics) SessionStarted(dir domain.Direction, kind domain.Kind) {
	m.started.WithLabelValues(string(dir), string(kind)).Inc()
	m.active.Inc()
}

func (m *Metrics) SessionTerminated(reason domain.TerminationReason, talk time.Duration) {
	m.terminated.WithLabelValues(string(reason), string(reason.Category())).Inc()
	m.active.Dec()
	if talk > 0 {
		m.talkTime.Observe(talk.Seconds())
	}
}

func (m *Metrics) Transition(from, to domain.CallState) {
	m.transitions.WithLabelValues(string(from), string(to)).Inc()
}

func (m *Metrics) EventDiscarded(name domain.EventName) {
	m.discarded.WithLabelValues(string(name)).Inc()
}

func (m *Metrics) MediaError(op string) {
	m.mediaErrors.WithLabelValues(op).Inc()
}
