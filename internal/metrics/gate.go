// Package metrics provides Prometheus metrics for the presence gate.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"

	"facegate/internal/domain"
	"facegate/internal/ports"
)

// No session_id labels: one series per outcome keeps cardinality fixed.

// Recorder implements ports.Metrics on a Prometheus registerer.
type Recorder struct {
	ticks     *prometheus.CounterVec
	roundTrip prometheus.Histogram
	sessions  *prometheus.CounterVec
	blocked   *prometheus.CounterVec
}

// NewRecorder registers the gate metrics on reg. A nil reg uses the default registerer.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Recorder{
		ticks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "facegate_ticks_total",
			Help: "Total number of scan ticks, by outcome.",
		}, []string{"outcome"}),

		roundTrip: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "facegate_round_trip_seconds",
			Help:    "Capture plus detection latency per tick.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),

		sessions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "facegate_sessions_total",
			Help: "Total number of finished sessions, by result (completed/cancelled/dismissed).",
		}, []string{"result"}),

		blocked: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "facegate_blocked_total",
			Help: "Total number of sessions that stopped scanning, by error code.",
		}, []string{"code"}),
	}
}

func (r *Recorder) Tick(outcome ports.TickOutcome) {
	r.ticks.WithLabelValues(string(outcome)).Inc()
}

func (r *Recorder) RoundTrip(d time.Duration) {
	r.roundTrip.Observe(d.Seconds())
}

func (r *Recorder) SessionFinished(reason domain.PhaseReason) {
	r.sessions.WithLabelValues(sessionResult(reason)).Inc()
}

func (r *Recorder) Blocked(code domain.ErrorCode) {
	r.blocked.WithLabelValues(string(code)).Inc()
}

// TickTotal returns the current tick count for outcome.
func (r *Recorder) TickTotal(outcome ports.TickOutcome) float64 {
	var m dto.Metric
	if err := r.ticks.WithLabelValues(string(outcome)).Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

func sessionResult(reason domain.PhaseReason) string {
	switch reason {
	case domain.PhaseReasonConfirmed:
		return "completed"
	case domain.PhaseReasonUserCancelled:
		return "cancelled"
	case domain.PhaseReasonDismissed:
		return "dismissed"
	default:
		return "unknown"
	}
}
