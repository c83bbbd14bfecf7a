// Package metrics holds the Prometheus collectors for the progression
// engine, the scoring policy and the gateway outbox.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups every collector. A nil *Metrics is valid and records
// nothing, so components can be built without a registry.
type Metrics struct {
	// Scoring
	ScoresTotal    *prometheus.CounterVec
	FallbacksTotal *prometheus.CounterVec
	InvalidTotal   prometheus.Counter
	GraderLatency  *prometheus.HistogramVec

	// Progression
	StepsTotal            *prometheus.CounterVec
	StaleTimersTotal      prometheus.Counter
	RouterInconsistencies prometheus.Counter

	// Gateway
	OutboxDeliveredTotal *prometheus.CounterVec
	OutboxFailedTotal    *prometheus.CounterVec
	OutboxPending        prometheus.Gauge
	CrossCheckMismatches prometheus.Counter
	BreakerState         prometheus.Gauge
}

// New creates the collectors and registers them with reg. Pass
// prometheus.DefaultRegisterer for the process-wide registry or a fresh
// prometheus.NewRegistry() in tests.
//
// Metrics:
//   - cefrquest_scores_total{scorer} - tasks scored, by scorer
//   - cefrquest_score_fallbacks_total{reason} - remote failures recovered locally
//   - cefrquest_invalid_submissions_total - submissions scored zero as invalid
//   - cefrquest_grader_latency_seconds{backend} - remote grader round trips
//   - cefrquest_steps_total{track,outcome} - routed step results
//   - cefrquest_stale_timers_total - timer callbacks ignored for an old visit
//   - cefrquest_router_inconsistencies_total - conflicting routing decisions
//   - cefrquest_outbox_delivered_total{kind} / cefrquest_outbox_failed_total{kind}
//   - cefrquest_outbox_pending - undelivered outbox entries
//   - cefrquest_crosscheck_mismatches_total - server pass/fail disagreed
//   - cefrquest_gateway_breaker_state - 0 closed, 1 half-open, 2 open
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ScoresTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cefrquest_scores_total",
			Help: "Total number of tasks scored",
		}, []string{"scorer"}),
		FallbacksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cefrquest_score_fallbacks_total",
			Help: "Remote scoring failures recovered by the local scorer",
		}, []string{"reason"}),
		InvalidTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "cefrquest_invalid_submissions_total",
			Help: "Submissions rejected as invalid and scored zero",
		}),
		GraderLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cefrquest_grader_latency_seconds",
			Help:    "Latency of remote grader calls",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
		}, []string{"backend"}),

		StepsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cefrquest_steps_total",
			Help: "Routed step results",
		}, []string{"track", "outcome"}),
		StaleTimersTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "cefrquest_stale_timers_total",
			Help: "Timer callbacks ignored because their visit had ended",
		}),
		RouterInconsistencies: f.NewCounter(prometheus.CounterOpts{
			Name: "cefrquest_router_inconsistencies_total",
			Help: "Routing decisions that differed for the same input",
		}),

		OutboxDeliveredTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cefrquest_outbox_delivered_total",
			Help: "Outbox entries delivered to the gateway",
		}, []string{"kind"}),
		OutboxFailedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cefrquest_outbox_failed_total",
			Help: "Outbox delivery attempts that failed",
		}, []string{"kind"}),
		OutboxPending: f.NewGauge(prometheus.GaugeOpts{
			Name: "cefrquest_outbox_pending",
			Help: "Outbox entries waiting for delivery",
		}),
		CrossCheckMismatches: f.NewCounter(prometheus.CounterOpts{
			Name: "cefrquest_crosscheck_mismatches_total",
			Help: "Step submissions where the server disagreed with the local decision",
		}),
		BreakerState: f.NewGauge(prometheus.GaugeOpts{
			Name: "cefrquest_gateway_breaker_state",
			Help: "Gateway circuit breaker state (0 closed, 1 half-open, 2 open)",
		}),
	}
}

// RecordScore counts a scored task.
func (m *Metrics) RecordScore(scorer string) {
	if m == nil {
		return
	}
	m.ScoresTotal.WithLabelValues(scorer).Inc()
}

// RecordFallback counts a remote failure recovered locally.
func (m *Metrics) RecordFallback(reason string) {
	if m == nil {
		return
	}
	m.FallbacksTotal.WithLabelValues(reason).Inc()
}

// RecordInvalid counts an invalid submission.
func (m *Metrics) RecordInvalid() {
	if m == nil {
		return
	}
	m.InvalidTotal.Inc()
}

// ObserveGrader records one grader round trip.
func (m *Metrics) ObserveGrader(backend string, seconds float64) {
	if m == nil {
		return
	}
	m.GraderLatency.WithLabelValues(backend).Observe(seconds)
}

// RecordStep counts a routed step.
func (m *Metrics) RecordStep(track string, passed bool) {
	if m == nil {
		return
	}
	outcome := "failed"
	if passed {
		outcome = "passed"
	}
	m.StepsTotal.WithLabelValues(track, outcome).Inc()
}

// RecordStaleTimer counts an ignored timer callback.
func (m *Metrics) RecordStaleTimer() {
	if m == nil {
		return
	}
	m.StaleTimersTotal.Inc()
}

// RecordInconsistency counts a conflicting routing decision.
func (m *Metrics) RecordInconsistency() {
	if m == nil {
		return
	}
	m.RouterInconsistencies.Inc()
}

// RecordDelivery counts an outbox delivery outcome.
func (m *Metrics) RecordDelivery(kind string, ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.OutboxDeliveredTotal.WithLabelValues(kind).Inc()
		return
	}
	m.OutboxFailedTotal.WithLabelValues(kind).Inc()
}

// SetOutboxPending updates the undelivered gauge.
func (m *Metrics) SetOutboxPending(n int) {
	if m == nil {
		return
	}
	m.OutboxPending.Set(float64(n))
}

// RecordMismatch counts a server cross-check disagreement.
func (m *Metrics) RecordMismatch() {
	if m == nil {
		return
	}
	m.CrossCheckMismatches.Inc()
}

// SetBreakerState records the gateway breaker state.
func (m *Metrics) SetBreakerState(state int) {
	if m == nil {
		return
	}
	m.BreakerState.Set(float64(state))
}
