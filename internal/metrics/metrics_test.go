package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorders(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordScore("local")
	m.RecordScore("local")
	m.RecordFallback("unavailable")
	m.RecordStep("main", true)
	m.RecordStep("main", false)
	m.RecordStep("main", false)
	m.RecordDelivery("step", false)
	m.SetOutboxPending(3)

	if got := testutil.ToFloat64(m.ScoresTotal.WithLabelValues("local")); got != 2 {
		t.Errorf("scores = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.FallbacksTotal.WithLabelValues("unavailable")); got != 1 {
		t.Errorf("fallbacks = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.StepsTotal.WithLabelValues("main", "failed")); got != 2 {
		t.Errorf("failed steps = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.OutboxFailedTotal.WithLabelValues("step")); got != 1 {
		t.Errorf("outbox failed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.OutboxPending); got != 3 {
		t.Errorf("pending = %v, want 3", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordScore("remote")
	m.RecordFallback("x")
	m.RecordInvalid()
	m.ObserveGrader("http", 0.1)
	m.RecordStep("remedial", true)
	m.RecordStaleTimer()
	m.RecordInconsistency()
	m.RecordDelivery("attempt", true)
	m.SetOutboxPending(1)
	m.RecordMismatch()
	m.SetBreakerState(2)
}

func TestSeparateRegistries(t *testing.T) {
	// Two instances on their own registries must not collide.
	New(prometheus.NewRegistry())
	New(prometheus.NewRegistry())
}
