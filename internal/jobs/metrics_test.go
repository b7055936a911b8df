package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	_ = m.Track("amortization:recalculate").End(nil)
	err := m.Track("amortization:recalculate").End(errors.New("boom"))
	if err == nil {
		t.Fatal("End must return the supplied error")
	}

	if got := testutil.ToFloat64(m.runs.WithLabelValues("amortization:recalculate", "success")); got != 1 {
		t.Fatalf("success runs = %v", got)
	}
	if got := testutil.ToFloat64(m.failures.WithLabelValues("amortization:recalculate")); got != 1 {
		t.Fatalf("failures = %v", got)
	}
}

func TestAddImbalance(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddImbalance(4, 2024)
	m.AddImbalance(4, 2024)
	if got := testutil.ToFloat64(m.imbalances.WithLabelValues("4", "2024")); got != 2 {
		t.Fatalf("imbalances = %v", got)
	}

	var nilMetrics *Metrics
	nilMetrics.AddImbalance(1, 2024)
	if err := nilMetrics.Track("x").End(nil); err != nil {
		t.Fatal(err)
	}
}
