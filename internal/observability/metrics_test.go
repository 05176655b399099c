package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.Discovered.Add(19)
	m.Retry("status_429")
	m.Retry("status_429")
	m.Outcomes.WithLabelValues("no_images").Inc()

	if got := testutil.ToFloat64(m.Discovered); got != 19 {
		t.Fatalf("discovered = %v", got)
	}
	if got := testutil.ToFloat64(m.Retries.WithLabelValues("status_429")); got != 2 {
		t.Fatalf("retries = %v", got)
	}
	if n := testutil.CollectAndCount(m.Outcomes); n != 1 {
		t.Fatalf("outcome series = %d", n)
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	if len(mfs) == 0 {
		t.Fatalf("nothing registered")
	}
}

func TestNewMetricsWithoutRegistry(t *testing.T) {
	m := NewMetrics(nil)
	m.Inserted.Inc()
	if testutil.ToFloat64(m.Inserted) != 1 {
		t.Fatalf("unregistered counters must still count")
	}
}
