package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestOnReqStartIncrementsPerHost(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)

	r.OnReqStart("a.example.com")
	r.OnReqStart("a.example.com")
	r.OnReqStart("b.example.com")

	if got := testutil.ToFloat64(r.requestsStarted.WithLabelValues("a.example.com")); got != 2 {
		t.Fatalf("a.example.com count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.requestsStarted.WithLabelValues("b.example.com")); got != 1 {
		t.Fatalf("b.example.com count = %v, want 1", got)
	}
}

func TestIncCcHitIncrementsPerRule(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)

	r.IncCcHit("rule-1")
	r.IncCcHit("rule-1")
	r.IncCcHit("rule-2")

	if got := testutil.ToFloat64(r.ccHits.WithLabelValues("rule-1")); got != 2 {
		t.Fatalf("rule-1 count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.ccHits.WithLabelValues("rule-2")); got != 1 {
		t.Fatalf("rule-2 count = %v, want 1", got)
	}
}

func TestOnReqEndObservesDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)

	r.OnReqEnd("a.example.com", 0.25)

	if got := testutil.CollectAndCount(r.requestDurations); got != 1 {
		t.Fatalf("collected series = %d, want 1", got)
	}
}

func TestNewRegistryGathersNoFamiliesBeforeAnyCall(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewRegistry(reg)

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	if len(families) != 0 {
		t.Fatalf("expected no samples before any calls, got %d families", len(families))
	}
}
