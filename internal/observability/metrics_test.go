package observability

import (
	"strings"
	"testing"
)

func TestRenderPrometheus(t *testing.T) {
	r := NewRegistry()
	r.IncCounter("pickup_claims_total", map[string]string{"result": "ok"}, 1)
	r.IncCounter("pickup_claims_total", map[string]string{"result": "conflict"}, 15)
	r.SetGauge("pickup_candidates_returned", map[string]string{"mode": "nearest"}, 4)

	out := r.RenderPrometheus()
	if !strings.Contains(out, `pickup_claims_total{result="conflict"} 15`) {
		t.Fatalf("missing conflict counter in output: %s", out)
	}
	if !strings.Contains(out, `pickup_candidates_returned{mode="nearest"} 4`) {
		t.Fatalf("missing candidates gauge in output: %s", out)
	}
	if strings.Count(out, "# TYPE pickup_claims_total counter") != 1 {
		t.Fatalf("expected one TYPE line per family: %s", out)
	}
	if !strings.Contains(out, "# TYPE pickup_candidates_returned gauge") {
		t.Fatalf("missing gauge TYPE line: %s", out)
	}
}

func TestCounterValueAndObserveSeconds(t *testing.T) {
	r := NewRegistry()
	labels := map[string]string{"to": "completed", "result": "ok"}
	r.IncCounter("pickup_transitions_total", labels, 1)
	r.IncCounter("pickup_transitions_total", map[string]string{"result": "ok", "to": "completed"}, 2)
	if got := r.CounterValue("pickup_transitions_total", labels); got != 3 {
		t.Fatalf("expected label order not to matter, got %v", got)
	}
	if got := r.CounterValue("pickup_transitions_total", map[string]string{"to": "cancelled"}); got != 0 {
		t.Fatalf("expected unknown series to read 0, got %v", got)
	}

	r.ObserveSeconds("route_advisory", nil, 0.25)
	r.ObserveSeconds("route_advisory", nil, 0.5)
	if got := r.CounterValue("route_advisory_seconds_count", nil); got != 2 {
		t.Fatalf("expected 2 samples, got %v", got)
	}
	if got := r.CounterValue("route_advisory_seconds_sum", nil); got != 0.75 {
		t.Fatalf("expected sum 0.75, got %v", got)
	}
}

func TestSanitizeMetricName(t *testing.T) {
	if got := sanitizeMetricName("route-advisory.total"); got != "route_advisory_total" {
		t.Fatalf("unexpected sanitized name %q", got)
	}
	if got := sanitizeMetricName("  "); got != "collect_metric" {
		t.Fatalf("unexpected fallback name %q", got)
	}
}
