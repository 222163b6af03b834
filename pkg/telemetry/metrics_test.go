package telemetry

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	cfg := DefaultConfig().Metrics
	m, err := NewMetrics(cfg)
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	return m
}

// sample sums every series of family name whose labels include want.
func sample(t *testing.T, m *Metrics, name string, want map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}

	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			matched := true
			for k, v := range want {
				if labels[k] != v {
					matched = false
				}
			}
			if !matched {
				continue
			}
			switch {
			case metric.GetCounter() != nil:
				total += metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				total += metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				total += float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}
	return total
}

func TestMetrics_NilAndDisabledAreNoops(t *testing.T) {
	var nilMetrics *Metrics
	disabled, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, m := range []*Metrics{nilMetrics, disabled} {
		m.OperationStarted("start")
		m.RecordOperation("start", "succeeded", time.Second)
		m.RecordRetry("describe")
		m.RecordLeaseAcquisition("start", "acquired")
		m.RecordLeasesSwept(3)
		m.RecordRemoteCall("ec2", "describe", time.Millisecond)
		m.RecordRemoteError("ec2", "describe", "REMOTE_UNAVAILABLE")
		m.SetResourceState("i-1", "running")
		m.SetAppReady("i-1", true)
		m.RecordError("transient", "REMOTE_UNAVAILABLE")

		if m.Registry() != nil {
			t.Error("expected no registry")
		}
		if m.StartMetricsServer() != nil {
			t.Error("expected no metrics server")
		}
	}
}

func TestMetrics_Operations(t *testing.T) {
	m := newTestMetrics(t)

	m.OperationStarted("start")
	if got := sample(t, m, "hostgate_active_operations", map[string]string{"operation": "start"}); got != 1 {
		t.Errorf("expected 1 active operation, got %v", got)
	}

	m.RecordOperation("start", "succeeded", 2*time.Second)
	if got := sample(t, m, "hostgate_active_operations", map[string]string{"operation": "start"}); got != 0 {
		t.Errorf("expected 0 active operations, got %v", got)
	}
	if got := sample(t, m, "hostgate_operations_total", map[string]string{"operation": "start", "outcome": "succeeded"}); got != 1 {
		t.Errorf("expected 1 succeeded operation, got %v", got)
	}
	if got := sample(t, m, "hostgate_operation_duration_seconds", nil); got != 1 {
		t.Errorf("expected 1 duration observation, got %v", got)
	}
}

func TestMetrics_Leases(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordLeaseAcquisition("stop", "acquired")
	m.RecordLeaseAcquisition("stop", "held")
	m.RecordLeaseAcquisition("stop", "held")
	m.RecordLeasesSwept(2)
	m.RecordLeasesSwept(0)

	if got := sample(t, m, "hostgate_lease_acquisitions_total", map[string]string{"result": "held"}); got != 2 {
		t.Errorf("expected 2 held results, got %v", got)
	}
	if got := sample(t, m, "hostgate_leases_swept_total", nil); got != 2 {
		t.Errorf("expected 2 swept leases, got %v", got)
	}
}

func TestMetrics_ResourceStateKeepsOneSeries(t *testing.T) {
	m := newTestMetrics(t)

	m.SetResourceState("i-1", "stopped")
	m.SetResourceState("i-1", "pending")
	m.SetResourceState("i-1", "running")

	if got := sample(t, m, "hostgate_resource_state", map[string]string{"resource_id": "i-1"}); got != 1 {
		t.Errorf("expected exactly one current state, got %v", got)
	}
	if got := sample(t, m, "hostgate_resource_state", map[string]string{"state": "running"}); got != 1 {
		t.Errorf("expected running to be current, got %v", got)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordRemoteCall("ec2", "start", 150*time.Millisecond)
	m.RecordRemoteError("ec2", "start", "RATE_LIMITED")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		"hostgate_remote_calls_total",
		"hostgate_remote_errors_total",
		`code="RATE_LIMITED"`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("expected %q in metrics output", want)
		}
	}
}
