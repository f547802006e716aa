package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordTriggerSignal(t *testing.T) {
	RecordTriggerSignal("edge", true)
	RecordTriggerSignal("edge", false)
	RecordTriggerSignal("edge", false)

	if got := testutil.ToFloat64(triggerSignals.WithLabelValues("edge", "admitted")); got != 1 {
		t.Errorf("admitted = %v, want 1", got)
	}
	if got := testutil.ToFloat64(triggerSignals.WithLabelValues("edge", "debounced")); got != 2 {
		t.Errorf("debounced = %v, want 2", got)
	}
}

func TestRecordRun(t *testing.T) {
	before := testutil.CollectAndCount(runDuration)
	RecordRun(RunRejected, time.Second)
	RecordRun(RunRouted, 2500*time.Millisecond)

	if got := testutil.ToFloat64(runs.WithLabelValues(RunRejected)); got != 1 {
		t.Errorf("rejected = %v, want 1", got)
	}
	if got := testutil.ToFloat64(runs.WithLabelValues(RunRouted)); got != 1 {
		t.Errorf("routed = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(runDuration); got != before {
		t.Errorf("histogram series count changed: %d -> %d", before, got)
	}
}

func TestRecordFillLevel(t *testing.T) {
	RecordFillLevel("wet", 42.5)
	want := `
# HELP smartbin_bin_fill_percent Last measured fill level per bin.
# TYPE smartbin_bin_fill_percent gauge
smartbin_bin_fill_percent{bin="wet"} 42.5
`
	if err := testutil.CollectAndCompare(fillLevel, strings.NewReader(want), "smartbin_bin_fill_percent"); err != nil {
		t.Error(err)
	}
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)
	Register(reg) // second call is a no-op
	RecordMonitorError()
	RecordPublishError("status")
	RecordDetection("electronic", "dry")
	RecordRangingFailure("dry")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, name := range []string{
		"smartbin_monitor_errors_total",
		"smartbin_telemetry_publish_errors_total",
		`smartbin_detections_total{destination="dry",label="electronic"}`,
		`smartbin_ranging_failures_total{bin="dry"}`,
	} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}
