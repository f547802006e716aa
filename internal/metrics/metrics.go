// Package metrics holds the Prometheus collectors of the sorting loop.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "smartbin"

// Run results.
const (
	RunRouted   = "routed"
	RunSkipped  = "skipped"
	RunAborted  = "aborted"
	RunFailed   = "failed"
	RunRejected = "rejected"
)

var (
	triggerSignals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trigger_signals_total",
			Help:      "Raw trigger signals by source and debounce outcome.",
		},
		[]string{"source", "result"},
	)
	runs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Processing runs by result.",
		},
		[]string{"result"},
	)
	runDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of admitted processing runs, dwell included.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10},
		},
	)
	detections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_total",
			Help:      "Summarized detections by detected label and routed destination.",
		},
		[]string{"label", "destination"},
	)
	fillLevel = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bin_fill_percent",
			Help:      "Last measured fill level per bin.",
		},
		[]string{"bin"},
	)
	rangingFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ranging_failures_total",
			Help:      "Measurements with no valid sample, per bin.",
		},
		[]string{"bin"},
	)
	monitorErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitor_errors_total",
			Help:      "Bin monitor iterations that failed and backed off.",
		},
	)
	publishErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_publish_errors_total",
			Help:      "Failed telemetry publishes by message kind.",
		},
		[]string{"kind"},
	)
)

var registerMetrics sync.Once

// Register registers every collector with reg once. Later calls are no-ops.
func Register(reg prometheus.Registerer) {
	registerMetrics.Do(func() {
		reg.MustRegister(
			triggerSignals,
			runs,
			runDuration,
			detections,
			fillLevel,
			rangingFailures,
			monitorErrors,
			publishErrors,
		)
	})
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// RecordTriggerSignal counts a raw trigger signal and whether the debouncer
// admitted it.
func RecordTriggerSignal(source string, admitted bool) {
	result := "debounced"
	if admitted {
		result = "admitted"
	}
	triggerSignals.WithLabelValues(source, result).Inc()
}

// RecordRun counts a finished or rejected run. d is ignored for rejected runs.
func RecordRun(result string, d time.Duration) {
	runs.WithLabelValues(result).Inc()
	if result != RunRejected {
		runDuration.Observe(d.Seconds())
	}
}

// RecordDetection counts a summarized detection.
func RecordDetection(label, destination string) {
	detections.WithLabelValues(label, destination).Inc()
}

// RecordFillLevel sets the fill gauge of a bin.
func RecordFillLevel(bin string, percent float64) {
	fillLevel.WithLabelValues(bin).Set(percent)
}

// RecordRangingFailure counts a failed measurement of a bin.
func RecordRangingFailure(bin string) {
	rangingFailures.WithLabelValues(bin).Inc()
}

// RecordMonitorError counts a failed monitor iteration.
func RecordMonitorError() {
	monitorErrors.Inc()
}

// RecordPublishError counts a failed telemetry publish.
func RecordPublishError(kind string) {
	publishErrors.WithLabelValues(kind).Inc()
}
