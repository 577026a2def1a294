// Package metrics owns the Prometheus collectors for the pipeline and the
// optional HTTP listener that exposes them.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imgpipe",
			Subsystem: "pipeline",
			Name:      "requests_total",
			Help:      "Pipeline requests by operation and outcome",
		},
		[]string{"op", "outcome"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "imgpipe",
			Subsystem: "pipeline",
			Name:      "request_duration_seconds",
			Help:      "Duration of pipeline requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	degradationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imgpipe",
			Subsystem: "pipeline",
			Name:      "degradations_total",
			Help:      "Fallback strategies taken, by stage and strategy",
		},
		[]string{"stage", "strategy"},
	)

	modelLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imgpipe",
			Subsystem: "models",
			Name:      "loads_total",
			Help:      "Model loads by scale and result",
		},
		[]string{"scale", "result"},
	)

	modelHandles = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "imgpipe",
			Subsystem: "models",
			Name:      "handles",
			Help:      "Model handles by state",
		},
		[]string{"state"},
	)

	failureCounter = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "imgpipe",
			Subsystem: "models",
			Name:      "failure_counter",
			Help:      "Current value of the process-wide model failure counter",
		},
	)

	breakerOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "imgpipe",
			Subsystem: "models",
			Name:      "breaker_open",
			Help:      "1 when the acceleration breaker is tripped",
		},
	)

	governorUsageMB = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "imgpipe",
			Subsystem: "governor",
			Name:      "memory_used_mb",
			Help:      "Last sampled accelerator memory usage in MB",
		},
	)

	governorEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "imgpipe",
			Subsystem: "governor",
			Name:      "evictions_total",
			Help:      "Model handles evicted under memory pressure",
		},
	)
)

func init() {
	prometheus.MustRegister(
		requestsTotal, requestDuration, degradationsTotal,
		modelLoadsTotal, modelHandles, failureCounter, breakerOpen,
		governorUsageMB, governorEvictions,
	)
}

// ObserveRequest records one finished pipeline request.
func ObserveRequest(op, outcome string, d time.Duration) {
	requestsTotal.WithLabelValues(op, outcome).Inc()
	requestDuration.WithLabelValues(op).Observe(d.Seconds())
}

// IncDegradation records a fallback strategy being taken.
func IncDegradation(stage, strategy string) {
	degradationsTotal.WithLabelValues(stage, strategy).Inc()
}

// IncModelLoad records a model load attempt.
func IncModelLoad(scale int, result string) {
	modelLoadsTotal.WithLabelValues(strconv.Itoa(scale), result).Inc()
}

// SetHandleCounts publishes the number of handles per state.
func SetHandleCounts(counts map[string]int) {
	modelHandles.Reset()
	for state, n := range counts {
		modelHandles.WithLabelValues(state).Set(float64(n))
	}
}

// SetBreaker publishes the failure counter and breaker state.
func SetBreaker(failures int, open bool) {
	failureCounter.Set(float64(failures))
	if open {
		breakerOpen.Set(1)
	} else {
		breakerOpen.Set(0)
	}
}

// SetMemoryUsage publishes the last governor sample.
func SetMemoryUsage(mb int) { governorUsageMB.Set(float64(mb)) }

// IncEviction records one governor eviction.
func IncEviction() { governorEvictions.Inc() }
