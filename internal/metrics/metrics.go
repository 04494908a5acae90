// Package metrics provides Prometheus metrics for job outcomes, queue
// depth, and provider-chain outcomes (spec §4.8's structured-logging
// requirement, extended to a metrics surface).
//
// No other package calls RecordTaskRun, RecordProviderOutcome,
// RecordGenerationRun or SetQueueDepth, or sets StreamListeners, so the
// labelled families stay empty and StreamListeners stays 0 in Snapshot.
package metrics

import (
	"fmt"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

var (
	// TaskRunsTotal counts every scheduler task invocation by task name
	// and outcome (ok/fail/skipped).
	TaskRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "radiod_task_runs_total",
		Help: "Total number of scheduler task runs, by task and status.",
	}, []string{"task", "status"})

	// TaskDurationSeconds observes how long each task run took.
	TaskDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "radiod_task_duration_seconds",
		Help:    "Scheduler task run duration in seconds, by task.",
		Buckets: prometheus.DefBuckets,
	}, []string{"task"})

	// QueueDepth tracks the engine's reported queue length by queue name.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "radiod_queue_depth",
		Help: "Current engine queue length, by queue.",
	}, []string{"queue"})

	// ProviderOutcomesTotal counts provider-chain invocations by capability
	// (script/voice), provider name, and outcome.
	ProviderOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "radiod_provider_outcomes_total",
		Help: "Total provider-chain invocations, by capability, provider, and outcome.",
	}, []string{"capability", "provider", "outcome"})

	// GenerationRunsTotal counts Content Generator runs by job and status.
	GenerationRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "radiod_generation_runs_total",
		Help: "Total Content Generator runs, by job and status.",
	}, []string{"job", "status"})

	// StreamListeners is a gauge for the streaming server's listener
	// count; nothing in the daemon sets it.
	StreamListeners = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "radiod_stream_listeners",
		Help: "Current listener count as reported by the streaming server.",
	})
)

// RecordTaskRun records one task run's outcome and duration.
func RecordTaskRun(task, status string, seconds float64) {
	TaskRunsTotal.WithLabelValues(task, status).Inc()
	TaskDurationSeconds.WithLabelValues(task).Observe(seconds)
}

// RecordProviderOutcome records one provider-chain attempt's outcome.
func RecordProviderOutcome(capability, provider, outcome string) {
	ProviderOutcomesTotal.WithLabelValues(capability, provider, outcome).Inc()
}

// RecordGenerationRun records one Content Generator run's outcome.
func RecordGenerationRun(job, status string) {
	GenerationRunsTotal.WithLabelValues(job, status).Inc()
}

// SetQueueDepth updates the gauge for one engine queue.
func SetQueueDepth(queue string, depth int) {
	QueueDepth.WithLabelValues(queue).Set(float64(depth))
}

// Snapshot flattens every registered counter/gauge family into a flat
// map keyed by "metric_name{label=value,...}", for the periodic
// state/metrics.json export (spec §6 names the path; no task in spec §4
// assigns it an owner, so this is the supplemental MetricsExport
// task's source of truth).
func Snapshot() (map[string]float64, error) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return nil, fmt.Errorf("metrics: gather: %w", err)
	}

	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			out[metricKey(mf.GetName(), m)] = metricValue(m)
		}
	}
	return out, nil
}

func metricKey(name string, m *dto.Metric) string {
	labels := m.GetLabel()
	if len(labels) == 0 {
		return name
	}
	pairs := make([]string, 0, len(labels))
	for _, l := range labels {
		pairs = append(pairs, fmt.Sprintf("%s=%s", l.GetName(), l.GetValue()))
	}
	sort.Strings(pairs)
	return fmt.Sprintf("%s{%s}", name, strings.Join(pairs, ","))
}

func metricValue(m *dto.Metric) float64 {
	switch {
	case m.GetCounter() != nil:
		return m.GetCounter().GetValue()
	case m.GetGauge() != nil:
		return m.GetGauge().GetValue()
	case m.GetHistogram() != nil:
		return m.GetHistogram().GetSampleSum()
	default:
		return 0
	}
}
