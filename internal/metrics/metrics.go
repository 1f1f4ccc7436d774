// Package metrics exposes prometheus collectors for grading runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "grader"

// Metrics groups the collectors updated by the process runner, the grader
// and the manager. A nil *Metrics is valid and records nothing.
type Metrics struct {
	tasks           *prometheus.CounterVec
	processes       *prometheus.CounterVec
	processDuration prometheus.Histogram
	submissions     *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_results_total",
			Help:      "Task results recorded, by result kind and status.",
		}, []string{"kind", "status"}),
		processes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_runs_total",
			Help:      "External processes spawned, by outcome.",
		}, []string{"outcome"}),
		processDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "process_duration_seconds",
			Help:      "Wall time of external processes that exited on their own.",
			Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Submissions graded, by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.tasks, m.processes, m.processDuration, m.submissions)
	}
	return m
}

// NewRegistry returns a registry preloaded with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the metrics gathered by g in the text exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// ObserveTask counts one recorded task result.
func (m *Metrics) ObserveTask(kind, status string) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(kind, status).Inc()
}

// ObserveProcess counts one process run. elapsed is only recorded for
// processes that exited on their own.
func (m *Metrics) ObserveProcess(outcome string, elapsed *time.Duration) {
	if m == nil {
		return
	}
	m.processes.WithLabelValues(outcome).Inc()
	if elapsed != nil {
		m.processDuration.Observe(elapsed.Seconds())
	}
}

// ObserveSubmission counts one graded submission.
func (m *Metrics) ObserveSubmission(outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(outcome).Inc()
}
