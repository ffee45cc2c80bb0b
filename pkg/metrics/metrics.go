// Package metrics provides Prometheus metrics for the execution engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "deskflow"

// Execution kinds.
const (
	KindWorkflow = "workflow"
	KindRule     = "rule"
)

type Metrics struct {
	gatherer prometheus.Gatherer

	// ExecutionsTotal counts finished executions by kind and final status.
	ExecutionsTotal *prometheus.CounterVec
	// ExecutionsActive tracks executions currently traversing or waiting.
	ExecutionsActive prometheus.Gauge
	ExecutionDuration *prometheus.HistogramVec
	// ExecutionsSuspended counts delay suspensions handed to the delay queue.
	ExecutionsSuspended prometheus.Counter

	ActionsTotal   *prometheus.CounterVec
	ActionDuration *prometheus.HistogramVec

	SchedulingPasses prometheus.Counter
	RuleFirings      prometheus.Counter

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New registers the engine metrics on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return NewWithRegistry(registry, registry)
}

func NewWithRegistry(registerer prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(registerer)

	return &Metrics{
		gatherer: gatherer,
		ExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "executions_total",
				Help:      "Total number of executions by kind and final status",
			},
			[]string{"kind", "status"},
		),
		ExecutionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "executions_active",
				Help:      "Number of executions currently running",
			},
		),
		ExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "execution_duration_seconds",
				Help:      "Execution duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120, 600, 3600},
			},
			[]string{"kind", "status"},
		),
		ExecutionsSuspended: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "executions_suspended_total",
				Help:      "Total number of executions suspended on a delay",
			},
		),
		ActionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "actions_total",
				Help:      "Total number of dispatched actions by type and status",
			},
			[]string{"action_type", "status"},
		),
		ActionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "action_duration_seconds",
				Help:      "Action duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"action_type"},
		),
		SchedulingPasses: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "passes_total",
				Help:      "Total number of scheduling passes",
			},
		),
		RuleFirings: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "rule_firings_total",
				Help:      "Total number of rule firings",
			},
		),
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

func (m *Metrics) ExecutionStarted() {
	m.ExecutionsActive.Inc()
}

func (m *Metrics) ExecutionFinished(kind, status string, elapsed time.Duration) {
	m.ExecutionsActive.Dec()
	m.ExecutionsTotal.WithLabelValues(kind, status).Inc()
	m.ExecutionDuration.WithLabelValues(kind, status).Observe(elapsed.Seconds())
}

func (m *Metrics) ActionFinished(actionType, status string, elapsed time.Duration) {
	m.ActionsTotal.WithLabelValues(actionType, status).Inc()
	m.ActionDuration.WithLabelValues(actionType).Observe(elapsed.Seconds())
}

func (m *Metrics) SchedulingPass(fired int) {
	m.SchedulingPasses.Inc()
	m.RuleFirings.Add(float64(fired))
}

// ObserveHTTP records one request. path is the route pattern, not the raw URL.
func (m *Metrics) ObserveHTTP(method, path string, status int, elapsed time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusClass(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
