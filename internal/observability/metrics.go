package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for HTTP traffic and
// workflow execution.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPInflight        prometheus.Gauge

	TransitionsTotal      *prometheus.CounterVec
	TransitionDuration    *prometheus.HistogramVec
	PropagationDepth      prometheus.Histogram
	PropagationLoopsTotal prometheus.Counter
	InitializationsTotal  *prometheus.CounterVec
	ActivationsTotal      *prometheus.CounterVec
}

// NewMetrics builds a Metrics with its own registry, pre-registered with
// process and Go runtime collectors.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),

		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		HTTPInflight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_inflight",
			Help:      "HTTP requests currently being served.",
		}),

		TransitionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_transitions_total",
			Help:      "Workflow transitions executed by workflow, kind and outcome.",
		}, []string{"workflow", "kind", "outcome"}),

		TransitionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_transition_duration_seconds",
			Help:      "Transition execution latency by workflow.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"workflow"}),

		PropagationDepth: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_propagation_depth",
			Help:      "Number of automatic transitions executed per propagation.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		}),

		PropagationLoopsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_propagation_loops_total",
			Help:      "Propagations halted by the iteration cap.",
		}),

		InitializationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_initializations_total",
			Help:      "Applications placed on a workflow, by workflow.",
		}, []string{"workflow"}),

		ActivationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_activations_total",
			Help:      "Workflow activations and deactivations by outcome.",
		}, []string{"action", "outcome"}),
	}
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
