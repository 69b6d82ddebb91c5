// Package metrics owns the Prometheus collectors of a reportgen process.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "reportgen"

// Collectors records tool, vision, node and run activity. It satisfies the
// observer interfaces of the tools, vision, graph and hitl packages.
type Collectors struct {
	registry *prometheus.Registry

	toolCalls      *prometheus.CounterVec
	toolSeconds    *prometheus.HistogramVec
	visionAttempts *prometheus.CounterVec
	visionSeconds  prometheus.Histogram
	runs           *prometheus.CounterVec
	nodeSteps      *prometheus.CounterVec
}

// New creates the collectors on a private registry that also carries the
// Go runtime and process collectors.
func New() *Collectors {
	c := &Collectors{
		registry: prometheus.NewRegistry(),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool executions by tool and outcome.",
		}, []string{"tool", "outcome"}),
		toolSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_seconds",
			Help:      "Tool execution latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		visionAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vision_attempts_total",
			Help:      "Vision model attempts by outcome.",
		}, []string{"outcome"}),
		visionSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "vision_call_seconds",
			Help:      "Latency of single vision model attempts.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40},
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Run segments by how they ended.",
		}, []string{"outcome"}),
		nodeSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_steps_total",
			Help:      "Graph node executions.",
		}, []string{"node"}),
	}
	c.registry.MustRegister(
		c.toolCalls, c.toolSeconds,
		c.visionAttempts, c.visionSeconds,
		c.runs, c.nodeSteps,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// ObserveToolCall records one tool execution.
func (c *Collectors) ObserveToolCall(tool, outcome string, d time.Duration) {
	c.toolCalls.WithLabelValues(tool, outcome).Inc()
	c.toolSeconds.WithLabelValues(tool).Observe(d.Seconds())
}

// ObserveVisionAttempt records one vision attempt.
func (c *Collectors) ObserveVisionAttempt(outcome string, d time.Duration) {
	c.visionAttempts.WithLabelValues(outcome).Inc()
	c.visionSeconds.Observe(d.Seconds())
}

// ObserveNodeStep records one node execution.
func (c *Collectors) ObserveNodeStep(node string) {
	c.nodeSteps.WithLabelValues(node).Inc()
}

// ObserveRun records how a run segment ended.
func (c *Collectors) ObserveRun(outcome string) {
	c.runs.WithLabelValues(outcome).Inc()
}

// Registry returns the underlying registry.
func (c *Collectors) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
