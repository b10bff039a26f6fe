// Package metrics provides the Prometheus metrics collector for the
// workflow engine and the HTTP API.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/auditflow/auditflow/types"
)

// Collector records workflow, agent, HITL, and HTTP metrics.
type Collector struct {
	workflowRunsTotal    *prometheus.CounterVec
	workflowDuration     prometheus.Histogram
	stageDuration        *prometheus.HistogramVec
	agentExecutionsTotal *prometheus.CounterVec
	agentDuration        *prometheus.HistogramVec
	hitlRoundsTotal      *prometheus.CounterVec
	queriesRefusedTotal  prometheus.Counter

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewCollector registers all metrics with reg (the default registerer
// when nil) under the given namespace.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		workflowRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflow_runs_total",
				Help:      "Total number of finished workflow runs by decision",
			},
			[]string{"decision"},
		),
		workflowDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "workflow_duration_seconds",
				Help:      "End-to-end workflow run duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
			},
		),
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Workflow stage duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"stage"},
		),
		agentExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "agent_executions_total",
				Help:      "Total number of agent invocations by agent and status",
			},
			[]string{"agent", "status"},
		),
		agentDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "agent_execution_duration_seconds",
				Help:      "Agent invocation duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
			},
			[]string{"agent"},
		),
		hitlRoundsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "hitl_rounds_total",
				Help:      "Total number of HITL rounds by outcome",
			},
			[]string{"status"},
		),
		queriesRefusedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queries_refused_total",
				Help:      "Total number of queries rejected by the pre-screen",
			},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// ObserveWorkflow implements orchestrator.Metrics.
func (c *Collector) ObserveWorkflow(decision string, duration time.Duration) {
	c.workflowRunsTotal.WithLabelValues(decision).Inc()
	c.workflowDuration.Observe(duration.Seconds())
}

// ObserveStage implements orchestrator.Metrics.
func (c *Collector) ObserveStage(stage string, duration time.Duration) {
	c.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// ObserveHITLRound implements orchestrator.Metrics.
func (c *Collector) ObserveHITLRound(status string) {
	c.hitlRoundsTotal.WithLabelValues(status).Inc()
}

// ObserveAgentExecution implements agent.Observer.
func (c *Collector) ObserveAgentExecution(agent string, status types.ResultStatus, duration time.Duration) {
	c.agentExecutionsTotal.WithLabelValues(agent, string(status)).Inc()
	c.agentDuration.WithLabelValues(agent).Observe(duration.Seconds())
}

// RecordQueryRefused counts a pre-screen rejection.
func (c *Collector) RecordQueryRefused() {
	c.queriesRefusedTotal.Inc()
}

// RecordHTTPRequest counts one served HTTP request.
func (c *Collector) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
