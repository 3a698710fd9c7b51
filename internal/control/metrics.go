package control

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: orchestration cycle wall time
	CycleDuration prometheus.Histogram

	// Traffic: agent runs and action decisions
	AgentRuns       *prometheus.CounterVec
	ActionDecisions *prometheus.CounterVec
	ActionsExecuted *prometheus.CounterVec

	// Errors: classified executor refusals and failures
	ExecutorErrors *prometheus.CounterVec

	// Saturation: in-flight scheduled runs and audit backpressure
	ActiveRuns      prometheus.Gauge
	AuditBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Tests pass nil and get a throwaway local registry.
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		CycleDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "agentplane_cycle_duration_seconds",
			Help:    "Histogram of orchestration cycle durations.",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),

		AgentRuns: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "agentplane_agent_runs_total",
			Help: "Total agent executions by type and status.",
		}, []string{"agent_type", "status"}),

		ActionDecisions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "agentplane_action_decisions_total",
			Help: "Policy decisions applied to proposed actions.",
		}, []string{"decision"}),

		ActionsExecuted: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "agentplane_actions_executed_total",
			Help: "Executed actions by action type and status.",
		}, []string{"action_type", "status"}),

		ExecutorErrors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "agentplane_executor_errors_total",
			Help: "Executor refusals and failures by type.",
		}, []string{"type"}), // types: unknown_type, rate_limit, guardrail, hold, handler, storage

		ActiveRuns: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "agentplane_scheduler_active_runs",
			Help: "Number of agent runs currently in flight.",
		}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "agentplane_audit_buffer_utilization",
			Help: "Current number of events in the audit buffer.",
		}),
	}
}
