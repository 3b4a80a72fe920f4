package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	workflowsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docuflow_workflows_started_total",
			Help: "Total number of workflow instances started.",
		},
	)

	workflowsFinalized = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docuflow_workflows_finalized_total",
			Help: "Total number of workflow instances reaching a terminal status.",
		},
		[]string{"status"},
	)

	tasksCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docuflow_tasks_completed_total",
			Help: "Total number of approval tasks completed by an actor.",
		},
		[]string{"action"},
	)

	versionConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docuflow_version_conflicts_total",
			Help: "Total number of optimistic-lock conflicts observed on instance writes.",
		},
	)

	retryExhaustions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docuflow_retry_exhaustions_total",
			Help: "Total number of operations that exhausted their conflict retries.",
		},
	)
)

func init() {
	prometheus.MustRegister(workflowsStarted)
	prometheus.MustRegister(workflowsFinalized)
	prometheus.MustRegister(tasksCompleted)
	prometheus.MustRegister(versionConflicts)
	prometheus.MustRegister(retryExhaustions)
}
