// Package metrics exposes the capacity planner's Prometheus instrumentation:
// counters and gauges over the planner, pruner and drain pipeline, all
// under the "clusterman" namespace, following a promauto-vars-at-package-scope
// style.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PlannerIterations counts planner runs per pool, labeled by whether the
	// run scaled up, scaled down, or held steady.
	PlannerIterations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clusterman",
			Name:      "planner_iterations_total",
			Help:      "Total planner runs grouped by pool and outcome",
		},
		[]string{"pool", "outcome"},
	)

	// NodesPruned counts nodes selected for removal by the pruner, labeled by
	// the priority case that selected them.
	NodesPruned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clusterman",
			Name:      "nodes_pruned_total",
			Help:      "Total nodes selected for removal grouped by pool and prune reason",
		},
		[]string{"pool", "reason"},
	)

	// TasksKilled counts the tasks running on nodes the pruner selects for
	// removal; a single prune pass stays within the pool's max_tasks_to_kill.
	TasksKilled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clusterman",
			Name:      "tasks_killed_total",
			Help:      "Total tasks on nodes selected for removal by the pruner",
		},
		[]string{"pool"},
	)

	// TargetCapacity tracks the last capacity vector requested of a resource
	// group, one gauge per dimension.
	TargetCapacity = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "clusterman",
			Name:      "target_capacity",
			Help:      "Target capacity most recently requested of a resource group, by dimension",
		},
		[]string{"pool", "group_id", "dimension"},
	)

	// DrainQueueMessagesProcessed counts drain and termination queue
	// messages the drain worker has consumed, labeled by queue and outcome.
	DrainQueueMessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clusterman",
			Name:      "drain_queue_messages_processed_total",
			Help:      "Total drain pipeline queue messages processed, grouped by queue and outcome",
		},
		[]string{"queue", "outcome"},
	)

	// MaintenanceRPCFailures counts failed cluster maintenance operator
	// calls (drain/down/up), labeled by operation.
	MaintenanceRPCFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clusterman",
			Name:      "maintenance_rpc_failures_total",
			Help:      "Total failed cluster maintenance RPCs grouped by operation",
		},
		[]string{"operation"},
	)
)
