package pool

import (
	"context"
	"errors"

	"github.com/clustermantle/poolctl/internal/metrics"
	"github.com/clustermantle/poolctl/internal/resourcegroup"
	"github.com/clustermantle/poolctl/internal/resources"
)

// ModifyOptions controls a single ModifyTargetCapacity call. The zero value
// is the default: live (not dry-run), constrained (not forced), pruning
// excess fulfilled capacity afterward.
type ModifyOptions struct {
	DryRun bool
	Force  bool
	// NoPrune skips the post-apply prune step. Leave false for the default
	// (prune=True in the original) behavior.
	NoPrune bool
}

// ModifyTargetCapacity is the pool manager's orchestrator: it
// constrains the requested target capacity to what scaling limits allow,
// plans the per-group launches/terminations that reach it,
// applies each group's plan, and — unless NoPrune is set — prunes any
// resulting excess fulfilled capacity. A single group's apply
// failure that is a *resourcegroup.ResourceGroupError is logged, counted and
// skipped without aborting the rest of the pool; any other apply error is
// returned at once.
func (m *Manager) ModifyTargetCapacity(ctx context.Context, requestedTargetCapacity resources.Vector, opts ModifyOptions) (resources.Vector, error) {
	if len(m.groupOrder) == 0 {
		return resources.Vector{}, ErrNoResourceGroups
	}

	previousFulfilled := m.FulfilledCapacity()

	newTargetCapacity, err := m.constrainTargetCapacity(requestedTargetCapacity, opts.Force)
	if err != nil {
		return resources.Vector{}, err
	}

	groupActions, err := m.computeNewResourceGroupActions(ctx, newTargetCapacity)
	if err != nil {
		return resources.Vector{}, err
	}

	metrics.PlannerIterations.WithLabelValues(m.cfg.Pool, plannerOutcome(previousFulfilled, newTargetCapacity)).Inc()

	for _, groupID := range m.groupOrder {
		actions := groupActions[groupID]
		if actions == nil || (len(actions.ToLaunch) == 0 && len(actions.ToTerminate) == 0) {
			continue
		}
		if err := m.resourceGroups[groupID].ModifyTargetCapacity(ctx, *actions, opts.DryRun); err != nil {
			var rgErr *resourcegroup.ResourceGroupError
			if errors.As(err, &rgErr) {
				m.logger.Error("resource group modification failed, skipping",
					"cluster", m.cfg.Cluster, "pool", m.cfg.Pool, "group", groupID, "error", rgErr)
				metrics.ResourceGroupModificationFailed.WithLabelValues(m.cfg.Cluster, m.cfg.Pool).Inc()
				continue
			}
			return resources.Vector{}, err
		}
		recordTargetCapacityMetric(m.cfg.Pool, groupID, actions.TargetCapacity)
	}

	if !opts.NoPrune {
		groupTargets := make(map[string]resources.Vector, len(groupActions))
		for id, a := range groupActions {
			groupTargets[id] = a.TargetCapacity
		}
		if err := m.pruneExcessFulfilledCapacity(ctx, newTargetCapacity, groupTargets, opts.DryRun); err != nil {
			return resources.Vector{}, err
		}
	}

	m.logger.Info("modified target capacity",
		"cluster", m.cfg.Cluster, "pool", m.cfg.Pool,
		"requested", requestedTargetCapacity, "applied", newTargetCapacity, "dry_run", opts.DryRun)
	return newTargetCapacity, nil
}

// pruneExcessFulfilledCapacity selects nodes to remove and dispatches
// their removal: through the maintenance drain pipeline when draining
// is enabled, or by terminating them directly otherwise.
func (m *Manager) pruneExcessFulfilledCapacity(ctx context.Context, newTargetCapacity resources.Vector, groupTargets map[string]resources.Vector, dryRun bool) error {
	marked, err := m.chooseNodesToPrune(ctx, newTargetCapacity, groupTargets)
	if err != nil {
		return err
	}
	for _, nodes := range marked {
		for _, node := range nodes {
			metrics.NodesPruned.WithLabelValues(m.cfg.Pool, pruneReason(node)).Inc()
			if node.Agent.TaskCount > 0 {
				metrics.TasksKilled.WithLabelValues(m.cfg.Pool).Add(float64(node.Agent.TaskCount))
			}
		}
	}
	if dryRun {
		return nil
	}

	for _, groupID := range m.groupOrder {
		nodes := marked[groupID]
		if len(nodes) == 0 {
			continue
		}

		if m.cfg.DrainingEnabled {
			if m.drainer == nil {
				return &Error{Cluster: m.cfg.Cluster, Pool: m.cfg.Pool, Op: "prune_excess_fulfilled_capacity",
					Err: errors.New("draining enabled but no drain submitter configured")}
			}
			sender := m.groupSenders[groupID]
			for _, node := range nodes {
				if err := m.drainer.SubmitForDraining(ctx, node.Instance, sender); err != nil {
					m.logger.Error("submit for draining failed", "cluster", m.cfg.Cluster, "pool", m.cfg.Pool,
						"group", groupID, "instance", node.Instance.InstanceID, "error", err)
				}
			}
			continue
		}

		ids := make([]string, len(nodes))
		for i, node := range nodes {
			ids[i] = node.Instance.InstanceID
		}
		if err := m.resourceGroups[groupID].TerminateInstancesByID(ctx, ids, 500); err != nil {
			return &Error{Cluster: m.cfg.Cluster, Pool: m.cfg.Pool, Op: "prune_terminate_instances", Err: err}
		}
	}
	return nil
}

// plannerOutcome labels a planner run by the direction it moved fulfilled
// capacity, for the planner_iterations_total counter.
func plannerOutcome(previousFulfilled, newTargetCapacity resources.Vector) string {
	switch {
	case newTargetCapacity.AnyGT(previousFulfilled):
		return "scale_up"
	case previousFulfilled.AnyGT(newTargetCapacity):
		return "scale_down"
	default:
		return "steady"
	}
}

// pruneReason labels a pruned node by the priority case that made it
// killable, for the nodes_pruned_total counter.
func pruneReason(n resourcegroup.NodeMetadata) string {
	switch {
	case n.Instance.IsStale:
		return "stale"
	case n.Agent.State == resourcegroup.AgentOrphaned:
		return "orphaned"
	case n.Agent.State == resourcegroup.AgentIdle:
		return "idle"
	default:
		return "over_target"
	}
}

// recordTargetCapacityMetric publishes the target_capacity gauge for a
// single resource group's most recently applied target.
func recordTargetCapacityMetric(pool, groupID string, target resources.Vector) {
	metrics.TargetCapacity.WithLabelValues(pool, groupID, "cpus").Set(target.CPUs)
	metrics.TargetCapacity.WithLabelValues(pool, groupID, "mem").Set(target.Mem)
	metrics.TargetCapacity.WithLabelValues(pool, groupID, "disk").Set(target.Disk)
	metrics.TargetCapacity.WithLabelValues(pool, groupID, "gpus").Set(target.GPUs)
}
