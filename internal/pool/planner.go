package pool

import (
	"context"
	"math"

	"github.com/clustermantle/poolctl/internal/resourcegroup"
	"github.com/clustermantle/poolctl/internal/resources"
)

// plannerOption is a single candidate move the planner could make next: add
// group's scale-up option (growing) or remove one of its running instances
// (shrinking).
type plannerOption struct {
	groupID string
	node    resourcegroup.NodeMetadata
}

// computeNewResourceGroupActions is the planner: starting from each
// group's live target capacity, it greedily applies the single valid
// scale-up or scale-down option that moves the pool's total target capacity
// closest to newTargetCapacity — weighted toward keeping groups balanced —
// until no valid option remains. Stale groups are driven straight to zero
// and never offered scale-up options, though their existing instances
// remain eligible for removal when shrinking.
func (m *Manager) computeNewResourceGroupActions(ctx context.Context, newTargetCapacity resources.Vector) (map[string]*resourcegroup.ResourceGroupActions, error) {
	currentTarget, err := m.TargetCapacity()
	if err != nil {
		return nil, err
	}

	coeff := -1.0
	if newTargetCapacity.AnyGT(currentTarget) {
		coeff = 1.0
	}

	var nonStaleGroups []string
	actions := make(map[string]*resourcegroup.ResourceGroupActions, len(m.groupOrder))
	for _, id := range m.groupOrder {
		g := m.resourceGroups[id]
		if g.IsStale() {
			actions[id] = &resourcegroup.ResourceGroupActions{}
			continue
		}
		nonStaleGroups = append(nonStaleGroups, id)
		actions[id] = &resourcegroup.ResourceGroupActions{TargetCapacity: g.TargetCapacity()}
	}

	if len(nonStaleGroups) == 0 {
		m.logger.Warn("all resource groups are stale; nothing to plan", "cluster", m.cfg.Cluster, "pool", m.cfg.Pool)
		return actions, nil
	}
	perfectlyBalanced := newTargetCapacity.DivScalar(float64(len(nonStaleGroups)))

	totalTargetCapacity := func() resources.Vector {
		var total resources.Vector
		for _, id := range m.groupOrder {
			total = total.Add(actions[id].TargetCapacity)
		}
		return total
	}

	validOptions := func() ([]plannerOption, error) {
		totalTarget := totalTargetCapacity()
		var opts []plannerOption

		if coeff > 0 {
			for _, groupID := range nonStaleGroups {
				g := m.resourceGroups[groupID]
				scaleUpOpts, err := g.ScaleUpOptions(ctx)
				if err != nil {
					return nil, &Error{Cluster: m.cfg.Cluster, Pool: m.cfg.Pool, Op: "scale_up_options", Err: err}
				}
				for _, o := range scaleUpOpts {
					totalWithOption := totalTarget.Add(o.Agent.TotalResources)
					groupWithOption := actions[groupID].TargetCapacity.Add(o.Agent.TotalResources)
					if !groupWithOption.AllLE(g.MaxCapacity()) || !totalWithOption.AllLE(m.cfg.MaxCapacity) {
						continue
					}
					if totalWithOption.Clamp(newTargetCapacity).AnyGT(totalTarget) {
						opts = append(opts, plannerOption{groupID, o})
					}
				}
			}
			return opts, nil
		}

		// Shrinking: every known instance across every group (stale or not)
		// is a candidate for removal, matching get_node_metadatas() called
		// with no state filter.
		nodes, err := m.GetNodeMetadatas(ctx, nil)
		if err != nil {
			return nil, err
		}
		for _, node := range nodes {
			groupID := node.Instance.GroupID
			g, ok := m.resourceGroups[groupID]
			if !ok {
				continue
			}
			totalWithOption := totalTarget.Sub(node.Agent.TotalResources)
			groupWithOption := actions[groupID].TargetCapacity.Sub(node.Agent.TotalResources)
			if !groupWithOption.AllGE(g.MinCapacity()) || !totalWithOption.AllGE(m.cfg.MinCapacity) || !totalWithOption.AllGE(newTargetCapacity) {
				continue
			}
			if totalWithOption.Clamp(newTargetCapacity).AnyLT(totalTarget) {
				opts = append(opts, plannerOption{groupID, node})
			}
		}
		return opts, nil
	}

	heuristic := func(o plannerOption) float64 {
		return balanceHeuristic(perfectlyBalanced, actions[o.groupID].TargetCapacity, o.node.Agent.TotalResources, coeff)
	}

	applyOption := func(o plannerOption) {
		delta := o.node.Agent.TotalResources.Scale(coeff)
		actions[o.groupID].TargetCapacity = actions[o.groupID].TargetCapacity.Add(delta)
		if coeff > 0 {
			actions[o.groupID].ToLaunch = append(actions[o.groupID].ToLaunch, o.node)
		} else {
			actions[o.groupID].ToTerminate = append(actions[o.groupID].ToTerminate, o.node)
		}
	}

	for {
		opts, err := validOptions()
		if err != nil {
			return nil, err
		}
		if len(opts) == 0 {
			m.logger.Warn("no valid resource group actions remain; groups are stale or constrained",
				"cluster", m.cfg.Cluster, "pool", m.cfg.Pool, "new_target_capacity", newTargetCapacity)
			break
		}

		best := opts[0]
		bestScore := heuristic(best)
		for _, o := range opts[1:] {
			if s := heuristic(o); s < bestScore {
				best, bestScore = o, s
			}
		}
		applyOption(best)
	}

	return actions, nil
}

// balanceHeuristic scores how much closer a candidate option moves a group's
// target capacity toward an even split of newTargetCapacity across every
// non-stale group. Lower is better (more balanced). Dimensions where the
// perfectly-balanced value is zero are skipped to avoid dividing by zero,
// matching the original's per-field guard.
func balanceHeuristic(balanced, groupTarget, change resources.Vector, coeff float64) float64 {
	type dim struct{ balanced, groupTarget, change float64 }
	dims := [4]dim{
		{balanced.CPUs, groupTarget.CPUs, change.CPUs},
		{balanced.Mem, groupTarget.Mem, change.Mem},
		{balanced.Disk, groupTarget.Disk, change.Disk},
		{balanced.GPUs, groupTarget.GPUs, change.GPUs},
	}

	var score float64
	for _, d := range dims {
		if d.balanced == 0 {
			continue
		}
		score += math.Pow(d.groupTarget+coeff*d.change-d.balanced, 2) / d.balanced
		score -= math.Pow(d.groupTarget-d.balanced, 2) / d.balanced
	}
	return score
}
