package pool

import (
	"context"
	"sort"

	"github.com/clustermantle/poolctl/internal/resourcegroup"
	"github.com/clustermantle/poolctl/internal/resources"
)

// chooseNodesToPrune selects, per resource group, which running instances to
// remove so that fulfilled capacity comes back down to newTargetCapacity.
// groupTargets supplies each group's post-plan target capacity; if nil,
// each group's live target capacity is used instead. Returns an empty map
// (not nil) when fulfilled capacity is already at or below target.
func (m *Manager) chooseNodesToPrune(ctx context.Context, newTargetCapacity resources.Vector, groupTargets map[string]resources.Vector) (map[string][]resourcegroup.NodeMetadata, error) {
	if groupTargets == nil {
		groupTargets = make(map[string]resources.Vector, len(m.groupOrder))
		for _, id := range m.groupOrder {
			groupTargets[id] = m.resourceGroups[id].TargetCapacity()
		}
	}

	currCapacity := m.FulfilledCapacity()
	if currCapacity.AllLE(newTargetCapacity) {
		return map[string][]resourcegroup.NodeMetadata{}, nil
	}

	killable, err := m.prioritizedKillableNodes(ctx)
	if err != nil {
		return nil, err
	}
	if len(killable) == 0 {
		m.logger.Warn("fulfilled capacity exceeds target but no killable nodes were found",
			"cluster", m.cfg.Cluster, "pool", m.cfg.Pool, "fulfilled", currCapacity, "target", newTargetCapacity)
		return map[string][]resourcegroup.NodeMetadata{}, nil
	}

	remGroupCapacities := make(map[string]resources.Vector, len(m.groupOrder))
	for _, id := range m.groupOrder {
		remGroupCapacities[id] = m.resourceGroups[id].FulfilledCapacity()
	}
	remainingNonOrphan := m.nonOrphanFulfilled

	var killedTaskCount int
	var removedResources resources.Vector
	marked := make(map[string][]resourcegroup.NodeMetadata)

	for _, node := range killable {
		groupID := node.Instance.GroupID
		instanceResources := node.Agent.TotalResources
		newGroupCapacity := remGroupCapacities[groupID].Sub(instanceResources)

		if instanceResources.Add(removedResources).AnyGT(m.cfg.MaxCapacityToRemove) {
			continue
		}
		if newGroupCapacity.AnyLT(groupTargets[groupID]) {
			continue
		}
		if m.cfg.MaxTasksToKill != UnlimitedTasksToKill && killedTaskCount+node.Agent.TaskCount > m.cfg.MaxTasksToKill {
			continue
		}
		if node.Agent.State != resourcegroup.AgentOrphaned {
			if remainingNonOrphan.Sub(instanceResources).AnyLT(newTargetCapacity) {
				continue
			}
		}

		marked[groupID] = append(marked[groupID], node)
		remGroupCapacities[groupID] = newGroupCapacity
		currCapacity = currCapacity.Sub(instanceResources)
		killedTaskCount += node.Agent.TaskCount
		removedResources = removedResources.Add(instanceResources)
		if node.Agent.State != resourcegroup.AgentOrphaned {
			remainingNonOrphan = remainingNonOrphan.Sub(instanceResources)
		}

		if currCapacity.AllLE(newTargetCapacity) {
			break
		}
	}

	return marked, nil
}

// prioritizedKillableNodes returns every running, killable node ordered
// most-killable first: orphans before agents, idle before busy, stale
// instances before fresh ones, and within those groups by ascending batch
// and total task count.
func (m *Manager) prioritizedKillableNodes(ctx context.Context) ([]resourcegroup.NodeMetadata, error) {
	nodes, err := m.GetNodeMetadatas(ctx, runningStateFilter)
	if err != nil {
		return nil, err
	}

	var killable []resourcegroup.NodeMetadata
	for _, n := range nodes {
		if isNodeKillable(n, m.cfg.MaxTasksToKill) {
			killable = append(killable, n)
		}
	}

	sort.SliceStable(killable, func(i, j int) bool {
		a, b := killSortKey(killable[i]), killSortKey(killable[j])
		for k := range a {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return false
	})
	return killable, nil
}

func isNodeKillable(n resourcegroup.NodeMetadata, maxTasksToKill int) bool {
	if n.Agent.State == resourcegroup.AgentUnknown {
		return false
	}
	if !n.Agent.IsSafeToKill {
		return false
	}
	if maxTasksToKill == UnlimitedTasksToKill || maxTasksToKill > n.Agent.TaskCount {
		return true
	}
	return n.Agent.TaskCount == 0
}

// killSortKey returns the ascending sort tuple "most killable first":
// orphaned before not, idle before running, stale instance before fresh,
// then batch task count, then total task count.
func killSortKey(n resourcegroup.NodeMetadata) [5]int {
	orphanRank, idleRank, staleRank := 1, 1, 1
	if n.Agent.State == resourcegroup.AgentOrphaned {
		orphanRank = 0
	}
	if n.Agent.State == resourcegroup.AgentIdle {
		idleRank = 0
	}
	if n.Instance.IsStale {
		staleRank = 0
	}
	return [5]int{orphanRank, idleRank, staleRank, n.Agent.BatchTaskCount, n.Agent.TaskCount}
}
