// Package pool implements the pool manager capability: the
// snapshot of a pool's resource groups and cluster-connector state, the
// constrain/plan/prune algorithms that turn a requested target capacity into
// per-group launch and terminate actions, and the orchestrator that applies
// them.
package pool

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/clustermantle/poolctl/internal/clusterconnector"
	"github.com/clustermantle/poolctl/internal/resourcegroup"
	"github.com/clustermantle/poolctl/internal/resources"
)

// runningStateFilter restricts InstanceMetadatas/GetNodeMetadatas calls to
// instances the cloud reports as actually running.
var runningStateFilter = map[string]bool{"running": true}

// DrainSubmitter is the minimal capability the pool manager needs from the
// maintenance drain pipeline: enqueue an instance for draining, tagged
// with the sender (resource group backend tag) that can later reconstruct a
// handle onto its owning group.
type DrainSubmitter interface {
	SubmitForDraining(ctx context.Context, instance resourcegroup.InstanceMetadata, sender string) error
}

// Manager owns one pool's resource groups and cluster connector, and
// implements the constrain/plan/prune/apply pipeline over them.
type Manager struct {
	cfg Config

	// groupOrder preserves the pool config's resource_groups list order.
	// Every iteration over resourceGroups in this package uses groupOrder
	// rather than ranging the map directly, since plan/prune selection must
	// be deterministic and Go map iteration is not.
	groupOrder     []string
	resourceGroups map[string]resourcegroup.ResourceGroup
	groupSenders   map[string]string

	connector clusterconnector.Connector
	drainer   DrainSubmitter

	logger *slog.Logger

	nonOrphanFulfilled resources.Vector
}

// NewManager builds a Manager over an already-constructed set of resource
// groups (see resourcegroup.Lookup for how config entries become groups).
// groupSenders maps each group ID to the backend tag used to register its
// factory (e.g. "asg", "sfr"); it is used as the drain queue Sender
// attribute when draining is enabled. drainer may be nil when
// cfg.DrainingEnabled is false.
func NewManager(cfg Config, groupOrder []string, groups map[string]resourcegroup.ResourceGroup, groupSenders map[string]string, connector clusterconnector.Connector, drainer DrainSubmitter, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:            cfg,
		groupOrder:     groupOrder,
		resourceGroups: groups,
		groupSenders:   groupSenders,
		connector:      connector,
		drainer:        drainer,
		logger:         logger,
	}
}

// ReloadState refreshes the cluster connector's view of agent state and
// recalculates non-orphan fulfilled capacity. Resource groups refresh
// themselves lazily (see resourcegroup's refresh-on-read backends).
func (m *Manager) ReloadState(ctx context.Context) error {
	if err := m.connector.ReloadState(ctx); err != nil {
		return &Error{Cluster: m.cfg.Cluster, Pool: m.cfg.Pool, Op: "reload_cluster_connector", Err: err}
	}
	nonOrphan, err := m.calculateNonOrphanFulfilledCapacity(ctx)
	if err != nil {
		return err
	}
	m.nonOrphanFulfilled = nonOrphan
	return nil
}

// MarkStale marks every resource group in the pool for replacement. Backends
// that don't support staleness are logged and skipped rather than treated as
// a failure.
func (m *Manager) MarkStale(ctx context.Context, dryRun bool) {
	for _, id := range m.groupOrder {
		if err := m.resourceGroups[id].MarkStale(ctx, dryRun); err != nil {
			if errors.Is(err, resourcegroup.ErrMarkStaleUnsupported) {
				m.logger.Info("mark stale not supported by resource group, skipping", "cluster", m.cfg.Cluster, "pool", m.cfg.Pool, "group", id)
				continue
			}
			m.logger.Warn("mark stale failed", "cluster", m.cfg.Cluster, "pool", m.cfg.Pool, "group", id, "error", err)
		}
	}
}

// TargetCapacity sums the target capacity of every non-stale resource group.
// It returns ErrAllResourceGroupsStale if there are none.
func (m *Manager) TargetCapacity() (resources.Vector, error) {
	var total resources.Vector
	any := false
	for _, id := range m.groupOrder {
		g := m.resourceGroups[id]
		if g.IsStale() {
			continue
		}
		any = true
		total = total.Add(g.TargetCapacity())
	}
	if !any {
		return resources.Vector{}, ErrAllResourceGroupsStale
	}
	return total, nil
}

// FulfilledCapacity sums the fulfilled capacity of every resource group,
// stale or not: what's actually running always counts.
func (m *Manager) FulfilledCapacity() resources.Vector {
	var total resources.Vector
	for _, id := range m.groupOrder {
		total = total.Add(m.resourceGroups[id].FulfilledCapacity())
	}
	return total
}

// GetNodeMetadatas joins every resource group's instance metadata with the
// cluster connector's agent metadata by IP address. A nil stateFilter
// returns instances in every cloud state.
func (m *Manager) GetNodeMetadatas(ctx context.Context, stateFilter map[string]bool) ([]resourcegroup.NodeMetadata, error) {
	var out []resourcegroup.NodeMetadata
	for _, id := range m.groupOrder {
		instances, err := m.resourceGroups[id].InstanceMetadatas(ctx, stateFilter)
		if err != nil {
			return nil, &Error{Cluster: m.cfg.Cluster, Pool: m.cfg.Pool, Op: "get_instance_metadatas", Err: err}
		}
		for _, inst := range instances {
			out = append(out, resourcegroup.NodeMetadata{
				Instance: inst,
				Agent:    m.connector.AgentMetadata(inst.IPAddress),
			})
		}
	}
	return out, nil
}

// GetMarketCapacities sums every resource group's market capacities,
// additively double-counting a market shared by more than one group
// (preserved from the original; see DESIGN.md). A nil marketFilter returns
// every market.
func (m *Manager) GetMarketCapacities(marketFilter map[resourcegroup.Market]bool) map[resourcegroup.Market]resources.Vector {
	totals := make(map[resourcegroup.Market]resources.Vector)
	for _, id := range m.groupOrder {
		for market, v := range m.resourceGroups[id].MarketCapacities() {
			if marketFilter != nil && !marketFilter[market] {
				continue
			}
			totals[market] = totals[market].Add(v)
		}
	}
	return totals
}

func (m *Manager) calculateNonOrphanFulfilledCapacity(ctx context.Context) (resources.Vector, error) {
	nodes, err := m.GetNodeMetadatas(ctx, runningStateFilter)
	if err != nil {
		return resources.Vector{}, err
	}
	var total resources.Vector
	for _, n := range nodes {
		if n.Agent.State == resourcegroup.AgentOrphaned || n.Agent.State == resourcegroup.AgentUnknown {
			continue
		}
		total = total.Add(n.Agent.TotalResources)
	}
	return total, nil
}

// sortedGroupIDs returns the pool's group IDs in lexical order. Nothing in
// this package calls it: planning, pruning and logging all iterate groupOrder.
func (m *Manager) sortedGroupIDs() []string {
	ids := make([]string, len(m.groupOrder))
	copy(ids, m.groupOrder)
	sort.Strings(ids)
	return ids
}
