// Package clusterconnector defines the ClusterConnector capability: the
// view onto the cluster scheduler's side of a node, joined with cloud-side
// InstanceMetadata by IP address to form a complete NodeMetadata.
package clusterconnector

import (
	"context"

	"github.com/clustermantle/poolctl/internal/resourcegroup"
)

// Connector reports the cluster-scheduler's view of the nodes it knows
// about. Implementations are expected to cache their view and only refresh
// it when ReloadState is called, matching the snapshot semantics the
// planner and pruner depend on (no I/O inside their bounded loops).
type Connector interface {
	// ReloadState refreshes the connector's internal view of node/pod state.
	ReloadState(ctx context.Context) error

	// AgentMetadata returns the agent-side metadata for the node at
	// ipAddress, or AgentOrphaned state if the connector has no matching
	// agent: a cloud instance whose cluster scheduler never registered it
	// is an orphan, and orphans are preferred for termination.
	AgentMetadata(ipAddress string) resourcegroup.AgentMetadata
}
