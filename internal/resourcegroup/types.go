// Package resourcegroup defines the ResourceGroup capability: an
// abstract handle onto a cloud-managed collection of instances with a single
// target-capacity knob, plus the node-level metadata the planner and pruner
// need to reason about individual instances.
package resourcegroup

import (
	"context"
	"errors"
	"time"

	"github.com/clustermantle/poolctl/internal/resources"
)

// AgentState mirrors the cluster-scheduler agent's lifecycle for a node.
type AgentState int

const (
	AgentUnknown AgentState = iota
	AgentIdle
	AgentRunning
	AgentOrphaned
)

func (s AgentState) String() string {
	switch s {
	case AgentIdle:
		return "idle"
	case AgentRunning:
		return "running"
	case AgentOrphaned:
		return "orphaned"
	default:
		return "unknown"
	}
}

// Market identifies a priceable, launchable instance shape (instance type + zone).
type Market struct {
	InstanceType string
	Zone         string
}

// InstanceMetadata describes a single cloud instance as reported by its
// owning ResourceGroup, independent of whether the cluster scheduler knows
// about it yet.
type InstanceMetadata struct {
	InstanceID string
	GroupID    string
	Market     Market
	IPAddress  string
	Hostname   string
	IsStale    bool
	Uptime     time.Duration
	Weight     float64
	AWSState   string
}

// AgentMetadata describes the cluster-scheduler's view of the node running on
// an instance, as reported by a ClusterConnector.
type AgentMetadata struct {
	State              AgentState
	AllocatedResources resources.Vector
	TotalResources     resources.Vector
	TaskCount          int
	BatchTaskCount     int
	IsSafeToKill       bool
}

// NodeMetadata pairs a cloud instance with its cluster-scheduler agent state.
type NodeMetadata struct {
	Instance InstanceMetadata
	Agent    AgentMetadata
}

// ResourceGroupActions is the mutable per-group plan accumulator the planner
// builds up across its greedy loop. TargetCapacity is a running tally of the
// plan being constructed, not the group's live target capacity.
type ResourceGroupActions struct {
	ToLaunch      []NodeMetadata
	ToTerminate   []NodeMetadata
	TargetCapacity resources.Vector
}

// ResourceGroupError wraps a failure from a backend mutation (modify target
// capacity, terminate, mark stale). The pool manager treats it as
// recoverable for the rest of the pool: it logs, counts and skips the group.
type ResourceGroupError struct {
	GroupID string
	Op      string
	Err     error
}

func (e *ResourceGroupError) Error() string {
	return "resource group " + e.GroupID + ": " + e.Op + ": " + e.Err.Error()
}

func (e *ResourceGroupError) Unwrap() error { return e.Err }

// ErrMarkStaleUnsupported is returned by MarkStale when a backend has no
// concept of staleness (e.g. it is always managed externally).
var ErrMarkStaleUnsupported = errors.New("resourcegroup: mark stale is not supported by this backend")

// ResourceGroup is the capability implemented by every cloud-managed
// capacity backend (spot fleet request, auto scaling group, ...).
type ResourceGroup interface {
	// ID is the unique, stable identifier for this resource group.
	ID() string

	// IsStale reports whether this group is marked for replacement. Stale
	// groups are driven to a target capacity of zero by the planner.
	IsStale() bool

	// TargetCapacity is the desired weighted capacity for this group.
	TargetCapacity() resources.Vector

	// FulfilledCapacity is the actual weighted capacity currently running.
	FulfilledCapacity() resources.Vector

	// MinCapacity and MaxCapacity bound this group's target capacity.
	MinCapacity() resources.Vector
	MaxCapacity() resources.Vector

	// MarketCapacities returns the (weighted) fulfilled capacity broken down
	// by market. Totals across groups may double-count a market that
	// appears in more than one group.
	MarketCapacities() map[Market]resources.Vector

	// ScaleUpOptions returns candidate launches, each a NodeMetadata
	// describing the resources a new instance of that shape would add.
	ScaleUpOptions(ctx context.Context) ([]NodeMetadata, error)

	// InstanceMetadatas returns this group's known instances, optionally
	// restricted to those whose AWSState is in stateFilter.
	InstanceMetadatas(ctx context.Context, stateFilter map[string]bool) ([]InstanceMetadata, error)

	// ModifyTargetCapacity applies a planned set of launches/terminations.
	ModifyTargetCapacity(ctx context.Context, actions ResourceGroupActions, dryRun bool) error

	// TerminateInstancesByID terminates the given instances, batching
	// internally up to batchSize per call.
	TerminateInstancesByID(ctx context.Context, instanceIDs []string, batchSize int) error

	// MarkStale marks this group for replacement, or returns
	// ErrMarkStaleUnsupported if the backend has no such concept.
	MarkStale(ctx context.Context, dryRun bool) error
}
