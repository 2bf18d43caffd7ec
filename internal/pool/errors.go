package pool

import "errors"

// ErrNoResourceGroups is returned by ModifyTargetCapacity when a pool has no
// configured resource groups to act on.
var ErrNoResourceGroups = errors.New("pool: no resource groups configured")

// ErrAllResourceGroupsStale is returned by TargetCapacity (and anything that
// depends on it) when every resource group in the pool is stale, since a
// pool with no non-stale groups has no well-defined target capacity.
var ErrAllResourceGroupsStale = errors.New("pool: all resource groups are stale")

// Error wraps a failure attributable to a specific cluster/pool/operation,
// distinct from a ResourceGroupError which always names a single group.
type Error struct {
	Cluster string
	Pool    string
	Op      string
	Err     error
}

func (e *Error) Error() string {
	return "pool " + e.Cluster + "/" + e.Pool + ": " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }
