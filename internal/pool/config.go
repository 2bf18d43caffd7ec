package pool

import "github.com/clustermantle/poolctl/internal/resources"

// UnlimitedTasksToKill is the MaxTasksToKill sentinel meaning "no limit",
// the Go representation of the pool config's `scaling_limits.max_tasks_to_kill: inf`.
const UnlimitedTasksToKill = -1

// Config is the pool-wide scaling configuration: the bounds and limits the
// constrain step and pruner enforce, independent of any single
// resource group's own min/max capacity.
type Config struct {
	Cluster string
	Pool    string

	MinCapacity         resources.Vector
	MaxCapacity         resources.Vector
	MaxCapacityToAdd    resources.Vector
	MaxCapacityToRemove resources.Vector

	// MaxTasksToKill bounds how many tasks a single prune pass may kill
	// across all nodes it selects for termination. UnlimitedTasksToKill (-1)
	// disables the bound.
	MaxTasksToKill int

	// DrainingEnabled routes pruned nodes through the maintenance drain
	// pipeline instead of terminating them directly.
	DrainingEnabled bool
}
