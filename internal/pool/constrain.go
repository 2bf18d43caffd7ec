package pool

import (
	"math"

	"github.com/clustermantle/poolctl/internal/resources"
)

// fieldConstraint carries one resource dimension's bound inputs through
// constrainField; keeping this as a struct instead of four parallel
// CPUs/Mem/Disk/GPUs call sites mirrors the original's per-field loop over
// ClustermanResources._fields while staying a plain Go value type.
type fieldConstraint struct {
	name              string
	target, requested float64
	min, max          float64
	maxAdd, maxRemove float64
}

// constrainField bounds a single requested delta by the pool's min/max
// capacity and its max-add/max-remove limits, in that order, exactly mirroring
// _constrain_target_capacity's two-pass clamp. When force is set and the
// limits would have changed the requested delta, the limit is bypassed
// instead of applied (logged either way via warn).
func constrainField(c fieldConstraint, force bool, warn func(resource string, requestedDelta, allowedDelta float64, bypassed bool)) float64 {
	requestedDelta := c.requested - c.target

	var delta float64
	switch {
	case requestedDelta > 0:
		delta = math.Min(c.max-c.target, requestedDelta)
	case requestedDelta < 0:
		delta = math.Max(c.min-c.target, requestedDelta)
	}

	if delta > 0 {
		delta = math.Min(c.maxAdd, delta)
	} else if delta < 0 {
		delta = math.Max(-c.maxRemove, delta)
	}

	constrained := c.target + delta
	if requestedDelta != delta {
		if force {
			constrained = c.target + requestedDelta
		}
		if warn != nil {
			warn(c.name, requestedDelta, delta, force)
		}
	}
	return constrained
}

// constrainTargetCapacity bounds a requested target capacity to what the
// pool's scaling limits actually allow, per resource dimension
// independently. With force set, a limit that would otherwise restrict the
// request is logged and bypassed rather than applied.
func (m *Manager) constrainTargetCapacity(requested resources.Vector, force bool) (resources.Vector, error) {
	target, err := m.TargetCapacity()
	if err != nil {
		return resources.Vector{}, err
	}

	warn := func(resource string, requestedDelta, allowedDelta float64, bypassed bool) {
		if bypassed {
			m.logger.Warn("bypassing scaling limit on forced target capacity",
				"cluster", m.cfg.Cluster, "pool", m.cfg.Pool, "resource", resource,
				"requested_delta", requestedDelta, "allowed_delta", allowedDelta)
			return
		}
		m.logger.Warn("constraining requested target capacity",
			"cluster", m.cfg.Cluster, "pool", m.cfg.Pool, "resource", resource,
			"requested_delta", requestedDelta, "allowed_delta", allowedDelta)
	}

	return resources.Vector{
		CPUs: constrainField(fieldConstraint{"cpus", target.CPUs, requested.CPUs, m.cfg.MinCapacity.CPUs, m.cfg.MaxCapacity.CPUs, m.cfg.MaxCapacityToAdd.CPUs, m.cfg.MaxCapacityToRemove.CPUs}, force, warn),
		Mem:  constrainField(fieldConstraint{"mem", target.Mem, requested.Mem, m.cfg.MinCapacity.Mem, m.cfg.MaxCapacity.Mem, m.cfg.MaxCapacityToAdd.Mem, m.cfg.MaxCapacityToRemove.Mem}, force, warn),
		Disk: constrainField(fieldConstraint{"disk", target.Disk, requested.Disk, m.cfg.MinCapacity.Disk, m.cfg.MaxCapacity.Disk, m.cfg.MaxCapacityToAdd.Disk, m.cfg.MaxCapacityToRemove.Disk}, force, warn),
		GPUs: constrainField(fieldConstraint{"gpus", target.GPUs, requested.GPUs, m.cfg.MinCapacity.GPUs, m.cfg.MaxCapacity.GPUs, m.cfg.MaxCapacityToAdd.GPUs, m.cfg.MaxCapacityToRemove.GPUs}, force, warn),
	}, nil
}
