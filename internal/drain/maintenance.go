package drain

import "context"

// MaintenanceClient is the cluster-scheduler-side operator capability the
// drain worker calls around termination: drain, down and up RPCs. Every
// method takes hosts formatted "hostname|ip", matching the Mesos operator
// call signature so the worker's call sites read the same regardless of
// backend.
type MaintenanceClient interface {
	// Drain begins cluster-side quiescence of hosts: evicting workloads so
	// the node can be safely removed once the maintenance window
	// [startNanos, startNanos+durationNanos) elapses.
	Drain(ctx context.Context, hosts []string, startNanos, durationNanos int64) error

	// Down marks hosts out of service in the cluster scheduler, called
	// immediately before cloud-side termination.
	Down(ctx context.Context, hosts []string) error

	// Up marks hosts back in service. Called after termination completes so
	// a scheduler-side record of the host (if termination failed or was a
	// no-op) is not left permanently marked down.
	Up(ctx context.Context, hosts []string) error
}
