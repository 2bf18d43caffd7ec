package drain

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/clustermantle/poolctl/internal/metrics"
	"github.com/clustermantle/poolctl/internal/resourcegroup"
)

// defaultTerminationDelaySeconds is the termination-queue DelaySeconds used
// for a sender with no configured override.
const defaultTerminationDelaySeconds = 90

// defaultMaintenanceTimeout is the maintenance window duration used when a
// cluster has no configured override (mesos_maintenance_timeout_seconds).
const defaultMaintenanceTimeout = 600 * time.Second

// defaultPollInterval is the sleep between poll passes over both queues.
const defaultPollInterval = 5 * time.Second

// WorkerConfig configures a single cluster's drain worker.
type WorkerConfig struct {
	Cluster string
	Region  string

	// TerminationDelay overrides the default termination-queue delay per
	// sender tag (drain_termination_timeout_seconds.<sender>).
	TerminationDelay map[string]time.Duration

	// MaintenanceTimeout bounds the maintenance window passed to Drain.
	// Zero uses defaultMaintenanceTimeout.
	MaintenanceTimeout time.Duration

	// PollInterval is the sleep between poll passes. Zero uses
	// defaultPollInterval.
	PollInterval time.Duration
}

// Worker is the long-running single-threaded poll loop over a cluster's
// drain and termination queues. Multiple Workers may run
// concurrently as long as each owns a disjoint pair of queues.
type Worker struct {
	client      *Client
	maintenance MaintenanceClient
	cfg         WorkerConfig
	logger      *slog.Logger
}

// NewWorker builds a Worker over client and maintenance, both already bound
// to a single cluster's queues/operator connection.
func NewWorker(client *Client, maintenance MaintenanceClient, cfg WorkerConfig, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{client: client, maintenance: maintenance, cfg: cfg, logger: logger}
}

// Run polls the drain queue and then the termination queue, forever, with a
// sleep between passes, until ctx is canceled. It is supervisor-restartable:
// a message left undelivered by a crash is simply redelivered on the next
// run, and every handler here is idempotent.
func (w *Worker) Run(ctx context.Context) error {
	interval := w.cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	for {
		if err := w.ProcessDrainQueue(ctx); err != nil {
			w.logger.Error("process drain queue failed", "cluster", w.cfg.Cluster, "error", err)
		}
		if err := w.ProcessTerminationQueue(ctx); err != nil {
			w.logger.Error("process termination queue failed", "cluster", w.cfg.Cluster, "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// ProcessDrainQueue handles one message off the drain queue: a host that
// never registered with the cluster goes straight to termination with no
// delay; otherwise the maintenance operator's Drain RPC is called
// (best-effort — its failure is logged and the host is submitted for
// termination regardless) before the host moves to the termination queue
// with its sender's default delay.
func (w *Worker) ProcessDrainQueue(ctx context.Context) error {
	host, ok, err := w.client.ReceiveDrain(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	if host.Hostname == "" {
		if err := w.client.submitForTermination(ctx, host, host.Sender, 0); err != nil {
			return err
		}
		metrics.DrainQueueMessagesProcessed.WithLabelValues("drain", "terminated").Inc()
		return w.client.DeleteDrainMessage(ctx, host.ReceiptHandle)
	}

	startNanos := time.Now().UnixNano()
	timeout := w.cfg.MaintenanceTimeout
	if timeout <= 0 {
		timeout = defaultMaintenanceTimeout
	}
	hostStr := host.Hostname + "|" + host.IP
	if err := w.maintenance.Drain(ctx, []string{hostStr}, startNanos, timeout.Nanoseconds()); err != nil {
		w.logger.Warn("maintenance drain RPC failed, submitting for termination anyway",
			"cluster", w.cfg.Cluster, "instance", host.InstanceID, "error", err)
		metrics.MaintenanceRPCFailures.WithLabelValues("drain").Inc()
	}

	delaySeconds := int32(w.terminationDelay(host.Sender) / time.Second)
	if err := w.client.submitForTermination(ctx, host, host.Sender, delaySeconds); err != nil {
		return err
	}
	metrics.DrainQueueMessagesProcessed.WithLabelValues("drain", "terminated").Inc()
	return w.client.DeleteDrainMessage(ctx, host.ReceiptHandle)
}

// ProcessTerminationQueue handles one message off the termination queue: a
// host with a known hostname is marked down, terminated, then marked up,
// bracketing the cloud-side termination with best-effort cluster-scheduler
// state changes; a hostless host is terminated directly.
func (w *Worker) ProcessTerminationQueue(ctx context.Context) error {
	host, ok, err := w.client.ReceiveTermination(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	if host.Hostname != "" {
		hostStr := host.Hostname + "|" + host.IP
		if err := w.maintenance.Down(ctx, []string{hostStr}); err != nil {
			w.logger.Warn("maintenance down RPC failed", "cluster", w.cfg.Cluster, "instance", host.InstanceID, "error", err)
			metrics.MaintenanceRPCFailures.WithLabelValues("down").Inc()
		}
		if err := w.terminateHost(ctx, host); err != nil {
			return err
		}
		if err := w.maintenance.Up(ctx, []string{hostStr}); err != nil {
			w.logger.Warn("maintenance up RPC failed", "cluster", w.cfg.Cluster, "instance", host.InstanceID, "error", err)
			metrics.MaintenanceRPCFailures.WithLabelValues("up").Inc()
		}
	} else {
		if err := w.terminateHost(ctx, host); err != nil {
			return err
		}
	}

	metrics.DrainQueueMessagesProcessed.WithLabelValues("termination", "deleted").Inc()
	return w.client.DeleteTerminationMessage(ctx, host.ReceiptHandle)
}

// terminateHost looks up the resource-group backend registered under
// host.Sender, builds a transient handle onto host.GroupID, and terminates
// the single instance through it.
func (w *Worker) terminateHost(ctx context.Context, host Host) error {
	factory, ok := resourcegroup.Lookup(host.Sender)
	if !ok {
		return fmt.Errorf("drain: no resource group backend registered for sender %q", host.Sender)
	}
	groups, err := factory(ctx, w.cfg.Cluster, "", resourcegroup.Config{
		GroupID: host.GroupID,
		Region:  w.cfg.Region,
	})
	if err != nil {
		return fmt.Errorf("drain: build transient resource group handle for %q: %w", host.GroupID, err)
	}
	group, ok := groups[host.GroupID]
	if !ok {
		for _, g := range groups {
			group, ok = g, true
			break
		}
	}
	if !ok {
		return fmt.Errorf("drain: resource group backend %q returned no handle for group %q", host.Sender, host.GroupID)
	}
	return group.TerminateInstancesByID(ctx, []string{host.InstanceID}, 500)
}

func (w *Worker) terminationDelay(sender string) time.Duration {
	if d, ok := w.cfg.TerminationDelay[sender]; ok {
		return d
	}
	return defaultTerminationDelaySeconds * time.Second
}
