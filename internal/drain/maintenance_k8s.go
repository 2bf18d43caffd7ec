package drain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	policyv1 "k8s.io/api/policy/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// K8sMaintenanceClientConfig configures the Kubernetes-backed
// MaintenanceClient.
type K8sMaintenanceClientConfig struct {
	// GracePeriodSeconds is passed to each pod eviction.
	GracePeriodSeconds int64
	// IgnoreDaemonSets skips DaemonSet-owned pods during Drain, since they
	// are recreated on every node regardless and evicting them accomplishes
	// nothing.
	IgnoreDaemonSets bool
}

// K8sMaintenanceClient implements MaintenanceClient against a live cluster:
// Down/Up cordon and uncordon the node, and Drain evicts its pods through
// the Eviction API so PodDisruptionBudgets are respected.
type K8sMaintenanceClient struct {
	client kubernetes.Interface
	logger *slog.Logger
	cfg    K8sMaintenanceClientConfig
}

// NewK8sMaintenanceClient builds a MaintenanceClient backed by client.
func NewK8sMaintenanceClient(client kubernetes.Interface, logger *slog.Logger, cfg K8sMaintenanceClientConfig) *K8sMaintenanceClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &K8sMaintenanceClient{client: client, logger: logger, cfg: cfg}
}

// hostNodeName extracts the node name from a "hostname|ip" operator host
// string.
func hostNodeName(host string) string {
	name, _, _ := strings.Cut(host, "|")
	return name
}

// Drain cordons each host's node and evicts its pods, skipping mirror pods
// and, when IgnoreDaemonSets is set, DaemonSet pods, bounded by the maintenance window [startNanos, startNanos+durationNanos).
// A single pod's eviction failure is logged and does not abort the rest of
// the window; the node remains a termination candidate either way, since
// drain/down/up failures are treated as best-effort.
func (k *K8sMaintenanceClient) Drain(ctx context.Context, hosts []string, startNanos, durationNanos int64) error {
	deadline := time.Unix(0, startNanos).Add(time.Duration(durationNanos))
	dctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	for _, host := range hosts {
		nodeName := hostNodeName(host)
		if err := k.cordon(dctx, nodeName); err != nil {
			k.logger.Warn("maintenance drain: cordon failed", "node", nodeName, "error", err)
			continue
		}
		if err := k.evictPods(dctx, nodeName); err != nil {
			k.logger.Warn("maintenance drain: evict failed", "node", nodeName, "error", err)
		}
	}
	return nil
}

// Down cordons each host's node, marking it unschedulable immediately before
// cloud-side termination.
func (k *K8sMaintenanceClient) Down(ctx context.Context, hosts []string) error {
	for _, host := range hosts {
		nodeName := hostNodeName(host)
		if err := k.cordon(ctx, nodeName); err != nil {
			k.logger.Warn("maintenance down: cordon failed", "node", nodeName, "error", err)
		}
	}
	return nil
}

// Up uncordons each host's node.
func (k *K8sMaintenanceClient) Up(ctx context.Context, hosts []string) error {
	for _, host := range hosts {
		nodeName := hostNodeName(host)
		if err := k.uncordon(ctx, nodeName); err != nil {
			k.logger.Warn("maintenance up: uncordon failed", "node", nodeName, "error", err)
		}
	}
	return nil
}

func (k *K8sMaintenanceClient) cordon(ctx context.Context, nodeName string) error {
	node, err := k.client.CoreV1().Nodes().Get(ctx, nodeName, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil
		}
		return err
	}
	if node.Spec.Unschedulable {
		return nil
	}
	node.Spec.Unschedulable = true
	_, err = k.client.CoreV1().Nodes().Update(ctx, node, metav1.UpdateOptions{})
	return err
}

func (k *K8sMaintenanceClient) uncordon(ctx context.Context, nodeName string) error {
	node, err := k.client.CoreV1().Nodes().Get(ctx, nodeName, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil
		}
		return err
	}
	if !node.Spec.Unschedulable {
		return nil
	}
	node.Spec.Unschedulable = false
	_, err = k.client.CoreV1().Nodes().Update(ctx, node, metav1.UpdateOptions{})
	return err
}

func (k *K8sMaintenanceClient) evictPods(ctx context.Context, nodeName string) error {
	pods, err := k.client.CoreV1().Pods("").List(ctx, metav1.ListOptions{
		FieldSelector: fmt.Sprintf("spec.nodeName=%s", nodeName),
	})
	if err != nil {
		return fmt.Errorf("list pods on %s: %w", nodeName, err)
	}

	for _, pod := range pods.Items {
		if k.cfg.IgnoreDaemonSets && isDaemonSetPod(&pod) {
			continue
		}
		if isMirrorPod(&pod) {
			continue
		}
		if err := k.evictPod(ctx, &pod); err != nil {
			k.logger.Warn("evict pod failed", "pod", pod.Name, "namespace", pod.Namespace, "node", nodeName, "error", err)
		}
	}
	return nil
}

func (k *K8sMaintenanceClient) evictPod(ctx context.Context, pod *corev1.Pod) error {
	eviction := &policyv1.Eviction{
		ObjectMeta: metav1.ObjectMeta{
			Name:      pod.Name,
			Namespace: pod.Namespace,
		},
		DeleteOptions: &metav1.DeleteOptions{
			GracePeriodSeconds: &k.cfg.GracePeriodSeconds,
		},
	}
	err := k.client.CoreV1().Pods(pod.Namespace).EvictV1(ctx, eviction)
	if err != nil && !apierrors.IsNotFound(err) {
		return err
	}
	return nil
}

func isDaemonSetPod(pod *corev1.Pod) bool {
	for _, owner := range pod.OwnerReferences {
		if owner.Kind == "DaemonSet" {
			return true
		}
	}
	return false
}

func isMirrorPod(pod *corev1.Pod) bool {
	_, ok := pod.Annotations[corev1.MirrorPodAnnotationKey]
	return ok
}

var _ MaintenanceClient = (*K8sMaintenanceClient)(nil)
