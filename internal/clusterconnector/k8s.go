package clusterconnector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	corev1 "k8s.io/api/core/v1"
	policyv1 "k8s.io/api/policy/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/kubernetes"

	"github.com/clustermantle/poolctl/internal/resources"
	"github.com/clustermantle/poolctl/internal/resourcegroup"
)

// K8sConnectorConfig configures the Kubernetes-backed Connector.
type K8sConnectorConfig struct {
	// BatchTaskSelector, when non-empty, is a label key whose presence on a
	// pod marks it as a batch task for AgentMetadata.BatchTaskCount.
	BatchTaskSelector string
}

// K8sConnector implements Connector using node/pod/PDB state from the
// Kubernetes API: a node's cluster-scheduler "agent" here is simply the
// kubelet registered as that node, and "tasks" are the pods bound to it.
type K8sConnector struct {
	client kubernetes.Interface
	logger *slog.Logger
	cfg    K8sConnectorConfig

	mu   sync.Mutex
	byIP map[string]resourcegroup.AgentMetadata
}

// NewK8sConnector creates a Connector backed by a live cluster. Call
// ReloadState before the first AgentMetadata lookup.
func NewK8sConnector(client kubernetes.Interface, logger *slog.Logger, cfg K8sConnectorConfig) *K8sConnector {
	if logger == nil {
		logger = slog.Default()
	}
	return &K8sConnector{
		client: client,
		logger: logger,
		cfg:    cfg,
		byIP:   make(map[string]resourcegroup.AgentMetadata),
	}
}

// ReloadState rebuilds the IP-keyed agent metadata map from the current
// node, pod and PodDisruptionBudget state.
func (c *K8sConnector) ReloadState(ctx context.Context) error {
	nodes, err := c.client.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return fmt.Errorf("clusterconnector: list nodes: %w", err)
	}
	pods, err := c.client.CoreV1().Pods("").List(ctx, metav1.ListOptions{})
	if err != nil {
		return fmt.Errorf("clusterconnector: list pods: %w", err)
	}
	pdbs, err := c.client.PolicyV1().PodDisruptionBudgets("").List(ctx, metav1.ListOptions{})
	if err != nil {
		return fmt.Errorf("clusterconnector: list pod disruption budgets: %w", err)
	}

	podsByNode := make(map[string][]corev1.Pod, len(nodes.Items))
	for _, pod := range pods.Items {
		if pod.Spec.NodeName == "" || isPodTerminal(&pod) {
			continue
		}
		podsByNode[pod.Spec.NodeName] = append(podsByNode[pod.Spec.NodeName], pod)
	}

	byIP := make(map[string]resourcegroup.AgentMetadata, len(nodes.Items))
	for _, node := range nodes.Items {
		ip := nodeInternalIP(&node)
		if ip == "" {
			continue
		}
		nodePods := podsByNode[node.Name]
		byIP[ip] = c.agentMetadataForNode(&node, nodePods, pdbs.Items)
	}

	c.mu.Lock()
	c.byIP = byIP
	c.mu.Unlock()
	return nil
}

func (c *K8sConnector) AgentMetadata(ipAddress string) resourcegroup.AgentMetadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	if meta, ok := c.byIP[ipAddress]; ok {
		return meta
	}
	// No matching agent: the cloud instance is an orphan as far as the
	// cluster scheduler is concerned.
	return resourcegroup.AgentMetadata{State: resourcegroup.AgentOrphaned, IsSafeToKill: true}
}

func (c *K8sConnector) agentMetadataForNode(node *corev1.Node, pods []corev1.Pod, pdbs []policyv1.PodDisruptionBudget) resourcegroup.AgentMetadata {
	nonDaemonSetCount := 0
	batchCount := 0
	allocated := resources.Vector{}
	safeToKill := true

	for i := range pods {
		pod := &pods[i]
		if isDaemonSetPod(pod) {
			continue
		}
		nonDaemonSetCount++
		if c.cfg.BatchTaskSelector != "" {
			if _, ok := pod.Labels[c.cfg.BatchTaskSelector]; ok {
				batchCount++
			}
		}
		allocated = allocated.Add(podRequestedResources(pod))
		if !podSafeToEvict(pod, pdbs) {
			safeToKill = false
		}
	}

	state := resourcegroup.AgentIdle
	if nonDaemonSetCount > 0 {
		state = resourcegroup.AgentRunning
	}

	return resourcegroup.AgentMetadata{
		State:              state,
		AllocatedResources: allocated,
		TotalResources:     nodeAllocatableResources(node),
		TaskCount:          nonDaemonSetCount,
		BatchTaskCount:     batchCount,
		IsSafeToKill:       safeToKill,
	}
}

func nodeInternalIP(node *corev1.Node) string {
	for _, addr := range node.Status.Addresses {
		if addr.Type == corev1.NodeInternalIP {
			return addr.Address
		}
	}
	return ""
}

const gpuResourceName = corev1.ResourceName("nvidia.com/gpu")

func nodeAllocatableResources(node *corev1.Node) resources.Vector {
	cpu := node.Status.Allocatable.Cpu()
	mem := node.Status.Allocatable.Memory()
	gpu := node.Status.Allocatable[gpuResourceName]

	return resources.Vector{
		CPUs: float64(cpu.MilliValue()) / 1000,
		Mem:  float64(mem.Value()) / (1024 * 1024 * 1024),
		GPUs: float64(gpu.Value()),
	}
}

func podRequestedResources(pod *corev1.Pod) resources.Vector {
	var v resources.Vector
	for _, container := range pod.Spec.Containers {
		cpu := container.Resources.Requests.Cpu()
		mem := container.Resources.Requests.Memory()
		gpu := container.Resources.Requests[gpuResourceName]
		v.CPUs += float64(cpu.MilliValue()) / 1000
		v.Mem += float64(mem.Value()) / (1024 * 1024 * 1024)
		v.GPUs += float64(gpu.Value())
	}
	return v
}

func isDaemonSetPod(pod *corev1.Pod) bool {
	for _, owner := range pod.OwnerReferences {
		if owner.Kind == "DaemonSet" {
			return true
		}
	}
	return false
}

func isPodTerminal(pod *corev1.Pod) bool {
	return pod.Status.Phase == corev1.PodSucceeded || pod.Status.Phase == corev1.PodFailed
}

// podSafeToEvict reports false if evicting pod would violate a matching
// PodDisruptionBudget that currently allows zero disruptions.
func podSafeToEvict(pod *corev1.Pod, pdbs []policyv1.PodDisruptionBudget) bool {
	for _, pdb := range pdbs {
		if pdb.Namespace != pod.Namespace {
			continue
		}
		selector, err := metav1.LabelSelectorAsSelector(pdb.Spec.Selector)
		if err != nil || selector.Empty() {
			continue
		}
		if !selector.Matches(labels.Set(pod.Labels)) {
			continue
		}
		if pdb.Status.DisruptionsAllowed == 0 {
			return false
		}
	}
	return true
}

var _ Connector = (*K8sConnector)(nil)
