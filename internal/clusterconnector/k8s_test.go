package clusterconnector

import (
	"context"
	"testing"

	corev1 "k8s.io/api/core/v1"
	policyv1 "k8s.io/api/policy/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	fakeclient "k8s.io/client-go/kubernetes/fake"

	"github.com/clustermantle/poolctl/internal/resourcegroup"
)

func nodeWithIP(name, ip string, cpu, memGiB int64) *corev1.Node {
	return &corev1.Node{
		ObjectMeta: metav1.ObjectMeta{Name: name},
		Status: corev1.NodeStatus{
			Addresses: []corev1.NodeAddress{{Type: corev1.NodeInternalIP, Address: ip}},
			Allocatable: corev1.ResourceList{
				corev1.ResourceCPU:    *resource.NewQuantity(cpu, resource.DecimalSI),
				corev1.ResourceMemory: *resource.NewQuantity(memGiB*1024*1024*1024, resource.BinarySI),
			},
		},
	}
}

func podOnNode(name, namespace, node string, owner string, cpuMilli int64, labels map[string]string) *corev1.Pod {
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace, Labels: labels},
		Spec: corev1.PodSpec{
			NodeName: node,
			Containers: []corev1.Container{{
				Name: "main",
				Resources: corev1.ResourceRequirements{
					Requests: corev1.ResourceList{
						corev1.ResourceCPU: *resource.NewMilliQuantity(cpuMilli, resource.DecimalSI),
					},
				},
			}},
		},
		Status: corev1.PodStatus{Phase: corev1.PodRunning},
	}
	if owner != "" {
		pod.OwnerReferences = []metav1.OwnerReference{{Kind: owner, Name: owner, APIVersion: "apps/v1"}}
	}
	return pod
}

func TestK8sConnector_OrphanForUnknownIP(t *testing.T) {
	client := fakeclient.NewSimpleClientset()
	c := NewK8sConnector(client, nil, K8sConnectorConfig{})
	if err := c.ReloadState(context.Background()); err != nil {
		t.Fatalf("ReloadState: %v", err)
	}
	meta := c.AgentMetadata("10.0.0.9")
	if meta.State != resourcegroup.AgentOrphaned {
		t.Errorf("State = %v, want AgentOrphaned", meta.State)
	}
}

func TestK8sConnector_IdleNode(t *testing.T) {
	node := nodeWithIP("node-a", "10.0.0.1", 4, 16)
	client := fakeclient.NewSimpleClientset(node)
	c := NewK8sConnector(client, nil, K8sConnectorConfig{})
	if err := c.ReloadState(context.Background()); err != nil {
		t.Fatalf("ReloadState: %v", err)
	}

	meta := c.AgentMetadata("10.0.0.1")
	if meta.State != resourcegroup.AgentIdle {
		t.Errorf("State = %v, want AgentIdle for a node with no pods", meta.State)
	}
	if meta.TotalResources.CPUs != 4 {
		t.Errorf("TotalResources.CPUs = %v, want 4", meta.TotalResources.CPUs)
	}
}

func TestK8sConnector_RunningNodeExcludesDaemonSets(t *testing.T) {
	node := nodeWithIP("node-a", "10.0.0.1", 8, 32)
	daemon := podOnNode("ds-pod", "default", "node-a", "DaemonSet", 100, nil)
	workload := podOnNode("app-pod", "default", "node-a", "ReplicaSet", 2000, map[string]string{"app": "web"})
	client := fakeclient.NewSimpleClientset(node, daemon, workload)

	c := NewK8sConnector(client, nil, K8sConnectorConfig{})
	if err := c.ReloadState(context.Background()); err != nil {
		t.Fatalf("ReloadState: %v", err)
	}

	meta := c.AgentMetadata("10.0.0.1")
	if meta.State != resourcegroup.AgentRunning {
		t.Errorf("State = %v, want AgentRunning", meta.State)
	}
	if meta.TaskCount != 1 {
		t.Errorf("TaskCount = %d, want 1 (DaemonSet pod excluded)", meta.TaskCount)
	}
	if meta.AllocatedResources.CPUs != 2 {
		t.Errorf("AllocatedResources.CPUs = %v, want 2", meta.AllocatedResources.CPUs)
	}
}

func TestK8sConnector_UnsafeToKillWithZeroDisruptionPDB(t *testing.T) {
	node := nodeWithIP("node-a", "10.0.0.1", 8, 32)
	pod := podOnNode("app-pod", "default", "node-a", "ReplicaSet", 1000, map[string]string{"app": "web"})
	pdb := &policyv1.PodDisruptionBudget{
		ObjectMeta: metav1.ObjectMeta{Name: "web-pdb", Namespace: "default"},
		Spec: policyv1.PodDisruptionBudgetSpec{
			Selector: &metav1.LabelSelector{MatchLabels: map[string]string{"app": "web"}},
		},
		Status: policyv1.PodDisruptionBudgetStatus{DisruptionsAllowed: 0},
	}
	client := fakeclient.NewSimpleClientset(node, pod, pdb)

	c := NewK8sConnector(client, nil, K8sConnectorConfig{})
	if err := c.ReloadState(context.Background()); err != nil {
		t.Fatalf("ReloadState: %v", err)
	}

	meta := c.AgentMetadata("10.0.0.1")
	if meta.IsSafeToKill {
		t.Error("IsSafeToKill = true, want false: matching PDB allows zero disruptions")
	}
}

func TestK8sConnector_SafeToKillWithHeadroomPDB(t *testing.T) {
	node := nodeWithIP("node-a", "10.0.0.1", 8, 32)
	pod := podOnNode("app-pod", "default", "node-a", "ReplicaSet", 1000, map[string]string{"app": "web"})
	pdb := &policyv1.PodDisruptionBudget{
		ObjectMeta: metav1.ObjectMeta{Name: "web-pdb", Namespace: "default"},
		Spec: policyv1.PodDisruptionBudgetSpec{
			Selector: &metav1.LabelSelector{MatchLabels: map[string]string{"app": "web"}},
		},
		Status: policyv1.PodDisruptionBudgetStatus{DisruptionsAllowed: 1},
	}
	client := fakeclient.NewSimpleClientset(node, pod, pdb)

	c := NewK8sConnector(client, nil, K8sConnectorConfig{})
	if err := c.ReloadState(context.Background()); err != nil {
		t.Fatalf("ReloadState: %v", err)
	}

	meta := c.AgentMetadata("10.0.0.1")
	if !meta.IsSafeToKill {
		t.Error("IsSafeToKill = false, want true: matching PDB still allows a disruption")
	}
}

func TestK8sConnector_BatchTaskSelector(t *testing.T) {
	node := nodeWithIP("node-a", "10.0.0.1", 8, 32)
	batch := podOnNode("job-pod", "default", "node-a", "Job", 500, map[string]string{"batch.kubernetes.io/job-name": "nightly"})
	client := fakeclient.NewSimpleClientset(node, batch)

	c := NewK8sConnector(client, nil, K8sConnectorConfig{BatchTaskSelector: "batch.kubernetes.io/job-name"})
	if err := c.ReloadState(context.Background()); err != nil {
		t.Fatalf("ReloadState: %v", err)
	}

	meta := c.AgentMetadata("10.0.0.1")
	if meta.BatchTaskCount != 1 {
		t.Errorf("BatchTaskCount = %d, want 1", meta.BatchTaskCount)
	}
}

var _ Connector = (*K8sConnector)(nil)
