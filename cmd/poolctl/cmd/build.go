package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/clustermantle/poolctl/internal/clusterconnector"
	"github.com/clustermantle/poolctl/internal/config"
	"github.com/clustermantle/poolctl/internal/drain"
	"github.com/clustermantle/poolctl/internal/pool"
	"github.com/clustermantle/poolctl/internal/resourcegroup"
)

// buildK8sClient resolves a Kubernetes client: in-cluster config first,
// falling back to a local kubeconfig.
func buildK8sClient() (kubernetes.Interface, error) {
	k8sConfig, err := rest.InClusterConfig()
	if err != nil {
		kubeconfig := os.Getenv("KUBECONFIG")
		if kubeconfig == "" {
			kubeconfig = os.Getenv("HOME") + "/.kube/config"
		}
		k8sConfig, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("load kubernetes config: %w", err)
		}
	}
	return kubernetes.NewForConfig(k8sConfig)
}

// buildResourceGroups dispatches a pool's configured resource_groups
// entries through the resourcegroup registry, returning them in config
// order alongside the sender tag each group was built under.
func buildResourceGroups(ctx context.Context, cluster, poolName string, entries []config.ResourceGroupEntry) ([]string, map[string]resourcegroup.ResourceGroup, map[string]string, error) {
	var order []string
	groups := make(map[string]resourcegroup.ResourceGroup)
	senders := make(map[string]string)

	for _, entry := range entries {
		factory, ok := resourcegroup.Lookup(entry.Tag)
		if !ok {
			slog.Warn("unknown resource group tag, skipping", "tag", entry.Tag, "pool", poolName)
			continue
		}
		built, err := factory(ctx, cluster, poolName, entry.Config)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("build resource group %q: %w", entry.Tag, err)
		}
		for id, g := range built {
			order = append(order, id)
			groups[id] = g
			senders[id] = entry.Tag
		}
	}
	return order, groups, senders, nil
}

// buildManager loads cfg's pool/cluster entries for poolName and assembles a
// pool.Manager ready for ModifyTargetCapacity calls. drainer may be nil when
// the pool has draining disabled.
func buildManager(ctx context.Context, cfg *config.Config, poolName string, k8sClient kubernetes.Interface, drainer pool.DrainSubmitter) (*pool.Manager, error) {
	poolCfg, ok := cfg.Pools[poolName]
	if !ok {
		return nil, fmt.Errorf("pool %q is not configured", poolName)
	}
	if _, ok := cfg.Clusters[poolCfg.Cluster]; !ok {
		return nil, fmt.Errorf("cluster %q is not configured", poolCfg.Cluster)
	}

	order, groups, senders, err := buildResourceGroups(ctx, poolCfg.Cluster, poolName, poolCfg.ResourceGroups)
	if err != nil {
		return nil, err
	}

	connector := clusterconnector.NewK8sConnector(k8sClient, slog.Default(), clusterconnector.K8sConnectorConfig{})
	if err := connector.ReloadState(ctx); err != nil {
		return nil, fmt.Errorf("reload cluster connector state: %w", err)
	}

	managerCfg := poolCfg.ToPoolConfig(poolCfg.Cluster, poolName)
	return pool.NewManager(managerCfg, order, groups, senders, connector, drainer, slog.Default()), nil
}

// buildDrainClient constructs the SQS-backed drain queue client for a
// cluster's configured queue URLs.
func buildDrainClient(ctx context.Context, clusterCfg config.ClusterConfig) (*drain.Client, error) {
	return drain.NewClient(ctx, clusterCfg.AWSRegion, clusterCfg.DrainQueueURL, clusterCfg.TerminationQueueURL)
}
