// Package config loads the pool and cluster configuration: per-pool scaling
// limits and resource group lists, plus cluster-wide queue URLs and
// maintenance timeouts. All values come from the YAML file; nothing here is
// silently defaulted beyond what is explicitly optional (the per-sender
// termination delay and the maintenance timeout).
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/clustermantle/poolctl/internal/pool"
	"github.com/clustermantle/poolctl/internal/resourcegroup"
	"github.com/clustermantle/poolctl/internal/resources"
)

// Config is the full configuration file: every pool this agent manages,
// every cluster it talks to, and the cluster-wide drain pipeline timeouts.
type Config struct {
	Pools    map[string]PoolConfig    `yaml:"pools"`
	Clusters map[string]ClusterConfig `yaml:"mesos_clusters"`

	// DrainTerminationTimeoutSeconds overrides the termination-queue delay
	// per resource-group sender tag (drain_termination_timeout_seconds.<sender>).
	DrainTerminationTimeoutSeconds map[string]int `yaml:"drain_termination_timeout_seconds"`

	// MesosMaintenanceTimeoutSeconds bounds the cluster maintenance window
	// passed to the drain operator RPC. Zero means "use the pipeline's
	// built-in default" (drain.defaultMaintenanceTimeout).
	MesosMaintenanceTimeoutSeconds int `yaml:"mesos_maintenance_timeout_seconds"`
}

// ClusterConfig is a single cluster's namespace:
// mesos_clusters.<cluster>.{drain_queue_url, termination_queue_url, fqdn, aws_region}.
type ClusterConfig struct {
	DrainQueueURL       string `yaml:"drain_queue_url"`
	TerminationQueueURL string `yaml:"termination_queue_url"`
	FQDN                string `yaml:"fqdn"`
	AWSRegion           string `yaml:"aws_region"`
}

// PoolConfig is a single pool's namespace: which cluster it belongs to, its
// scaling limits, whether pruned nodes are drained or terminated directly,
// and its ordered resource group list.
type PoolConfig struct {
	Cluster         string               `yaml:"cluster"`
	ScalingLimits   ScalingLimitsConfig  `yaml:"scaling_limits"`
	DrainingEnabled bool                 `yaml:"draining_enabled"`
	ResourceGroups  []ResourceGroupEntry `yaml:"resource_groups"`
}

// ScalingLimitsConfig is scaling_limits.{min,max}_capacity_{cpus,mem,disk,gpus}
// and scaling_limits.max_{cpus,mem,disk,gpus}_to_{add,remove} plus
// max_tasks_to_kill, per resource dimension.
type ScalingLimitsConfig struct {
	MinCapacityCPUs float64 `yaml:"min_capacity_cpus"`
	MinCapacityMem  float64 `yaml:"min_capacity_mem"`
	MinCapacityDisk float64 `yaml:"min_capacity_disk"`
	MinCapacityGPUs float64 `yaml:"min_capacity_gpus"`

	MaxCapacityCPUs float64 `yaml:"max_capacity_cpus"`
	MaxCapacityMem  float64 `yaml:"max_capacity_mem"`
	MaxCapacityDisk float64 `yaml:"max_capacity_disk"`
	MaxCapacityGPUs float64 `yaml:"max_capacity_gpus"`

	MaxCPUsToAdd float64 `yaml:"max_cpus_to_add"`
	MaxMemToAdd  float64 `yaml:"max_mem_to_add"`
	MaxDiskToAdd float64 `yaml:"max_disk_to_add"`
	MaxGPUsToAdd float64 `yaml:"max_gpus_to_add"`

	MaxCPUsToRemove float64 `yaml:"max_cpus_to_remove"`
	MaxMemToRemove  float64 `yaml:"max_mem_to_remove"`
	MaxDiskToRemove float64 `yaml:"max_disk_to_remove"`
	MaxGPUsToRemove float64 `yaml:"max_gpus_to_remove"`

	// MaxTasksToKill is either a non-negative integer or the literal string
	// "inf".
	MaxTasksToKill MaxTasksToKill `yaml:"max_tasks_to_kill"`
}

// MaxTasksToKill decodes either a YAML integer or the string "inf" into the
// pool package's UnlimitedTasksToKill sentinel.
type MaxTasksToKill int

func (m *MaxTasksToKill) UnmarshalYAML(value *yaml.Node) error {
	if strings.EqualFold(strings.TrimSpace(value.Value), "inf") {
		*m = MaxTasksToKill(pool.UnlimitedTasksToKill)
		return nil
	}
	var n int
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("max_tasks_to_kill must be a non-negative integer or \"inf\": %w", err)
	}
	if n < 0 {
		return fmt.Errorf("max_tasks_to_kill must be a non-negative integer or \"inf\", got %d", n)
	}
	*m = MaxTasksToKill(n)
	return nil
}

// ResourceGroupEntry is one element of the pool config's resource_groups
// list: a single-key mapping {<tag>: <backend-specific config>}. Tag
// dispatches to a resourcegroup.Factory via the registry; unknown tags are a
// loader-time concern (logged and skipped), not a config-parse error.
type ResourceGroupEntry struct {
	Tag    string
	Config resourcegroup.Config
}

func (e *ResourceGroupEntry) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode || len(value.Content) != 2 {
		return fmt.Errorf("resource group entry must be a single-key mapping (got %d keys)", len(value.Content)/2)
	}
	tag := value.Content[0].Value
	var cfg resourcegroup.Config
	if err := value.Content[1].Decode(&cfg); err != nil {
		return fmt.Errorf("resource group entry %q: %w", tag, err)
	}
	e.Tag = tag
	e.Config = cfg
	return nil
}

// Load reads and validates a configuration file from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks that every pool names a cluster that exists and that its
// scaling limits are internally consistent (min <= max per resource).
func (c *Config) Validate() error {
	if len(c.Pools) == 0 {
		return fmt.Errorf("config: at least one pool is required")
	}
	for name, p := range c.Pools {
		if p.Cluster == "" {
			return fmt.Errorf("pool %q: cluster is required", name)
		}
		if _, ok := c.Clusters[p.Cluster]; !ok {
			return fmt.Errorf("pool %q: cluster %q is not configured", name, p.Cluster)
		}
		if err := p.ScalingLimits.validate(); err != nil {
			return fmt.Errorf("pool %q: %w", name, err)
		}
	}
	for name, cl := range c.Clusters {
		if cl.DrainQueueURL == "" {
			return fmt.Errorf("cluster %q: drain_queue_url is required", name)
		}
		if cl.TerminationQueueURL == "" {
			return fmt.Errorf("cluster %q: termination_queue_url is required", name)
		}
		if cl.AWSRegion == "" {
			return fmt.Errorf("cluster %q: aws_region is required", name)
		}
	}
	return nil
}

func (s ScalingLimitsConfig) validate() error {
	pairs := []struct {
		name     string
		min, max float64
	}{
		{"cpus", s.MinCapacityCPUs, s.MaxCapacityCPUs},
		{"mem", s.MinCapacityMem, s.MaxCapacityMem},
		{"disk", s.MinCapacityDisk, s.MaxCapacityDisk},
		{"gpus", s.MinCapacityGPUs, s.MaxCapacityGPUs},
	}
	for _, p := range pairs {
		if p.min > p.max {
			return fmt.Errorf("scaling_limits: min_capacity_%s (%v) exceeds max_capacity_%s (%v)", p.name, p.min, p.name, p.max)
		}
	}
	return nil
}

// ToPoolConfig builds the pool package's Config from this pool's scaling
// limits, bridging the YAML per-field layout to the pool package's Vector
// fields.
func (p PoolConfig) ToPoolConfig(clusterName, poolName string) pool.Config {
	return pool.Config{
		Cluster: clusterName,
		Pool:    poolName,
		MinCapacity: resources.Vector{
			CPUs: p.ScalingLimits.MinCapacityCPUs, Mem: p.ScalingLimits.MinCapacityMem,
			Disk: p.ScalingLimits.MinCapacityDisk, GPUs: p.ScalingLimits.MinCapacityGPUs,
		},
		MaxCapacity: resources.Vector{
			CPUs: p.ScalingLimits.MaxCapacityCPUs, Mem: p.ScalingLimits.MaxCapacityMem,
			Disk: p.ScalingLimits.MaxCapacityDisk, GPUs: p.ScalingLimits.MaxCapacityGPUs,
		},
		MaxCapacityToAdd: resources.Vector{
			CPUs: p.ScalingLimits.MaxCPUsToAdd, Mem: p.ScalingLimits.MaxMemToAdd,
			Disk: p.ScalingLimits.MaxDiskToAdd, GPUs: p.ScalingLimits.MaxGPUsToAdd,
		},
		MaxCapacityToRemove: resources.Vector{
			CPUs: p.ScalingLimits.MaxCPUsToRemove, Mem: p.ScalingLimits.MaxMemToRemove,
			Disk: p.ScalingLimits.MaxDiskToRemove, GPUs: p.ScalingLimits.MaxGPUsToRemove,
		},
		MaxTasksToKill:  int(p.ScalingLimits.MaxTasksToKill),
		DrainingEnabled: p.DrainingEnabled,
	}
}
