package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clustermantle/poolctl/internal/config"
	"github.com/clustermantle/poolctl/internal/pool"
	"github.com/clustermantle/poolctl/internal/resources"
)

var (
	scalePool  string
	scaleCPUs  float64
	scaleMem   float64
	scaleDisk  float64
	scaleGPUs  float64
	scaleForce bool
)

// scaleCmd is a manual/debug entry point standing in for whatever upstream
// system would normally compute and emit a pool's target capacity.
var scaleCmd = &cobra.Command{
	Use:   "scale",
	Short: "Request a target capacity for a single pool and apply it once",
	RunE:  runScale,
}

func init() {
	scaleCmd.Flags().StringVar(&scalePool, "pool", "", "Pool name to scale (required)")
	scaleCmd.Flags().Float64Var(&scaleCPUs, "cpus", 0, "Requested target CPUs")
	scaleCmd.Flags().Float64Var(&scaleMem, "mem", 0, "Requested target memory")
	scaleCmd.Flags().Float64Var(&scaleDisk, "disk", 0, "Requested target disk")
	scaleCmd.Flags().Float64Var(&scaleGPUs, "gpus", 0, "Requested target GPUs")
	scaleCmd.Flags().BoolVar(&scaleForce, "force", false, "Bypass the pool's configured scaling limits")
	_ = scaleCmd.MarkFlagRequired("pool")
	rootCmd.AddCommand(scaleCmd)
}

func runScale(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	k8sClient, err := buildK8sClient()
	if err != nil {
		return fmt.Errorf("build kubernetes client: %w", err)
	}

	poolCfg, ok := cfg.Pools[scalePool]
	if !ok {
		return fmt.Errorf("pool %q is not configured", scalePool)
	}

	var drainer pool.DrainSubmitter
	if poolCfg.DrainingEnabled {
		client, err := buildDrainClient(ctx, cfg.Clusters[poolCfg.Cluster])
		if err != nil {
			return fmt.Errorf("build drain client: %w", err)
		}
		drainer = client
	}

	manager, err := buildManager(ctx, cfg, scalePool, k8sClient, drainer)
	if err != nil {
		return err
	}

	if err := manager.ReloadState(ctx); err != nil {
		return fmt.Errorf("reload pool state: %w", err)
	}

	requested := resources.Vector{CPUs: scaleCPUs, Mem: scaleMem, Disk: scaleDisk, GPUs: scaleGPUs}
	opts := pool.ModifyOptions{DryRun: IsDryRun(), Force: scaleForce}
	applied, err := manager.ModifyTargetCapacity(ctx, requested, opts)
	if err != nil {
		return fmt.Errorf("modify target capacity: %w", err)
	}

	cmd.Printf("applied target capacity: %+v\n", applied)
	return nil
}
