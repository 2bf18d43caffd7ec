package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/clustermantle/poolctl/internal/config"
	"github.com/clustermantle/poolctl/internal/drain"
)

var (
	drainCluster string
	metricsAddr  string
)

// drainCmd runs the long-lived drain/terminate queue worker for a single
// cluster.
var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Run the drain and termination queue worker for a cluster",
	RunE:  runDrain,
}

func init() {
	drainCmd.Flags().StringVar(&drainCluster, "cluster", "", "Cluster name to drain (required)")
	drainCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":8080", "Address to serve Prometheus metrics on")
	_ = drainCmd.MarkFlagRequired("cluster")
	rootCmd.AddCommand(drainCmd)
}

func runDrain(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	clusterCfg, ok := cfg.Clusters[drainCluster]
	if !ok {
		return fmt.Errorf("cluster %q is not configured", drainCluster)
	}

	client, err := buildDrainClient(ctx, clusterCfg)
	if err != nil {
		return fmt.Errorf("build drain client: %w", err)
	}

	k8sClient, err := buildK8sClient()
	if err != nil {
		return fmt.Errorf("build kubernetes client: %w", err)
	}
	maintenance := drain.NewK8sMaintenanceClient(k8sClient, nil, drain.K8sMaintenanceClientConfig{
		IgnoreDaemonSets: true,
	})

	terminationDelay := make(map[string]time.Duration, len(cfg.DrainTerminationTimeoutSeconds))
	for sender, seconds := range cfg.DrainTerminationTimeoutSeconds {
		terminationDelay[sender] = time.Duration(seconds) * time.Second
	}
	maintenanceTimeout := time.Duration(cfg.MesosMaintenanceTimeoutSeconds) * time.Second

	worker := drain.NewWorker(client, maintenance, drain.WorkerConfig{
		Cluster:            drainCluster,
		Region:             clusterCfg.AWSRegion,
		TerminationDelay:   terminationDelay,
		MaintenanceTimeout: maintenanceTimeout,
	}, nil)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(metricsAddr, mux); err != nil && err != http.ErrServerClosed {
			cmd.PrintErrf("metrics server failed: %v\n", err)
		}
	}()

	return worker.Run(ctx)
}
