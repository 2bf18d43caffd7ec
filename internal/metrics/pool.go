package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ResourceGroupModificationFailed counts resource group apply failures during
// ModifyTargetCapacity, tagged by cluster and pool.
var ResourceGroupModificationFailed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "clusterman",
		Name:      "resource_group_modification_failed_total",
		Help:      "Resource group target-capacity modifications that failed and were skipped",
	},
	[]string{"cluster", "pool"},
)
