package pool

import (
	"context"
	"sync"

	"github.com/clustermantle/poolctl/internal/resourcegroup"
	"github.com/clustermantle/poolctl/internal/resources"
)

// fakeGroup is an in-memory ResourceGroup test double: one scale-up option
// of a fixed shape, a fixed instance list, and call recording for
// ModifyTargetCapacity/TerminateInstancesByID/MarkStale.
type fakeGroup struct {
	mu sync.Mutex

	id                string
	stale             bool
	min, max          resources.Vector
	target, fulfilled resources.Vector
	shape             resources.Vector
	market            resourcegroup.Market
	instances         []resourcegroup.InstanceMetadata

	markStaleUnsupported bool
	modifyCalls          []resourcegroup.ResourceGroupActions
	terminateCalls       [][]string
}

func (g *fakeGroup) ID() string { return g.id }

func (g *fakeGroup) IsStale() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stale
}

func (g *fakeGroup) TargetCapacity() resources.Vector    { return g.target }
func (g *fakeGroup) FulfilledCapacity() resources.Vector { return g.fulfilled }
func (g *fakeGroup) MinCapacity() resources.Vector       { return g.min }
func (g *fakeGroup) MaxCapacity() resources.Vector       { return g.max }

func (g *fakeGroup) MarketCapacities() map[resourcegroup.Market]resources.Vector {
	return map[resourcegroup.Market]resources.Vector{g.market: g.fulfilled}
}

func (g *fakeGroup) ScaleUpOptions(ctx context.Context) ([]resourcegroup.NodeMetadata, error) {
	return []resourcegroup.NodeMetadata{{
		Instance: resourcegroup.InstanceMetadata{GroupID: g.id, Market: g.market, Weight: 1},
		Agent:    resourcegroup.AgentMetadata{TotalResources: g.shape},
	}}, nil
}

func (g *fakeGroup) InstanceMetadatas(ctx context.Context, stateFilter map[string]bool) ([]resourcegroup.InstanceMetadata, error) {
	var out []resourcegroup.InstanceMetadata
	for _, inst := range g.instances {
		if stateFilter != nil && !stateFilter[inst.AWSState] {
			continue
		}
		out = append(out, inst)
	}
	return out, nil
}

func (g *fakeGroup) ModifyTargetCapacity(ctx context.Context, actions resourcegroup.ResourceGroupActions, dryRun bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.modifyCalls = append(g.modifyCalls, actions)
	return nil
}

func (g *fakeGroup) TerminateInstancesByID(ctx context.Context, instanceIDs []string, batchSize int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.terminateCalls = append(g.terminateCalls, instanceIDs)
	return nil
}

func (g *fakeGroup) MarkStale(ctx context.Context, dryRun bool) error {
	if g.markStaleUnsupported {
		return resourcegroup.ErrMarkStaleUnsupported
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !dryRun {
		g.stale = true
	}
	return nil
}

var _ resourcegroup.ResourceGroup = (*fakeGroup)(nil)
