package drain

import (
	"context"
	"sync"

	"github.com/clustermantle/poolctl/internal/resourcegroup"
	"github.com/clustermantle/poolctl/internal/resources"
)

const fakeBackendKind = "drain-test-fake"

func init() {
	resourcegroup.Register("faketest", fakeBackendKind, newFakeBackendGroups)
}

// fakeBackendGroup is a minimal ResourceGroup test double used only to
// exercise terminateHost's registry lookup + TerminateInstancesByID call,
// without reaching any real cloud API.
type fakeBackendGroup struct {
	mu             sync.Mutex
	id             string
	terminateCalls [][]string
}

func newFakeBackendGroups(ctx context.Context, cluster, pool string, cfg resourcegroup.Config) (map[string]resourcegroup.ResourceGroup, error) {
	g := &fakeBackendGroup{id: cfg.GroupID}
	fakeBackendRegistry.put(g)
	return map[string]resourcegroup.ResourceGroup{g.id: g}, nil
}

// fakeBackendRegistry lets a test retrieve the fakeBackendGroup instance the
// factory most recently constructed, since the Worker only ever sees the
// ResourceGroup interface.
var fakeBackendRegistry = &fakeGroupRegistry{}

type fakeGroupRegistry struct {
	mu     sync.Mutex
	latest *fakeBackendGroup
}

func (r *fakeGroupRegistry) put(g *fakeBackendGroup) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latest = g
}

func (r *fakeGroupRegistry) last() *fakeBackendGroup {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latest
}

func (g *fakeBackendGroup) ID() string                          { return g.id }
func (g *fakeBackendGroup) IsStale() bool                       { return false }
func (g *fakeBackendGroup) TargetCapacity() resources.Vector    { return resources.Vector{} }
func (g *fakeBackendGroup) FulfilledCapacity() resources.Vector { return resources.Vector{} }
func (g *fakeBackendGroup) MinCapacity() resources.Vector       { return resources.Vector{} }
func (g *fakeBackendGroup) MaxCapacity() resources.Vector       { return resources.Vector{} }
func (g *fakeBackendGroup) MarketCapacities() map[resourcegroup.Market]resources.Vector {
	return nil
}
func (g *fakeBackendGroup) ScaleUpOptions(ctx context.Context) ([]resourcegroup.NodeMetadata, error) {
	return nil, nil
}
func (g *fakeBackendGroup) InstanceMetadatas(ctx context.Context, stateFilter map[string]bool) ([]resourcegroup.InstanceMetadata, error) {
	return nil, nil
}
func (g *fakeBackendGroup) ModifyTargetCapacity(ctx context.Context, actions resourcegroup.ResourceGroupActions, dryRun bool) error {
	return nil
}

func (g *fakeBackendGroup) TerminateInstancesByID(ctx context.Context, instanceIDs []string, batchSize int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.terminateCalls = append(g.terminateCalls, instanceIDs)
	return nil
}

func (g *fakeBackendGroup) MarkStale(ctx context.Context, dryRun bool) error {
	return resourcegroup.ErrMarkStaleUnsupported
}

var _ resourcegroup.ResourceGroup = (*fakeBackendGroup)(nil)
