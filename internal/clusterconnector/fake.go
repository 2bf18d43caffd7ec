package clusterconnector

import (
	"context"
	"sync"

	"github.com/clustermantle/poolctl/internal/resourcegroup"
)

// FakeConnector is an in-memory Connector for tests, keyed by IP address.
type FakeConnector struct {
	mu          sync.Mutex
	byIP        map[string]resourcegroup.AgentMetadata
	ReloadCalls int
	ReloadErr   error
}

// NewFakeConnector returns a FakeConnector with no registered agents; use
// Set to populate it before exercising code that calls AgentMetadata.
func NewFakeConnector() *FakeConnector {
	return &FakeConnector{byIP: make(map[string]resourcegroup.AgentMetadata)}
}

// Set registers the agent metadata to return for ipAddress.
func (f *FakeConnector) Set(ipAddress string, meta resourcegroup.AgentMetadata) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byIP[ipAddress] = meta
}

func (f *FakeConnector) ReloadState(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ReloadCalls++
	return f.ReloadErr
}

func (f *FakeConnector) AgentMetadata(ipAddress string) resourcegroup.AgentMetadata {
	f.mu.Lock()
	defer f.mu.Unlock()
	if meta, ok := f.byIP[ipAddress]; ok {
		return meta
	}
	return resourcegroup.AgentMetadata{State: resourcegroup.AgentOrphaned, IsSafeToKill: true}
}

var _ Connector = (*FakeConnector)(nil)
