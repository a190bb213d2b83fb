package vault

import (
	"context"
	"sync"

	"lead-agent-orchestrator/internal/models"
)

// Memory is an in-process vault for tests.
type Memory struct {
	mu      sync.RWMutex
	bundles map[string]models.CredentialBundle
}

func NewMemory() *Memory {
	return &Memory{bundles: make(map[string]models.CredentialBundle)}
}

func (m *Memory) GetCredentialBundle(_ context.Context, tenantID, agentType string) (models.CredentialBundle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bundle, ok := m.bundles[bundleKey(tenantID, agentType)]
	if !ok {
		return models.CredentialBundle{}, ErrNotFound
	}
	return bundle, nil
}

func (m *Memory) PutCredentialBundle(_ context.Context, bundle models.CredentialBundle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bundles[bundleKey(bundle.TenantID, bundle.AgentType)] = bundle
	return nil
}
