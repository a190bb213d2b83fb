// Package vault reads tenant credential bundles. Bundles are stored sealed
// and only ever decrypted into process memory.
package vault

import (
	"context"
	"errors"

	"lead-agent-orchestrator/internal/models"
)

// ErrNotFound is returned when no bundle exists for the tenant/agent pair.
var ErrNotFound = errors.New("credential bundle not found")

// Vault is the credential store boundary consumed by the agent cache.
type Vault interface {
	GetCredentialBundle(ctx context.Context, tenantID, agentType string) (models.CredentialBundle, error)
}

// Writer is the operational seeding/rotation surface. Callers rotating
// credentials must invalidate the tenant's agent cache afterwards.
type Writer interface {
	PutCredentialBundle(ctx context.Context, bundle models.CredentialBundle) error
}
