// Package agent holds the per-tenant worker capabilities: the typed registry
// that maps agent types to constructors, the tenant cache that memoizes
// constructed instances, and the built-in qualifier agents.
package agent

import (
	"context"
	"log/slog"
	"net/http"

	"lead-agent-orchestrator/internal/leads"
	"lead-agent-orchestrator/internal/models"
)

// Agent is an opaque unit of work bound at construction to one tenant's
// credentials. It processes one item and reports success or failure. An
// instance is never shared across tenants.
type Agent interface {
	ProcessItem(ctx context.Context, itemRef string) error
}

// Deps carries the collaborators handed to every constructor. Credentials are
// not in here; they arrive per-construction via the bundle.
type Deps struct {
	Leads      leads.Store
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Constructor builds one agent instance for the tenant named in the bundle.
type Constructor func(ctx context.Context, bundle models.CredentialBundle, deps Deps) (Agent, error)
