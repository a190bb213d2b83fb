// Package leads holds tenant lead records, the items dispatched to agents.
package leads

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lead does not exist for the tenant.
var ErrNotFound = errors.New("lead not found")

// Lead is one prospect owned by a tenant.
type Lead struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenant_id"`
	Email       string     `json:"email"`
	Company     string     `json:"company"`
	Industry    string     `json:"industry"`
	Location    string     `json:"location"`
	Status      string     `json:"status"`
	Qualified   bool       `json:"qualified"`
	Score       *int       `json:"score,omitempty"`
	QualifiedAt *time.Time `json:"qualified_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Filter narrows a lead listing. Zero values match everything.
type Filter struct {
	Industry  string `json:"industry,omitempty"`
	Location  string `json:"location,omitempty"`
	Status    string `json:"status,omitempty"`
	Qualified *bool  `json:"qualified,omitempty"`
}

// Store is the lead persistence boundary consumed by the fan-out planner and
// the built-in agents.
type Store interface {
	Get(ctx context.Context, tenantID, id string) (Lead, error)
	// List returns the tenant's leads matching the filter in the store's
	// natural order (creation order).
	List(ctx context.Context, tenantID string, f Filter) ([]Lead, error)
	// SetQualification records an agent's qualification result.
	SetQualification(ctx context.Context, tenantID, id string, score int) error
}
