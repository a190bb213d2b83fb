package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"lead-agent-orchestrator/internal/entitlement"
)

// ErrUnknownAgentType is returned when no constructor is registered for a type.
var ErrUnknownAgentType = errors.New("unknown agent type")

// Registry maps agent-type identifiers to constructors and gates construction
// on subscription entitlement.
type Registry struct {
	constructors map[string]Constructor
	entitlements entitlement.Source
	logger       *slog.Logger
}

// NewRegistry builds an empty registry over the given entitlement source.
func NewRegistry(ent entitlement.Source, logger *slog.Logger) *Registry {
	return &Registry{
		constructors: make(map[string]Constructor),
		entitlements: ent,
		logger:       logger.With("component", "agent_registry"),
	}
}

// Register binds a constructor to an agent type. Registration happens at
// wiring time, before any lookups.
func (r *Registry) Register(agentType string, c Constructor) {
	if agentType == "" || c == nil {
		return
	}
	r.constructors[agentType] = c
}

// Resolve returns the constructor for the agent type.
func (r *Registry) Resolve(agentType string) (Constructor, error) {
	c, ok := r.constructors[agentType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAgentType, agentType)
	}
	return c, nil
}

// Types returns the registered agent types.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.constructors))
	for t := range r.constructors {
		out = append(out, t)
	}
	return out
}

// CheckEntitlement reports whether the tenant's plan includes the agent type.
// This is a security boundary: any lookup error fails closed.
func (r *Registry) CheckEntitlement(ctx context.Context, tenantID, agentType string) bool {
	ok, err := r.entitlements.PlanIncludesAgent(ctx, tenantID, agentType)
	if err != nil {
		r.logger.Warn("entitlement lookup failed, denying",
			"tenant_id", tenantID, "agent_type", agentType, "error", err)
		return false
	}
	return ok
}
