package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"lead-agent-orchestrator/internal/models"
	"lead-agent-orchestrator/internal/telemetry"
	"lead-agent-orchestrator/internal/vault"
)

// TenantCache memoizes agent instances per (tenant, agentType). Construction
// of the same key collapses to a single flight; different tenants never block
// each other. Invalidate is the only eviction path: entries have no TTL, so a
// rotated credential is stale until the rotation calls Invalidate. That gap
// is deliberate; per-tenant instance count is bounded by subscribed types.
type TenantCache struct {
	mu        sync.RWMutex
	instances map[string]map[string]Agent // tenant -> agentType -> instance
	gens      map[string]uint64           // tenant -> invalidation generation

	group    singleflight.Group
	registry *Registry
	vault    vault.Vault
	deps     Deps
	logger   *slog.Logger
}

// NewTenantCache builds an empty cache.
func NewTenantCache(registry *Registry, v vault.Vault, deps Deps, logger *slog.Logger) *TenantCache {
	return &TenantCache{
		instances: make(map[string]map[string]Agent),
		gens:      make(map[string]uint64),
		registry:  registry,
		vault:     v,
		deps:      deps,
		logger:    logger.With("component", "agent_cache"),
	}
}

// GetOrCreate returns the tenant's instance for the agent type, constructing
// it on first use. A cache hit never re-reads credentials. All failures are
// reported as *models.AgentConstructionError.
func (c *TenantCache) GetOrCreate(ctx context.Context, tenantID, agentType string) (Agent, error) {
	c.mu.RLock()
	if inst, ok := c.instances[tenantID][agentType]; ok {
		c.mu.RUnlock()
		telemetry.CacheHits.Inc()
		return inst, nil
	}
	c.mu.RUnlock()
	telemetry.CacheMisses.Inc()

	key := tenantID + "/" + agentType
	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.construct(ctx, tenantID, agentType)
	})
	if err != nil {
		return nil, err
	}
	return v.(Agent), nil
}

func (c *TenantCache) construct(ctx context.Context, tenantID, agentType string) (Agent, error) {
	c.mu.RLock()
	inst, hit := c.instances[tenantID][agentType]
	gen := c.gens[tenantID]
	c.mu.RUnlock()
	if hit {
		return inst, nil
	}

	fail := func(reason string, err error) (Agent, error) {
		c.logger.Warn("agent construction failed",
			"tenant_id", tenantID, "agent_type", agentType, "reason", reason, "error", err)
		msg := reason
		if err != nil {
			msg = fmt.Sprintf("%s: %v", reason, err)
		}
		return nil, &models.AgentConstructionError{TenantID: tenantID, AgentType: agentType, Reason: msg}
	}

	if !c.registry.CheckEntitlement(ctx, tenantID, agentType) {
		return fail("tenant plan does not include agent", nil)
	}
	bundle, err := c.vault.GetCredentialBundle(ctx, tenantID, agentType)
	if err != nil {
		return fail("load credential bundle", err)
	}
	if !bundle.Enabled {
		return fail("credentials disabled for tenant", nil)
	}
	ctor, err := c.registry.Resolve(agentType)
	if err != nil {
		return fail("resolve constructor", err)
	}
	instance, err := ctor(ctx, bundle, c.deps)
	if err != nil {
		return fail("constructor", err)
	}

	c.mu.Lock()
	// An Invalidate that raced this construction bumped the generation;
	// hand the instance to waiting callers but do not cache it.
	if c.gens[tenantID] == gen {
		if c.instances[tenantID] == nil {
			c.instances[tenantID] = make(map[string]Agent)
		}
		c.instances[tenantID][agentType] = instance
	}
	c.mu.Unlock()
	return instance, nil
}

// Invalidate drops every cached instance for the tenant. Called when the
// tenant's credentials change.
func (c *TenantCache) Invalidate(tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.instances, tenantID)
	c.gens[tenantID]++
}
