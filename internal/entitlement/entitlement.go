// Package entitlement answers whether a tenant's plan includes an agent type.
package entitlement

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Source is the plan-feature lookup consumed by the agent registry. Callers
// must treat a lookup error the same as a negative answer.
type Source interface {
	PlanIncludesAgent(ctx context.Context, tenantID, agentType string) (bool, error)
}

// Postgres reads plan features from the plan_features table.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (s *Postgres) PlanIncludesAgent(ctx context.Context, tenantID, agentType string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM plan_features WHERE tenant_id = $1 AND agent_type = $2)
	`, tenantID, agentType).Scan(&ok)
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Static is an in-memory source for tests.
type Static struct {
	mu    sync.RWMutex
	plans map[string]map[string]bool
	err   error
}

func NewStatic() *Static {
	return &Static{plans: make(map[string]map[string]bool)}
}

// Grant entitles the tenant to the agent type.
func (s *Static) Grant(tenantID, agentType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.plans[tenantID] == nil {
		s.plans[tenantID] = make(map[string]bool)
	}
	s.plans[tenantID][agentType] = true
}

// FailWith makes every lookup return the given error.
func (s *Static) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *Static) PlanIncludesAgent(_ context.Context, tenantID, agentType string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return false, s.err
	}
	return s.plans[tenantID][agentType], nil
}
