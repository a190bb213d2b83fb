package leads

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process lead store for tests and local development.
type Memory struct {
	mu    sync.RWMutex
	rows  map[string]map[string]Lead // tenant -> id -> lead
	order map[string][]string        // tenant -> insertion order
}

// NewMemory constructs an empty in-memory lead store.
func NewMemory() *Memory {
	return &Memory{
		rows:  make(map[string]map[string]Lead),
		order: make(map[string][]string),
	}
}

// Put inserts or replaces a lead. Test seeding helper.
func (m *Memory) Put(lead Lead) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rows[lead.TenantID] == nil {
		m.rows[lead.TenantID] = make(map[string]Lead)
	}
	if _, exists := m.rows[lead.TenantID][lead.ID]; !exists {
		m.order[lead.TenantID] = append(m.order[lead.TenantID], lead.ID)
	}
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = time.Now().UTC()
	}
	m.rows[lead.TenantID][lead.ID] = lead
}

func (m *Memory) Get(_ context.Context, tenantID, id string) (Lead, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lead, ok := m.rows[tenantID][id]
	if !ok {
		return Lead{}, ErrNotFound
	}
	return lead, nil
}

func matches(l Lead, f Filter) bool {
	if f.Industry != "" && l.Industry != f.Industry {
		return false
	}
	if f.Location != "" && l.Location != f.Location {
		return false
	}
	if f.Status != "" && l.Status != f.Status {
		return false
	}
	if f.Qualified != nil && l.Qualified != *f.Qualified {
		return false
	}
	return true
}

func (m *Memory) List(_ context.Context, tenantID string, f Filter) ([]Lead, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.order[tenantID]
	out := make([]Lead, 0, len(ids))
	for _, id := range ids {
		if l, ok := m.rows[tenantID][id]; ok && matches(l, f) {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

func (m *Memory) SetQualification(_ context.Context, tenantID, id string, score int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	lead, ok := m.rows[tenantID][id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	lead.Qualified = true
	lead.Score = &score
	lead.QualifiedAt = &now
	lead.Status = "qualified"
	m.rows[tenantID][id] = lead
	return nil
}
