package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"lead-agent-orchestrator/internal/models"
)

// Memory is an in-process JobStore used in tests and single-node development.
type Memory struct {
	mu    sync.RWMutex
	jobs  map[string]models.Job
	audit []models.AuditLog
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{jobs: make(map[string]models.Job)}
}

func cloneJob(j models.Job) models.Job {
	out := j
	out.Items = make([]models.JobItem, len(j.Items))
	copy(out.Items, j.Items)
	return out
}

func (m *Memory) CreateJob(_ context.Context, job models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = cloneJob(job)
	return nil
}

func (m *Memory) UpdateJob(_ context.Context, id string, patch JobPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return models.ErrJobNotFound
	}
	if patch.Status != nil {
		job.Status = *patch.Status
	}
	if patch.Items != nil {
		job.Items = make([]models.JobItem, len(patch.Items))
		copy(job.Items, patch.Items)
		job.ItemsTotal = len(patch.Items)
	}
	if patch.ItemsProcessed != nil {
		job.ItemsProcessed = *patch.ItemsProcessed
	}
	if patch.ItemsSucceeded != nil {
		job.ItemsSucceeded = *patch.ItemsSucceeded
	}
	if patch.RetryCount != nil {
		job.RetryCount = *patch.RetryCount
	}
	if patch.LastError != nil {
		job.LastError = patch.LastError
	} else if patch.ClearError {
		job.LastError = nil
	}
	if patch.StartedAt != nil {
		job.StartedAt = patch.StartedAt
	}
	if patch.CompletedAt != nil {
		job.CompletedAt = patch.CompletedAt
	}
	job.UpdatedAt = time.Now().UTC()
	m.jobs[id] = job
	return nil
}

func (m *Memory) GetJob(_ context.Context, id, tenantID string) (models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok || (tenantID != "" && job.TenantID != tenantID) {
		return models.Job{}, models.ErrJobNotFound
	}
	return cloneJob(job), nil
}

func (m *Memory) ListRecentJobs(_ context.Context, tenantID string, limit int) ([]models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Job, 0)
	for _, j := range m.jobs {
		if j.TenantID == tenantID {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ListActiveJobs(_ context.Context) ([]models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Job, 0)
	for _, j := range m.jobs {
		if !models.IsTerminal(j.Status) {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

func (m *Memory) FindActiveJobForItems(_ context.Context, tenantID string, refs []string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wanted := make(map[string]struct{}, len(refs))
	for _, r := range refs {
		wanted[r] = struct{}{}
	}
	for _, j := range m.jobs {
		if j.TenantID != tenantID || models.IsTerminal(j.Status) {
			continue
		}
		for _, it := range j.Items {
			if _, ok := wanted[it.Ref]; ok {
				return j.ID, true, nil
			}
		}
	}
	return "", false, nil
}

func (m *Memory) PurgeTerminal(_ context.Context, tenantID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, j := range m.jobs {
		if j.TenantID == tenantID && models.IsTerminal(j.Status) {
			delete(m.jobs, id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) AppendAudit(_ context.Context, jobID, event, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, models.AuditLog{JobID: jobID, Event: event, Detail: detail, Recorded: time.Now().UTC()})
	return nil
}

// AuditTrail returns recorded audit rows for assertions in tests.
func (m *Memory) AuditTrail(jobID string) []models.AuditLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.AuditLog, 0)
	for _, a := range m.audit {
		if a.JobID == jobID {
			out = append(out, a)
		}
	}
	return out
}
