// Package store persists job records. The scheduler consumes the JobStore
// interface; Postgres backs it in production and the in-memory implementation
// backs tests.
package store

import (
	"context"
	"time"

	"lead-agent-orchestrator/internal/models"
)

// JobPatch carries partial updates applied at a state transition. Nil fields
// are left untouched.
type JobPatch struct {
	Status         *string
	Items          []models.JobItem
	ItemsProcessed *int
	ItemsSucceeded *int
	RetryCount     *int
	LastError      *string
	ClearError     bool
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

// JobStore is the durable persistence boundary for job records. Each write
// either fully succeeds or fully fails; partial field updates are never
// visible to other readers.
type JobStore interface {
	CreateJob(ctx context.Context, job models.Job) error
	UpdateJob(ctx context.Context, id string, patch JobPatch) error
	GetJob(ctx context.Context, id, tenantID string) (models.Job, error)
	ListRecentJobs(ctx context.Context, tenantID string, limit int) ([]models.Job, error)
	// ListActiveJobs returns queued and processing jobs across all tenants,
	// used by the crash-recovery scan.
	ListActiveJobs(ctx context.Context) ([]models.Job, error)
	// FindActiveJobForItems returns the id of a non-terminal job already
	// targeting any of the given refs for the tenant, if one exists.
	FindActiveJobForItems(ctx context.Context, tenantID string, refs []string) (string, bool, error)
	// PurgeTerminal deletes the tenant's terminal jobs and returns the count.
	// This is the only deletion path; the scheduler never deletes rows.
	PurgeTerminal(ctx context.Context, tenantID string) (int, error)
	AppendAudit(ctx context.Context, jobID, event, detail string) error
}
