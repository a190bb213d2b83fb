package models

import (
	"time"
)

// Job lifecycle states persisted in Postgres.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// Job kinds distinguish how a job was created.
const (
	KindSingle    = "single"
	KindBulkChild = "bulk-child"
	KindAuto      = "auto"
)

// Per-item states tracked inside a job.
const (
	ItemPending   = "pending"
	ItemSucceeded = "succeeded"
	ItemFailed    = "failed"
)

// JobItem is one unit of work inside a job, identified by the lead it targets.
type JobItem struct {
	Ref    string  `json:"ref"`
	Status string  `json:"status"`
	Error  *string `json:"error,omitempty"`
}

// Job represents a tracked unit of scheduled work. It is persisted at every
// state transition so a restart can recover in-flight bookkeeping.
type Job struct {
	ID             string     `json:"id"`
	TenantID       string     `json:"tenant_id"`
	AgentType      string     `json:"agent_type"`
	Kind           string     `json:"kind"`
	Status         string     `json:"status"`
	Priority       int        `json:"priority"`
	Items          []JobItem  `json:"items"`
	ItemsTotal     int        `json:"items_total"`
	ItemsProcessed int        `json:"items_processed"`
	ItemsSucceeded int        `json:"items_succeeded"`
	RetryCount     int        `json:"retry_count"`
	MaxRetries     int        `json:"max_retries"`
	LastError      *string    `json:"last_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// IsTerminal reports whether a status admits no further transitions except a
// scheduler-gated retry out of failed.
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Retryable reports whether the job may re-enter the queue via a retry.
func (j *Job) Retryable() bool {
	return j.Status == StatusFailed && j.RetryCount < j.MaxRetries
}

// ItemRefs returns the refs of all items in order.
func (j *Job) ItemRefs() []string {
	refs := make([]string, len(j.Items))
	for i, it := range j.Items {
		refs[i] = it.Ref
	}
	return refs
}

// RemainingItems returns the items that have not yet succeeded, in order.
// The retry policy re-targets exactly this set.
func (j *Job) RemainingItems() []JobItem {
	out := make([]JobItem, 0, len(j.Items))
	for _, it := range j.Items {
		if it.Status != ItemSucceeded {
			out = append(out, it)
		}
	}
	return out
}

// AuditLog is a simple audit event row.
type AuditLog struct {
	JobID    string    `json:"job_id"`
	Event    string    `json:"event"`
	Detail   string    `json:"detail"`
	Recorded time.Time `json:"recorded_at"`
}
