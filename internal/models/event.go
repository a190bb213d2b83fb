package models

import "time"

// Event types pushed to a tenant's live connections.
const (
	EventJobQueued    = "job.queued"
	EventJobProgress  = "job.progress"
	EventJobCompleted = "job.completed"
	EventJobFailed    = "job.failed"
	EventJobCancelled = "job.cancelled"
)

// Event is a lifecycle notification. Delivery is best effort; the job store
// remains the source of truth.
type Event struct {
	Type      string         `json:"type"`
	JobID     string         `json:"job_id"`
	TenantID  string         `json:"tenant_id"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}
