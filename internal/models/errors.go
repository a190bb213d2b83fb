package models

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced synchronously from the submission boundary.
var (
	// ErrForbidden means the tenant's plan does not include the requested
	// agent type, or the entitlement lookup failed (fail closed).
	ErrForbidden = errors.New("agent type not included in tenant plan")

	// ErrNoWork means the selection expanded to zero items; no job is created.
	ErrNoWork = errors.New("selection contains no work")

	// ErrJobNotFound is returned for reads and mutations of unknown jobs,
	// including jobs belonging to a different tenant.
	ErrJobNotFound = errors.New("job not found")

	// ErrRetryExhausted means the job is failed with no retries left.
	ErrRetryExhausted = errors.New("retry budget exhausted")

	// ErrNotCancellable means the job is already in a terminal state.
	ErrNotCancellable = errors.New("job is not cancellable")

	// ErrNotRetryable means the job is not in the failed state.
	ErrNotRetryable = errors.New("job is not in a retryable state")
)

// AgentConstructionError marks a failure to build the tenant's agent
// (missing or disabled credentials, unknown type). Jobs failing this way go
// straight to failed and are never retried automatically.
type AgentConstructionError struct {
	TenantID  string
	AgentType string
	Reason    string
}

func (e *AgentConstructionError) Error() string {
	return fmt.Sprintf("construct agent %q for tenant %s: %s", e.AgentType, e.TenantID, e.Reason)
}
