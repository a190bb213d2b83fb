// Package scheduler drives the job lifecycle: it accepts submissions,
// enforces per-tenant concurrency and priority ordering, executes item loops
// through tenant agents, applies the retry policy, and emits lifecycle events.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"lead-agent-orchestrator/internal/agent"
	"lead-agent-orchestrator/internal/broadcast"
	"lead-agent-orchestrator/internal/config"
	"lead-agent-orchestrator/internal/models"
	"lead-agent-orchestrator/internal/queue"
	"lead-agent-orchestrator/internal/store"
	"lead-agent-orchestrator/internal/telemetry"
)

// Archiver receives completion reports for terminal jobs. Best effort; a nil
// archiver disables reporting.
type Archiver interface {
	ArchiveReport(ctx context.Context, job models.Job) error
}

type cancelToken struct {
	flag atomic.Bool
}

// Scheduler owns jobs for their active lifetime. All mutable registries
// (active tenant counts, cancellation tokens) are explicitly owned fields,
// injected nowhere else.
type Scheduler struct {
	cfg         config.Config
	store       store.JobStore
	queue       *queue.RedisQueue
	agents      *agent.TenantCache
	registry    *agent.Registry
	broadcaster *broadcast.Broadcaster
	archiver    Archiver
	logger      *slog.Logger

	submitMu sync.Mutex // serializes the overlap check against job creation

	mu      sync.Mutex
	active  map[string]int // tenant -> jobs currently processing
	cancels map[string]*cancelToken
}

// New wires a scheduler. archiver may be nil.
func New(cfg config.Config, st store.JobStore, q *queue.RedisQueue, agents *agent.TenantCache,
	registry *agent.Registry, b *broadcast.Broadcaster, archiver Archiver, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cfg:         cfg,
		store:       st,
		queue:       q,
		agents:      agents,
		registry:    registry,
		broadcaster: b,
		archiver:    archiver,
		logger:      logger.With("component", "scheduler"),
		active:      make(map[string]int),
		cancels:     make(map[string]*cancelToken),
	}
}

// Submit validates and persists a new job in queued, enqueues it, and returns
// its id synchronously; execution is asynchronous. When another non-terminal
// job already targets one of the refs, the existing job's id is returned with
// existing=true and no new job is created.
func (s *Scheduler) Submit(ctx context.Context, tenantID, agentType string, itemRefs []string, priority int, kind string) (string, bool, error) {
	if len(itemRefs) == 0 {
		return "", false, models.ErrNoWork
	}
	if !s.registry.CheckEntitlement(ctx, tenantID, agentType) {
		return "", false, models.ErrForbidden
	}
	if kind == "" {
		kind = models.KindSingle
	}

	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	existingID, found, err := s.store.FindActiveJobForItems(ctx, tenantID, itemRefs)
	if err != nil {
		return "", false, fmt.Errorf("check overlapping jobs: %w", err)
	}
	if found {
		return existingID, true, nil
	}

	now := time.Now().UTC()
	items := make([]models.JobItem, len(itemRefs))
	for i, ref := range itemRefs {
		items[i] = models.JobItem{Ref: ref, Status: models.ItemPending}
	}
	job := models.Job{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		AgentType:  agentType,
		Kind:       kind,
		Status:     models.StatusQueued,
		Priority:   priority,
		Items:      items,
		ItemsTotal: len(items),
		MaxRetries: s.cfg.DefaultMaxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return "", false, fmt.Errorf("persist job: %w", err)
	}
	if err := s.queue.Enqueue(ctx, job.ID, priority); err != nil {
		msg := err.Error()
		_ = s.store.UpdateJob(ctx, job.ID, store.JobPatch{Status: ptr(models.StatusFailed), LastError: &msg})
		return "", false, fmt.Errorf("enqueue job: %w", err)
	}
	_ = s.store.AppendAudit(ctx, job.ID, "queued", fmt.Sprintf("tenant=%s agent=%s items=%d priority=%d", tenantID, agentType, len(items), priority))
	s.broadcaster.Publish(tenantID, models.EventJobQueued, job.ID, map[string]any{
		"itemsTotal": job.ItemsTotal,
		"agentType":  agentType,
	})
	telemetry.JobsSubmitted.Inc()
	return job.ID, false, nil
}

// Cancel stops a queued or processing job. Cancellation of a processing job
// is cooperative: the item loop checks its token between items, so at most
// one more item completes. Terminal jobs return ErrNotCancellable.
func (s *Scheduler) Cancel(ctx context.Context, jobID, tenantID string) error {
	job, err := s.store.GetJob(ctx, jobID, tenantID)
	if err != nil {
		return err
	}
	switch job.Status {
	case models.StatusQueued:
		removed, err := s.queue.Remove(ctx, jobID)
		if err != nil {
			return fmt.Errorf("remove from queue: %w", err)
		}
		if !removed {
			// A worker popped it between our status read and the removal;
			// fall back to the cooperative path.
			if err := s.requestCooperativeCancel(ctx, jobID, tenantID); err != nil {
				return err
			}
			_ = s.store.AppendAudit(ctx, jobID, "cancel_requested", "cancel raced execution start")
			return nil
		}
		now := time.Now().UTC()
		if err := s.persist(ctx, jobID, store.JobPatch{Status: ptr(models.StatusCancelled), CompletedAt: &now}); err != nil {
			return err
		}
		_ = s.store.AppendAudit(ctx, jobID, "cancelled", "cancelled while queued")
		s.broadcaster.Publish(tenantID, models.EventJobCancelled, jobID, nil)
		telemetry.JobsCancelled.Inc()
		return nil
	case models.StatusProcessing:
		if err := s.requestCooperativeCancel(ctx, jobID, tenantID); err != nil {
			return err
		}
		_ = s.store.AppendAudit(ctx, jobID, "cancel_requested", "cooperative cancel while processing")
		return nil
	default:
		// Sweep any token left over from a cancel that raced completion.
		s.dropToken(jobID)
		return models.ErrNotCancellable
	}
}

// requestCooperativeCancel flags the job's shared token, then re-reads the
// row. If the executor finished in the window before the flag landed, its
// deferred token drop has already run and the token set here would sit in
// s.cancels forever; detect that case, drop the token, and report the job as
// no longer cancellable.
func (s *Scheduler) requestCooperativeCancel(ctx context.Context, jobID, tenantID string) error {
	s.token(jobID).flag.Store(true)
	cur, err := s.store.GetJob(ctx, jobID, tenantID)
	if err != nil || models.IsTerminal(cur.Status) {
		s.dropToken(jobID)
		if err != nil {
			return err
		}
		return models.ErrNotCancellable
	}
	return nil
}

// Retry re-queues a failed job with retries left. The retry targets only the
// remainder: items that already succeeded stay succeeded and are not
// reprocessed; failed items reset to pending. Processed counters restart from
// the succeeded count so reprocessed items count again.
func (s *Scheduler) Retry(ctx context.Context, jobID, tenantID string) error {
	job, err := s.store.GetJob(ctx, jobID, tenantID)
	if err != nil {
		return err
	}
	if job.Status != models.StatusFailed {
		return models.ErrNotRetryable
	}
	if !job.Retryable() {
		return models.ErrRetryExhausted
	}

	items, processed := resetRemainder(job)
	retry := job.RetryCount + 1
	patch := store.JobPatch{
		Status:         ptr(models.StatusQueued),
		Items:          items,
		ItemsProcessed: &processed,
		RetryCount:     &retry,
		ClearError:     true,
	}
	if err := s.persist(ctx, jobID, patch); err != nil {
		return err
	}
	if err := s.queue.Enqueue(ctx, jobID, job.Priority); err != nil {
		return fmt.Errorf("re-enqueue job: %w", err)
	}
	_ = s.store.AppendAudit(ctx, jobID, "retry", fmt.Sprintf("attempt=%d remaining_items=%d", retry, len(job.RemainingItems())))
	s.broadcaster.Publish(tenantID, models.EventJobQueued, jobID, map[string]any{
		"itemsTotal": job.ItemsTotal,
		"retryCount": retry,
	})
	telemetry.JobsRetried.Inc()
	return nil
}

// PurgeTerminal deletes the tenant's terminal jobs.
func (s *Scheduler) PurgeTerminal(ctx context.Context, tenantID string) (int, error) {
	return s.store.PurgeTerminal(ctx, tenantID)
}

// Recover reconciles persisted state after a restart: queued rows re-enter
// the ready queue and rows stuck in processing fall back to queued with their
// remaining items intact.
func (s *Scheduler) Recover(ctx context.Context) error {
	jobs, err := s.store.ListActiveJobs(ctx)
	if err != nil {
		return fmt.Errorf("list active jobs: %w", err)
	}
	for _, job := range jobs {
		if job.Status == models.StatusProcessing {
			// Same remainder-only reset as Retry: the worker resumes the
			// processed counter from the row, so items the dead run already
			// counted must go back to pending with the counter rewound or
			// they would be counted twice.
			items, processed := resetRemainder(job)
			patch := store.JobPatch{
				Status:         ptr(models.StatusQueued),
				Items:          items,
				ItemsProcessed: &processed,
			}
			if err := s.persist(ctx, job.ID, patch); err != nil {
				s.logger.Error("recovery reset failed", "job_id", job.ID, "error", err)
				continue
			}
			_ = s.store.AppendAudit(ctx, job.ID, "recovered", "reset to queued after restart")
		}
		if err := s.queue.Enqueue(ctx, job.ID, job.Priority); err != nil {
			s.logger.Error("recovery enqueue failed", "job_id", job.ID, "error", err)
		}
	}
	if len(jobs) > 0 {
		s.logger.Info("recovered active jobs", "count", len(jobs))
	}
	return nil
}

// token returns the job's cancellation token, creating it when absent. The
// executor and Cancel share one token per job so a cancel issued in the
// window between dequeue and the processing transition is never lost.
func (s *Scheduler) token(jobID string) *cancelToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.cancels[jobID]
	if !ok {
		tok = &cancelToken{}
		s.cancels[jobID] = tok
	}
	return tok
}

func (s *Scheduler) dropToken(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cancels, jobID)
}

// resetRemainder returns the job's items with every non-succeeded item back to
// pending, and the processed counter restarted from the succeeded count.
// Succeeded items are never touched.
func resetRemainder(job models.Job) ([]models.JobItem, int) {
	items := make([]models.JobItem, len(job.Items))
	copy(items, job.Items)
	for i := range items {
		if items[i].Status != models.ItemSucceeded {
			items[i].Status = models.ItemPending
			items[i].Error = nil
		}
	}
	return items, job.ItemsSucceeded
}

func ptr[T any](v T) *T { return &v }
