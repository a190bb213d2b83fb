package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"lead-agent-orchestrator/internal/agent"
	"lead-agent-orchestrator/internal/models"
	"lead-agent-orchestrator/internal/queue"
	"lead-agent-orchestrator/internal/store"
	"lead-agent-orchestrator/internal/telemetry"
)

// claimScanLimit bounds how many queued entries a worker inspects per pass
// while looking for a job whose tenant has a free slot.
const claimScanLimit = 16

// Run starts the worker pool and blocks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	workers := s.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.workerLoop(ctx)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.gaugeLoop(ctx)
	}()
	wg.Wait()
	return ctx.Err()
}

func (s *Scheduler) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, ok := s.claim(ctx)
		if !ok {
			s.sleep(ctx, s.cfg.WorkerPollInterval)
			continue
		}
		s.execute(ctx, job)
		s.release(job.TenantID)
	}
}

func (s *Scheduler) gaugeLoop(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if depth, err := s.queue.Depth(ctx); err == nil {
				telemetry.QueueDepthGauge.Set(float64(depth))
			}
		}
	}
}

// claim pops queued entries until it finds a job whose tenant is under its
// concurrency bound. Entries for busy tenants go back with their original
// scores, so their place in line is preserved.
func (s *Scheduler) claim(ctx context.Context) (models.Job, bool) {
	var skipped []queue.Entry
	defer func() {
		for _, e := range skipped {
			if err := s.queue.Requeue(ctx, e); err != nil {
				s.logger.Error("requeue skipped entry", "job_id", e.JobID, "error", err)
			}
		}
	}()

	for i := 0; i < claimScanLimit; i++ {
		entry, ok, err := s.queue.Dequeue(ctx)
		if err != nil {
			s.logger.Error("dequeue", "error", err)
			return models.Job{}, false
		}
		if !ok {
			return models.Job{}, false
		}
		job, err := s.store.GetJob(ctx, entry.JobID, "")
		if err != nil {
			// Purged or unknown; drop the entry.
			s.logger.Warn("queued job missing from store", "job_id", entry.JobID, "error", err)
			continue
		}
		if job.Status != models.StatusQueued {
			// Cancelled (or otherwise transitioned) while waiting.
			continue
		}
		if s.tryAcquire(job.TenantID) {
			return job, true
		}
		skipped = append(skipped, entry)
	}
	return models.Job{}, false
}

func (s *Scheduler) tryAcquire(tenantID string) bool {
	bound := s.cfg.TenantConcurrency
	if bound <= 0 {
		bound = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[tenantID] >= bound {
		return false
	}
	s.active[tenantID]++
	return true
}

func (s *Scheduler) release(tenantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[tenantID] <= 1 {
		delete(s.active, tenantID)
	} else {
		s.active[tenantID]--
	}
}

// execute runs one claimed job to a terminal state.
func (s *Scheduler) execute(ctx context.Context, job models.Job) {
	tok := s.token(job.ID)
	defer s.dropToken(job.ID)

	started := time.Now().UTC()
	if err := s.persist(ctx, job.ID, store.JobPatch{Status: ptr(models.StatusProcessing), StartedAt: &started}); err != nil {
		s.logger.Error("mark processing", "job_id", job.ID, "error", err)
		return
	}
	_ = s.store.AppendAudit(ctx, job.ID, "processing", "claimed by worker")
	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()

	agentInst, err := s.agents.GetOrCreate(ctx, job.TenantID, job.AgentType)
	if err != nil {
		s.finishFailed(ctx, job, err.Error())
		return
	}

	items := make([]models.JobItem, len(job.Items))
	copy(items, job.Items)
	processed := job.ItemsProcessed
	succeeded := job.ItemsSucceeded
	cancelled := false
	lastItemErr := ""

	for i := range items {
		if items[i].Status == models.ItemSucceeded {
			continue
		}
		if tok.flag.Load() {
			cancelled = true
			break
		}

		itemErr := s.processItem(ctx, agentInst, items[i].Ref)
		processed++
		telemetry.ItemsProcessed.Inc()
		if itemErr != nil {
			msg := itemErr.Error()
			items[i].Status = models.ItemFailed
			items[i].Error = &msg
			lastItemErr = msg
		} else {
			items[i].Status = models.ItemSucceeded
			items[i].Error = nil
			succeeded++
			telemetry.ItemsSucceeded.Inc()
		}

		patch := store.JobPatch{Items: items, ItemsProcessed: &processed, ItemsSucceeded: &succeeded}
		if err := s.persist(ctx, job.ID, patch); err != nil {
			s.finishFailed(ctx, job, fmt.Sprintf("storage: %v", err))
			return
		}
		s.broadcaster.Publish(job.TenantID, models.EventJobProgress, job.ID, map[string]any{
			"itemsProcessed": processed,
			"itemsTotal":     job.ItemsTotal,
		})
	}

	now := time.Now().UTC()
	switch {
	case cancelled:
		if err := s.persist(ctx, job.ID, store.JobPatch{Status: ptr(models.StatusCancelled), CompletedAt: &now}); err != nil {
			s.logger.Error("mark cancelled", "job_id", job.ID, "error", err)
			return
		}
		_ = s.store.AppendAudit(ctx, job.ID, "cancelled", fmt.Sprintf("processed=%d of %d", processed, job.ItemsTotal))
		s.broadcaster.Publish(job.TenantID, models.EventJobCancelled, job.ID, nil)
		telemetry.JobsCancelled.Inc()
	case succeeded > 0 || job.ItemsTotal == 0:
		patch := store.JobPatch{Status: ptr(models.StatusCompleted), CompletedAt: &now, ClearError: true}
		if err := s.persist(ctx, job.ID, patch); err != nil {
			s.logger.Error("mark completed", "job_id", job.ID, "error", err)
			return
		}
		_ = s.store.AppendAudit(ctx, job.ID, "completed", fmt.Sprintf("succeeded=%d of %d", succeeded, job.ItemsTotal))
		s.broadcaster.Publish(job.TenantID, models.EventJobCompleted, job.ID, map[string]any{
			"itemsSucceeded": succeeded,
		})
		telemetry.JobsCompleted.Inc()
		s.archive(job.ID, job.TenantID)
	default:
		s.finishFailed(ctx, job, fmt.Sprintf("all %d items failed, last: %s", job.ItemsTotal, lastItemErr))
	}
}

// processItem invokes the agent under a watchdog so a stuck invocation frees
// the worker slot; expiry counts as a per-item failure, not a worker crash.
func (s *Scheduler) processItem(ctx context.Context, a agent.Agent, ref string) error {
	if s.cfg.ItemTimeout <= 0 {
		return a.ProcessItem(ctx, ref)
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ItemTimeout)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- a.ProcessItem(ctx, ref)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("item %s: %w", ref, ctx.Err())
	}
}

func (s *Scheduler) finishFailed(ctx context.Context, job models.Job, detail string) {
	now := time.Now().UTC()
	patch := store.JobPatch{Status: ptr(models.StatusFailed), CompletedAt: &now, LastError: &detail}
	if err := s.persist(ctx, job.ID, patch); err != nil {
		// Leave the last successfully persisted state; the recovery scan
		// reconciles it on the next start.
		s.logger.Error("mark failed", "job_id", job.ID, "error", err)
		return
	}
	_ = s.store.AppendAudit(ctx, job.ID, "failed", detail)
	s.broadcaster.Publish(job.TenantID, models.EventJobFailed, job.ID, map[string]any{
		"lastError": detail,
	})
	telemetry.JobsFailed.Inc()
	s.archive(job.ID, job.TenantID)
}

// archive ships a completion report for a terminal job, best effort.
func (s *Scheduler) archive(jobID, tenantID string) {
	if s.archiver == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		job, err := s.store.GetJob(ctx, jobID, tenantID)
		if err != nil {
			return
		}
		if err := s.archiver.ArchiveReport(ctx, job); err != nil {
			s.logger.Warn("archive completion report", "job_id", jobID, "error", err)
		}
	}()
}

// persist applies a patch with bounded retries and jittered backoff. Storage
// is the source of truth, so transitions are not allowed to vanish silently.
func (s *Scheduler) persist(ctx context.Context, jobID string, patch store.JobPatch) error {
	retries := s.cfg.PersistRetries
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			s.sleep(ctx, backoffWithJitter(s.cfg.PersistBackoff, s.cfg.PersistBackoffMax, attempt))
		}
		if err = s.store.UpdateJob(ctx, jobID, patch); err == nil {
			return nil
		}
		if errors.Is(err, models.ErrJobNotFound) {
			return err
		}
	}
	return fmt.Errorf("persist transition: %w", err)
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	if max <= 0 {
		max = 5 * time.Second
	}
	wait := base
	for i := 1; i < attempt; i++ {
		wait *= 2
		if wait >= max {
			wait = max
			break
		}
	}
	jitter := time.Duration(rand.Int63n(int64(wait/2) + 1))
	return wait/2 + jitter
}
