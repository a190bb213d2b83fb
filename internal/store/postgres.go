package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"lead-agent-orchestrator/internal/models"
)

// Postgres implements JobStore on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an existing pool. The pool is shared with the lead store
// and entitlement source; the caller owns its lifecycle.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Connect creates a pooled connection to Postgres.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

func (s *Postgres) CreateJob(ctx context.Context, job models.Job) error {
	itemsJSON, err := json.Marshal(job.Items)
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO jobs (id, tenant_id, agent_type, kind, status, priority, items,
			items_total, items_processed, items_succeeded, retry_count, max_retries,
			last_error, created_at, started_at, completed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, job.ID, job.TenantID, job.AgentType, job.Kind, job.Status, job.Priority, itemsJSON,
		job.ItemsTotal, job.ItemsProcessed, job.ItemsSucceeded, job.RetryCount, job.MaxRetries,
		job.LastError, job.CreatedAt, job.StartedAt, job.CompletedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *Postgres) UpdateJob(ctx context.Context, id string, patch JobPatch) error {
	set := "updated_at = NOW()"
	args := []any{id}
	add := func(col string, v any) {
		args = append(args, v)
		set += fmt.Sprintf(", %s = $%d", col, len(args))
	}
	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.Items != nil {
		itemsJSON, err := json.Marshal(patch.Items)
		if err != nil {
			return fmt.Errorf("marshal items: %w", err)
		}
		add("items", itemsJSON)
		add("items_total", len(patch.Items))
	}
	if patch.ItemsProcessed != nil {
		add("items_processed", *patch.ItemsProcessed)
	}
	if patch.ItemsSucceeded != nil {
		add("items_succeeded", *patch.ItemsSucceeded)
	}
	if patch.RetryCount != nil {
		add("retry_count", *patch.RetryCount)
	}
	if patch.LastError != nil {
		add("last_error", *patch.LastError)
	} else if patch.ClearError {
		set += ", last_error = NULL"
	}
	if patch.StartedAt != nil {
		add("started_at", *patch.StartedAt)
	}
	if patch.CompletedAt != nil {
		add("completed_at", *patch.CompletedAt)
	}

	tag, err := s.pool.Exec(ctx, "UPDATE jobs SET "+set+" WHERE id = $1", args...)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrJobNotFound
	}
	return nil
}

const jobColumns = `id, tenant_id, agent_type, kind, status, priority, items,
	items_total, items_processed, items_succeeded, retry_count, max_retries,
	last_error, created_at, started_at, completed_at, updated_at`

func scanJob(row pgx.Row) (models.Job, error) {
	var job models.Job
	var itemsJSON []byte
	var lastErr pgtype.Text
	var startedAt, completedAt pgtype.Timestamptz

	err := row.Scan(&job.ID, &job.TenantID, &job.AgentType, &job.Kind, &job.Status, &job.Priority,
		&itemsJSON, &job.ItemsTotal, &job.ItemsProcessed, &job.ItemsSucceeded,
		&job.RetryCount, &job.MaxRetries, &lastErr, &job.CreatedAt, &startedAt, &completedAt, &job.UpdatedAt)
	if err != nil {
		return models.Job{}, err
	}
	if err := json.Unmarshal(itemsJSON, &job.Items); err != nil {
		return models.Job{}, fmt.Errorf("unmarshal items: %w", err)
	}
	if lastErr.Valid {
		job.LastError = &lastErr.String
	}
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	return job, nil
}

func (s *Postgres) GetJob(ctx context.Context, id, tenantID string) (models.Job, error) {
	query := "SELECT " + jobColumns + " FROM jobs WHERE id = $1"
	args := []any{id}
	if tenantID != "" {
		query += " AND tenant_id = $2"
		args = append(args, tenantID)
	}
	job, err := scanJob(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, models.ErrJobNotFound
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *Postgres) listJobs(ctx context.Context, query string, args ...any) ([]models.Job, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()
	out := make([]models.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (s *Postgres) ListRecentJobs(ctx context.Context, tenantID string, limit int) ([]models.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.listJobs(ctx, "SELECT "+jobColumns+` FROM jobs
		WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2`, tenantID, limit)
}

func (s *Postgres) ListActiveJobs(ctx context.Context) ([]models.Job, error) {
	return s.listJobs(ctx, "SELECT "+jobColumns+` FROM jobs
		WHERE status IN ($1, $2) ORDER BY created_at ASC`,
		models.StatusQueued, models.StatusProcessing)
}

func (s *Postgres) FindActiveJobForItems(ctx context.Context, tenantID string, refs []string) (string, bool, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
		SELECT j.id
		FROM jobs j, jsonb_array_elements(j.items) it
		WHERE j.tenant_id = $1
		  AND j.status IN ($2, $3)
		  AND it->>'ref' = ANY($4)
		LIMIT 1
	`, tenantID, models.StatusQueued, models.StatusProcessing, refs).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("find active job for items: %w", err)
	}
	return id, true, nil
}

func (s *Postgres) PurgeTerminal(ctx context.Context, tenantID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM jobs WHERE tenant_id = $1 AND status IN ($2, $3, $4)
	`, tenantID, models.StatusCompleted, models.StatusFailed, models.StatusCancelled)
	if err != nil {
		return 0, fmt.Errorf("purge terminal jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Postgres) AppendAudit(ctx context.Context, jobID, event, detail string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_logs (job_id, event, detail, ts)
		VALUES ($1, $2, $3, NOW())
	`, jobID, event, detail)
	return err
}
