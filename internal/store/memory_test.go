package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lead-agent-orchestrator/internal/models"
)

func seedJob(t *testing.T, m *Memory, id, tenant, status string, refs ...string) models.Job {
	t.Helper()
	items := make([]models.JobItem, len(refs))
	for i, r := range refs {
		items[i] = models.JobItem{Ref: r, Status: models.ItemPending}
	}
	now := time.Now().UTC()
	job := models.Job{
		ID: id, TenantID: tenant, AgentType: "falcon", Kind: models.KindSingle,
		Status: status, Items: items, ItemsTotal: len(items), MaxRetries: 2,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, m.CreateJob(context.Background(), job))
	return job
}

func TestUpdateJobAppliesPatch(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedJob(t, m, "j1", "t1", models.StatusQueued, "l1", "l2")

	msg := "boom"
	processed := 2
	require.NoError(t, m.UpdateJob(ctx, "j1", JobPatch{
		Status:         ptrTo(models.StatusFailed),
		ItemsProcessed: &processed,
		LastError:      &msg,
	}))

	job, err := m.GetJob(ctx, "j1", "t1")
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, job.Status)
	require.Equal(t, 2, job.ItemsProcessed)
	require.Equal(t, "boom", *job.LastError)

	// Fields absent from the patch stay put; ClearError wipes the detail.
	require.NoError(t, m.UpdateJob(ctx, "j1", JobPatch{Status: ptrTo(models.StatusQueued), ClearError: true}))
	job, err = m.GetJob(ctx, "j1", "t1")
	require.NoError(t, err)
	require.Equal(t, 2, job.ItemsProcessed)
	require.Nil(t, job.LastError)

	require.ErrorIs(t, m.UpdateJob(ctx, "missing", JobPatch{}), models.ErrJobNotFound)
}

func TestGetJobTenantScoping(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedJob(t, m, "j1", "t1", models.StatusQueued, "l1")

	_, err := m.GetJob(ctx, "j1", "t2")
	require.ErrorIs(t, err, models.ErrJobNotFound)

	// Empty tenant is the internal any-tenant read used by workers.
	job, err := m.GetJob(ctx, "j1", "")
	require.NoError(t, err)
	require.Equal(t, "t1", job.TenantID)
}

func TestFindActiveJobForItems(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedJob(t, m, "active", "t1", models.StatusProcessing, "l1", "l2")
	seedJob(t, m, "done", "t1", models.StatusCompleted, "l3")

	id, found, err := m.FindActiveJobForItems(ctx, "t1", []string{"l2", "l9"})
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "active", id)

	// Terminal jobs do not hold their items.
	_, found, err = m.FindActiveJobForItems(ctx, "t1", []string{"l3"})
	require.NoError(t, err)
	require.False(t, found)

	// Other tenants see no overlap.
	_, found, err = m.FindActiveJobForItems(ctx, "t2", []string{"l1"})
	require.NoError(t, err)
	require.False(t, found)
}

func TestListActiveAndPurge(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedJob(t, m, "q", "t1", models.StatusQueued, "l1")
	seedJob(t, m, "p", "t1", models.StatusProcessing, "l2")
	seedJob(t, m, "c", "t1", models.StatusCompleted, "l3")
	seedJob(t, m, "x", "t2", models.StatusCancelled, "l4")

	active, err := m.ListActiveJobs(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)

	n, err := m.PurgeTerminal(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, 1, n)
	_, err = m.GetJob(ctx, "c", "t1")
	require.ErrorIs(t, err, models.ErrJobNotFound)

	// t2's terminal job is untouched by t1's purge.
	_, err = m.GetJob(ctx, "x", "t2")
	require.NoError(t, err)
}

func TestListRecentJobsOrdering(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Now().UTC()
	for i, id := range []string{"a", "b", "c"} {
		job := seedJob(t, m, id, "t1", models.StatusQueued, "l"+id)
		job.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, m.CreateJob(ctx, job))
	}

	jobs, err := m.ListRecentJobs(ctx, "t1", 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.Equal(t, "c", jobs[0].ID)
	require.Equal(t, "b", jobs[1].ID)
}

func ptrTo[T any](v T) *T { return &v }
