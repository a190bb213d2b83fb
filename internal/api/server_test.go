package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"lead-agent-orchestrator/internal/agent"
	"lead-agent-orchestrator/internal/broadcast"
	"lead-agent-orchestrator/internal/config"
	"lead-agent-orchestrator/internal/entitlement"
	"lead-agent-orchestrator/internal/leads"
	"lead-agent-orchestrator/internal/models"
	"lead-agent-orchestrator/internal/planner"
	"lead-agent-orchestrator/internal/queue"
	"lead-agent-orchestrator/internal/ratelimit"
	"lead-agent-orchestrator/internal/scheduler"
	"lead-agent-orchestrator/internal/store"
	"lead-agent-orchestrator/internal/vault"
)

type apiHarness struct {
	router http.Handler
	store  *store.Memory
	leads  *leads.Memory
}

type nopAgent struct{}

func (nopAgent) ProcessItem(context.Context, string) error { return nil }

// Workers stay off: submitted jobs remain queued so handler behavior is
// deterministic.
func newAPIHarness(t *testing.T, limiter *ratelimit.TenantLimiter) *apiHarness {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := queue.NewRedisQueue(client)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.NewMemory()
	ls := leads.NewMemory()
	v := vault.NewMemory()
	ent := entitlement.NewStatic()
	ent.Grant("t1", "falcon")
	_ = v.PutCredentialBundle(context.Background(), models.CredentialBundle{
		TenantID: "t1", AgentType: "falcon", Enabled: true,
		Secrets: map[string]string{"api_key": "k"},
	})

	reg := agent.NewRegistry(ent, logger)
	reg.Register("falcon", func(context.Context, models.CredentialBundle, agent.Deps) (agent.Agent, error) {
		return nopAgent{}, nil
	})
	cache := agent.NewTenantCache(reg, v, agent.Deps{Leads: ls, Logger: logger}, logger)
	b := broadcast.New(logger)

	cfg := config.Config{DefaultMaxRetries: 2, PersistRetries: 1, PersistBackoff: time.Millisecond, PersistBackoffMax: time.Millisecond}
	sched := scheduler.New(cfg, st, q, cache, reg, b, nil, logger)
	srv := New(cfg, sched, planner.New(ls), st, b, limiter, logger)

	return &apiHarness{router: srv.Router(), store: st, leads: ls}
}

func (h *apiHarness) do(t *testing.T, method, path, tenant string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if tenant != "" {
		req.Header.Set("X-Tenant-ID", tenant)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func TestSubmitJob(t *testing.T) {
	h := newAPIHarness(t, nil)

	rec := h.do(t, http.MethodPost, "/jobs", "t1", submitRequest{
		AgentType: "falcon", LeadIDs: []string{"l1", "l2"}, Priority: 3,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp submitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.JobID)
	require.False(t, resp.Existing)

	job, err := h.store.GetJob(context.Background(), resp.JobID, "t1")
	require.NoError(t, err)
	require.Equal(t, models.StatusQueued, job.Status)
	require.Equal(t, 2, job.ItemsTotal)
	require.Equal(t, 3, job.Priority)
}

func TestSubmitValidation(t *testing.T) {
	h := newAPIHarness(t, nil)

	rec := h.do(t, http.MethodPost, "/jobs", "t1", map[string]any{"lead_ids": []string{"l1"}})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/jobs", "t1", submitRequest{AgentType: "falcon"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// sage is not in t1's plan.
	rec = h.do(t, http.MethodPost, "/jobs", "t1", submitRequest{AgentType: "sage", LeadIDs: []string{"l1"}})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSubmitOverlapReturnsExistingJob(t *testing.T) {
	h := newAPIHarness(t, nil)

	first := h.do(t, http.MethodPost, "/jobs", "t1", submitRequest{AgentType: "falcon", LeadIDs: []string{"l1"}})
	require.Equal(t, http.StatusAccepted, first.Code)
	var a submitResponse
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &a))

	second := h.do(t, http.MethodPost, "/jobs", "t1", submitRequest{AgentType: "falcon", LeadIDs: []string{"l1"}})
	require.Equal(t, http.StatusOK, second.Code)
	var b submitResponse
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &b))
	require.True(t, b.Existing)
	require.Equal(t, a.JobID, b.JobID)
}

func TestBulkSubmitWithFilter(t *testing.T) {
	h := newAPIHarness(t, nil)
	h.leads.Put(leads.Lead{ID: "l1", TenantID: "t1", Industry: "saas"})
	h.leads.Put(leads.Lead{ID: "l2", TenantID: "t1", Industry: "retail"})
	h.leads.Put(leads.Lead{ID: "l3", TenantID: "t1", Industry: "saas"})

	body := bulkRequest{AgentType: "falcon"}
	body.Selection.Filter = &leads.Filter{Industry: "saas"}
	rec := h.do(t, http.MethodPost, "/jobs/bulk", "t1", body)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp submitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	job, err := h.store.GetJob(context.Background(), resp.JobID, "t1")
	require.NoError(t, err)
	require.Equal(t, models.KindBulkChild, job.Kind)
	require.Equal(t, []string{"l1", "l3"}, job.ItemRefs())
}

func TestGetJobIsTenantScoped(t *testing.T) {
	h := newAPIHarness(t, nil)

	rec := h.do(t, http.MethodPost, "/jobs", "t1", submitRequest{AgentType: "falcon", LeadIDs: []string{"l1"}})
	var resp submitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/jobs/"+resp.JobID, "t1", nil).Code)
	require.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/jobs/"+resp.JobID, "t2", nil).Code)
	require.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/jobs/nope", "t1", nil).Code)
}

func TestCancelAndRetryConflicts(t *testing.T) {
	h := newAPIHarness(t, nil)

	rec := h.do(t, http.MethodPost, "/jobs", "t1", submitRequest{AgentType: "falcon", LeadIDs: []string{"l1"}})
	var resp submitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/jobs/"+resp.JobID+"/cancel", "t1", nil).Code)
	// Terminal now: second cancel conflicts, retry only applies to failed jobs.
	require.Equal(t, http.StatusConflict, h.do(t, http.MethodPost, "/jobs/"+resp.JobID+"/cancel", "t1", nil).Code)
	require.Equal(t, http.StatusConflict, h.do(t, http.MethodPost, "/jobs/"+resp.JobID+"/retry", "t1", nil).Code)
	require.Equal(t, http.StatusNotFound, h.do(t, http.MethodPost, "/jobs/missing/cancel", "t1", nil).Code)
}

func TestListAndPurge(t *testing.T) {
	h := newAPIHarness(t, nil)

	rec := h.do(t, http.MethodPost, "/jobs", "t1", submitRequest{AgentType: "falcon", LeadIDs: []string{"l1"}})
	var resp submitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	list := h.do(t, http.MethodGet, "/jobs", "t1", nil)
	require.Equal(t, http.StatusOK, list.Code)
	var listing struct {
		Jobs []models.Job `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &listing))
	require.Len(t, listing.Jobs, 1)

	// Queued jobs survive a purge; cancelled ones do not.
	purge := h.do(t, http.MethodDelete, "/jobs", "t1", nil)
	require.Equal(t, http.StatusOK, purge.Code)
	require.JSONEq(t, `{"purged":0}`, purge.Body.String())

	h.do(t, http.MethodPost, "/jobs/"+resp.JobID+"/cancel", "t1", nil)
	purge = h.do(t, http.MethodDelete, "/jobs", "t1", nil)
	require.JSONEq(t, `{"purged":1}`, purge.Body.String())
}

func TestSubmitRateLimited(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := ratelimit.NewTenantLimiter(client, 1, 0.001, time.Minute)

	h := newAPIHarness(t, limiter)

	rec := h.do(t, http.MethodPost, "/jobs", "t1", submitRequest{AgentType: "falcon", LeadIDs: []string{"l1"}})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = h.do(t, http.MethodPost, "/jobs", "t1", submitRequest{AgentType: "falcon", LeadIDs: []string{"l2"}})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	// A different tenant has its own bucket; t2 passes the limiter and is
	// rejected on entitlement instead.
	rec = h.do(t, http.MethodPost, "/jobs", "t2", submitRequest{AgentType: "falcon", LeadIDs: []string{"l1"}})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHealthz(t *testing.T) {
	h := newAPIHarness(t, nil)
	rec := h.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSSEConnDropsWhenSlow(t *testing.T) {
	conn := &sseConn{ch: make(chan models.Event, 1)}
	require.NoError(t, conn.Send(models.Event{Type: models.EventJobQueued}))
	require.Error(t, conn.Send(models.Event{Type: models.EventJobQueued}))
}
