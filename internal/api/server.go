package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"lead-agent-orchestrator/internal/broadcast"
	"lead-agent-orchestrator/internal/config"
	"lead-agent-orchestrator/internal/leads"
	"lead-agent-orchestrator/internal/models"
	"lead-agent-orchestrator/internal/planner"
	"lead-agent-orchestrator/internal/ratelimit"
	"lead-agent-orchestrator/internal/scheduler"
	"lead-agent-orchestrator/internal/store"
	"lead-agent-orchestrator/internal/telemetry"
)

// Server wires HTTP handlers for the tenant-facing job API.
type Server struct {
	cfg         config.Config
	sched       *scheduler.Scheduler
	planner     *planner.Planner
	store       store.JobStore
	broadcaster *broadcast.Broadcaster
	limiter     *ratelimit.TenantLimiter
	logger      *slog.Logger
}

// New constructs the API server. limiter may be nil to disable throttling.
func New(cfg config.Config, sched *scheduler.Scheduler, p *planner.Planner, st store.JobStore,
	b *broadcast.Broadcaster, limiter *ratelimit.TenantLimiter, logger *slog.Logger) *Server {
	return &Server{
		cfg:         cfg,
		sched:       sched,
		planner:     p,
		store:       st,
		broadcaster: b,
		limiter:     limiter,
		logger:      logger.With("component", "api"),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/jobs", s.handleSubmit)
	r.Post("/jobs/bulk", s.handleSubmitBulk)
	r.Get("/jobs", s.handleListJobs)
	r.Get("/jobs/{id}", s.handleGetJob)
	r.Post("/jobs/{id}/cancel", s.handleCancel)
	r.Post("/jobs/{id}/retry", s.handleRetry)
	r.Delete("/jobs", s.handlePurge)
	r.Get("/events", s.handleEvents)
	return r
}

type submitRequest struct {
	AgentType string   `json:"agent_type"`
	LeadIDs   []string `json:"lead_ids"`
	Priority  int      `json:"priority"`
}

type bulkRequest struct {
	AgentType string `json:"agent_type"`
	Priority  int    `json:"priority"`
	Selection struct {
		LeadIDs                 []string      `json:"lead_ids"`
		Filter                  *leads.Filter `json:"filter"`
		IncludeAlreadyProcessed bool          `json:"include_already_processed"`
	} `json:"selection"`
}

type submitResponse struct {
	JobID    string `json:"job_id"`
	Existing bool   `json:"existing"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.AgentType == "" {
		http.Error(w, "agent_type is required", http.StatusBadRequest)
		return
	}
	tenant := tenantFromRequest(r)

	refs, err := s.planner.Plan(r.Context(), tenant, planner.Selection{IDs: req.LeadIDs})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !s.allow(w, r, tenant, 1) {
		return
	}
	s.submit(w, r, tenant, req.AgentType, refs, req.Priority, models.KindSingle)
}

// handleSubmitBulk fans a selection out through the planner into one bulk job.
// The rate-limit cost scales with the selection size so a single bulk call
// cannot sidestep the per-job budget.
func (s *Server) handleSubmitBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.AgentType == "" {
		http.Error(w, "agent_type is required", http.StatusBadRequest)
		return
	}
	tenant := tenantFromRequest(r)

	refs, err := s.planner.Plan(r.Context(), tenant, planner.Selection{
		IDs:                     req.Selection.LeadIDs,
		Filter:                  req.Selection.Filter,
		IncludeAlreadyProcessed: req.Selection.IncludeAlreadyProcessed,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !s.allow(w, r, tenant, len(refs)) {
		return
	}
	s.submit(w, r, tenant, req.AgentType, refs, req.Priority, models.KindBulkChild)
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, tenant, agentType string, refs []string, priority int, kind string) {
	jobID, existing, err := s.sched.Submit(r.Context(), tenant, agentType, refs, priority, kind)
	switch {
	case errors.Is(err, models.ErrNoWork):
		http.Error(w, "selection matched no leads", http.StatusUnprocessableEntity)
		return
	case errors.Is(err, models.ErrForbidden):
		http.Error(w, "agent type not in plan", http.StatusForbidden)
		return
	case err != nil:
		s.logger.Error("submit failed", "tenant", tenant, "agent_type", agentType, "error", err)
		http.Error(w, "submit failed", http.StatusInternalServerError)
		return
	}
	code := http.StatusAccepted
	if existing {
		code = http.StatusOK
	}
	writeJSON(w, code, submitResponse{JobID: jobID, Existing: existing})
}

func (s *Server) allow(w http.ResponseWriter, r *http.Request, tenant string, cost int) bool {
	if s.limiter == nil {
		return true
	}
	if cost < 1 {
		cost = 1
	}
	allowed, _, err := s.limiter.AllowN(r.Context(), tenant, cost)
	if err != nil {
		http.Error(w, "rate limit error", http.StatusInternalServerError)
		return false
	}
	if !allowed {
		telemetry.RateLimitRejects.Inc()
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return false
	}
	return true
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.store.GetJob(r.Context(), id, tenantFromRequest(r))
	if err != nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	jobs, err := s.store.ListRecentJobs(r.Context(), tenantFromRequest(r), limit)
	if err != nil {
		http.Error(w, "failed to list jobs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.sched.Cancel(r.Context(), id, tenantFromRequest(r))
	switch {
	case errors.Is(err, models.ErrJobNotFound):
		http.Error(w, "job not found", http.StatusNotFound)
		return
	case errors.Is(err, models.ErrNotCancellable):
		http.Error(w, "job already finished", http.StatusConflict)
		return
	case err != nil:
		http.Error(w, "cancel failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancel accepted"})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.sched.Retry(r.Context(), id, tenantFromRequest(r))
	switch {
	case errors.Is(err, models.ErrJobNotFound):
		http.Error(w, "job not found", http.StatusNotFound)
		return
	case errors.Is(err, models.ErrNotRetryable):
		http.Error(w, "only failed jobs can be retried", http.StatusConflict)
		return
	case errors.Is(err, models.ErrRetryExhausted):
		http.Error(w, "retry budget exhausted", http.StatusConflict)
		return
	case err != nil:
		http.Error(w, "retry failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "requeued"})
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	n, err := s.sched.PurgeTerminal(r.Context(), tenantFromRequest(r))
	if err != nil {
		http.Error(w, "purge failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"purged": n})
}

func tenantFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Tenant-ID"); v != "" {
		return v
	}
	return "default"
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
