package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsSubmitted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "agent_jobs_submitted_total", Help: "Jobs accepted at the submission boundary"})
	JobsCompleted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "agent_jobs_completed_total", Help: "Jobs that reached completed"})
	JobsFailed       = prometheus.NewCounter(prometheus.CounterOpts{Name: "agent_jobs_failed_total", Help: "Jobs that reached failed"})
	JobsCancelled    = prometheus.NewCounter(prometheus.CounterOpts{Name: "agent_jobs_cancelled_total", Help: "Jobs that reached cancelled"})
	JobsRetried      = prometheus.NewCounter(prometheus.CounterOpts{Name: "agent_jobs_retried_total", Help: "Jobs re-queued via retry"})
	ItemsProcessed   = prometheus.NewCounter(prometheus.CounterOpts{Name: "agent_items_processed_total", Help: "Items processed across all jobs"})
	ItemsSucceeded   = prometheus.NewCounter(prometheus.CounterOpts{Name: "agent_items_succeeded_total", Help: "Items processed successfully"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "agent_rate_limit_rejects_total", Help: "Submissions rejected by the per-tenant rate limiter"})
	CacheHits        = prometheus.NewCounter(prometheus.CounterOpts{Name: "agent_cache_hits_total", Help: "Agent cache hits"})
	CacheMisses      = prometheus.NewCounter(prometheus.CounterOpts{Name: "agent_cache_misses_total", Help: "Agent cache misses triggering construction"})
	EventsPublished  = prometheus.NewCounter(prometheus.CounterOpts{Name: "agent_events_published_total", Help: "Lifecycle events fanned out to live connections"})
	QueueDepthGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "agent_queue_depth", Help: "Ready queue depth"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "agent_jobs_inflight", Help: "Jobs currently processing"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsSubmitted,
			JobsCompleted,
			JobsFailed,
			JobsCancelled,
			JobsRetried,
			ItemsProcessed,
			ItemsSucceeded,
			RateLimitRejects,
			CacheHits,
			CacheMisses,
			EventsPublished,
			QueueDepthGauge,
			InFlightGauge,
		)
	})
	return promhttp.Handler()
}
