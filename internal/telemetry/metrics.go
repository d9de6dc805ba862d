package telemetry

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	httpDur = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	// Evaluations counts flag evaluations by reason code.
	Evaluations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flag_evaluations_total",
			Help: "Flag evaluations by reason code",
		},
		[]string{"reason"},
	)
	// DecisionsRecorded counts decision log writes by recorder mode and outcome.
	DecisionsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flag_decisions_recorded_total",
			Help: "Decision records written, by mode (sync/async) and status (ok/error/backpressure)",
		},
		[]string{"mode", "status"},
	)
	// DecisionQueueDepth is the number of decisions waiting in the async recorder queue.
	DecisionQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flag_decision_queue_depth",
		Help: "Decisions buffered in the async recorder queue",
	})
	// CacheInvalidations counts flag cache invalidations by result (ok/error).
	CacheInvalidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flag_cache_invalidations_total",
			Help: "Cache invalidations triggered by flag mutations",
		},
		[]string{"result"},
	)
	// CacheLookups counts evaluation cache lookups by result (hit/miss/error).
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flag_cache_lookups_total",
			Help: "Flag cache lookups",
		},
		[]string{"entry", "result"},
	)
	// WebhookDeliveries counts webhook deliveries by result (ok/failed/dropped).
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flag_webhook_deliveries_total",
			Help: "Webhook deliveries for flag mutation events",
		},
		[]string{"result"},
	)
)

var initOnce sync.Once

// Init registers all collectors with the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpReqs, httpDur,
			Evaluations, DecisionsRecorded, DecisionQueueDepth,
			CacheInvalidations, CacheLookups, WebhookDeliveries,
		)
	})
}

func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(ww, r)

		// route pattern is only complete once the router has matched
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}

		httpReqs.WithLabelValues(route, r.Method, strconv.Itoa(ww.status)).Inc()
		httpDur.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
