package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"route", "method"},
	)

	VendorRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vendor_requests_total",
			Help: "Total number of vendor backend calls by operation and outcome",
		},
		[]string{"operation", "status"},
	)
	VendorRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vendor_request_duration_seconds",
			Help:    "Vendor backend call duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"operation"},
	)

	DispatchAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_attempts_total",
			Help: "Total number of per-account dispatch attempts by outcome",
		},
		[]string{"outcome"},
	)

	AccountsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pool_accounts_total",
			Help: "Number of configured accounts",
		},
	)
	AccountsAvailable = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pool_accounts_available",
			Help: "Number of accounts currently available for rotation",
		},
	)
	AccountDemotionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pool_account_demotions_total",
			Help: "Total number of account demotions",
		},
	)

	ArtifactsSavedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artifacts_saved_total",
			Help: "Total number of image artifacts persisted by source",
		},
		[]string{"source"},
	)
	ArtifactsEvictedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "artifacts_evicted_total",
			Help: "Total number of expired image artifacts removed",
		},
	)
)

// InitMetrics registers all collectors once per process.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(VendorRequestsTotal)
	prometheus.MustRegister(VendorRequestDuration)
	prometheus.MustRegister(DispatchAttemptsTotal)
	prometheus.MustRegister(AccountsTotal)
	prometheus.MustRegister(AccountsAvailable)
	prometheus.MustRegister(AccountDemotionsTotal)
	prometheus.MustRegister(ArtifactsSavedTotal)
	prometheus.MustRegister(ArtifactsEvictedTotal)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, http.StatusText(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(dur)
	})
}
