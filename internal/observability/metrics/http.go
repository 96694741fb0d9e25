package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	ingestDecisionsTotal *prometheus.CounterVec
	searchRequestsTotal  *prometheus.CounterVec
	searchCandidates     *prometheus.HistogramVec
	searchDuration       *prometheus.HistogramVec
	rerankDegradedTotal  *prometheus.CounterVec
	deleteDocsTotal      *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "haven",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "haven",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "haven",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	ingestDecisionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "haven",
			Subsystem: "ingest",
			Name:      "decisions_total",
			Help:      "Total ingest admissions by decision.",
		},
		[]string{"service", "source_type", "decision"},
	)
	searchRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "haven",
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Total successful search requests by modality mix.",
		},
		[]string{"service", "mode"},
	)
	searchCandidates := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "haven",
			Subsystem: "search",
			Name:      "fused_candidates",
			Help:      "Fused candidate count before paging.",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 200, 400},
		},
		[]string{"service"},
	)
	searchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "haven",
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Search request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service"},
	)
	rerankDegradedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "haven",
			Subsystem: "search",
			Name:      "rerank_degraded_total",
			Help:      "Searches that fell back to fused order after a rerank failure.",
		},
		[]string{"service"},
	)
	deleteDocsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "haven",
			Subsystem: "documents",
			Name:      "deleted_total",
			Help:      "Logical documents removed from active search visibility.",
		},
		[]string{"service"},
	)

	registry.MustRegister(
		requestTotal, requestDuration, requestInFlight,
		ingestDecisionsTotal, searchRequestsTotal, searchCandidates,
		searchDuration, rerankDegradedTotal, deleteDocsTotal,
	)

	return &HTTPServerMetrics{
		registry:             registry,
		requestTotal:         requestTotal,
		requestDuration:      requestDuration,
		requestInFlight:      requestInFlight,
		ingestDecisionsTotal: ingestDecisionsTotal,
		searchRequestsTotal:  searchRequestsTotal,
		searchCandidates:     searchCandidates,
		searchDuration:       searchDuration,
		rerankDegradedTotal:  rerankDegradedTotal,
		deleteDocsTotal:      deleteDocsTotal,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// normalizePath collapses path parameters so label cardinality stays bounded.
func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/submissions/"):
		return "/v1/submissions/{submission_id}"
	case strings.HasPrefix(path, "/v1/documents/") && strings.HasSuffix(path, "/status"):
		return "/v1/documents/{document_id}/status"
	default:
		return path
	}
}

func (m *HTTPServerMetrics) RecordIngestDecision(service, sourceType, decision string) {
	if decision == "" {
		decision = "unknown"
	}
	m.ingestDecisionsTotal.WithLabelValues(service, sourceType, decision).Inc()
}

func (m *HTTPServerMetrics) RecordSearch(service, mode string, fusedCandidates int, duration time.Duration, rerankDegraded bool) {
	if mode == "" {
		mode = "unknown"
	}
	m.searchRequestsTotal.WithLabelValues(service, mode).Inc()
	m.searchCandidates.WithLabelValues(service).Observe(float64(fusedCandidates))
	m.searchDuration.WithLabelValues(service).Observe(duration.Seconds())
	if rerankDegraded {
		m.rerankDegradedTotal.WithLabelValues(service).Inc()
	}
}

func (m *HTTPServerMetrics) RecordDeletedDocuments(service string, count int) {
	if count <= 0 {
		return
	}
	m.deleteDocsTotal.WithLabelValues(service).Add(float64(count))
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}
