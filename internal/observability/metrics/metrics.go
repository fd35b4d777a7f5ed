package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace      = "shelfshare"
	unmatchedRoute = "unmatched"
)

// Recorder owns a Prometheus registry with the HTTP, authentication, grant
// and catalog search collectors. Each Recorder has its own registry so tests
// can build isolated instances.
type Recorder struct {
	registry *prometheus.Registry

	httpInFlight   prometheus.Gauge
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	authFailures   *prometheus.CounterVec
	grantsIssued   prometheus.Counter
	searchRequests *prometheus.CounterVec
	searchDuration *prometheus.HistogramVec
}

var (
	defaultMu       sync.RWMutex
	defaultRecorder = New()
)

// New constructs a Recorder with freshly registered collectors, including
// the Go runtime and process collectors.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"method", "route"}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "failures_total",
			Help:      "Rejected bearer authentications by reason.",
		}, []string{"reason"}),
		grantsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "access",
			Name:      "grants_total",
			Help:      "Access grant requests accepted.",
		}),
		searchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "External catalog requests by source and outcome.",
		}, []string{"source", "outcome"}),
		searchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "request_duration_seconds",
			Help:      "Duration of external catalog requests.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 9),
		}, []string{"source"}),
	}
	r.registry.MustRegister(
		r.httpInFlight,
		r.httpRequests,
		r.httpDuration,
		r.authFailures,
		r.grantsIssued,
		r.searchRequests,
		r.searchDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Default returns the process-wide recorder.
func Default() *Recorder {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultRecorder
}

// SetDefault replaces the process-wide recorder. Nil is ignored.
func SetDefault(r *Recorder) {
	if r == nil {
		return
	}
	defaultMu.Lock()
	defaultRecorder = r
	defaultMu.Unlock()
}

// Registry exposes the underlying registry for callers that add collectors.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveRequest records one completed HTTP request under its route pattern.
// An empty route is counted as "unmatched".
func (r *Recorder) ObserveRequest(method, route string, status int, duration time.Duration) {
	method = strings.ToUpper(method)
	if route == "" {
		route = unmatchedRoute
	}
	r.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (r *Recorder) ObserveAuthFailure(reason string) {
	r.authFailures.WithLabelValues(normalizeName(reason)).Inc()
}

func (r *Recorder) ObserveGrant() {
	r.grantsIssued.Inc()
}

// ObserveSearch records an external catalog call.
func (r *Recorder) ObserveSearch(source, outcome string, duration time.Duration) {
	source = normalizeName(source)
	r.searchRequests.WithLabelValues(source, normalizeName(outcome)).Inc()
	r.searchDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
