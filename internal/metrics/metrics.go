// Package metrics exposes Prometheus metrics for the API and pipelines.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "deadline"

// Collector owns a private registry. A nil *Collector is valid and
// records nothing.
type Collector struct {
	registry        *prometheus.Registry
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	runTotal        *prometheus.CounterVec
	articlesTotal   *prometheus.CounterVec
	cacheTotal      *prometheus.CounterVec
}

// New constructs a collector with its histograms and counters registered.
func New() (*Collector, error) {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution for inbound HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of inbound HTTP requests.",
		}, []string{"method", "path", "status"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each pipeline stage.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 40, 80},
		}, []string{"pipeline", "stage"}),
		runTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Pipeline runs by outcome.",
		}, []string{"pipeline", "outcome"}),
		articlesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "articles_total",
			Help:      "Candidate articles by scrape result.",
		}, []string{"result"}),
		cacheTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Response cache lookups by outcome.",
		}, []string{"route", "outcome"}),
	}

	for _, col := range []prometheus.Collector{
		c.requestDuration, c.requestTotal, c.stageDuration, c.runTotal, c.articlesTotal, c.cacheTotal,
	} {
		if err := registry.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Handler returns an HTTP handler exposing the registry.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps next to record request counts and latency.
// path is the registered route, not the request URL, so label
// cardinality stays bounded.
func (c *Collector) InstrumentHandler(path string, next http.Handler) http.Handler {
	if c == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		status := strconv.Itoa(rw.status)
		c.requestTotal.WithLabelValues(r.Method, path, status).Inc()
		c.requestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
	})
}

// ObserveStage records how long a pipeline stage took.
func (c *Collector) ObserveStage(pipeline, stage string, d time.Duration) {
	if c == nil {
		return
	}
	c.stageDuration.WithLabelValues(pipeline, stage).Observe(d.Seconds())
}

// RunFinished counts a pipeline run; outcome is "success", "empty" or an
// error kind.
func (c *Collector) RunFinished(pipeline, outcome string) {
	if c == nil {
		return
	}
	c.runTotal.WithLabelValues(pipeline, outcome).Inc()
}

// Articles counts scrape attempts.
func (c *Collector) Articles(scraped, failed int) {
	if c == nil {
		return
	}
	c.articlesTotal.WithLabelValues("scraped").Add(float64(scraped))
	c.articlesTotal.WithLabelValues("failed").Add(float64(failed))
}

// CacheLookup counts a response cache hit or miss.
func (c *Collector) CacheLookup(route string, hit bool) {
	if c == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	c.cacheTotal.WithLabelValues(route, outcome).Inc()
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
