// Package metrics exposes Prometheus counters for the HTTP API, the
// catalog cache and watch-status writes.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Provider interface {
	IncRequestsTotal(endpoint string, status int)
	ObserveRequestDuration(endpoint string, duration time.Duration)
	IncCacheHits()
	IncCacheMisses()
	IncUpserts(mediaType, outcome string)
	Handler() http.Handler
}

type prometheusProvider struct {
	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	upserts         *prometheus.CounterVec
}

// New returns a provider backed by its own registry, or a no-op one
// when disabled.
func New(enabled bool) Provider {
	if !enabled {
		return noop{}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &prometheusProvider{
		registry: reg,
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "watchwise_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"endpoint", "status"}),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "watchwise_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),

		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "watchwise_catalog_cache_hits_total",
			Help: "Total number of catalog cache hits",
		}),

		cacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "watchwise_catalog_cache_misses_total",
			Help: "Total number of catalog cache misses",
		}),

		upserts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "watchwise_status_upserts_total",
			Help: "Watch status writes by media type and outcome",
		}, []string{"media_type", "outcome"}),
	}
}

func (m *prometheusProvider) IncRequestsTotal(endpoint string, status int) {
	m.requestsTotal.WithLabelValues(endpoint, httpStatusBucket(status)).Inc()
}

func (m *prometheusProvider) ObserveRequestDuration(endpoint string, duration time.Duration) {
	m.requestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

func (m *prometheusProvider) IncCacheHits() { m.cacheHits.Inc() }

func (m *prometheusProvider) IncCacheMisses() { m.cacheMisses.Inc() }

func (m *prometheusProvider) IncUpserts(mediaType, outcome string) {
	m.upserts.WithLabelValues(mediaType, outcome).Inc()
}

func (m *prometheusProvider) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func httpStatusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

type noop struct{}

func (noop) IncRequestsTotal(string, int)                 {}
func (noop) ObserveRequestDuration(string, time.Duration) {}
func (noop) IncCacheHits()                                {}
func (noop) IncCacheMisses()                              {}
func (noop) IncUpserts(string, string)                    {}
func (noop) Handler() http.Handler                        { return http.NotFoundHandler() }
