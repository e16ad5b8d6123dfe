package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

// Module provides the Prometheus registry
var Module = fx.Module("metrics",
	fx.Provide(NewRegistry),
)

// Registry holds all metrics for the service
type Registry struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	WritesTotal *prometheus.CounterVec

	EventsPublished *prometheus.CounterVec
	EventsFailed    prometheus.Counter
	EventsDropped   prometheus.Counter

	SchemaReloads *prometheus.CounterVec
}

// NewRegistry creates a registry with process and Go collectors attached
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Registry{registry: reg}
	f := promauto.With(reg)

	r.HTTPRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bizops_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
	r.HTTPRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bizops_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	r.WritesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bizops_writes_total",
			Help: "Write operations by outcome (written, noop, error)",
		},
		[]string{"operation", "outcome"},
	)
	r.EventsPublished = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bizops_events_published_total",
			Help: "Change events delivered to the audit log",
		},
		[]string{"event"},
	)
	r.EventsFailed = f.NewCounter(prometheus.CounterOpts{
		Name: "bizops_events_failed_total",
		Help: "Change events the sink failed to accept",
	})
	r.EventsDropped = f.NewCounter(prometheus.CounterOpts{
		Name: "bizops_events_dropped_total",
		Help: "Change events dropped because the dispatch queue was full",
	})
	r.SchemaReloads = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bizops_schema_reloads_total",
			Help: "Schema reload attempts by outcome (changed, unchanged, error)",
		},
		[]string{"outcome"},
	)
	return r
}

// Handler serves the registry in the Prometheus text format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry, mainly for tests
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}
