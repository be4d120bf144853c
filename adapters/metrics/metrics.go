// Package metrics provides Prometheus metrics for published resources.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "modelapi"

// Collector holds all Prometheus metrics of the service.
type Collector struct {
	// Request metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Validation metrics
	ValidationFailures *prometheus.CounterVec

	// Registration metrics
	ResourcesRegistered  prometheus.Gauge
	PendingRegistrations prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New creates a collector registered with the default registry.
func New() *Collector {
	return newCollector(promauto.With(prometheus.DefaultRegisterer), prometheus.DefaultGatherer)
}

// NewWithRegistry creates a collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg *prometheus.Registry) *Collector {
	return newCollector(promauto.With(reg), reg)
}

func newCollector(factory promauto.Factory, gatherer prometheus.Gatherer) *Collector {
	return &Collector{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "requests_total",
				Help:      "Total number of resource requests processed",
			},
			[]string{"resource", "operation", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "request_duration_seconds",
				Help:      "Resource request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"resource", "operation"},
		),
		RequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests currently being processed",
			},
		),
		ValidationFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "validation_failures_total",
				Help:      "Total number of rejected request bodies",
			},
			[]string{"resource", "reason"},
		),
		ResourcesRegistered: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "resources_registered",
				Help:      "Number of published resources",
			},
		),
		PendingRegistrations: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "pending_registrations",
				Help:      "Number of resources waiting for the runtime to attach",
			},
		),
		gatherer: gatherer,
	}
}

// ObserveRequest records one served resource request.
func (c *Collector) ObserveRequest(resource, operation string, status int, d time.Duration) {
	c.RequestsTotal.WithLabelValues(resource, operation, strconv.Itoa(status)).Inc()
	c.RequestDuration.WithLabelValues(resource, operation).Observe(d.Seconds())
}

// ValidationFailed records a rejected request body.
func (c *Collector) ValidationFailed(resource, reason string) {
	c.ValidationFailures.WithLabelValues(resource, reason).Inc()
}

// SetResources sets the number of published resources.
func (c *Collector) SetResources(n int) {
	c.ResourcesRegistered.Set(float64(n))
}

// SetPending sets the number of queued registrations.
func (c *Collector) SetPending(n int) {
	c.PendingRegistrations.Set(float64(n))
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
