// Package metrics provides Prometheus metrics collection for docstream.
package metrics

import (
	"time"

	"github.com/artpar/docstream/domain/streaming"
	"github.com/artpar/docstream/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// OutcomePassthrough labels marked handlers whose value was not streamable.
const OutcomePassthrough = "passthrough"

// Collector holds all Prometheus metrics for docstream.
type Collector struct {
	// Request metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge
	RateLimited      prometheus.Counter

	// Stream metrics
	StreamsTotal   *prometheus.CounterVec
	StreamItems    *prometheus.CounterVec
	StreamDuration *prometheus.HistogramVec
	StreamsActive  prometheus.Gauge

	// Config metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
	ConfigLastReload   prometheus.Gauge
}

// New creates a collector registered with the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new metrics collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "docstream",
				Name:      "requests_total",
				Help:      "Total number of requests processed",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "docstream",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "route", "status"},
		),
		RequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "docstream",
				Name:      "requests_in_flight",
				Help:      "Number of requests currently being processed",
			},
		),

		StreamsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "docstream",
				Name:      "streams_total",
				Help:      "Streamed responses by handler and outcome",
			},
			[]string{"handler", "outcome"},
		),
		StreamItems: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "docstream",
				Name:      "stream_items_total",
				Help:      "Items written to streamed responses",
			},
			[]string{"handler"},
		),
		StreamDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "docstream",
				Name:      "stream_duration_seconds",
				Help:      "Time from first byte to stream end",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300},
			},
			[]string{"handler"},
		),
		StreamsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "docstream",
				Name:      "streams_active",
				Help:      "Number of streams currently draining",
			},
		),

		RateLimited: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "docstream",
				Name:      "rate_limited_total",
				Help:      "Total number of requests rejected by the rate limiter",
			},
		),

		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "docstream",
				Name:      "config_reloads_total",
				Help:      "Total number of successful config reloads",
			},
		),
		ConfigReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "docstream",
				Name:      "config_reload_errors_total",
				Help:      "Total number of config reload errors",
			},
		),
		ConfigLastReload: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "docstream",
				Name:      "config_last_reload_timestamp",
				Help:      "Unix timestamp of last successful config reload",
			},
		),
	}
}

// StreamStarted implements ports.StreamObserver.
func (c *Collector) StreamStarted(handler string) {
	c.StreamsActive.Inc()
}

// StreamEnded implements ports.StreamObserver. The final state becomes the
// outcome label.
func (c *Collector) StreamEnded(handler string, state streaming.State, items int64, elapsed time.Duration) {
	c.StreamsActive.Dec()
	c.StreamsTotal.WithLabelValues(handler, state.String()).Inc()
	if items > 0 {
		c.StreamItems.WithLabelValues(handler).Add(float64(items))
	}
	c.StreamDuration.WithLabelValues(handler).Observe(elapsed.Seconds())
}

// StreamPassthrough implements ports.StreamObserver.
func (c *Collector) StreamPassthrough(handler string) {
	c.StreamsTotal.WithLabelValues(handler, OutcomePassthrough).Inc()
}

var _ ports.StreamObserver = (*Collector)(nil)

// StatusLabel buckets an HTTP status code to keep label cardinality low.
func StatusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "other"
	}
}
