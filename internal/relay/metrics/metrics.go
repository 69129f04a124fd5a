// Package metrics exposes the relay's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles every relay metric behind one registration point.
type Collector struct {
	registry prometheus.Registerer
	gatherer prometheus.Gatherer

	connectionsActive   prometheus.Gauge
	subscriptionsActive prometheus.Gauge
	eventsPublished     *prometheus.CounterVec
	deliveryFailures    prometheus.Counter
	validationFailures  *prometheus.CounterVec
	fanoutSize          prometheus.Histogram
}

func newCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bidrelay",
			Subsystem: "relay",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newGauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bidrelay",
		Subsystem: "relay",
		Name:      name,
		Help:      help,
	})
}

// NewCollector creates and registers the relay collectors on its own
// registry, keeping tests free of default-registry collisions.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	c := &Collector{
		registry: registry,
		gatherer: registry,

		connectionsActive:   newGauge("connections_active", "Number of live WebSocket connections"),
		subscriptionsActive: newGauge("subscriptions_active", "Number of active subscriptions"),
		eventsPublished:     newCounterVec("events_published_total", "Auction events accepted for broadcast", []string{"event_type"}),
		deliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bidrelay",
			Subsystem: "relay",
			Name:      "delivery_failures_total",
			Help:      "Per-connection deliveries that failed during fan-out",
		}),
		validationFailures: newCounterVec("validation_failures_total", "Publishes rejected during validation", []string{"reason"}),
		fanoutSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bidrelay",
			Subsystem: "relay",
			Name:      "fanout_size",
			Help:      "Connections matched per published event",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}),
	}

	registry.MustRegister(
		c.connectionsActive,
		c.subscriptionsActive,
		c.eventsPublished,
		c.deliveryFailures,
		c.validationFailures,
		c.fanoutSize,
	)
	return c
}

func (c *Collector) ConnectionOpened() { c.connectionsActive.Inc() }
func (c *Collector) ConnectionClosed() { c.connectionsActive.Dec() }

func (c *Collector) SetSubscriptions(n int) {
	c.subscriptionsActive.Set(float64(n))
}

// EventPublished records an accepted publish and its fan-out size.
func (c *Collector) EventPublished(eventType string, matched int) {
	c.eventsPublished.WithLabelValues(eventType).Inc()
	c.fanoutSize.Observe(float64(matched))
}

func (c *Collector) DeliveryFailed() { c.deliveryFailures.Inc() }

// ValidationFailed records a rejected publish by reason
// ("unknown_event_type" or "schema_mismatch").
func (c *Collector) ValidationFailed(reason string) {
	c.validationFailures.WithLabelValues(reason).Inc()
}

// Handler serves the collector's registry in Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry for tests.
func (c *Collector) Gatherer() prometheus.Gatherer {
	return c.gatherer
}
