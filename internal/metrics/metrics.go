// Package metrics exposes Prometheus instrumentation for the streamer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the streamer process.
type Metrics struct {
	RecordsTotal        prometheus.Counter
	DecodeErrors        prometheus.Counter
	PublishTotal        prometheus.Counter
	QueueDrops          prometheus.Counter
	UpstreamReconnects  prometheus.Counter
	SubscriberTeardowns prometheus.Counter

	Subscribers prometheus.Gauge

	SnapshotDur prometheus.Histogram
}

// New registers and returns all collectors on a fresh registry, so
// multiple instances in tests do not collide.
func New() (*Metrics, *prometheus.Registry) {
	m := &Metrics{
		RecordsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamer_feed_records_total",
			Help: "Total feed records decoded from the upstream connection",
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamer_decode_errors_total",
			Help: "Total malformed feed records dropped",
		}),
		PublishTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamer_publish_total",
			Help: "Total candle events published to the broker",
		}),
		QueueDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamer_queue_drops_total",
			Help: "Total events dropped against full subscriber queues",
		}),
		UpstreamReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamer_upstream_reconnects_total",
			Help: "Total upstream feed reconnection attempts",
		}),
		SubscriberTeardowns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamer_subscriber_teardowns_total",
			Help: "Total subscriber connections torn down",
		}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "streamer_subscribers",
			Help: "Currently connected subscribers",
		}),
		SnapshotDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "streamer_snapshot_seed_seconds",
			Help:    "Time to build and seed a history snapshot on subscribe",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		m.RecordsTotal, m.DecodeErrors, m.PublishTotal, m.QueueDrops,
		m.UpstreamReconnects, m.SubscriberTeardowns, m.Subscribers, m.SnapshotDur,
	)
	return m, reg
}

// Handler returns the scrape handler for the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
