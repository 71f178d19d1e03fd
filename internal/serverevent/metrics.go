package serverevent

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors mirroring SERVERSTATISTICS,
// adapted from the teacher's monitoring/exporter subtree onto the
// client_golang registry instead of a bespoke scraper.
type Metrics struct {
	DeltaRate      prometheus.Gauge
	WSClients      prometheus.Gauge
	AvailablePaths prometheus.Gauge
	DeltaDropped   prometheus.Counter

	Registry *prometheus.Registry
}

// NewMetrics constructs and registers a fresh metrics set.
func NewMetrics() *Metrics {
	m := &Metrics{
		DeltaRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "signalk", Name: "delta_rate", Help: "1-second EMA of deltas applied to the store per second.",
		}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "signalk", Name: "ws_clients", Help: "Number of live streaming sessions.",
		}),
		AvailablePaths: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "signalk", Name: "available_paths", Help: "Number of value-node leaves in the store.",
		}),
		DeltaDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "signalk", Name: "delta_dropped_total", Help: "Deltas dropped by ingress overflow or the interception chain.",
		}),
		Registry: prometheus.NewRegistry(),
	}
	m.Registry.MustRegister(m.DeltaRate, m.WSClients, m.AvailablePaths, m.DeltaDropped)
	return m
}
