package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter mirrors the bridge counters into a Prometheus registry.
// The counters themselves stay the source of truth for snapshots and
// status acks; Prometheus reads them through CounterFunc.
func Exporter(c *Collector, g *Global) *prometheus.Registry {
	reg := prometheus.NewRegistry()

	counter := func(name, help string, value func() float64) prometheus.CounterFunc {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "barbridge",
			Name:      name,
			Help:      help,
		}, value)
	}

	reg.MustRegister(
		counter("published_total", "Messages successfully published to the bus.",
			func() float64 { return float64(c.Snapshot().Published) }),
		counter("publish_fail_total", "Publishes dropped after exhausting retries.",
			func() float64 { return float64(c.Snapshot().PublishFail) }),
		counter("dedup_hit_total", "Duplicate bar emissions suppressed.",
			func() float64 { return float64(c.Snapshot().DedupHit) }),
		counter("bars_published_total", "Bar events delivered to the bus.",
			func() float64 { return float64(g.SnapshotGlobal().BarsPublishedTotal) }),
		counter("schema_drop_total", "Candidates rejected by the schema guard.",
			func() float64 { return float64(g.SnapshotGlobal().SchemaDropTotal) }),
		counter("late_bars_total", "Accepted bars older than the late threshold.",
			func() float64 { return float64(g.SnapshotGlobal().LateBarsTotal) }),
	)

	return reg
}

// Handler serves the exporter registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
