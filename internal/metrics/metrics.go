// Package metrics provides the bridge's thread-safe counters.
//
// Two scopes exist: a Collector carries instance-level publish counters,
// a Global carries process-wide pipeline totals including late-bar
// detection. Counters are monotonic for the process lifetime and are not
// persisted; both scopes are exported to Prometheus via Exporter.
package metrics

import (
	"sync"
	"time"

	"github.com/equipadv/barbridge/internal/model"
)

// Snapshot is a point-in-time copy of instance counters.
type Snapshot struct {
	Published   int64 `json:"published"`
	PublishFail int64 `json:"publish_fail"`
	DedupHit    int64 `json:"dedup_hit"`
}

// Collector holds instance-level counters.
type Collector struct {
	mu          sync.Mutex
	published   int64
	publishFail int64
	dedupHit    int64
}

// NewCollector creates an empty instance collector.
func NewCollector() *Collector {
	return &Collector{}
}

// IncPublished records one successful publish.
func (c *Collector) IncPublished() {
	c.mu.Lock()
	c.published++
	c.mu.Unlock()
}

// IncPublishFail records one publish that exhausted its retries.
func (c *Collector) IncPublishFail() {
	c.mu.Lock()
	c.publishFail++
	c.mu.Unlock()
}

// IncDedupHit records one suppressed duplicate.
func (c *Collector) IncDedupHit() {
	c.mu.Lock()
	c.dedupHit++
	c.mu.Unlock()
}

// Snapshot returns a copy of the current counters.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Published:   c.published,
		PublishFail: c.publishFail,
		DedupHit:    c.dedupHit,
	}
}

// GlobalSnapshot is a point-in-time copy of process-wide counters.
type GlobalSnapshot struct {
	BarsPublishedTotal int64 `json:"bars_published_total"`
	SchemaDropTotal    int64 `json:"schema_drop_total"`
	LateBarsTotal      int64 `json:"late_bars_total"`
}

// GlobalConfig holds process-wide counter settings.
type GlobalConfig struct {
	// LateThreshold is the lateness beyond which an accepted bar counts
	// as late (now - bar_end_ts).
	LateThreshold time.Duration
}

// DefaultGlobalConfig returns sensible defaults.
func DefaultGlobalConfig() GlobalConfig {
	return GlobalConfig{LateThreshold: 3 * time.Second}
}

// Global holds process-wide counters.
type Global struct {
	cfg GlobalConfig
	now func() time.Time

	mu            sync.Mutex
	barsPublished int64
	schemaDrop    int64
	lateBars      int64
}

// NewGlobal creates process-wide counters.
func NewGlobal(cfg GlobalConfig) *Global {
	if cfg.LateThreshold == 0 {
		cfg.LateThreshold = DefaultGlobalConfig().LateThreshold
	}
	return &Global{cfg: cfg, now: time.Now}
}

// IncBarsPublished records one bar event delivered to the bus.
func (g *Global) IncBarsPublished() {
	g.mu.Lock()
	g.barsPublished++
	g.mu.Unlock()
}

// IncSchemaDrop records one schema-guard rejection.
func (g *Global) IncSchemaDrop() {
	g.mu.Lock()
	g.schemaDrop++
	g.mu.Unlock()
}

// ObserveBar performs late-bar detection on an accepted event.
// Unparsable end timestamps are ignored here; the schema guard already
// accounts for them.
func (g *Global) ObserveBar(e model.BarEvent) {
	end, err := model.ParseTS(e.BarEndTs)
	if err != nil {
		return
	}
	if g.now().Sub(end) > g.cfg.LateThreshold {
		g.mu.Lock()
		g.lateBars++
		g.mu.Unlock()
	}
}

// SnapshotGlobal returns a copy of the current counters.
func (g *Global) SnapshotGlobal() GlobalSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return GlobalSnapshot{
		BarsPublishedTotal: g.barsPublished,
		SchemaDropTotal:    g.schemaDrop,
		LateBarsTotal:      g.lateBars,
	}
}

// ServiceStatus combines both scopes for status acks.
func ServiceStatus(c *Collector, g *Global) model.ServiceStatus {
	inst := c.Snapshot()
	glob := g.SnapshotGlobal()
	return model.ServiceStatus{
		Published:          inst.Published,
		PublishFail:        inst.PublishFail,
		DedupHit:           inst.DedupHit,
		BarsPublishedTotal: glob.BarsPublishedTotal,
		SchemaDropTotal:    glob.SchemaDropTotal,
		LateBarsTotal:      glob.LateBarsTotal,
	}
}
