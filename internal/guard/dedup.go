package guard

import (
	"sync"

	"github.com/equipadv/barbridge/internal/metrics"
	"github.com/equipadv/barbridge/internal/model"
)

// Dedup suppresses repeat emissions of a logical bar. It tracks, per
// (code, period), the dedup key of the last admitted closed event; a
// candidate whose key matches the stored one is dropped and counted.
//
// Forming events carry a key that never collides with a closed one, so
// they pass through; the aggregator's rate limit bounds their volume.
type Dedup struct {
	mode    model.Mode
	metrics *metrics.Collector

	mu   sync.Mutex
	last map[model.Pair]string
}

// NewDedup creates a dedup guard. collector may be nil in tests.
func NewDedup(mode model.Mode, collector *metrics.Collector) *Dedup {
	return &Dedup{
		mode:    mode,
		metrics: collector,
		last:    make(map[model.Pair]string),
	}
}

// Admit reports whether the event is first of its kind. Duplicates
// return false and increment the dedup hit counter.
func (d *Dedup) Admit(e model.BarEvent) bool {
	key := e.DedupKey(d.mode)
	pair := model.Pair{Code: e.Code, Period: e.Period}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.last[pair] == key {
		if d.metrics != nil {
			d.metrics.IncDedupHit()
		}
		return false
	}
	if e.IsClosed {
		d.last[pair] = key
	}
	return true
}

// Forget drops the stored key for a pair. Used when a pair is fully
// unsubscribed so a later re-subscription starts clean.
func (d *Dedup) Forget(pair model.Pair) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.last, pair)
}

// Len returns the number of tracked pairs.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.last)
}
