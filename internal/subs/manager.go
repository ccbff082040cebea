// Package subs tracks which strategies want which (code, period) pairs
// and keeps vendor subscriptions minimal: one vendor subscribe per pair
// no matter how many strategies reference it.
package subs

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/equipadv/barbridge/internal/model"
)

// Vendor is the slice of the feed source the manager drives.
type Vendor interface {
	Subscribe(code string, period model.Period) error
	Unsubscribe(code string, period model.Period) error
}

// Manager is the reference-counting table between strategies and vendor
// pairs. A single mutex serializes both the table and the vendor calls,
// so the vendor never sees interleaved subscribe/unsubscribe for a pair.
type Manager struct {
	logger *slog.Logger
	vendor Vendor

	// onRelease fires after the last strategy leaves a pair, outside
	// vendor error paths. The bridge uses it to clear per-pair state.
	onRelease func(model.Pair)

	mu   sync.Mutex
	refs map[model.Pair]map[string]struct{}
}

// New creates a manager. onRelease may be nil.
func New(vendor Vendor, onRelease func(model.Pair), logger *slog.Logger) *Manager {
	return &Manager{
		logger:    logger.With("component", "subs"),
		vendor:    vendor,
		onRelease: onRelease,
		refs:      make(map[model.Pair]map[string]struct{}),
	}
}

// Add registers every pair of the spec for its strategy. The vendor is
// subscribed only for pairs that had no strategy before. Re-adding a pair
// for the same strategy is a no-op.
func (m *Manager) Add(spec model.SubscriptionSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, pair := range spec.Pairs() {
		holders, ok := m.refs[pair]
		if !ok {
			if err := m.vendor.Subscribe(pair.Code, pair.Period); err != nil {
				return fmt.Errorf("vendor subscribe %s: %w", pair, err)
			}
			holders = make(map[string]struct{})
			m.refs[pair] = holders
			m.logger.Info("vendor pair subscribed", "pair", pair.String())
		}
		holders[spec.StrategyID] = struct{}{}
	}
	return nil
}

// Remove drops the strategy's claim on the given pairs. A pair whose last
// strategy leaves is unsubscribed at the vendor. The table entry is
// removed even when the vendor call fails; the first such error is
// returned after all pairs are processed.
func (m *Manager) Remove(strategyID string, pairs []model.Pair) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for _, pair := range pairs {
		holders, ok := m.refs[pair]
		if !ok {
			continue
		}
		if _, held := holders[strategyID]; !held {
			continue
		}
		delete(holders, strategyID)
		if len(holders) > 0 {
			continue
		}
		delete(m.refs, pair)
		if err := m.vendor.Unsubscribe(pair.Code, pair.Period); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("vendor unsubscribe %s: %w", pair, err)
			}
			m.logger.Warn("vendor unsubscribe failed", "pair", pair.String(), "error", err)
		} else {
			m.logger.Info("vendor pair released", "pair", pair.String())
		}
		if m.onRelease != nil {
			m.onRelease(pair)
		}
	}
	return firstErr
}

// Holders returns the strategies currently referencing a pair, sorted.
func (m *Manager) Holders(pair model.Pair) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	holders := m.refs[pair]
	out := make([]string, 0, len(holders))
	for id := range holders {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Snapshot returns every active pair with its holder count, sorted by
// pair string. Used by the status command.
func (m *Manager) Snapshot() []PairRefs {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]PairRefs, 0, len(m.refs))
	for pair, holders := range m.refs {
		out = append(out, PairRefs{Pair: pair, Holders: len(holders)})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Pair.String() < out[j].Pair.String()
	})
	return out
}

// PairRefs is one row of the manager snapshot.
type PairRefs struct {
	Pair    model.Pair `json:"pair"`
	Holders int        `json:"holders"`
}
