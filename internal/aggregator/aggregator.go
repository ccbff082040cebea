// Package aggregator turns raw vendor events into bar emissions with an
// explicit lifecycle: a bar forms while its interval is open and closes
// exactly once.
package aggregator

import (
	"time"

	"github.com/equipadv/barbridge/internal/feed"
	"github.com/equipadv/barbridge/internal/model"
)

// Config holds aggregation settings.
type Config struct {
	// Mode selects whether forming emissions are produced.
	Mode model.Mode

	// CloseDelay is the grace period past a bar boundary before the
	// wall-clock sweep closes it. Covers vendors whose final update
	// arrives slightly after the boundary.
	CloseDelay time.Duration

	// FormingMinInterval rate-limits forming emissions per pair.
	FormingMinInterval time.Duration

	// Location renders bar timestamps in a fixed UTC offset.
	Location *time.Location

	// Source tags every emission with the vendor identity.
	Source string
}

// barState is the forming bar for one pair.
type barState struct {
	open time.Time
	end  time.Time

	o, h, l, c float64
	vol, amt   float64

	lastForming time.Time
}

// Aggregator maintains per (code, period) bar state. It is not
// goroutine-safe: a single bridge worker owns Observe and Sweep, which
// also gives per-pair ordering for free.
type Aggregator struct {
	cfg    Config
	now    func() time.Time
	states map[model.Pair]*barState
	closed map[model.Pair]time.Time
}

// New creates an aggregator.
func New(cfg Config) *Aggregator {
	if cfg.Location == nil {
		cfg.Location = time.FixedZone("UTC+08:00", 8*3600)
	}
	return &Aggregator{
		cfg:    cfg,
		now:    time.Now,
		states: make(map[model.Pair]*barState),
		closed: make(map[model.Pair]time.Time),
	}
}

// Observe folds one vendor event into the bar state and returns the
// emissions it triggers, closed bars first. Close triggers, in priority
// order: the vendor's own closed flag, then observing a bar from the next
// interval. Events for an instance that already closed are dropped.
func (a *Aggregator) Observe(e feed.Event) []model.BarEvent {
	d := e.Period.Duration()
	if d == 0 {
		return nil
	}
	pair := model.Pair{Code: e.Code, Period: e.Period}
	open := model.BucketOpen(e.Time, e.Period, a.cfg.Location)
	end := open.Add(d)

	if last, ok := a.closed[pair]; ok && !end.After(last) {
		return nil
	}

	var out []model.BarEvent

	st := a.states[pair]
	if st != nil && open.After(st.open) {
		out = append(out, a.emit(pair, st, true))
		st = nil
	}
	if st == nil {
		st = &barState{
			open: open, end: end,
			o: e.Open, h: e.High, l: e.Low, c: e.Close,
			vol: e.Volume, amt: e.Amount,
		}
		a.states[pair] = st
	} else {
		if e.High > st.h {
			st.h = e.High
		}
		if e.Low < st.l {
			st.l = e.Low
		}
		st.c = e.Close
		st.vol = e.Volume
		st.amt = e.Amount
	}

	if e.HasClosed && e.Closed {
		out = append(out, a.emit(pair, st, true))
		delete(a.states, pair)
		return out
	}

	if a.cfg.Mode == model.ModeFormingAndClose {
		now := a.now()
		if st.lastForming.IsZero() || now.Sub(st.lastForming) >= a.cfg.FormingMinInterval {
			st.lastForming = now
			out = append(out, a.emit(pair, st, false))
		}
	}
	return out
}

// Sweep closes every forming bar whose boundary plus the close delay has
// passed. Called periodically by the bridge worker so bars still close
// when the vendor goes quiet.
func (a *Aggregator) Sweep(now time.Time) []model.BarEvent {
	var out []model.BarEvent
	for pair, st := range a.states {
		if !now.Before(st.end.Add(a.cfg.CloseDelay)) {
			out = append(out, a.emit(pair, st, true))
			delete(a.states, pair)
		}
	}
	return out
}

// Reset drops all state for a pair. Used on full unsubscription.
func (a *Aggregator) Reset(pair model.Pair) {
	delete(a.states, pair)
	delete(a.closed, pair)
}

// Forming returns the number of bars currently open.
func (a *Aggregator) Forming() int {
	return len(a.states)
}

func (a *Aggregator) emit(pair model.Pair, st *barState, closed bool) model.BarEvent {
	if closed {
		a.closed[pair] = st.end
	}
	return model.BarEvent{
		Code:      pair.Code,
		Period:    pair.Period,
		BarOpenTs: model.FormatTS(st.open, a.cfg.Location),
		BarEndTs:  model.FormatTS(st.end, a.cfg.Location),
		IsClosed:  closed,
		Open:      st.o,
		High:      st.h,
		Low:       st.l,
		Close:     st.c,
		Volume:    st.vol,
		Amount:    st.amt,
		Source:    a.cfg.Source,
		RecvTs:    model.FormatTS(a.now(), a.cfg.Location),
	}
}
