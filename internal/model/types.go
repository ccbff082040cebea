package model

import (
	"fmt"
	"strconv"
	"time"
)

// -----------------------------------------------------------------------------
// Enumerations
// -----------------------------------------------------------------------------

// Period identifies a bar interval.
type Period string

const (
	PeriodMinute Period = "1m"
	PeriodHour   Period = "1h"
	PeriodDay    Period = "1d"
)

// ParsePeriod validates a period string.
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case PeriodMinute, PeriodHour, PeriodDay:
		return Period(s), nil
	}
	return "", fmt.Errorf("unsupported period %q (want 1m, 1h or 1d)", s)
}

// ParsePeriods validates a list of period strings.
func ParsePeriods(ss []string) ([]Period, error) {
	periods := make([]Period, 0, len(ss))
	for _, s := range ss {
		p, err := ParsePeriod(s)
		if err != nil {
			return nil, err
		}
		periods = append(periods, p)
	}
	return periods, nil
}

// Duration returns the bar interval length.
func (p Period) Duration() time.Duration {
	switch p {
	case PeriodMinute:
		return time.Minute
	case PeriodHour:
		return time.Hour
	case PeriodDay:
		return 24 * time.Hour
	}
	return 0
}

// Mode selects which bar states are published.
type Mode string

const (
	// ModeCloseOnly publishes a bar only once it is final.
	ModeCloseOnly Mode = "close_only"

	// ModeFormingAndClose additionally publishes in-progress bars.
	ModeFormingAndClose Mode = "forming_and_close"
)

// ParseMode validates a mode string. Empty input defaults to close_only.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModeCloseOnly, nil
	case ModeCloseOnly, ModeFormingAndClose:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unsupported mode %q (want close_only or forming_and_close)", s)
}

// Pair is one (code, period) combination, the unit of vendor subscription.
type Pair struct {
	Code   string
	Period Period
}

func (p Pair) String() string {
	return p.Code + "/" + string(p.Period)
}

// -----------------------------------------------------------------------------
// Bar events
// -----------------------------------------------------------------------------

// BarEvent is the wide-table bar message published on the bus.
// Timestamps are fixed-offset strings (see TSLayout); the offset is
// deployment-configured and invariant per deployment.
type BarEvent struct {
	Code      string  `json:"code"`
	Period    Period  `json:"period"`
	BarOpenTs string  `json:"bar_open_ts"`
	BarEndTs  string  `json:"bar_end_ts"`
	IsClosed  bool    `json:"is_closed"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Amount    float64 `json:"amount"`

	// Optional pass-through fields, present only when the vendor supplies them.
	PreClose        *float64 `json:"pre_close,omitempty"`
	SuspendFlag     *float64 `json:"suspend_flag,omitempty"`
	OpenInterest    *float64 `json:"open_interest,omitempty"`
	SettlementPrice *float64 `json:"settlement_price,omitempty"`

	Source string `json:"source"`
	RecvTs string `json:"recv_ts"`
}

// DedupKey identifies the logical bar instance for at-most-once delivery.
// Under close_only the key is (code, period, bar_end_ts); forming_and_close
// additionally distinguishes forming from closed emissions.
func (e BarEvent) DedupKey(mode Mode) string {
	key := e.Code + "|" + string(e.Period) + "|" + e.BarEndTs
	if mode == ModeFormingAndClose {
		key += "|" + strconv.FormatBool(e.IsClosed)
	}
	return key
}

// -----------------------------------------------------------------------------
// Subscriptions
// -----------------------------------------------------------------------------

// SubscriptionSpec describes one subscription request. Specs are immutable:
// a change is modeled as unsubscribe + subscribe.
type SubscriptionSpec struct {
	SubID        string   `json:"sub_id"`
	StrategyID   string   `json:"strategy_id"`
	Codes        []string `json:"codes"`
	Periods      []Period `json:"periods"`
	Mode         Mode     `json:"mode"`
	CloseDelayMs int      `json:"close_delay_ms"`
	PreloadDays  int      `json:"preload_days"`
	Topic        string   `json:"topic"`
	CreatedAt    int64    `json:"created_at"` // unix seconds
}

// Pairs expands the spec into its (code, period) combinations.
func (s SubscriptionSpec) Pairs() []Pair {
	pairs := make([]Pair, 0, len(s.Codes)*len(s.Periods))
	for _, c := range s.Codes {
		for _, p := range s.Periods {
			pairs = append(pairs, Pair{Code: c, Period: p})
		}
	}
	return pairs
}
