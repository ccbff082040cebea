// Package feed defines the vendor-facing bar source. Vendor callbacks are
// decoupled from the pipeline through a bounded event channel drained by a
// single bridge worker.
package feed

import (
	"context"
	"time"

	"github.com/equipadv/barbridge/internal/model"
)

// Event is one raw vendor callback payload for a (code, period) pair.
// Time is the bar open time in the vendor's clock. Closed is only
// meaningful when HasClosed is true; vendors that never flag bar
// completion leave both false and rely on downstream close detection.
type Event struct {
	Code   string
	Period model.Period
	Time   time.Time

	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
	Amount float64

	Closed    bool
	HasClosed bool
}

// Source is a live bar vendor.
//
// Subscribe and Unsubscribe are idempotent per pair and must be safe to
// call from the control loop while events are flowing. Events returns the
// bounded channel the vendor pushes into; it is closed after Stop.
type Source interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	Subscribe(code string, period model.Period) error
	Unsubscribe(code string, period model.Period) error
	Events() <-chan Event
}
