// Package history defines the backfill collaborator. The bridge only
// consumes this interface, for preload on subscribe; a vendor-specific
// implementation lives with the deployment and never touches the live
// publish path.
package history

import (
	"context"

	"github.com/equipadv/barbridge/internal/model"
)

// Summary describes the outcome of one backfill fetch. Gaps are
// [headTs, tailTs] ranges the vendor could not cover.
type Summary struct {
	Status string     `json:"status"`
	Count  int        `json:"count"`
	Gaps   [][2]string `json:"gaps,omitempty"`
	HeadTs string     `json:"head_ts,omitempty"`
	TailTs string     `json:"tail_ts,omitempty"`

	// Data is populated only when the caller asked for the bars
	// themselves rather than a fetch-and-store.
	Data []model.BarEvent `json:"data,omitempty"`
}

// Fetch statuses.
const (
	StatusOK      = "ok"
	StatusPartial = "partial"
	StatusError   = "error"
)

// API fetches historical bars from the vendor.
type API interface {
	FetchBars(ctx context.Context, codes []string, period model.Period, start, end string, dividendType string) (Summary, error)
}
