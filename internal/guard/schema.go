// Package guard contains the pre-publish gates: schema validation of the
// wire contract and suppression of duplicate bar emissions.
package guard

import (
	"fmt"
	"math"
	"strings"

	"github.com/equipadv/barbridge/internal/metrics"
	"github.com/equipadv/barbridge/internal/model"
)

// Rejection describes why a candidate failed validation. It is never
// fatal: rejected candidates are dropped and counted, nothing more.
type Rejection struct {
	Field  string
	Reason string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("schema rejection: %s: %s", r.Field, r.Reason)
}

// SchemaConfig holds validation settings.
type SchemaConfig struct {
	// Mode tightens validation: close_only requires is_closed=true.
	Mode model.Mode

	// UTCOffset is the suffix every bar_end_ts must carry, e.g. "+08:00".
	UTCOffset string
}

// Schema validates candidate bar events against the wire contract before
// anything downstream sees them.
type Schema struct {
	cfg    SchemaConfig
	global *metrics.Global
}

// NewSchema creates a schema guard. global may be nil in tests.
func NewSchema(cfg SchemaConfig, global *metrics.Global) *Schema {
	if cfg.UTCOffset == "" {
		cfg.UTCOffset = "+08:00"
	}
	return &Schema{cfg: cfg, global: global}
}

// Validate checks a candidate. A nil return means the event may proceed;
// a *Rejection return means it was dropped and counted.
func (s *Schema) Validate(e model.BarEvent) error {
	if rej := s.check(e); rej != nil {
		if s.global != nil {
			s.global.IncSchemaDrop()
		}
		return rej
	}
	return nil
}

func (s *Schema) check(e model.BarEvent) *Rejection {
	if e.Code == "" {
		return &Rejection{Field: "code", Reason: "missing"}
	}
	if _, err := model.ParsePeriod(string(e.Period)); err != nil {
		return &Rejection{Field: "period", Reason: "missing or invalid"}
	}
	if e.BarEndTs == "" {
		return &Rejection{Field: "bar_end_ts", Reason: "missing"}
	}
	if _, err := model.ParseTS(e.BarEndTs); err != nil {
		return &Rejection{Field: "bar_end_ts", Reason: "not a fixed-offset timestamp"}
	}
	if !strings.HasSuffix(e.BarEndTs, s.cfg.UTCOffset) {
		return &Rejection{Field: "bar_end_ts", Reason: "offset must be " + s.cfg.UTCOffset}
	}
	for _, f := range [...]struct {
		name string
		val  float64
	}{
		{"open", e.Open},
		{"high", e.High},
		{"low", e.Low},
		{"close", e.Close},
		{"volume", e.Volume},
		{"amount", e.Amount},
	} {
		if math.IsNaN(f.val) || math.IsInf(f.val, 0) {
			return &Rejection{Field: f.name, Reason: "not a finite number"}
		}
	}
	if s.cfg.Mode == model.ModeCloseOnly && !e.IsClosed {
		return &Rejection{Field: "is_closed", Reason: "must be true under close_only"}
	}
	return nil
}
