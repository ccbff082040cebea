package model

import (
	"fmt"
	"time"
)

// TSLayout is the wire timestamp format: YYYY-MM-DDTHH:MM:SS±HH:MM.
// The numeric offset is always present (never "Z").
const TSLayout = "2006-01-02T15:04:05-07:00"

// FormatTS renders a timestamp in the deployment's fixed offset.
func FormatTS(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(TSLayout)
}

// ParseTS parses a wire timestamp. The offset must be explicit.
func ParseTS(s string) (time.Time, error) {
	return time.Parse(TSLayout, s)
}

// BucketOpen floors t to the opening instant of the bar interval that
// contains it. Intervals are anchored at local midnight in loc, so a day
// bar opens at 00:00 local time rather than 00:00 UTC.
func BucketOpen(t time.Time, p Period, loc *time.Location) time.Time {
	lt := t.In(loc)
	y, m, d := lt.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, loc)
	if p == PeriodDay {
		return midnight
	}
	return midnight.Add(lt.Sub(midnight).Truncate(p.Duration()))
}

// FixedOffset converts an offset spec such as "+08:00" into a fixed zone.
func FixedOffset(spec string) (*time.Location, error) {
	if len(spec) != 6 || (spec[0] != '+' && spec[0] != '-') || spec[3] != ':' {
		return nil, fmt.Errorf("invalid utc offset %q (want ±HH:MM)", spec)
	}
	var hh, mm int
	if _, err := fmt.Sscanf(spec[1:], "%02d:%02d", &hh, &mm); err != nil {
		return nil, fmt.Errorf("invalid utc offset %q: %w", spec, err)
	}
	if hh > 14 || mm > 59 {
		return nil, fmt.Errorf("invalid utc offset %q: out of range", spec)
	}
	secs := hh*3600 + mm*60
	if spec[0] == '-' {
		secs = -secs
	}
	return time.FixedZone("UTC"+spec, secs), nil
}
