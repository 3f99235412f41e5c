// Package timeutil handles the market's two time zones: UTC internally, and
// the buyer's local zone for gate-closure scheduling (CET, with DST) and
// daily ranking aggregation.
package timeutil

import (
	"fmt"
	"time"
)

// cetLocation loads the IANA zone that observes the CET/CEST DST rules used
// by the gate-closure schedule.
func cetLocation() (*time.Location, error) {
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		return nil, fmt.Errorf("load CET location: %w", err)
	}
	return loc, nil
}

// NextGateClosureUTC computes the next UTC instant whose local CET/CEST hour
// equals gateClosureHour, strictly after `now`. It handles both DST
// transitions:
//   - spring-forward: if the naive local wall-clock time does not exist
//     (the hour is skipped), the next valid occurrence is used instead.
//   - fall-back: if the naive local wall-clock time occurs twice, the
//     first (earlier, pre-transition) occurrence is used, matching the
//     conventional "first instance wins" convention for cron-like schedules.
func NextGateClosureUTC(now time.Time, gateClosureHour int) (time.Time, error) {
	if gateClosureHour < 0 || gateClosureHour > 23 {
		return time.Time{}, fmt.Errorf("gate_closure_hour must be in [0,23], got %d", gateClosureHour)
	}

	loc, err := cetLocation()
	if err != nil {
		return time.Time{}, err
	}

	localNow := now.In(loc)
	candidate := resolveLocal(localNow.Year(), localNow.Month(), localNow.Day(), gateClosureHour, loc)

	if !candidate.UTC().After(now.UTC()) {
		nextDay := localNow.AddDate(0, 0, 1)
		candidate = resolveLocal(nextDay.Year(), nextDay.Month(), nextDay.Day(), gateClosureHour, loc)
	}

	return candidate.UTC(), nil
}

// resolveLocal builds a local wall-clock time for (year, month, day, hour)
// in loc, then canonicalises it across a DST transition. During fall-back
// time.Date may return either instant of an ambiguous wall clock (for
// Europe/Berlin it returns the later one), so the instant one hour earlier
// is used whenever it shows the same wall clock: the first occurrence wins.
// During spring-forward time.Date rolls a non-existent wall clock forward
// by the size of the gap, which lands exactly on the next valid instant.
func resolveLocal(year int, month time.Month, day, hour int, loc *time.Location) time.Time {
	t := time.Date(year, month, day, hour, 0, 0, 0, loc)
	if earlier := t.Add(-time.Hour); earlier.Hour() == hour && earlier.Day() == day {
		return earlier
	}
	return t
}

// LocalDay returns the calendar day (in loc) that timestamp t falls on.
func LocalDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}
