package timeutil

import (
	"testing"
	"time"
)

func TestNextGateClosureUTCOrdinaryDay(t *testing.T) {
	now := time.Date(2024, 6, 1, 6, 0, 0, 0, time.UTC) // 08:00 CEST
	next, err := NextGateClosureUTC(now, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	loc, _ := cetLocation()
	local := next.In(loc)
	if local.Hour() != 10 {
		t.Fatalf("expected local hour 10, got %d (UTC %v)", local.Hour(), next)
	}
	if !next.After(now) {
		t.Fatalf("expected computed instant to be after now")
	}
}

func TestNextGateClosureUTCSpringForward(t *testing.T) {
	// 2024-03-31 is EU spring-forward day (02:00 CET -> 03:00 CEST).
	loc, _ := cetLocation()
	before := time.Date(2024, 3, 31, 0, 30, 0, 0, loc).UTC()

	next, err := NextGateClosureUTC(before, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	local := next.In(loc)
	if local.Hour() != 10 || local.Day() != 31 {
		t.Fatalf("expected 10:00 local on March 31, got %v", local)
	}
}

func TestNextGateClosureUTCFallBack(t *testing.T) {
	// 2024-10-27 is EU fall-back day (03:00 CEST -> 02:00 CET).
	loc, _ := cetLocation()
	before := time.Date(2024, 10, 26, 23, 0, 0, 0, loc).UTC()

	next, err := NextGateClosureUTC(before, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	local := next.In(loc)
	if local.Hour() != 10 || local.Day() != 27 {
		t.Fatalf("expected 10:00 local on Oct 27, got %v", local)
	}
}

func TestNextGateClosureUTCInvalidHour(t *testing.T) {
	if _, err := NextGateClosureUTC(time.Now(), 24); err == nil {
		t.Fatalf("expected error for out-of-range hour")
	}
}
