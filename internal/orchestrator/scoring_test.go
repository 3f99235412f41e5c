package orchestrator

import (
	"testing"
	"time"
)

func TestScoringWindowWithinGraceReachesPreviousMonth(t *testing.T) {
	now := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	from, to := ScoringWindow(true, 7, now)

	wantFrom := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	wantTo := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	if !from.Equal(wantFrom) {
		t.Fatalf("from = %v, want %v", from, wantFrom)
	}
	if !to.Equal(wantTo) {
		t.Fatalf("to = %v, want %v", to, wantTo)
	}
}

func TestScoringWindowPastGraceStaysInCurrentMonth(t *testing.T) {
	now := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	from, to := ScoringWindow(true, 7, now)

	wantFrom := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	wantTo := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	if !from.Equal(wantFrom) {
		t.Fatalf("from = %v, want %v", from, wantFrom)
	}
	if !to.Equal(wantTo) {
		t.Fatalf("to = %v, want %v", to, wantTo)
	}
}

func TestScoringWindowNotUpdatingIgnoresGrace(t *testing.T) {
	now := time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC)
	from, to := ScoringWindow(false, 7, now)

	wantFrom := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	wantTo := time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC)
	if !from.Equal(wantFrom) {
		t.Fatalf("from = %v, want %v, update_scores=False should never reach into the previous month", from, wantFrom)
	}
	if !to.Equal(wantTo) {
		t.Fatalf("to = %v, want %v", to, wantTo)
	}
}
