package usecase_test

import (
	"testing"
	"time"

	"github.com/vitos/trade_risk_guard/internal/domain"
	"github.com/vitos/trade_risk_guard/internal/usecase"
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("LoadLocation(%s): %v", name, err)
	}
	return loc
}

func TestNextOccurrence_TodayWhenAhead(t *testing.T) {
	loc := mustLoc(t, "America/Chicago")
	now := time.Date(2025, 6, 10, 9, 0, 0, 0, loc)
	tod := domain.TimeOfDay{Hour: 17, Minute: 0}

	next := usecase.NextOccurrence(now, tod, loc)
	want := time.Date(2025, 6, 10, 17, 0, 0, 0, loc)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestNextOccurrence_TomorrowWhenPassed(t *testing.T) {
	loc := mustLoc(t, "America/Chicago")
	now := time.Date(2025, 6, 10, 17, 0, 0, 0, loc) // exactly at target
	tod := domain.TimeOfDay{Hour: 17, Minute: 0}

	next := usecase.NextOccurrence(now, tod, loc)
	want := time.Date(2025, 6, 11, 17, 0, 0, 0, loc)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestNextOccurrence_SpringForwardStaysOnWallClock(t *testing.T) {
	loc := mustLoc(t, "America/New_York")
	// 2025-03-09 02:00 EST jumps to 03:00 EDT. Crossing it, the reset
	// must land on 17:00 wall clock, not 24h after the previous fire.
	now := time.Date(2025, 3, 8, 18, 0, 0, 0, loc)
	tod := domain.TimeOfDay{Hour: 17, Minute: 0}

	next := usecase.NextOccurrence(now, tod, loc)
	want := time.Date(2025, 3, 9, 17, 0, 0, 0, loc)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
	// The interval is 23h because an hour vanished, and that is correct.
	if d := next.Sub(now); d != 23*time.Hour {
		t.Fatalf("interval across spring-forward = %v, want 23h", d)
	}
}

func TestNextOccurrence_FallBack(t *testing.T) {
	loc := mustLoc(t, "America/New_York")
	// 2025-11-02 02:00 EDT falls back to 01:00 EST.
	now := time.Date(2025, 11, 1, 18, 0, 0, 0, loc)
	tod := domain.TimeOfDay{Hour: 17, Minute: 0}

	next := usecase.NextOccurrence(now, tod, loc)
	want := time.Date(2025, 11, 2, 17, 0, 0, 0, loc)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
	if d := next.Sub(now); d != 25*time.Hour {
		t.Fatalf("interval across fall-back = %v, want 25h", d)
	}
}

func TestResetScheduler_RegisterValidatesInput(t *testing.T) {
	s := usecase.NewResetScheduler(testLogger())
	defer s.Stop()

	if err := s.Register("daily_loss", "25:00", "UTC", func() {}); err == nil {
		t.Fatal("expected error for bad time of day")
	}
	if err := s.Register("daily_loss", "17:00", "Mars/Olympus", func() {}); err == nil {
		t.Fatal("expected error for bad timezone")
	}
	if err := s.Register("daily_loss", "17:00", "America/Chicago", func() {}); err != nil {
		t.Fatalf("Register: %v", err)
	}
}

func TestResetScheduler_NextReset(t *testing.T) {
	s := usecase.NewResetScheduler(testLogger())
	defer s.Stop()

	if !s.NextReset("daily_loss").IsZero() {
		t.Fatal("unregistered rule should have zero next reset")
	}
	if err := s.Register("daily_loss", "17:00", "UTC", func() {}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	next := s.NextReset("daily_loss")
	if next.IsZero() || !next.After(time.Now()) {
		t.Fatalf("next reset = %v, want a future instant", next)
	}
	if next.Hour() != 17 || next.Minute() != 0 {
		t.Fatalf("next reset = %v, want 17:00 UTC", next.UTC())
	}
}
