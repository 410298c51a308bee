package scheduler

import (
	"testing"
	"time"

	"github.com/politicai/orderetl/internal/domain"
)

func TestCalculateNextDue_Cron(t *testing.T) {
	sched := &domain.Schedule{
		CronExpr: "0 6 * * *",
		Timezone: "UTC",
	}

	from := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	next, err := CalculateNextDue(sched, from)
	if err != nil {
		t.Fatalf("CalculateNextDue: %v", err)
	}

	want := time.Date(2026, 8, 27, 6, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %s, want %s", next, want)
	}
}

func TestCalculateNextDue_Interval(t *testing.T) {
	sched := &domain.Schedule{
		IntervalSec: 1800,
		Timezone:    "UTC",
	}

	from := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	next, err := CalculateNextDue(sched, from)
	if err != nil {
		t.Fatalf("CalculateNextDue: %v", err)
	}

	if got := next.Sub(from); got != 30*time.Minute {
		t.Errorf("interval = %s, want 30m", got)
	}
}

func TestCalculateNextDue_BadTimezoneFallsBack(t *testing.T) {
	sched := &domain.Schedule{
		IntervalSec: 60,
		Timezone:    "Mars/Olympus",
	}

	if _, err := CalculateNextDue(sched, time.Now()); err != nil {
		t.Fatalf("bad timezone must fall back to UTC, got %v", err)
	}
}

func TestCalculateNextDue_Empty(t *testing.T) {
	sched := &domain.Schedule{Timezone: "UTC"}
	if _, err := CalculateNextDue(sched, time.Now()); err == nil {
		t.Fatal("expected error for schedule without cron or interval")
	}
}

func TestValidateCronExpr(t *testing.T) {
	if err := ValidateCronExpr("*/30 * * * *"); err != nil {
		t.Errorf("valid expr rejected: %v", err)
	}
	if err := ValidateCronExpr("not a cron"); err == nil {
		t.Error("invalid expr accepted")
	}
}
