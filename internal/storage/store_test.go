package storage

import (
	"testing"
	"time"

	"github.com/odinmarkets/dna-pipeline/internal/model"
)

func TestExpectedGridExcludesWeekendsAndNonRegularHours(t *testing.T) {
	calendar := model.DefaultCalendar()
	from := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)  // Friday
	to := time.Date(2026, 1, 5, 17, 0, 0, 0, time.UTC)   // through Monday
	grid := expectedGrid(model.Timeframe1h, from, to, calendar)
	for _, ts := range grid {
		if ts.Weekday() == time.Saturday || ts.Weekday() == time.Sunday {
			t.Fatalf("weekend timestamp leaked into grid: %v", ts)
		}
		if calendar.Classify(ts) != model.SessionRegular {
			t.Fatalf("non-regular timestamp leaked into grid: %v", ts)
		}
	}
	if len(grid) == 0 {
		t.Fatal("expected a non-empty grid for a weekday regular-hours span")
	}
}

func TestExpectedGridOnCanonicalBoundaries(t *testing.T) {
	calendar := model.DefaultCalendar()
	from := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)
	to := time.Date(2026, 1, 2, 17, 0, 0, 0, time.UTC)
	for _, ts := range expectedGrid(model.Timeframe15m, from, to, calendar) {
		if !model.Timeframe15m.OnGrid(ts) {
			t.Fatalf("grid point not on 15m grid: %v", ts)
		}
	}
}
