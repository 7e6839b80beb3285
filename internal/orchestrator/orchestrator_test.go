package orchestrator

import (
	"errors"
	"testing"
	"time"

	"github.com/odinmarkets/dna-pipeline/internal/model"
	"github.com/odinmarkets/dna-pipeline/internal/planner"
)

func TestGroupByKeyPreservesPerKeyOrder(t *testing.T) {
	t0 := time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)
	reqs := []planner.PlannedRequest{
		{Symbol: "AAPL", Timeframe: model.Timeframe1m, Range: planner.Range{From: t0, To: t0.Add(time.Hour)}},
		{Symbol: "MSFT", Timeframe: model.Timeframe1m, Range: planner.Range{From: t0, To: t0.Add(time.Hour)}},
		{Symbol: "AAPL", Timeframe: model.Timeframe1m, Range: planner.Range{From: t0.Add(time.Hour), To: t0.Add(2 * time.Hour)}},
	}
	timelines := groupByKey(reqs)
	if len(timelines) != 2 {
		t.Fatalf("expected 2 distinct keys, got %d", len(timelines))
	}
	var aapl keyTimeline
	for _, tl := range timelines {
		if tl.key.Symbol == "AAPL" {
			aapl = tl
		}
	}
	if len(aapl.requests) != 2 {
		t.Fatalf("expected 2 requests for AAPL, got %d", len(aapl.requests))
	}
	if !aapl.requests[0].Range.From.Equal(t0) || !aapl.requests[1].Range.From.Equal(t0.Add(time.Hour)) {
		t.Fatalf("expected AAPL requests to stay in submission order, got %+v", aapl.requests)
	}
}

func TestAllSucceededFalseOnAnyError(t *testing.T) {
	results := []KeyResult{
		{Key: TargetKey{Symbol: "AAPL"}},
		{Key: TargetKey{Symbol: "MSFT"}, Err: errors.New("fetch failed")},
	}
	if allSucceeded(results) {
		t.Fatal("expected allSucceeded to be false when one result carries an error")
	}
}
