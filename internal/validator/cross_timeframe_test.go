package validator

import (
	"testing"
	"time"

	"github.com/odinmarkets/dna-pipeline/internal/model"
)

func finerBar(ts time.Time, o, h, l, c, vol float64) model.Bar {
	return model.Bar{Symbol: "AAPL", Timeframe: model.Timeframe1m, Timestamp: ts, Open: o, High: h, Low: l, Close: c, Volume: vol}
}

func TestCrossTimeframeConsistentAggregation(t *testing.T) {
	base := time.Date(2026, 1, 2, 9, 45, 0, 0, time.UTC)
	finer := []model.Bar{
		finerBar(base, 10, 10.5, 9.8, 10.2, 100),
		finerBar(base.Add(time.Minute), 10.2, 10.6, 10.0, 10.4, 150),
	}
	coarser := model.Bar{
		Symbol: "AAPL", Timeframe: model.Timeframe15m, Timestamp: base,
		Open: 10, Close: 10.4, High: 10.6, Low: 9.8, Volume: 250,
	}
	v := NewCrossTimeframe("")
	mismatches := v.Check([]model.Bar{coarser}, finer)
	if len(mismatches) != 0 {
		t.Fatalf("expected no mismatch, got %+v", mismatches)
	}
}

func TestCrossTimeframeDetectsMismatch(t *testing.T) {
	base := time.Date(2026, 1, 2, 9, 45, 0, 0, time.UTC)
	finer := []model.Bar{
		finerBar(base, 10, 10.5, 9.8, 10.2, 100),
		finerBar(base.Add(time.Minute), 10.2, 10.6, 10.0, 10.4, 150),
	}
	coarser := model.Bar{
		Symbol: "AAPL", Timeframe: model.Timeframe15m, Timestamp: base,
		Open: 10, Close: 10.4, High: 99, Low: 9.8, Volume: 250, // High wrong
	}
	v := NewCrossTimeframe(RefetchCoarser)
	mismatches := v.Check([]model.Bar{coarser}, finer)
	if len(mismatches) != 1 {
		t.Fatalf("expected exactly one mismatch, got %d", len(mismatches))
	}
	if mismatches[0].Refetch != RefetchCoarser {
		t.Fatalf("expected default refetch-coarser policy")
	}
}
