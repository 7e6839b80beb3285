package planner

import (
	"testing"
	"time"

	"github.com/odinmarkets/dna-pipeline/internal/model"
)

func mustTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestShardAdjacencyAndNoOverlap(t *testing.T) {
	targets := []Target{
		{Symbol: "AAPL", Timeframe: model.Timeframe1m, Range: Range{
			From: mustTime("2026-01-02T09:30:00Z"),
			To:   mustTime("2026-01-02T16:00:00Z"),
		}},
	}
	out, err := Plan(targets, Options{Strategy: StrategySequential, MaxBarsPerRequest: 100})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(out) < 2 {
		t.Fatalf("expected the 6.5h range to shard into multiple requests, got %d", len(out))
	}
	for i := 1; i < len(out); i++ {
		if !out[i].Range.From.Equal(out[i-1].Range.To) {
			t.Errorf("subrange %d not adjacent to %d: %v vs %v", i, i-1, out[i].Range.From, out[i-1].Range.To)
		}
		if out[i].Range.From.Before(out[i-1].Range.To) {
			t.Errorf("subrange %d overlaps %d", i, i-1)
		}
	}
}

func TestSequentialOrderingIsSymbolMajor(t *testing.T) {
	r := Range{From: mustTime("2026-01-02T09:30:00Z"), To: mustTime("2026-01-02T10:00:00Z")}
	targets := []Target{
		{Symbol: "MSFT", Timeframe: model.Timeframe1m, Range: r},
		{Symbol: "AAPL", Timeframe: model.Timeframe15m, Range: r},
		{Symbol: "AAPL", Timeframe: model.Timeframe1m, Range: r},
	}
	out, err := Plan(targets, Options{Strategy: StrategySequential, MaxBarsPerRequest: 1000})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if out[0].Symbol != "AAPL" || out[len(out)-1].Symbol != "MSFT" {
		t.Fatalf("expected symbol-major ordering, got %+v", out)
	}
}

func TestParallelBySymbolGroupsByTimeframe(t *testing.T) {
	r := Range{From: mustTime("2026-01-02T09:30:00Z"), To: mustTime("2026-01-02T09:40:00Z")}
	targets := []Target{
		{Symbol: "A", Timeframe: model.Timeframe1m, Range: r},
		{Symbol: "B", Timeframe: model.Timeframe1m, Range: r},
		{Symbol: "C", Timeframe: model.Timeframe1m, Range: r},
	}
	out, err := Plan(targets, Options{Strategy: StrategyParallelBySymbol, MaxBarsPerRequest: 1000, SymbolParallelism: 2})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if out[0].Priority != out[1].Priority {
		t.Fatalf("expected first K=2 symbols at equal priority, got %+v", out)
	}
	if out[2].Priority == out[0].Priority {
		t.Fatalf("expected the 3rd symbol to spill into the next priority band")
	}
}

func TestMixedPrefersFinerTimeframes(t *testing.T) {
	r := Range{From: mustTime("2026-01-02T09:30:00Z"), To: mustTime("2026-01-02T09:40:00Z")}
	targets := []Target{
		{Symbol: "A", Timeframe: model.Timeframe1h, Range: r},
		{Symbol: "A", Timeframe: model.Timeframe1m, Range: r},
	}
	out, err := Plan(targets, Options{Strategy: StrategyMixed, MaxBarsPerRequest: 1000})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	var finerPri, coarserPri int
	for _, req := range out {
		if req.Timeframe == model.Timeframe1m {
			finerPri = req.Priority
		} else {
			coarserPri = req.Priority
		}
	}
	if finerPri <= coarserPri {
		t.Fatalf("expected finer timeframe to carry higher priority, got finer=%d coarser=%d", finerPri, coarserPri)
	}
}

func TestPlanRejectsInvalidRange(t *testing.T) {
	targets := []Target{{Symbol: "A", Timeframe: model.Timeframe1m, Range: Range{
		From: mustTime("2026-01-02T10:00:00Z"),
		To:   mustTime("2026-01-02T09:00:00Z"),
	}}}
	if _, err := Plan(targets, Options{Strategy: StrategySequential, MaxBarsPerRequest: 10}); err == nil {
		t.Fatal("expected error for To before From")
	}
}
