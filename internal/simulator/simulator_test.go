package simulator

import (
	"testing"
	"time"

	"github.com/odinmarkets/dna-pipeline/internal/model"
)

func tbar(ts time.Time, o, h, l, c float64) model.Bar {
	return model.Bar{Symbol: "AAPL", Timeframe: model.Timeframe1m, Timestamp: ts, Open: o, High: h, Low: l, Close: c, Volume: 100}
}

func regularTime(h, m int) time.Time {
	return time.Date(2026, 1, 2, h, m, 0, 0, time.UTC)
}

func TestTakeProfitUsesNextBarOpenFill(t *testing.T) {
	bars := []model.Bar{
		tbar(regularTime(9, 45), 100, 100.2, 99.8, 100),
		tbar(regularTime(9, 46), 100, 103.5, 99.9, 103), // take=100.32 touched here
		tbar(regularTime(9, 47), 103.2, 103.8, 102.9, 103.5),
	}
	cfg := DefaultConfig()
	cfg.DistanceMode = DistanceAbsolute
	cfg.StopAbs, cfg.TakeAbs = 2.80, 0.32
	labels := Simulate(bars, cfg)
	if len(labels) != 3 {
		t.Fatalf("expected one label per REGULAR-hours bar (3), got %d", len(labels))
	}
	l := labels[0]
	if l.ExitReason != model.ExitTakeProfit {
		t.Fatalf("expected TAKE_PROFIT, got %s", l.ExitReason)
	}
	if l.ExitPrice != bars[2].Open {
		t.Fatalf("expected exit_price to equal next bar's open %.2f, got %.2f", bars[2].Open, l.ExitPrice)
	}
}

func TestStopLossSymmetric(t *testing.T) {
	bars := []model.Bar{
		tbar(regularTime(9, 45), 100, 100.2, 99.8, 100),
		tbar(regularTime(9, 46), 100, 100.1, 96.0, 96.5), // stop touched
		tbar(regularTime(9, 47), 96.4, 96.6, 96.0, 96.3),
	}
	cfg := DefaultConfig()
	cfg.DistanceMode = DistanceAbsolute
	cfg.StopAbs, cfg.TakeAbs = 2.80, 10.0
	labels := Simulate(bars, cfg)
	l := labels[0]
	if l.ExitReason != model.ExitStopLoss {
		t.Fatalf("expected STOP_LOSS, got %s", l.ExitReason)
	}
	if l.Outcome != model.OutcomeFailure {
		t.Fatalf("expected FAILURE outcome for a stop-out, got %s", l.Outcome)
	}
}

func TestTieBreakDefaultsToStopLoss(t *testing.T) {
	bars := []model.Bar{
		tbar(regularTime(9, 45), 100, 100.2, 99.8, 100),
		tbar(regularTime(9, 46), 100, 103, 96, 99), // both take and stop touched same bar
		tbar(regularTime(9, 47), 99, 99.5, 98.5, 99.2),
	}
	cfg := DefaultConfig()
	cfg.DistanceMode = DistanceAbsolute
	cfg.StopAbs, cfg.TakeAbs = 2.80, 2.0
	labels := Simulate(bars, cfg)
	if labels[0].ExitReason != model.ExitStopLoss {
		t.Fatalf("expected conservative STOP_LOSS tie-break by default, got %s", labels[0].ExitReason)
	}
}

func TestTieBreakConfigurableToTakeProfit(t *testing.T) {
	bars := []model.Bar{
		tbar(regularTime(9, 45), 100, 100.2, 99.8, 100),
		tbar(regularTime(9, 46), 100, 103, 96, 99),
		tbar(regularTime(9, 47), 99, 99.5, 98.5, 99.2),
	}
	cfg := DefaultConfig()
	cfg.DistanceMode = DistanceAbsolute
	cfg.StopAbs, cfg.TakeAbs = 2.80, 2.0
	cfg.TieBreak = model.TieBreakTakeProfit
	labels := Simulate(bars, cfg)
	if labels[0].ExitReason != model.ExitTakeProfit {
		t.Fatalf("expected configured TAKE_PROFIT tie-break, got %s", labels[0].ExitReason)
	}
}

func TestTieBreakIndeterminateOmitsLabel(t *testing.T) {
	bars := []model.Bar{
		tbar(regularTime(9, 45), 100, 100.2, 99.8, 100),
		tbar(regularTime(9, 46), 100, 103, 96, 99),
		tbar(regularTime(9, 47), 99, 99.5, 98.5, 99.2),
	}
	cfg := DefaultConfig()
	cfg.DistanceMode = DistanceAbsolute
	cfg.StopAbs, cfg.TakeAbs = 2.80, 2.0
	cfg.TieBreak = model.TieBreakIndeterminate
	labels := Simulate(bars, cfg)
	if len(labels) != 2 {
		t.Fatalf("expected the INDETERMINATE entry to be omitted (2 labels), got %d", len(labels))
	}
	for _, l := range labels {
		if l.EntryTime.Equal(bars[0].Timestamp) {
			t.Fatalf("expected no label for the INDETERMINATE entry at %s, got exit reason %q", bars[0].Timestamp, l.ExitReason)
		}
	}
}

func TestForcedCloseAtOffsetBeforeAfterHours(t *testing.T) {
	var bars []model.Bar
	bars = append(bars, tbar(regularTime(9, 45), 100, 100.2, 99.8, 100))
	for m := 46; m <= 59; m++ {
		bars = append(bars, tbar(regularTime(9, m), 100, 100.3, 99.7, 100.1))
	}
	for h := 10; h < 16; h++ {
		for m := 0; m < 60; m += 5 {
			bars = append(bars, tbar(regularTime(h, m), 100, 100.3, 99.7, 100.1))
		}
	}
	bars = append(bars, tbar(regularTime(19, 30), 100, 100.3, 99.7, 105)) // inside default 30m forced-close window

	cfg := DefaultConfig()
	cfg.DistanceMode = DistanceAbsolute
	cfg.StopAbs, cfg.TakeAbs = 50, 50 // wide enough that nothing triggers early
	labels := Simulate(bars, cfg)
	l := labels[0]
	if l.ExitReason != model.ExitForcedClose {
		t.Fatalf("expected FORCED_CLOSE, got %s", l.ExitReason)
	}
}

func TestOpenAtSessionEndWhenRangeEndsFirst(t *testing.T) {
	bars := []model.Bar{
		tbar(regularTime(9, 45), 100, 100.2, 99.8, 100),
		tbar(regularTime(9, 46), 100, 100.3, 99.7, 100.1),
	}
	cfg := DefaultConfig()
	cfg.DistanceMode = DistanceAbsolute
	cfg.StopAbs, cfg.TakeAbs = 50, 50
	labels := Simulate(bars, cfg)
	if labels[len(labels)-1].ExitReason != model.ExitOpenAtEnd {
		t.Fatalf("expected OPEN_AT_SESSION_END, got %s", labels[len(labels)-1].ExitReason)
	}
}

func TestPnLAndOutcomeConsistency(t *testing.T) {
	bars := []model.Bar{
		tbar(regularTime(9, 45), 100, 100.2, 99.8, 100),
		tbar(regularTime(9, 46), 100, 103.5, 99.9, 103),
		tbar(regularTime(9, 47), 103.2, 103.8, 102.9, 103.5),
	}
	cfg := DefaultConfig()
	cfg.DistanceMode = DistanceAbsolute
	cfg.StopAbs, cfg.TakeAbs = 2.80, 0.32
	l := Simulate(bars, cfg)[0]
	expectedPnL := (l.ExitPrice - l.EntryPrice) * float64(l.Shares)
	if l.PnL != expectedPnL {
		t.Fatalf("pnl mismatch: got %.4f want %.4f", l.PnL, expectedPnL)
	}
	if (l.PnL > 0) != (l.Outcome == model.OutcomeSuccess) {
		t.Fatalf("outcome inconsistent with pnl sign: pnl=%.4f outcome=%s", l.PnL, l.Outcome)
	}
}
