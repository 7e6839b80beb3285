// Package simulator implements the Trade Simulator: a
// fixed LONG-only forward simulation anchored at every REGULAR-hours bar,
// advanced through subsequent same-timeframe bars to a terminal exit
// (TAKE_PROFIT, STOP_LOSS, FORCED_CLOSE, or OPEN_AT_SESSION_END).
package simulator

import (
	"github.com/odinmarkets/dna-pipeline/internal/model"
)

// Simulate runs the fixed LONG policy over bars, which must already be one
// (symbol, timeframe) series in strictly increasing timestamp order. It
// returns one label per REGULAR-hours entry bar, in entry order; an entry
// whose same-bar tie-break resolves INDETERMINATE gets no label.
func Simulate(bars []model.Bar, cfg Config) []model.Label {
	cfg = cfg.withDefaults()
	var labels []model.Label
	for i, entryBar := range bars {
		if cfg.Calendar.Classify(entryBar.Timestamp) != model.SessionRegular {
			continue
		}
		l := simulateOne(bars, i, cfg)
		if l.ExitReason == "" {
			continue // INDETERMINATE tie-break: the entry is left unlabeled
		}
		labels = append(labels, l)
	}
	return labels
}

func simulateOne(bars []model.Bar, entryIdx int, cfg Config) model.Label {
	entryBar := bars[entryIdx]
	entry := entryBar.Open
	stop := entry - cfg.stopDistance(entry)
	take := entry + cfg.takeDistance(entry)
	qty := cfg.Quantity

	forceCloseCutoff := cfg.Calendar.AfterHoursEnd.On(entryBar.Timestamp).Add(-cfg.ForceCloseOffset)

	label := model.Label{
		EntryBarKey: entryBar.Key(),
		EntryPrice:  entry,
		StopPrice:   stop,
		TakePrice:   take,
		Shares:      qty,
		EntryTime:   entryBar.Timestamp,
	}

	for n := entryIdx + 1; n < len(bars); n++ {
		bar := bars[n]
		if !bar.Timestamp.Before(forceCloseCutoff) {
			finalizeExit(&label, bar, bar.Close, model.ExitForcedClose, n-entryIdx, qty)
			return label
		}

		tpTouched := bar.High >= take
		slTouched := bar.Low <= stop

		reason := model.ExitReason("")
		triggerPrice := 0.0
		switch {
		case tpTouched && slTouched:
			switch cfg.TieBreak {
			case model.TieBreakTakeProfit:
				reason, triggerPrice = model.ExitTakeProfit, take
			case model.TieBreakIndeterminate:
				label.ExitReason = ""
				return label
			default: // TieBreakStopLoss, the conservative default
				reason, triggerPrice = model.ExitStopLoss, stop
			}
		case tpTouched:
			reason, triggerPrice = model.ExitTakeProfit, take
		case slTouched:
			reason, triggerPrice = model.ExitStopLoss, stop
		default:
			continue
		}

		exitBar, exitPrice := fillBar(bars, n, triggerPrice)
		finalizeExit(&label, exitBar, exitPrice, reason, n-entryIdx, qty)
		return label
	}

	label.ExitReason = model.ExitOpenAtEnd
	return label
}

// fillBar models a realistic fill: the exit is priced and timestamped at
// the NEXT bar's open if one exists; otherwise it settles at the trigger bar itself, at the trigger
// price.
func fillBar(bars []model.Bar, triggerIdx int, triggerPrice float64) (model.Bar, float64) {
	if triggerIdx+1 < len(bars) {
		next := bars[triggerIdx+1]
		return next, next.Open
	}
	return bars[triggerIdx], triggerPrice
}

func finalizeExit(label *model.Label, exitBar model.Bar, exitPrice float64, reason model.ExitReason, barsToExit, qty int) {
	label.ExitBarKey = exitBar.Key()
	label.ExitPrice = exitPrice
	label.ExitReason = reason
	label.BarsToExit = barsToExit
	label.ExitTime = exitBar.Timestamp
	label.PnL = (exitPrice - label.EntryPrice) * float64(qty)
	if label.PnL > 0 {
		label.Outcome = model.OutcomeSuccess
	} else {
		label.Outcome = model.OutcomeFailure
	}
}
