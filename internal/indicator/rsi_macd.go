package indicator

import "github.com/odinmarkets/dna-pipeline/internal/model"

// rsiState implements Wilder's RSI: the first average gain/loss is a
// simple mean over `period` changes, then advanced with Wilder smoothing.
type rsiState struct {
	period       int
	prevClose    float64
	havePrev     bool
	gains        []float64
	losses       []float64
	avgGain      float64
	avgLoss      float64
	warmedUp     bool
}

func newRSIState(period int) *rsiState {
	if period <= 0 {
		period = 14
	}
	return &rsiState{period: period}
}

func (r *rsiState) advance(bar model.Bar) (float64, bool) {
	if !r.havePrev {
		r.prevClose = bar.Close
		r.havePrev = true
		return 0, false
	}
	change := bar.Close - r.prevClose
	r.prevClose = bar.Close
	gain, loss := 0.0, 0.0
	if change > 0 {
		gain = change
	} else {
		loss = -change
	}

	if !r.warmedUp {
		r.gains = append(r.gains, gain)
		r.losses = append(r.losses, loss)
		if len(r.gains) < r.period {
			return 0, false
		}
		for _, g := range r.gains {
			r.avgGain += g
		}
		for _, l := range r.losses {
			r.avgLoss += l
		}
		r.avgGain /= float64(r.period)
		r.avgLoss /= float64(r.period)
		r.warmedUp = true
	} else {
		r.avgGain = (r.avgGain*float64(r.period-1) + gain) / float64(r.period)
		r.avgLoss = (r.avgLoss*float64(r.period-1) + loss) / float64(r.period)
	}

	if r.avgLoss == 0 {
		return 100, true
	}
	rs := r.avgGain / r.avgLoss
	return 100 - (100 / (1 + rs)), true
}

// macdState computes the MACD line (fast EMA - slow EMA) smoothed by a
// signal-period EMA; the reported value is the signal-smoothed MACD,
// parameterized by fast/slow/signal periods.
type macdState struct {
	fast, slow *emaState
	signal     *emaState
}

func newMACDState(fast, slow, signal int) *macdState {
	if fast <= 0 {
		fast = 12
	}
	if slow <= 0 {
		slow = 26
	}
	if signal <= 0 {
		signal = 9
	}
	return &macdState{fast: newEMAState(fast), slow: newEMAState(slow), signal: newEMAState(signal)}
}

func (m *macdState) advance(bar model.Bar) (float64, bool) {
	fastVal, fastValid := m.fast.advance(bar)
	slowVal, slowValid := m.slow.advance(bar)
	if !fastValid || !slowValid {
		return 0, false
	}
	macdLine := fastVal - slowVal
	signalVal, signalValid := m.signal.advance(model.Bar{Close: macdLine})
	if !signalValid {
		return 0, false
	}
	return signalVal, true
}
