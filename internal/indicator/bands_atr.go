package indicator

import (
	"math"

	"github.com/odinmarkets/dna-pipeline/internal/model"
)

// bollingerState tracks a rolling SMA and standard deviation of close and
// reports the upper band (middle + stddev * k); the middle band is
// available via the SMA family and the lower band is symmetric, so one
// float suffices to characterize the configured band.
type bollingerState struct {
	period int
	stdDev float64
	window []float64
}

func newBollingerState(period int, stdDev float64) *bollingerState {
	if period <= 0 {
		period = 20
	}
	if stdDev <= 0 {
		stdDev = 2
	}
	return &bollingerState{period: period, stdDev: stdDev}
}

func (b *bollingerState) advance(bar model.Bar) (float64, bool) {
	b.window = append(b.window, bar.Close)
	if len(b.window) > b.period {
		b.window = b.window[1:]
	}
	if len(b.window) < b.period {
		return 0, false
	}
	var sum float64
	for _, v := range b.window {
		sum += v
	}
	mean := sum / float64(len(b.window))
	var sumSq float64
	for _, v := range b.window {
		d := v - mean
		sumSq += d * d
	}
	stddev := math.Sqrt(sumSq / float64(len(b.window)))
	return mean + b.stdDev*stddev, true
}

// atrState computes Wilder's Average True Range: true range is the
// largest of (high-low), |high-prevClose|, |low-prevClose|; the first
// average is a simple mean over `period` true ranges, then Wilder-smoothed.
type atrState struct {
	period    int
	prevClose float64
	havePrev  bool
	trs       []float64
	avgTR     float64
	warmedUp  bool
}

func newATRState(period int) *atrState {
	if period <= 0 {
		period = 14
	}
	return &atrState{period: period}
}

func (a *atrState) advance(bar model.Bar) (float64, bool) {
	tr := bar.High - bar.Low
	if a.havePrev {
		tr = math.Max(tr, math.Abs(bar.High-a.prevClose))
		tr = math.Max(tr, math.Abs(bar.Low-a.prevClose))
	}
	a.prevClose = bar.Close
	a.havePrev = true

	if !a.warmedUp {
		a.trs = append(a.trs, tr)
		if len(a.trs) < a.period {
			return 0, false
		}
		for _, v := range a.trs {
			a.avgTR += v
		}
		a.avgTR /= float64(a.period)
		a.warmedUp = true
		return a.avgTR, true
	}
	a.avgTR = (a.avgTR*float64(a.period-1) + tr) / float64(a.period)
	return a.avgTR, true
}
