package indicator

import "github.com/odinmarkets/dna-pipeline/internal/model"

// vwapState accumulates (typical price * volume) / volume, optionally
// resetting at the start of each trading session via its session-reset
// flag.
type vwapState struct {
	sessionReset   bool
	calendar       model.SessionCalendar
	currentSession model.Session
	haveSession    bool
	cumPV          float64
	cumVol         float64
}

func newVWAPState(sessionReset bool) *vwapState {
	return &vwapState{sessionReset: sessionReset, calendar: model.DefaultCalendar()}
}

func (v *vwapState) advance(bar model.Bar) (float64, bool) {
	if v.sessionReset {
		session := v.calendar.Classify(bar.Timestamp)
		if !v.haveSession || session != v.currentSession {
			v.cumPV, v.cumVol = 0, 0
			v.currentSession = session
			v.haveSession = true
		}
	}
	typical := (bar.High + bar.Low + bar.Close) / 3
	v.cumPV += typical * bar.Volume
	v.cumVol += bar.Volume
	if v.cumVol == 0 {
		return 0, false
	}
	return v.cumPV / v.cumVol, true
}

// obvState is a running total: + volume on an up close, - volume on a down
// close, unchanged on a flat close. No configurable parameters.
type obvState struct {
	prevClose float64
	havePrev  bool
	value     float64
}

func newOBVState() *obvState { return &obvState{} }

func (o *obvState) advance(bar model.Bar) (float64, bool) {
	if !o.havePrev {
		o.prevClose = bar.Close
		o.havePrev = true
		return o.value, true
	}
	switch {
	case bar.Close > o.prevClose:
		o.value += bar.Volume
	case bar.Close < o.prevClose:
		o.value -= bar.Volume
	}
	o.prevClose = bar.Close
	return o.value, true
}

// adxState implements Wilder's Average Directional Index: +DM/-DM and
// true range are Wilder-smoothed into +DI/-DI, DX = 100*|+DI - -DI|/(+DI +
// -DI), and ADX is itself a Wilder-smoothed average of DX over `period`.
type adxState struct {
	period              int
	prevHigh, prevLow   float64
	prevClose           float64
	smoothedPlusDM      float64
	smoothedMinusDM     float64
	smoothedTR          float64
	warmedDI            bool
	dmCount             int
	dxValues            []float64
	avgDX               float64
	warmedADX           bool
}

func newADXState(period int) *adxState {
	if period <= 0 {
		period = 14
	}
	return &adxState{period: period}
}

func (a *adxState) advance(bar model.Bar) (float64, bool) {
	if !a.haveFirstBar() {
		a.prevHigh, a.prevLow, a.prevClose = bar.High, bar.Low, bar.Close
		a.dmCount = 1
		return 0, false
	}

	upMove := bar.High - a.prevHigh
	downMove := a.prevLow - bar.Low
	plusDM, minusDM := 0.0, 0.0
	if upMove > downMove && upMove > 0 {
		plusDM = upMove
	}
	if downMove > upMove && downMove > 0 {
		minusDM = downMove
	}
	tr := bar.High - bar.Low
	if hc := absDiff(bar.High, a.prevClose); hc > tr {
		tr = hc
	}
	if lc := absDiff(bar.Low, a.prevClose); lc > tr {
		tr = lc
	}

	a.prevHigh, a.prevLow, a.prevClose = bar.High, bar.Low, bar.Close
	a.dmCount++

	if !a.warmedDI {
		a.smoothedPlusDM += plusDM
		a.smoothedMinusDM += minusDM
		a.smoothedTR += tr
		if a.dmCount <= a.period {
			return 0, false
		}
		a.warmedDI = true
	} else {
		a.smoothedPlusDM = a.smoothedPlusDM - a.smoothedPlusDM/float64(a.period) + plusDM
		a.smoothedMinusDM = a.smoothedMinusDM - a.smoothedMinusDM/float64(a.period) + minusDM
		a.smoothedTR = a.smoothedTR - a.smoothedTR/float64(a.period) + tr
	}

	if a.smoothedTR == 0 {
		return 0, false
	}
	plusDI := 100 * a.smoothedPlusDM / a.smoothedTR
	minusDI := 100 * a.smoothedMinusDM / a.smoothedTR
	denom := plusDI + minusDI
	dx := 0.0
	if denom != 0 {
		dx = 100 * absDiff(plusDI, minusDI) / denom
	}

	if !a.warmedADX {
		a.dxValues = append(a.dxValues, dx)
		if len(a.dxValues) < a.period {
			return 0, false
		}
		for _, v := range a.dxValues {
			a.avgDX += v
		}
		a.avgDX /= float64(a.period)
		a.warmedADX = true
		return a.avgDX, true
	}
	a.avgDX = (a.avgDX*float64(a.period-1) + dx) / float64(a.period)
	return a.avgDX, true
}

func (a *adxState) haveFirstBar() bool { return a.dmCount > 0 }

func absDiff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}
