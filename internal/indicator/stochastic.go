package indicator

import "github.com/odinmarkets/dna-pipeline/internal/model"

// stochasticState computes the slowed %K (raw %K smoothed over `slowing`
// bars) and maintains the %D simple moving average of that slowed %K
// internally for the same reason BollingerBands reports one band: the
// reported value is %D, the signal line traders act on, since slowed %K
// is available by setting d_period=1.
type stochasticState struct {
	kPeriod, dPeriod, slowing int
	highs, lows               []float64
	rawK                      []float64
	slowedK                   []float64
}

func newStochasticState(kPeriod, dPeriod, slowing int) *stochasticState {
	if kPeriod <= 0 {
		kPeriod = 14
	}
	if dPeriod <= 0 {
		dPeriod = 3
	}
	if slowing <= 0 {
		slowing = 3
	}
	return &stochasticState{kPeriod: kPeriod, dPeriod: dPeriod, slowing: slowing}
}

func (s *stochasticState) advance(bar model.Bar) (float64, bool) {
	s.highs = append(s.highs, bar.High)
	s.lows = append(s.lows, bar.Low)
	if len(s.highs) > s.kPeriod {
		s.highs = s.highs[1:]
		s.lows = s.lows[1:]
	}
	if len(s.highs) < s.kPeriod {
		return 0, false
	}

	hh, ll := s.highs[0], s.lows[0]
	for i := range s.highs {
		if s.highs[i] > hh {
			hh = s.highs[i]
		}
		if s.lows[i] < ll {
			ll = s.lows[i]
		}
	}
	rangeHL := hh - ll
	k := 50.0
	if rangeHL != 0 {
		k = (bar.Close - ll) / rangeHL * 100
	}
	s.rawK = append(s.rawK, k)
	if len(s.rawK) > s.slowing {
		s.rawK = s.rawK[1:]
	}
	if len(s.rawK) < s.slowing {
		return 0, false
	}
	var sumK float64
	for _, v := range s.rawK {
		sumK += v
	}
	slowedK := sumK / float64(len(s.rawK))

	s.slowedK = append(s.slowedK, slowedK)
	if len(s.slowedK) > s.dPeriod {
		s.slowedK = s.slowedK[1:]
	}
	if len(s.slowedK) < s.dPeriod {
		return 0, false
	}
	var sumD float64
	for _, v := range s.slowedK {
		sumD += v
	}
	return sumD / float64(len(s.slowedK)), true
}
