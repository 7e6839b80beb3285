package indicator

import "github.com/odinmarkets/dna-pipeline/internal/model"

// smaState is a fixed-window simple moving average of close price.
type smaState struct {
	period int
	window []float64
	sum    float64
}

func newSMAState(period int) *smaState {
	if period <= 0 {
		period = 20
	}
	return &smaState{period: period}
}

func (s *smaState) advance(bar model.Bar) (float64, bool) {
	s.window = append(s.window, bar.Close)
	s.sum += bar.Close
	if len(s.window) > s.period {
		s.sum -= s.window[0]
		s.window = s.window[1:]
	}
	if len(s.window) < s.period {
		return 0, false
	}
	return s.sum / float64(s.period), true
}

// emaState is an exponential moving average seeded by the simple average
// of the first `period` closes, then advanced with the standard recursive
// smoothing factor alpha = 2/(period+1).
type emaState struct {
	period  int
	alpha   float64
	seed    []float64
	value   float64
	seeded  bool
}

func newEMAState(period int) *emaState {
	if period <= 0 {
		period = 20
	}
	return &emaState{period: period, alpha: 2 / (float64(period) + 1)}
}

func (e *emaState) advance(bar model.Bar) (float64, bool) {
	if !e.seeded {
		e.seed = append(e.seed, bar.Close)
		if len(e.seed) < e.period {
			return 0, false
		}
		var sum float64
		for _, v := range e.seed {
			sum += v
		}
		e.value = sum / float64(len(e.seed))
		e.seeded = true
		e.seed = nil
		return e.value, true
	}
	e.value = e.alpha*bar.Close + (1-e.alpha)*e.value
	return e.value, true
}
