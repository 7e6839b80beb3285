package indicator

import (
	"fmt"
	"sync"

	"github.com/odinmarkets/dna-pipeline/internal/model"
)

// familyState is one family's streaming calculator. advance consumes the
// next bar (already known to belong to this state's symbol/timeframe,
// fed in strictly increasing timestamp order) and returns the computed
// value plus whether warmup has completed.
type familyState interface {
	advance(bar model.Bar) (value float64, valid bool)
}

// Engine owns one familyState per (symbol, timeframe, family,
// parameter-set fingerprint). A single worker thread owns a given key
//; the mutex here only guards
// the map itself against concurrent keys being created from different
// goroutines, not concurrent advances of the same key.
type Engine struct {
	mu     sync.Mutex
	states map[key]familyState
}

func New() *Engine {
	return &Engine{states: make(map[key]familyState)}
}

// Update advances the (symbol, timeframe, family, params) state with bar
// and returns the resulting IndicatorValue. A state is created fresh the
// first time a (family, fingerprint) pair is seen for that symbol/timeframe.
func (e *Engine) Update(bar model.Bar, family model.IndicatorFamily, params model.ParameterSet) (model.IndicatorValue, error) {
	fp := Fingerprint(family, params)
	k := key{Symbol: bar.Symbol, Timeframe: bar.Timeframe, Family: family, Fingerprint: fp}

	e.mu.Lock()
	st, ok := e.states[k]
	if !ok {
		var err error
		st, err = newFamilyState(family, params)
		if err != nil {
			e.mu.Unlock()
			return model.IndicatorValue{}, err
		}
		e.states[k] = st
	}
	e.mu.Unlock()

	value, valid := st.advance(bar)
	return model.IndicatorValue{
		BarKey:      bar.Key(),
		Family:      family,
		Fingerprint: fp,
		Value:       value,
		Valid:       valid,
	}, nil
}

// Recompute replays history (assumed already in strictly increasing
// timestamp order for one symbol/timeframe) through a fresh state for
// (family, params), recomputing over the stored range after a
// parameter-set reconfiguration. It does not disturb any other
// fingerprint's streaming state.
func (e *Engine) Recompute(history []model.Bar, family model.IndicatorFamily, params model.ParameterSet) ([]model.IndicatorValue, error) {
	fp := Fingerprint(family, params)
	st, err := newFamilyState(family, params)
	if err != nil {
		return nil, err
	}
	out := make([]model.IndicatorValue, 0, len(history))
	for _, bar := range history {
		value, valid := st.advance(bar)
		out = append(out, model.IndicatorValue{
			BarKey: bar.Key(), Family: family, Fingerprint: fp, Value: value, Valid: valid,
		})
	}
	if len(history) > 0 {
		k := key{Symbol: history[0].Symbol, Timeframe: history[0].Timeframe, Family: family, Fingerprint: fp}
		e.mu.Lock()
		e.states[k] = st
		e.mu.Unlock()
	}
	return out, nil
}

func newFamilyState(family model.IndicatorFamily, p model.ParameterSet) (familyState, error) {
	switch family {
	case model.FamilySMA:
		return newSMAState(p.Period), nil
	case model.FamilyEMA:
		return newEMAState(p.Period), nil
	case model.FamilyRSI:
		return newRSIState(p.Period), nil
	case model.FamilyMACD:
		return newMACDState(p.FastPeriod, p.SlowPeriod, p.Signal), nil
	case model.FamilyBollingerBands:
		return newBollingerState(p.Period, p.StdDev), nil
	case model.FamilyATR:
		return newATRState(p.Period), nil
	case model.FamilyStochastic:
		return newStochasticState(p.KPeriod, p.DPeriod, p.Slowing), nil
	case model.FamilyVWAP:
		return newVWAPState(p.SessionReset), nil
	case model.FamilyOBV:
		return newOBVState(), nil
	case model.FamilyADX:
		return newADXState(p.Period), nil
	default:
		return nil, fmt.Errorf("unrecognized indicator family %q", family)
	}
}
