// Package indicator implements the Indicator Engine: one streaming state
// per (symbol, timeframe, family, parameter-set), advanced
// bar-by-bar and deterministic under replay. Built on the same stateful
// per-key stream-processor shape used for the Kafka consumer's
// offset-tracking struct per partition, generalized to one indicator
// state struct per key here.
package indicator

import (
	"fmt"

	"github.com/odinmarkets/dna-pipeline/internal/model"
)

// Fingerprint derives a stable identity for a (family, parameter-set) pair.
// Reconfiguring any field changes the fingerprint, which is how the engine
// detects that cached values must be invalidated and recomputed:
// reconfiguring a parameter set invalidates cached values for that
// fingerprint.
func Fingerprint(family model.IndicatorFamily, p model.ParameterSet) string {
	return fmt.Sprintf("%s|period=%d|fast=%d|slow=%d|signal=%d|stddev=%.4f|k=%d|d=%d|slow2=%d|reset=%v",
		family, p.Period, p.FastPeriod, p.SlowPeriod, p.Signal, p.StdDev, p.KPeriod, p.DPeriod, p.Slowing, p.SessionReset)
}

// key identifies one streaming state: a symbol/timeframe pair, a family,
// and that family's parameter fingerprint.
type key struct {
	Symbol      string
	Timeframe   model.Timeframe
	Family      model.IndicatorFamily
	Fingerprint string
}
