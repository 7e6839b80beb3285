package validator

import (
	"sort"

	"github.com/odinmarkets/dna-pipeline/internal/model"
)

// RefetchPolicy names which side a CROSS_TF_INCONSISTENT mismatch asks to
// be re-fetched.
type RefetchPolicy string

const (
	RefetchCoarser RefetchPolicy = "COARSER"
	RefetchFiner   RefetchPolicy = "FINER"
)

// Mismatch is one coarser-bar aggregation-identity failure.
type Mismatch struct {
	Coarser model.Bar
	Finer   []model.Bar
	Refetch RefetchPolicy
}

// CrossTimeframeValidator checks the aggregation identity between a
// coarser bar and the finer bars that cover it exactly.
type CrossTimeframeValidator struct {
	Policy RefetchPolicy
}

// NewCrossTimeframe builds a validator with the default refetch-coarser
// policy unless policy is supplied.
func NewCrossTimeframe(policy RefetchPolicy) *CrossTimeframeValidator {
	if policy == "" {
		policy = RefetchCoarser
	}
	return &CrossTimeframeValidator{Policy: policy}
}

// Check verifies, for each coarser bar and the finer bars whose timestamps
// fall in [coarser.Timestamp, coarser.Timestamp+coarser.Timeframe.Duration()),
// that open/close/high/low/volume aggregate correctly. finer must already
// be sorted or will be sorted in place by timestamp. Returns one Mismatch
// per coarser bar whose covering finer set fails the identity. A coarser
// bar with no finer bars in its window is skipped, and completeness of the
// cover is not checked: a partial cover is judged on the bars present.
func (v *CrossTimeframeValidator) Check(coarser []model.Bar, finer []model.Bar) []Mismatch {
	sort.Slice(finer, func(i, j int) bool { return finer[i].Timestamp.Before(finer[j].Timestamp) })

	var mismatches []Mismatch
	for _, c := range coarser {
		windowEnd := c.Timestamp.Add(c.Timeframe.Duration())
		var covering []model.Bar
		for _, f := range finer {
			if !f.Timestamp.Before(c.Timestamp) && f.Timestamp.Before(windowEnd) {
				covering = append(covering, f)
			}
		}
		if len(covering) == 0 {
			continue
		}
		if !aggregationHolds(c, covering) {
			mismatches = append(mismatches, Mismatch{Coarser: c, Finer: covering, Refetch: v.Policy})
		}
	}
	return mismatches
}

func aggregationHolds(coarser model.Bar, finer []model.Bar) bool {
	first := finer[0]
	last := finer[len(finer)-1]
	hi, lo, vol := finer[0].High, finer[0].Low, 0.0
	for _, f := range finer {
		if f.High > hi {
			hi = f.High
		}
		if f.Low < lo {
			lo = f.Low
		}
		vol += f.Volume
	}
	return coarser.Open == first.Open &&
		coarser.Close == last.Close &&
		coarser.High == hi &&
		coarser.Low == lo &&
		coarser.Volume == vol
}
