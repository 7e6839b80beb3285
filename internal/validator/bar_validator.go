// Package validator implements the Bar Validator and Cross-Timeframe
// Validator, colocated in one package the same way this codebase keeps
// its rate_limiter.go and resource_guard.go together under
// internal/shared/limits.
package validator

import (
	"math"
	"sort"

	"github.com/odinmarkets/dna-pipeline/internal/model"
)

// keyState is the per-(symbol,timeframe) streaming state the Bar
// Validator needs across bars: the last seen bar (for monotonicity,
// duplicate detection and percent-change) and rolling windows of percent
// changes and volumes.
type keyState struct {
	lastTimestamp   int64 // unix nanos, 0 if unset
	lastClose       float64
	haveLast        bool
	movementWindow  []float64
	volumeWindow    []float64
}

func (k *keyState) pushMovement(pct float64, limit int) {
	k.movementWindow = append(k.movementWindow, pct)
	if len(k.movementWindow) > limit {
		k.movementWindow = k.movementWindow[len(k.movementWindow)-limit:]
	}
}

func (k *keyState) pushVolume(v float64, limit int) {
	k.volumeWindow = append(k.volumeWindow, v)
	if len(k.volumeWindow) > limit {
		k.volumeWindow = k.volumeWindow[len(k.volumeWindow)-limit:]
	}
}

// BarValidator applies the four validation layers in order, maintaining
// streaming rolling state per (symbol, timeframe) across calls.
type BarValidator struct {
	cfg   Config
	state map[model.Key]*keyState
}

// New builds a BarValidator. A zero Config gets DefaultConfig's values.
func New(cfg Config) *BarValidator {
	return &BarValidator{cfg: cfg.withDefaults(), state: make(map[model.Key]*keyState)}
}

// ValidateBar runs all four layers against bar, mutating this validator's
// rolling state for bar's (symbol, timeframe) key, and returns the
// per-bar report plus the bar with QualityScore/IsRegularHours populated.
func (v *BarValidator) ValidateBar(bar model.Bar) (model.Bar, model.QualityReport) {
	report := model.QualityReport{Score: 100}
	key := model.Key{Symbol: bar.Symbol, Timeframe: bar.Timeframe}
	st := v.state[key]
	if st == nil {
		st = &keyState{}
		v.state[key] = st
	}

	v.layerOHLC(bar, &report)
	session := v.layerTimeSeries(bar, st, &report)
	v.layerPriceMovement(bar, st, session, &report)
	v.layerVolumeCorrelation(bar, st, session, &report)

	report.Finalize(v.cfg.AcceptanceThreshold)

	bar.QualityScore = report.Score
	bar.IsRegularHours = session == model.SessionRegular

	pct := 0.0
	if st.haveLast && st.lastClose != 0 {
		pct = (bar.Close - st.lastClose) / st.lastClose
	}
	if st.haveLast {
		st.pushMovement(pct, v.cfg.RollingWindow)
	}
	st.pushVolume(bar.Volume, v.cfg.RollingWindow)
	st.lastTimestamp = bar.Timestamp.UnixNano()
	st.lastClose = bar.Close
	st.haveLast = true

	return bar, report
}

// ValidateBatch validates bars in the order given (they must be
// chronologically monotonic within a batch) and returns the per-bar
// reports plus an aggregate.
func (v *BarValidator) ValidateBatch(bars []model.Bar) ([]model.Bar, []model.QualityReport, *model.AggregateReport) {
	outBars := make([]model.Bar, 0, len(bars))
	reports := make([]model.QualityReport, 0, len(bars))
	agg := model.NewAggregateReport()
	for _, b := range bars {
		bar, report := v.ValidateBar(b)
		outBars = append(outBars, bar)
		reports = append(reports, report)
		agg.Add(report)
	}
	return outBars, reports, agg
}

// layerOHLC: low <= open,close <= high; all non-negative; volume >= 0. Any
// violation is an ERROR with penalty 100 (bar rejected).
func (v *BarValidator) layerOHLC(bar model.Bar, report *model.QualityReport) {
	if err := bar.ValidateOHLC(); err != nil {
		report.Issues = append(report.Issues, model.Issue{
			Code: model.IssueOHLCLogic, Severity: model.SeverityError, Message: err.Error(),
		})
		report.Score -= v.cfg.OHLCPenalty
	}
	if bar.Open < 0 || bar.High < 0 || bar.Low < 0 || bar.Close < 0 {
		report.Issues = append(report.Issues, model.Issue{
			Code: model.IssueNegativeValue, Severity: model.SeverityError, Message: "negative price component",
		})
		report.Score -= v.cfg.OHLCPenalty
	}
}

// layerTimeSeries: on-grid timestamp, no duplicates, session classification,
// chronological monotonicity. Returns the bar's classified session.
func (v *BarValidator) layerTimeSeries(bar model.Bar, st *keyState, report *model.QualityReport) model.Session {
	if !bar.Timeframe.OnGrid(bar.Timestamp) {
		report.Issues = append(report.Issues, model.Issue{
			Code: model.IssueOffGrid, Severity: model.SeverityError, Message: "timestamp not on timeframe grid",
		})
		report.Score -= v.cfg.TimeSeriesPenalty
	}
	ts := bar.Timestamp.UnixNano()
	if st.haveLast {
		if ts == st.lastTimestamp {
			report.Issues = append(report.Issues, model.Issue{
				Code: model.IssueDuplicateTimestamp, Severity: model.SeverityError, Message: "duplicate timestamp for (symbol, timeframe)",
			})
			report.Score -= v.cfg.TimeSeriesPenalty
		} else if ts < st.lastTimestamp {
			report.Issues = append(report.Issues, model.Issue{
				Code: model.IssueNonMonotonic, Severity: model.SeverityError, Message: "timestamp out of chronological order",
			})
			report.Score -= v.cfg.TimeSeriesPenalty
		}
	}
	return v.cfg.Calendar.Classify(bar.Timestamp)
}

// layerPriceMovement compares the inter-bar percent change against the
// per-session tolerance table, raising WARN when it exceeds N standard
// deviations of the rolling window.
func (v *BarValidator) layerPriceMovement(bar model.Bar, st *keyState, session model.Session, report *model.QualityReport) {
	if !st.haveLast || st.lastClose == 0 {
		return
	}
	pct := (bar.Close - st.lastClose) / st.lastClose
	tolerance := v.cfg.SessionTolerancePct[session]
	if math.Abs(pct) <= tolerance {
		return
	}
	if len(st.movementWindow) < 2 {
		return
	}
	mean, stddev := meanStdDev(st.movementWindow)
	if stddev == 0 {
		return
	}
	if math.Abs(pct-mean) > v.cfg.MovementStdDevMultiplier*stddev {
		report.Issues = append(report.Issues, model.Issue{
			Code: model.IssuePriceMovement, Severity: model.SeverityWarn,
			Message: "inter-bar movement exceeds rolling tolerance",
		})
		report.Score -= v.cfg.PriceMovementPenalty
	}
}

// layerVolumeCorrelation: zero-volume bars outside CLOSED/PRE sessions
// raise WARN; volume outliers above rolling-median * multiplier raise
// INFO.
func (v *BarValidator) layerVolumeCorrelation(bar model.Bar, st *keyState, session model.Session, report *model.QualityReport) {
	if bar.Volume == 0 && session != model.SessionClosed && session != model.SessionPreMarket {
		report.Issues = append(report.Issues, model.Issue{
			Code: model.IssueZeroVolume, Severity: model.SeverityWarn, Message: "zero volume outside CLOSED/PRE session",
		})
		report.Score -= v.cfg.VolumeOutlierPenalty
	}
	if len(st.volumeWindow) < 3 {
		return
	}
	median := rollingMedian(st.volumeWindow)
	if median > 0 && bar.Volume > median*v.cfg.VolumeOutlierMultiplier {
		report.Issues = append(report.Issues, model.Issue{
			Code: model.IssueVolumeOutlier, Severity: model.SeverityInfo, Message: "volume exceeds rolling median outlier bound",
		})
	}
}

func meanStdDev(xs []float64) (mean, stddev float64) {
	n := float64(len(xs))
	for _, x := range xs {
		mean += x
	}
	mean /= n
	var sumSq float64
	for _, x := range xs {
		d := x - mean
		sumSq += d * d
	}
	stddev = math.Sqrt(sumSq / n)
	return mean, stddev
}

func rollingMedian(xs []float64) float64 {
	cp := append([]float64(nil), xs...)
	sort.Float64s(cp)
	n := len(cp)
	if n%2 == 1 {
		return cp[n/2]
	}
	return (cp[n/2-1] + cp[n/2]) / 2
}
