package model

import (
	"fmt"
	"time"
)

// Bar is the atomic unit of the pipeline: one OHLCV sample for one symbol
// over one timeframe-aligned interval.
type Bar struct {
	Symbol      string
	Timeframe   Timeframe
	Timestamp   time.Time
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
	Source      string
	IngestedAt  time.Time

	// QualityScore and IsRegularHours are denormalized from the Validator's
	// QualityReport / SessionCalendar classification purely so the Storage
	// Engine's secondary indices (quality_score), (symbol, is_regular_hours)
	// have a column to index.
	QualityScore   int
	IsRegularHours bool

	// Revision counts how many times bulk_upsert has overwritten this key
	// with a higher-quality row. Used to invalidate dependent indicator
	// values and labels.
	Revision int
}

// Key identifies a bar's storage primary key (symbol, timeframe, timestamp).
type Key struct {
	Symbol    string
	Timeframe Timeframe
	Timestamp time.Time
}

func (b Bar) Key() Key {
	return Key{Symbol: b.Symbol, Timeframe: b.Timeframe, Timestamp: b.Timestamp.UTC()}
}

// ValidateOHLC checks the core invariant:
// low ≤ min(open, close) ≤ max(open, close) ≤ high, and volume ≥ 0.
func (b Bar) ValidateOHLC() error {
	lo := min(b.Open, b.Close)
	hi := max(b.Open, b.Close)
	if !(b.Low <= lo && lo <= hi && hi <= b.High) {
		return fmt.Errorf("ohlc invariant violated: low=%.4f open=%.4f close=%.4f high=%.4f", b.Low, b.Open, b.Close, b.High)
	}
	if b.Volume < 0 {
		return fmt.Errorf("negative volume: %.4f", b.Volume)
	}
	return nil
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
