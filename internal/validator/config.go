package validator

import "github.com/odinmarkets/dna-pipeline/internal/model"

// Config carries the Bar Validator's penalty weights and tolerance tables
//. Zero-valued fields are replaced by DefaultConfig's
// defaults at construction time.
type Config struct {
	AcceptanceThreshold int

	OHLCPenalty          int
	TimeSeriesPenalty    int
	PriceMovementPenalty int
	VolumeOutlierPenalty int

	// RollingWindow is how many prior bars feed the price-movement stddev
	// and volume-median calculations (default 50).
	RollingWindow int
	// MovementStdDevMultiplier is N in "beyond N standard deviations"
	// (default 8).
	MovementStdDevMultiplier float64
	// VolumeOutlierMultiplier flags volume > rolling median * multiplier
	// (default 20).
	VolumeOutlierMultiplier float64

	// SessionTolerancePct is the per-session inter-bar percent-change
	// tolerance before a movement is even subjected to the stddev check;
	// regular hours are stricter than pre/after market.
	SessionTolerancePct map[model.Session]float64

	Calendar model.SessionCalendar
}

// DefaultConfig returns the agreed validator defaults.
func DefaultConfig() Config {
	return Config{
		AcceptanceThreshold:      model.DefaultAcceptanceThreshold,
		OHLCPenalty:              100,
		TimeSeriesPenalty:        100,
		PriceMovementPenalty:     5,
		VolumeOutlierPenalty:     1,
		RollingWindow:            50,
		MovementStdDevMultiplier: 8,
		VolumeOutlierMultiplier:  20,
		SessionTolerancePct: map[model.Session]float64{
			model.SessionRegular:    0.03,
			model.SessionPreMarket:  0.08,
			model.SessionAfterHours: 0.08,
			model.SessionClosed:     0.15,
		},
		Calendar: model.DefaultCalendar(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.AcceptanceThreshold == 0 {
		c.AcceptanceThreshold = d.AcceptanceThreshold
	}
	if c.OHLCPenalty == 0 {
		c.OHLCPenalty = d.OHLCPenalty
	}
	if c.TimeSeriesPenalty == 0 {
		c.TimeSeriesPenalty = d.TimeSeriesPenalty
	}
	if c.PriceMovementPenalty == 0 {
		c.PriceMovementPenalty = d.PriceMovementPenalty
	}
	if c.VolumeOutlierPenalty == 0 {
		c.VolumeOutlierPenalty = d.VolumeOutlierPenalty
	}
	if c.RollingWindow == 0 {
		c.RollingWindow = d.RollingWindow
	}
	if c.MovementStdDevMultiplier == 0 {
		c.MovementStdDevMultiplier = d.MovementStdDevMultiplier
	}
	if c.VolumeOutlierMultiplier == 0 {
		c.VolumeOutlierMultiplier = d.VolumeOutlierMultiplier
	}
	if c.SessionTolerancePct == nil {
		c.SessionTolerancePct = d.SessionTolerancePct
	}
	if (c.Calendar == model.SessionCalendar{}) {
		c.Calendar = d.Calendar
	}
	return c
}
