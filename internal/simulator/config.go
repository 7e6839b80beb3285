package simulator

import (
	"time"

	"github.com/odinmarkets/dna-pipeline/internal/model"
)

// DistanceMode selects whether stop/take distances are read from the
// percent or the absolute fields of Config.
type DistanceMode string

const (
	DistancePercent DistanceMode = "PERCENT"
	DistanceAbsolute DistanceMode = "ABSOLUTE"
)

// Config is the fixed LONG-only simulation's parameterization. Both a
// percent and an absolute figure are always configured; DistanceMode
// says which one the simulator actually uses, so the two
// don't need to be kept mutually exclusive by convention.
type Config struct {
	StopPercent float64
	StopAbs     float64
	TakePercent float64
	TakeAbs     float64
	DistanceMode DistanceMode
	Quantity    int

	// ForceCloseOffset is how long before AfterHoursEnd an OPEN trade is
	// force-closed at that bar's close (default 30m).
	ForceCloseOffset time.Duration

	TieBreak model.TieBreakPolicy

	Calendar model.SessionCalendar
}

// DefaultConfig matches the agreed defaults: 0.4%/$2.80 stop,
// 0.5%/$3.20 take, quantity 50, 30-minute forced-close offset, and the
// conservative STOP_LOSS tie-break.
func DefaultConfig() Config {
	return Config{
		StopPercent:      0.004,
		StopAbs:          2.80,
		TakePercent:      0.005,
		TakeAbs:          3.20,
		DistanceMode:     DistanceAbsolute,
		Quantity:         50,
		ForceCloseOffset: 30 * time.Minute,
		TieBreak:         model.TieBreakStopLoss,
		Calendar:         model.DefaultCalendar(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.StopPercent == 0 && c.StopAbs == 0 {
		c.StopPercent, c.StopAbs = d.StopPercent, d.StopAbs
	}
	if c.TakePercent == 0 && c.TakeAbs == 0 {
		c.TakePercent, c.TakeAbs = d.TakePercent, d.TakeAbs
	}
	if c.DistanceMode == "" {
		c.DistanceMode = d.DistanceMode
	}
	if c.Quantity == 0 {
		c.Quantity = d.Quantity
	}
	if c.ForceCloseOffset == 0 {
		c.ForceCloseOffset = d.ForceCloseOffset
	}
	if c.TieBreak == "" {
		c.TieBreak = d.TieBreak
	}
	if (c.Calendar == model.SessionCalendar{}) {
		c.Calendar = d.Calendar
	}
	return c
}

// stopDistance and takeDistance resolve absolute-vs-percent per
// c.DistanceMode.
func (c Config) stopDistance(entry float64) float64 {
	if c.DistanceMode == DistancePercent {
		return entry * c.StopPercent
	}
	return c.StopAbs
}

func (c Config) takeDistance(entry float64) float64 {
	if c.DistanceMode == DistancePercent {
		return entry * c.TakePercent
	}
	return c.TakeAbs
}
