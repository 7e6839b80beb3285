package model

import "time"

// Session partitions the trading day into the four windows the validator
// and simulator reason about.
type Session string

const (
	SessionPreMarket   Session = "PRE_MARKET"
	SessionRegular     Session = "REGULAR"
	SessionAfterHours  Session = "AFTER_HOURS"
	SessionClosed      Session = "CLOSED"
)

// TimeOfDay is a wall-clock offset from midnight, exchange-local, used to
// describe session boundaries without pulling in a full calendar.
type TimeOfDay struct {
	Hour, Minute int
}

func (t TimeOfDay) sub(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, t.Hour, t.Minute, 0, 0, day.Location())
}

// On anchors t to the calendar day of day, in day's location. Exported so
// callers outside this package (the Trade Simulator's forced-close cutoff)
// can derive a concrete boundary instant without reimplementing sub.
func (t TimeOfDay) On(day time.Time) time.Time { return t.sub(day) }

// SessionCalendar maps timestamps to sessions using start-inclusive,
// end-exclusive boundaries, "Boundary behaviors".
type SessionCalendar struct {
	PreMarketStart  TimeOfDay
	RegularStart    TimeOfDay
	RegularEnd      TimeOfDay
	AfterHoursEnd   TimeOfDay
}

// SessionWindow names the REGULAR session boundaries used elsewhere
// (e.g. ExpectedBarsPerSession).
type SessionWindow struct {
	Start, End time.Time
}

// DefaultRegularHours returns the canonical 09:45–16:00 exchange-local
// regular session span the simulator anchors to, expressed as a duration
// window so callers needn't carry a calendar day.
func DefaultRegularHours() SessionWindow {
	base := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	return SessionWindow{
		Start: base.Add(9*time.Hour + 45*time.Minute),
		End:   base.Add(16 * time.Hour),
	}
}

// DefaultCalendar is the exchange calendar used unless configuration
// overrides it: pre-market from 04:00, regular 09:45–16:00, after-hours
// until 20:00.
func DefaultCalendar() SessionCalendar {
	return SessionCalendar{
		PreMarketStart: TimeOfDay{4, 0},
		RegularStart:   TimeOfDay{9, 45},
		RegularEnd:     TimeOfDay{16, 0},
		AfterHoursEnd:  TimeOfDay{20, 0},
	}
}

// Classify returns the session that exchange-local timestamp t falls into.
// Boundaries are start-inclusive, end-exclusive (the default policy).
func (c SessionCalendar) Classify(t time.Time) Session {
	pre := c.PreMarketStart.sub(t)
	reg := c.RegularStart.sub(t)
	regEnd := c.RegularEnd.sub(t)
	after := c.AfterHoursEnd.sub(t)

	switch {
	case t.Before(pre) || !t.Before(after):
		return SessionClosed
	case t.Before(reg):
		return SessionPreMarket
	case t.Before(regEnd):
		return SessionRegular
	default:
		return SessionAfterHours
	}
}
