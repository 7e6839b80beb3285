package model

// IndicatorFamily enumerates the technical-indicator calculators the
// Indicator Engine maintains streaming state for.
type IndicatorFamily string

const (
	FamilySMA             IndicatorFamily = "SMA"
	FamilyEMA             IndicatorFamily = "EMA"
	FamilyRSI             IndicatorFamily = "RSI"
	FamilyMACD            IndicatorFamily = "MACD"
	FamilyBollingerBands  IndicatorFamily = "BollingerBands"
	FamilyATR             IndicatorFamily = "ATR"
	FamilyStochastic      IndicatorFamily = "Stochastic"
	FamilyVWAP            IndicatorFamily = "VWAP"
	FamilyOBV             IndicatorFamily = "OBV"
	FamilyADX             IndicatorFamily = "ADX"
)

// ParameterSet is a family's configuration. Only the fields relevant to the
// family are populated; a stable fingerprint is derived from all of them.
type ParameterSet struct {
	Period     int
	FastPeriod int
	SlowPeriod int
	Signal     int
	StdDev     float64
	KPeriod    int
	DPeriod    int
	Slowing    int
	SessionReset bool
}

// IndicatorValue is one computed (or warming-up) indicator sample, keyed to
// the bar that produced it.
type IndicatorValue struct {
	BarKey      Key
	Family      IndicatorFamily
	Fingerprint string
	Value       float64
	Valid       bool
}
