package model

import "time"

// Zone indicates where an oscillator value sits relative to the thresholds.
type Zone string

const (
	ZoneNeutral    Zone = "NEUTRAL"
	ZoneOversold   Zone = "OVERSOLD"
	ZoneOverbought Zone = "OVERBOUGHT"
)

// OscillatorReading is the result of one successful analysis.
type OscillatorReading struct {
	Instrument Instrument
	Timeframe  Timeframe
	Value      float64 // 0 ~ 100
	Price      float64
	Timestamp  time.Time // close time of the most recent candle
}

// Key returns the deduplication key of the reading.
func (r *OscillatorReading) Key() AlertKey {
	return AlertKey{Instrument: r.Instrument, Timeframe: r.Timeframe}
}

// AlertKey identifies an alert stream for cooldown purposes.
type AlertKey struct {
	Instrument Instrument
	Timeframe  Timeframe
}

func (k AlertKey) String() string {
	return string(k.Instrument) + "_" + string(k.Timeframe)
}
