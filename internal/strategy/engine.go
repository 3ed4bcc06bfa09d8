package strategy

import "RSISentinel/internal/model"

// Thresholds holds the inclusive RSI alert levels.
type Thresholds struct {
	Oversold   float64
	Overbought float64
}

// DefaultThresholds are the classic 30/70 levels.
var DefaultThresholds = Thresholds{Oversold: 30, Overbought: 70}

// Classify maps an RSI value to its zone. Both thresholds are inclusive.
func (t Thresholds) Classify(rsi float64) model.Zone {
	switch {
	case rsi <= t.Oversold:
		return model.ZoneOversold
	case rsi >= t.Overbought:
		return model.ZoneOverbought
	default:
		return model.ZoneNeutral
	}
}

// AlertWorthy reports whether rsi sits in either alert zone.
func (t Thresholds) AlertWorthy(rsi float64) bool {
	return t.Classify(rsi) != model.ZoneNeutral
}
