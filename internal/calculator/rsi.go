package calculator

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// DefaultRSIPeriod is the standard Wilder lookback.
const DefaultRSIPeriod = 14

// ErrInsufficientData is returned when fewer than period+1 closes are supplied.
var ErrInsufficientData = errors.New("not enough data for RSI calculation")

// ErrNonFinite is returned when a close or the result is NaN or infinite.
var ErrNonFinite = errors.New("non-finite value in RSI calculation")

// CalculateRSI computes the Wilder-smoothed RSI over the given period,
// rounded to 2 decimal places. Requires at least period+1 closes.
func CalculateRSI(closes []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, errors.New("period must be positive")
	}
	if len(closes) < period+1 {
		return 0, ErrInsufficientData
	}
	for i, c := range closes {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return 0, fmt.Errorf("close %d: %w", i, ErrNonFinite)
		}
	}

	// Seed with the arithmetic mean of the first `period` changes
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	// Wilder smoothing for remaining closes
	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100.0, nil
	}
	rs := avgGain / avgLoss
	rsi := 100.0 - 100.0/(1.0+rs)
	if math.IsNaN(rsi) || math.IsInf(rsi, 0) {
		return 0, ErrNonFinite
	}
	return round2(rsi), nil
}

func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
