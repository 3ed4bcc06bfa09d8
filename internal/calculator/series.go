package calculator

import "RSISentinel/internal/model"

// Closes extracts closing prices from bars, preserving order.
func Closes(bars []model.Bar) []float64 {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	return closes
}
