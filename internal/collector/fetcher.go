package collector

import (
	"context"

	"RSISentinel/internal/model"
)

// Fetcher retrieves closed candles for one instrument and timeframe.
// Bars must be returned oldest first.
type Fetcher interface {
	FetchSeries(ctx context.Context, instrument model.Instrument, tf model.Timeframe, size int) ([]model.Bar, error)
	Name() string
}
