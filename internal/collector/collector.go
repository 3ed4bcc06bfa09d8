package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"RSISentinel/internal/calculator"
	"RSISentinel/internal/clock"
	"RSISentinel/internal/model"
)

// MockFetcher returns controllable fixed data for development and testing.
type MockFetcher struct {
	Closes []float64
	// Series overrides Closes per instrument when set.
	Series map[model.Instrument][]float64
	// Errs makes FetchSeries fail for the given instrument.
	Errs map[model.Instrument]error
	// End is the close time of the last generated bar. When zero, the current
	// hour of Clock is used.
	End   time.Time
	Clock clock.Clock

	Calls []model.AlertKey
}

func (m *MockFetcher) Name() string { return "mock" }

func (m *MockFetcher) FetchSeries(_ context.Context, instrument model.Instrument, tf model.Timeframe, _ int) ([]model.Bar, error) {
	m.Calls = append(m.Calls, model.AlertKey{Instrument: instrument, Timeframe: tf})
	if err, ok := m.Errs[instrument]; ok {
		return nil, err
	}
	closes := m.Closes
	if s, ok := m.Series[instrument]; ok {
		closes = s
	}
	end := m.End
	if end.IsZero() {
		clk := m.Clock
		if clk == nil {
			clk = clock.Real{}
		}
		end = clk.Now().UTC().Truncate(time.Hour)
	}
	return generateMockBars(closes, tf, end), nil
}

func generateMockBars(closes []float64, tf model.Timeframe, end time.Time) []model.Bar {
	step := tf.Duration()
	if step == 0 {
		step = time.Hour
	}
	bars := make([]model.Bar, len(closes))
	for i, c := range closes {
		bars[i] = model.Bar{
			Time:  end.Add(-time.Duration(len(closes)-1-i) * step),
			Close: c,
		}
	}
	return bars
}

// Collector fetches series and turns them into oscillator readings.
type Collector struct {
	Fetcher    Fetcher
	Period     int
	OutputSize int
}

// NewCollector creates a new Collector. outputSize is clamped to at least period+1.
func NewCollector(fetcher Fetcher, period, outputSize int) *Collector {
	if period <= 0 {
		period = calculator.DefaultRSIPeriod
	}
	if outputSize < period+1 {
		outputSize = period + 1
	}
	return &Collector{Fetcher: fetcher, Period: period, OutputSize: outputSize}
}

// Fetch retrieves the price series for one instrument and timeframe.
func (c *Collector) Fetch(ctx context.Context, instrument model.Instrument, tf model.Timeframe) (*model.PriceSeries, error) {
	bars, err := c.Fetcher.FetchSeries(ctx, instrument, tf, c.OutputSize)
	if err != nil {
		return nil, fmt.Errorf("fetch %s %s: %w", instrument, tf, err)
	}
	return &model.PriceSeries{
		Instrument: instrument,
		Timeframe:  tf,
		Bars:       bars,
	}, nil
}

// Analyze fetches the series and computes the RSI reading.
func (c *Collector) Analyze(ctx context.Context, instrument model.Instrument, tf model.Timeframe) (*model.OscillatorReading, error) {
	series, err := c.Fetch(ctx, instrument, tf)
	if err != nil {
		return nil, err
	}
	return c.Evaluate(series)
}

// Evaluate computes the RSI reading of an already fetched series.
func (c *Collector) Evaluate(series *model.PriceSeries) (*model.OscillatorReading, error) {
	if len(series.Bars) < c.Period+1 {
		return nil, &DataError{Reason: fmt.Sprintf("insufficient data for %s %s: %d prices",
			series.Instrument, series.Timeframe, len(series.Bars))}
	}
	rsi, err := calculator.CalculateRSI(calculator.Closes(series.Bars), c.Period)
	if err != nil {
		if errors.Is(err, calculator.ErrInsufficientData) || errors.Is(err, calculator.ErrNonFinite) {
			return nil, &DataError{Reason: err.Error()}
		}
		return nil, fmt.Errorf("calculate rsi: %w", err)
	}
	last, _ := series.Last()
	return &model.OscillatorReading{
		Instrument: series.Instrument,
		Timeframe:  series.Timeframe,
		Value:      rsi,
		Price:      last.Close,
		Timestamp:  last.Time,
	}, nil
}
