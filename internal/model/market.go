package model

import "time"

// Instrument is a currency pair symbol such as "EUR/USD".
type Instrument string

// Bar represents a single closed candle.
type Bar struct {
	Time  time.Time
	Close float64
}

// PriceSeries holds the closed candles for one instrument and timeframe,
// oldest first.
type PriceSeries struct {
	Instrument Instrument
	Timeframe  Timeframe
	Bars       []Bar
}

// Last returns the most recent bar. ok is false for an empty series.
func (s *PriceSeries) Last() (bar Bar, ok bool) {
	if len(s.Bars) == 0 {
		return Bar{}, false
	}
	return s.Bars[len(s.Bars)-1], true
}

// QuotaState is a snapshot of the daily request budget.
type QuotaState struct {
	Used int
	Max  int
	Day  time.Time
}

// Remaining returns how many requests are left today.
func (q QuotaState) Remaining() int {
	if q.Used >= q.Max {
		return 0
	}
	return q.Max - q.Used
}
