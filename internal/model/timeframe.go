package model

import (
	"fmt"
	"time"
)

// Timeframe is a candle duration understood by the data source.
type Timeframe string

const (
	OneHour  Timeframe = "1h"
	FourHour Timeframe = "4h"
)

// AllTimeframes lists the supported timeframes in sweep order.
var AllTimeframes = []Timeframe{OneHour, FourHour}

// Duration returns the candle length.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case OneHour:
		return time.Hour
	case FourHour:
		return 4 * time.Hour
	default:
		return 0
	}
}

// CloseSchedule returns the standard cron expression (UTC) of the candle closes.
func (tf Timeframe) CloseSchedule() string {
	switch tf {
	case OneHour:
		return "0 * * * *"
	case FourHour:
		return "0 */4 * * *"
	default:
		return ""
	}
}

// ParseTimeframe validates a timeframe string.
func ParseTimeframe(s string) (Timeframe, error) {
	switch tf := Timeframe(s); tf {
	case OneHour, FourHour:
		return tf, nil
	default:
		return "", fmt.Errorf("unsupported timeframe %q", s)
	}
}
