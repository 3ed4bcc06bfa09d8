package scheduler

import (
	"fmt"
	"time"

	"RSISentinel/internal/model"

	"github.com/robfig/cron/v3"
)

// Calendar decides when work happens: whether the process is in its quiet
// period and whether a timeframe's candle has just closed.
type Calendar struct {
	loc         *time.Location
	quietStart  int // minutes after local midnight, inclusive
	quietEnd    int // exclusive
	closeWindow time.Duration
	closes      map[model.Timeframe]cron.Schedule
}

// NewCalendar builds a Calendar. quietStart and quietEnd are "HH:MM" in loc;
// equal values disable the quiet period. closeWindow is how long after a
// candle close the timeframe stays eligible, at minute resolution.
func NewCalendar(loc *time.Location, quietStart, quietEnd string, closeWindow time.Duration, tfs []model.Timeframe) (*Calendar, error) {
	if loc == nil {
		return nil, fmt.Errorf("calendar: location is required")
	}
	start, err := parseClock(quietStart)
	if err != nil {
		return nil, fmt.Errorf("quiet start: %w", err)
	}
	end, err := parseClock(quietEnd)
	if err != nil {
		return nil, fmt.Errorf("quiet end: %w", err)
	}
	if closeWindow < 0 {
		return nil, fmt.Errorf("close window must not be negative")
	}

	c := &Calendar{
		loc:         loc,
		quietStart:  start,
		quietEnd:    end,
		closeWindow: closeWindow.Truncate(time.Minute),
		closes:      make(map[model.Timeframe]cron.Schedule, len(tfs)),
	}
	for _, tf := range tfs {
		expr := tf.CloseSchedule()
		if expr == "" {
			return nil, fmt.Errorf("no candle schedule for timeframe %q", tf)
		}
		sched, err := cron.ParseStandard("CRON_TZ=UTC " + expr)
		if err != nil {
			return nil, fmt.Errorf("parse %s schedule: %w", tf, err)
		}
		c.closes[tf] = sched
	}
	return c, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Location returns the reference timezone.
func (c *Calendar) Location() *time.Location { return c.loc }

// IsQuietPeriod reports whether now falls inside the local quiet window.
func (c *Calendar) IsQuietPeriod(now time.Time) bool {
	if c.quietStart == c.quietEnd {
		return false
	}
	local := now.In(c.loc)
	m := local.Hour()*60 + local.Minute()
	if c.quietStart < c.quietEnd {
		return m >= c.quietStart && m < c.quietEnd
	}
	// window wraps midnight
	return m >= c.quietStart || m < c.quietEnd
}

// NextWake returns the next local time the quiet period ends after now.
func (c *Calendar) NextWake(now time.Time) time.Time {
	local := now.In(c.loc)
	y, mo, d := local.Date()
	wake := time.Date(y, mo, d, c.quietEnd/60, c.quietEnd%60, 0, 0, c.loc)
	if !wake.After(local) {
		wake = wake.AddDate(0, 0, 1)
	}
	return wake
}

// CandleClose returns the most recent candle close of tf if it happened within
// the close window, i.e. while the minute offset from the close is at most the
// window.
func (c *Calendar) CandleClose(now time.Time, tf model.Timeframe) (time.Time, bool) {
	sched, ok := c.closes[tf]
	if !ok {
		return time.Time{}, false
	}
	// Next is strictly after its argument, so step back one minute past the window.
	from := now.UTC().Truncate(time.Minute).Add(-c.closeWindow - time.Minute)
	closedAt := sched.Next(from)
	if closedAt.After(now) {
		return time.Time{}, false
	}
	return closedAt.UTC(), true
}

// IsEligible reports whether tf should be sampled at now.
func (c *Calendar) IsEligible(now time.Time, tf model.Timeframe) bool {
	_, ok := c.CandleClose(now, tf)
	return ok
}

// NextClose returns the first candle close of tf after now.
func (c *Calendar) NextClose(now time.Time, tf model.Timeframe) (time.Time, bool) {
	sched, ok := c.closes[tf]
	if !ok {
		return time.Time{}, false
	}
	return sched.Next(now).UTC(), true
}

// NextCloses returns NextClose for every configured timeframe.
func (c *Calendar) NextCloses(now time.Time) map[model.Timeframe]time.Time {
	out := make(map[model.Timeframe]time.Time, len(c.closes))
	for tf := range c.closes {
		if next, ok := c.NextClose(now, tf); ok {
			out[tf] = next
		}
	}
	return out
}

// ChecksPerDay counts the candle closes of the given timeframes that fall
// outside the quiet period during the 24 hours starting at day.
func (c *Calendar) ChecksPerDay(day time.Time, tfs []model.Timeframe) int {
	end := day.Add(24 * time.Hour)
	total := 0
	for _, tf := range tfs {
		sched, ok := c.closes[tf]
		if !ok {
			continue
		}
		for t := sched.Next(day.Add(-time.Second)); t.Before(end); t = sched.Next(t) {
			if !c.IsQuietPeriod(t) {
				total++
			}
		}
	}
	return total
}
