package strategy

import (
	"sync"
	"time"

	"RSISentinel/internal/model"
)

// DefaultCooldown is the silence window per (instrument, timeframe).
const DefaultCooldown = 4 * time.Hour

// Deduplicator decides whether a qualifying reading produces a notification.
// The cooldown is keyed by instrument and timeframe only, so an alert in one
// zone also silences the opposite zone until the window has passed.
type Deduplicator struct {
	mu         sync.Mutex
	thresholds Thresholds
	cooldown   time.Duration
	last       map[model.AlertKey]time.Time
}

// NewDeduplicator creates a Deduplicator with an empty alert history.
func NewDeduplicator(th Thresholds, cooldown time.Duration) *Deduplicator {
	return &Deduplicator{
		thresholds: th,
		cooldown:   cooldown,
		last:       make(map[model.AlertKey]time.Time),
	}
}

// ShouldAlert returns true if rsi is in an alert zone and the key is outside
// its cooldown. On approval the alert time for key is set to now.
// A gap of exactly the cooldown still suppresses.
func (d *Deduplicator) ShouldAlert(key model.AlertKey, rsi float64, now time.Time) bool {
	if !d.thresholds.AlertWorthy(rsi) {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if prev, ok := d.last[key]; ok && now.Sub(prev) <= d.cooldown {
		return false
	}
	d.last[key] = now
	return true
}

// LastAlert returns the last approved alert time for key.
func (d *Deduplicator) LastAlert(key model.AlertKey) (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.last[key]
	return t, ok
}

// Len returns the number of keys with a recorded alert.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.last)
}

// Thresholds returns the configured alert levels.
func (d *Deduplicator) Thresholds() Thresholds {
	return d.thresholds
}
