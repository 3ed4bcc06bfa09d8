package recorder

import (
	"time"

	"RSISentinel/internal/model"
)

// AlertEvent records an approved and dispatched alert.
type AlertEvent struct {
	Reading   *model.OscillatorReading
	Zone      model.Zone
	Delivered bool
	Error     string
}

// FailureEvent records a per-instrument analysis failure.
type FailureEvent struct {
	Instrument model.Instrument
	Timeframe  model.Timeframe
	Class      string // collector failure class, e.g. "TIMEOUT"
	Message    string
}

// TransitionEvent records a sleep/wake edge.
type TransitionEvent struct {
	Asleep bool
	At     time.Time
}

// Summary aggregates recorded events since a point in time.
type Summary struct {
	Readings int
	Alerts   int
	Failures int
}

// Recorder persists an audit trail of monitoring activity. It is write-mostly
// and never used to restore runtime state.
type Recorder interface {
	RecordReading(r *model.OscillatorReading) error
	RecordAlert(evt *AlertEvent) error
	RecordFailure(evt *FailureEvent) error
	RecordTransition(evt *TransitionEvent) error
	Summary(since time.Time) (Summary, error)
	Close() error
}
