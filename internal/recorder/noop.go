package recorder

import (
	"time"

	"RSISentinel/internal/model"
)

// NoopRecorder is a no-op implementation used when SQLite is not configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordReading(_ *model.OscillatorReading) error { return nil }
func (n *NoopRecorder) RecordAlert(_ *AlertEvent) error                { return nil }
func (n *NoopRecorder) RecordFailure(_ *FailureEvent) error            { return nil }
func (n *NoopRecorder) RecordTransition(_ *TransitionEvent) error      { return nil }
func (n *NoopRecorder) Summary(_ time.Time) (Summary, error)           { return Summary{}, nil }
func (n *NoopRecorder) Close() error                                   { return nil }
