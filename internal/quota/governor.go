package quota

import (
	"sync"
	"time"

	"RSISentinel/internal/clock"
	"RSISentinel/internal/model"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Governor tracks the daily request budget with concurrency safety.
// The counter resets lazily the first time it is consulted on a new local day.
type Governor struct {
	mu     sync.Mutex
	state  model.QuotaState
	clock  clock.Clock
	loc    *time.Location
	logger zerolog.Logger
}

// NewGovernor creates a Governor allowing max requests per local day in loc.
func NewGovernor(max int, loc *time.Location, clk clock.Clock) *Governor {
	if loc == nil {
		loc = time.Local
	}
	g := &Governor{
		clock:  clk,
		loc:    loc,
		logger: log.With().Str("component", "quota").Logger(),
	}
	g.state = model.QuotaState{Max: max, Day: g.today()}
	return g
}

// CanSpend reports whether another request fits into today's budget.
func (g *Governor) CanSpend() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rollover()
	return g.state.Used < g.state.Max
}

// RecordSpend counts one request attempt against today's budget.
// Attempts count regardless of their outcome.
func (g *Governor) RecordSpend() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rollover()
	g.state.Used++
	return g.state.Used
}

// State returns a copy of the current quota state.
func (g *Governor) State() model.QuotaState {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rollover()
	return g.state
}

func (g *Governor) rollover() {
	today := g.today()
	if today.After(g.state.Day) {
		g.logger.Info().
			Int("used", g.state.Used).
			Str("day", g.state.Day.Format("2006-01-02")).
			Msg("daily request counter reset")
		g.state.Used = 0
		g.state.Day = today
	}
}

func (g *Governor) today() time.Time {
	now := g.clock.Now().In(g.loc)
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, g.loc)
}
