package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"RSISentinel/internal/clock"
	"RSISentinel/internal/collector"
	"RSISentinel/internal/model"
	"RSISentinel/internal/notifier"
	"RSISentinel/internal/quota"
	"RSISentinel/internal/recorder"
	"RSISentinel/internal/strategy"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	DefaultAwakeTick    = 60 * time.Second
	DefaultAsleepTick   = 600 * time.Second
	DefaultErrorBackoff = 300 * time.Second
)

// Notifier delivers a formatted message to the operator channel.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// Pacer spaces outbound data requests. *rate.Limiter satisfies it.
type Pacer interface {
	Wait(ctx context.Context) error
}

// NewPacer returns a limiter admitting one request per interval.
// A non-positive interval disables pacing.
func NewPacer(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// Options holds the monitoring parameters.
type Options struct {
	Instruments  []model.Instrument
	Timeframes   []model.Timeframe
	Period       int
	QuietStart   string
	QuietEnd     string
	AwakeTick    time.Duration
	AsleepTick   time.Duration
	ErrorBackoff time.Duration
}

// Deps are the collaborators a Scheduler drives.
type Deps struct {
	Calendar  *Calendar
	Collector *collector.Collector
	Quota     *quota.Governor
	Dedup     *strategy.Deduplicator
	Notifier  Notifier
	Recorder  recorder.Recorder
	Pacer     Pacer
	Clock     clock.Clock
}

// SweepResult counts the outcomes of one timeframe sweep.
type SweepResult struct {
	Timeframe model.Timeframe
	Analyzed  int
	Alerts    int
	Failures  int
}

// Scheduler runs the monitoring loop: sleep/wake transitions, candle-close
// sweeps and the daily digest.
type Scheduler struct {
	Cron      *cron.Cron
	Calendar  *Calendar
	Collector *collector.Collector
	Quota     *quota.Governor
	Dedup     *strategy.Deduplicator
	Notifier  Notifier
	Recorder  recorder.Recorder
	Pacer     Pacer
	Clock     clock.Clock

	opts   Options
	logger zerolog.Logger

	mu        sync.Mutex
	asleep    bool
	lastSwept map[model.Timeframe]time.Time
}

// NewScheduler creates a new Scheduler. Missing optional deps get defaults.
func NewScheduler(opts Options, d Deps) *Scheduler {
	if opts.AwakeTick <= 0 {
		opts.AwakeTick = DefaultAwakeTick
	}
	if opts.AsleepTick <= 0 {
		opts.AsleepTick = DefaultAsleepTick
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = DefaultErrorBackoff
	}
	if len(opts.Timeframes) == 0 {
		opts.Timeframes = model.AllTimeframes
	}
	if d.Recorder == nil {
		d.Recorder = recorder.NewNoopRecorder()
	}
	if d.Pacer == nil {
		d.Pacer = NewPacer(0)
	}
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}

	return &Scheduler{
		Cron:      cron.New(cron.WithSeconds(), cron.WithLocation(d.Calendar.Location())),
		Calendar:  d.Calendar,
		Collector: d.Collector,
		Quota:     d.Quota,
		Dedup:     d.Dedup,
		Notifier:  d.Notifier,
		Recorder:  d.Recorder,
		Pacer:     d.Pacer,
		Clock:     d.Clock,
		opts:      opts,
		logger:    log.With().Str("component", "scheduler").Logger(),
		lastSwept: make(map[model.Timeframe]time.Time),
	}
}

// Run drives ticks until ctx is cancelled. A failing or panicking tick is
// logged and followed by the error backoff; it never ends the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info().
		Int("pairs", len(s.opts.Instruments)).
		Str("timeframes", timeframeList(s.opts.Timeframes)).
		Msg("monitoring loop started")

	for {
		wait, err := s.safeTick(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			s.logger.Info().Msg("monitoring loop stopped")
			return ctxErr
		}
		if err != nil {
			s.logger.Error().Err(err).Dur("backoff", s.opts.ErrorBackoff).Msg("tick failed")
			wait = s.opts.ErrorBackoff
		}
		if err := s.Clock.Sleep(ctx, wait); err != nil {
			s.logger.Info().Msg("monitoring loop stopped")
			return err
		}
	}
}

func (s *Scheduler) safeTick(ctx context.Context) (wait time.Duration, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick panic: %v", r)
		}
	}()
	return s.Tick(ctx)
}

// Tick performs one scheduling step and returns how long to wait before the
// next one.
func (s *Scheduler) Tick(ctx context.Context) (time.Duration, error) {
	now := s.Clock.Now()
	quiet := s.Calendar.IsQuietPeriod(now)

	s.mu.Lock()
	wasAsleep := s.asleep
	s.asleep = quiet
	s.mu.Unlock()

	switch {
	case quiet && !wasAsleep:
		s.enterSleep(ctx, now)
	case !quiet && wasAsleep:
		s.enterWake(ctx, now)
	}
	if quiet {
		return s.opts.AsleepTick, nil
	}

	for _, tf := range s.opts.Timeframes {
		closedAt, ok := s.Calendar.CandleClose(now, tf)
		if !ok || !s.claimCandle(tf, closedAt) {
			continue
		}
		res := s.Sweep(ctx, tf)
		s.logger.Info().
			Str("timeframe", string(tf)).
			Time("candle_close", closedAt).
			Int("analyzed", res.Analyzed).
			Int("alerts", res.Alerts).
			Int("failures", res.Failures).
			Msg("sweep complete")
		if err := ctx.Err(); err != nil {
			return 0, err
		}
	}
	return s.opts.AwakeTick, nil
}

// claimCandle marks a candle close as swept; false if it already was.
func (s *Scheduler) claimCandle(tf model.Timeframe, closedAt time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.lastSwept[tf]; ok && !closedAt.After(last) {
		return false
	}
	s.lastSwept[tf] = closedAt
	return true
}

func (s *Scheduler) enterSleep(ctx context.Context, now time.Time) {
	wake := s.Calendar.NextWake(now)
	s.logger.Info().Time("wake_at", wake).Msg("entering quiet period")
	s.trySend(ctx, notifier.FormatSleep(now, wake, s.Calendar.Location()))
	if err := s.Recorder.RecordTransition(&recorder.TransitionEvent{Asleep: true, At: now}); err != nil {
		s.logger.Error().Err(err).Msg("record transition")
	}
}

func (s *Scheduler) enterWake(ctx context.Context, now time.Time) {
	s.logger.Info().Msg("leaving quiet period")
	s.trySend(ctx, notifier.FormatWake(now, s.Calendar.Location(), len(s.opts.Instruments), s.opts.Timeframes))
	if err := s.Recorder.RecordTransition(&recorder.TransitionEvent{Asleep: false, At: now}); err != nil {
		s.logger.Error().Err(err).Msg("record transition")
	}
}

// Sweep analyses every instrument on tf in order. Per-instrument failures are
// logged and recorded; the sweep always continues with the next instrument.
func (s *Scheduler) Sweep(ctx context.Context, tf model.Timeframe) SweepResult {
	res := SweepResult{Timeframe: tf}
	th := s.Dedup.Thresholds()

	for _, inst := range s.opts.Instruments {
		if ctx.Err() != nil {
			break
		}
		reading, err := s.analyze(ctx, inst, tf)
		if err != nil {
			res.Failures++
			s.recordFailure(inst, tf, err)
			continue
		}
		res.Analyzed++
		if err := s.Recorder.RecordReading(reading); err != nil {
			s.logger.Error().Err(err).Msg("record reading")
		}
		s.logger.Debug().
			Str("pair", string(inst)).
			Str("timeframe", string(tf)).
			Float64("rsi", reading.Value).
			Msg("rsi reading")

		if !s.Dedup.ShouldAlert(reading.Key(), reading.Value, s.Clock.Now()) {
			continue
		}
		zone := th.Classify(reading.Value)
		text := notifier.FormatAlert(reading, zone, s.opts.Period, s.Calendar.Location())
		sendErr := s.Notifier.Send(ctx, text)

		evt := &recorder.AlertEvent{Reading: reading, Zone: zone, Delivered: sendErr == nil}
		if sendErr != nil {
			evt.Error = sendErr.Error()
			s.logger.Error().Err(sendErr).Str("pair", string(inst)).Str("timeframe", string(tf)).Msg("alert delivery failed")
		} else {
			res.Alerts++
			s.logger.Info().
				Str("pair", string(inst)).
				Str("timeframe", string(tf)).
				Str("zone", string(zone)).
				Float64("rsi", reading.Value).
				Msg("alert sent")
		}
		if err := s.Recorder.RecordAlert(evt); err != nil {
			s.logger.Error().Err(err).Msg("record alert")
		}
	}
	return res
}

// analyze spends one unit of quota and fetches a reading. Quota is consumed
// whether or not the fetch succeeds.
func (s *Scheduler) analyze(ctx context.Context, inst model.Instrument, tf model.Timeframe) (*model.OscillatorReading, error) {
	if !s.Quota.CanSpend() {
		return nil, collector.ErrQuotaExceeded
	}
	if err := s.Pacer.Wait(ctx); err != nil {
		return nil, fmt.Errorf("pacing: %w", err)
	}
	n := s.Quota.RecordSpend()
	s.logger.Debug().Int("request", n).Str("pair", string(inst)).Str("timeframe", string(tf)).Msg("fetching series")
	return s.Collector.Analyze(ctx, inst, tf)
}

func (s *Scheduler) recordFailure(inst model.Instrument, tf model.Timeframe, err error) {
	class := collector.Classify(err)
	ev := s.logger.Warn()
	if errors.Is(err, collector.ErrQuotaExceeded) {
		ev = s.logger.Debug()
	}
	ev.Err(err).Str("pair", string(inst)).Str("timeframe", string(tf)).Str("class", class).Msg("analysis failed")

	if rerr := s.Recorder.RecordFailure(&recorder.FailureEvent{
		Instrument: inst,
		Timeframe:  tf,
		Class:      class,
		Message:    err.Error(),
	}); rerr != nil {
		s.logger.Error().Err(rerr).Msg("record failure")
	}
}

// Asleep reports whether the last tick was inside the quiet period.
func (s *Scheduler) Asleep() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.asleep
}

// StartupInfo assembles the configuration summary sent at start.
func (s *Scheduler) StartupInfo() notifier.StartupInfo {
	now := s.Clock.Now()
	th := s.Dedup.Thresholds()
	loc := s.Calendar.Location()
	y, m, d := now.In(loc).Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, loc)

	return notifier.StartupInfo{
		Now:           now,
		Location:      loc,
		Pairs:         len(s.opts.Instruments),
		Timeframes:    s.opts.Timeframes,
		Period:        s.opts.Period,
		Oversold:      th.Oversold,
		Overbought:    th.Overbought,
		QuietStart:    s.opts.QuietStart,
		QuietEnd:      s.opts.QuietEnd,
		DailyLimit:    s.Quota.State().Max,
		ExpectedDaily: s.Calendar.ChecksPerDay(day, s.opts.Timeframes) * len(s.opts.Instruments),
		NextCloses:    s.Calendar.NextCloses(now),
	}
}

// SendStartup delivers the startup message.
func (s *Scheduler) SendStartup(ctx context.Context) error {
	if err := s.Notifier.Send(ctx, notifier.FormatStartup(s.StartupInfo())); err != nil {
		return fmt.Errorf("send startup message: %w", err)
	}
	return nil
}

// CheckConnection runs one test analysis of EUR/USD 1h (or the first pair)
// and reports it to the chat. The test fetch is charged to the daily quota.
func (s *Scheduler) CheckConnection(ctx context.Context, bot string, chatID int64) error {
	pair := connectionPair(s.opts.Instruments)
	reading, err := s.analyze(ctx, pair, model.OneHour)
	if err != nil {
		return fmt.Errorf("test fetch %s %s: %w", pair, model.OneHour, err)
	}
	s.logger.Info().Str("pair", string(pair)).Float64("rsi", reading.Value).Msg("data source connected")

	text := notifier.FormatConnectionTest(notifier.ConnectionInfo{
		Bot:       bot,
		Source:    s.Collector.Fetcher.Name(),
		Pair:      pair,
		Timeframe: model.OneHour,
		RSI:       reading.Value,
		ChatID:    chatID,
		Pairs:     len(s.opts.Instruments),
	})
	if err := s.Notifier.Send(ctx, text); err != nil {
		return fmt.Errorf("send connection test: %w", err)
	}
	return nil
}

func connectionPair(pairs []model.Instrument) model.Instrument {
	for _, p := range pairs {
		if p == "EUR/USD" {
			return p
		}
	}
	if len(pairs) > 0 {
		return pairs[0]
	}
	return "EUR/USD"
}

// HandleCommand processes a user command and returns a reply.
func (s *Scheduler) HandleCommand(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return notifier.HelpText
	}
	// "/status@SomeBot" in group chats
	name, _, _ := strings.Cut(strings.ToLower(fields[0]), "@")

	switch name {
	case "/status":
		now := s.Clock.Now()
		return notifier.FormatStatus(notifier.StatusInfo{
			Now:        now,
			Location:   s.Calendar.Location(),
			Asleep:     s.Asleep(),
			Quota:      s.Quota.State(),
			AlertKeys:  s.Dedup.Len(),
			NextCloses: s.Calendar.NextCloses(now),
			Timeframes: s.opts.Timeframes,
		})
	case "/pairs":
		return notifier.FormatPairs(s.opts.Instruments)
	default:
		return notifier.HelpText
	}
}

// RegisterDigest schedules the daily summary. expr uses the six-field cron
// format and is evaluated in the reference timezone.
func (s *Scheduler) RegisterDigest(ctx context.Context, expr string) error {
	if _, err := s.Cron.AddFunc(expr, func() { s.SendDigest(ctx) }); err != nil {
		return fmt.Errorf("register digest task: %w", err)
	}
	return nil
}

// SendDigest sends today's usage summary.
func (s *Scheduler) SendDigest(ctx context.Context) {
	loc := s.Calendar.Location()
	now := s.Clock.Now().In(loc)
	y, m, d := now.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, loc)

	sum, err := s.Recorder.Summary(day)
	if err != nil {
		s.logger.Error().Err(err).Msg("digest summary")
	}
	s.trySend(ctx, notifier.FormatDigest(notifier.DigestInfo{
		Day:      day,
		Quota:    s.Quota.State(),
		Readings: sum.Readings,
		Alerts:   sum.Alerts,
		Failures: sum.Failures,
	}))
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.logger.Info().Msg("cron started")
}

// Stop stops the cron scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.logger.Info().Msg("cron stopped")
}

func (s *Scheduler) trySend(ctx context.Context, text string) {
	if err := s.Notifier.Send(ctx, text); err != nil {
		s.logger.Error().Err(err).Msg("send notification")
	}
}

func timeframeList(tfs []model.Timeframe) string {
	names := make([]string, len(tfs))
	for i, tf := range tfs {
		names[i] = string(tf)
	}
	return strings.Join(names, ",")
}
