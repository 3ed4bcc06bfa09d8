package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"RSISentinel/internal/clock"
	"RSISentinel/internal/collector"
	"RSISentinel/internal/model"
	"RSISentinel/internal/notifier"
	"RSISentinel/internal/quota"
	"RSISentinel/internal/recorder"
	"RSISentinel/internal/strategy"
)

var falling = []float64{
	1.1000, 1.0980, 1.0985, 1.0960, 1.0940, 1.0945, 1.0920, 1.0900,
	1.0905, 1.0880, 1.0860, 1.0865, 1.0840, 1.0820, 1.0825, 1.0800,
}

var rising = []float64{
	1.0800, 1.0820, 1.0815, 1.0840, 1.0860, 1.0855, 1.0880, 1.0900,
	1.0895, 1.0920, 1.0940, 1.0935, 1.0960, 1.0980, 1.0975, 1.1000,
}

type captureNotifier struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (c *captureNotifier) Send(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, text)
	return c.err
}

func (c *captureNotifier) count(substr string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.texts {
		if strings.Contains(t, substr) {
			n++
		}
	}
	return n
}

func (c *captureNotifier) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.texts)
}

type memRecorder struct {
	readings    []*model.OscillatorReading
	alerts      []*recorder.AlertEvent
	failures    []*recorder.FailureEvent
	transitions []*recorder.TransitionEvent
	summary     recorder.Summary
}

func (m *memRecorder) RecordReading(r *model.OscillatorReading) error {
	m.readings = append(m.readings, r)
	return nil
}

func (m *memRecorder) RecordAlert(evt *recorder.AlertEvent) error {
	m.alerts = append(m.alerts, evt)
	return nil
}

func (m *memRecorder) RecordFailure(evt *recorder.FailureEvent) error {
	m.failures = append(m.failures, evt)
	return nil
}

func (m *memRecorder) RecordTransition(evt *recorder.TransitionEvent) error {
	m.transitions = append(m.transitions, evt)
	return nil
}

func (m *memRecorder) Summary(_ time.Time) (recorder.Summary, error) { return m.summary, nil }
func (m *memRecorder) Close() error                                  { return nil }

type countingPacer struct{ n int }

func (p *countingPacer) Wait(ctx context.Context) error {
	p.n++
	return ctx.Err()
}

type panicFetcher struct{}

func (panicFetcher) Name() string { return "panic" }

func (panicFetcher) FetchSeries(context.Context, model.Instrument, model.Timeframe, int) ([]model.Bar, error) {
	panic("malformed payload")
}

type fixture struct {
	s     *Scheduler
	clk   *clock.Fake
	out   *captureNotifier
	rec   *memRecorder
	pacer *countingPacer
}

func newFixture(t *testing.T, fetcher collector.Fetcher, pairs []model.Instrument, maxDaily int, start time.Time) *fixture {
	t.Helper()
	clk := clock.NewFake(start)
	f := &fixture{
		clk:   clk,
		out:   &captureNotifier{},
		rec:   &memRecorder{},
		pacer: &countingPacer{},
	}
	f.s = NewScheduler(Options{
		Instruments: pairs,
		Timeframes:  model.AllTimeframes,
		Period:      14,
		QuietStart:  "02:00",
		QuietEnd:    "05:00",
	}, Deps{
		Calendar:  newTestCalendar(t),
		Collector: collector.NewCollector(fetcher, 14, 50),
		Quota:     quota.NewGovernor(maxDaily, ist, clk),
		Dedup:     strategy.NewDeduplicator(strategy.DefaultThresholds, strategy.DefaultCooldown),
		Notifier:  f.out,
		Recorder:  f.rec,
		Pacer:     f.pacer,
		Clock:     clk,
	})
	return f
}

func TestTick_OversoldAlertEndToEnd(t *testing.T) {
	fetcher := &collector.MockFetcher{Closes: falling, End: utc(10, 0, 0)}
	f := newFixture(t, fetcher, []model.Instrument{"EUR/USD"}, 784, utc(10, 1, 0))

	wait, err := f.s.Tick(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wait != DefaultAwakeTick {
		t.Errorf("expected awake tick %v, got %v", DefaultAwakeTick, wait)
	}
	if len(fetcher.Calls) != 1 || fetcher.Calls[0].Timeframe != model.OneHour {
		t.Fatalf("expected a single 1h fetch, got %v", fetcher.Calls)
	}
	if f.out.len() != 1 {
		t.Fatalf("expected exactly 1 delivery, got %d", f.out.len())
	}
	if f.out.count("OVERSOLD") != 1 || f.out.count("EUR/USD") != 1 {
		t.Errorf("unexpected alert text: %q", f.out.texts[0])
	}
	if len(f.rec.readings) != 1 || len(f.rec.alerts) != 1 || !f.rec.alerts[0].Delivered {
		t.Errorf("expected one reading and one delivered alert recorded")
	}
	if f.pacer.n != 1 {
		t.Errorf("expected pacer to be consulted once, got %d", f.pacer.n)
	}
	if used := f.s.Quota.State().Used; used != 1 {
		t.Errorf("expected 1 request spent, got %d", used)
	}
}

func TestTick_CandleSweptOnce(t *testing.T) {
	fetcher := &collector.MockFetcher{Closes: falling, End: utc(10, 0, 0)}
	f := newFixture(t, fetcher, []model.Instrument{"EUR/USD"}, 784, utc(10, 0, 10))
	ctx := context.Background()

	for _, m := range []int{0, 1, 2} {
		f.clk.Set(utc(10, m, 30))
		if _, err := f.s.Tick(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if len(fetcher.Calls) != 1 {
		t.Fatalf("expected the 10:00 close to be swept once, got %d fetches", len(fetcher.Calls))
	}

	// next close is swept again but the cooldown holds the alert back
	f.clk.Set(utc(11, 1, 0))
	if _, err := f.s.Tick(ctx); err != nil {
		t.Fatal(err)
	}
	if len(fetcher.Calls) != 2 {
		t.Errorf("expected a second fetch at 11:00, got %d", len(fetcher.Calls))
	}
	if f.out.len() != 1 {
		t.Errorf("expected cooldown to suppress the repeat alert, got %d deliveries", f.out.len())
	}
}

func TestTick_FourHourCloseSweepsBoth(t *testing.T) {
	fetcher := &collector.MockFetcher{Closes: rising, End: utc(16, 0, 0)}
	f := newFixture(t, fetcher, []model.Instrument{"GBP/USD"}, 784, utc(16, 1, 0))

	if _, err := f.s.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(fetcher.Calls) != 2 {
		t.Fatalf("expected 1h and 4h fetches, got %v", fetcher.Calls)
	}
	if fetcher.Calls[0].Timeframe != model.OneHour || fetcher.Calls[1].Timeframe != model.FourHour {
		t.Errorf("expected 1h then 4h, got %v", fetcher.Calls)
	}
	if f.out.count("OVERBOUGHT") != 2 {
		t.Errorf("expected one overbought alert per timeframe, got %d", f.out.count("OVERBOUGHT"))
	}
}

func TestTick_NothingDueMidCandle(t *testing.T) {
	fetcher := &collector.MockFetcher{Closes: falling}
	f := newFixture(t, fetcher, []model.Instrument{"EUR/USD"}, 784, utc(13, 30, 0))

	if _, err := f.s.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(fetcher.Calls) != 0 || f.out.len() != 0 {
		t.Errorf("expected no work mid-candle, got %d fetches and %d messages", len(fetcher.Calls), f.out.len())
	}
}

func TestSweep_FailureDoesNotAbort(t *testing.T) {
	fetcher := &collector.MockFetcher{
		Closes: falling,
		End:    utc(10, 0, 0),
		Errs: map[model.Instrument]error{
			"USD/JPY": &collector.TransportError{Err: errors.New("connection reset")},
		},
	}
	f := newFixture(t, fetcher, []model.Instrument{"USD/JPY", "EUR/USD"}, 784, utc(10, 1, 0))

	res := f.s.Sweep(context.Background(), model.OneHour)
	if res.Failures != 1 || res.Analyzed != 1 || res.Alerts != 1 {
		t.Errorf("unexpected result %+v", res)
	}
	if len(f.rec.failures) != 1 {
		t.Fatalf("expected one recorded failure, got %d", len(f.rec.failures))
	}
	if got := f.rec.failures[0]; got.Instrument != "USD/JPY" || got.Class != collector.FailureTransport {
		t.Errorf("unexpected failure record %+v", got)
	}
	if f.out.count("EUR/USD") != 1 {
		t.Error("expected the alert for the second pair to be delivered")
	}
}

func TestSweep_QuotaExhausted(t *testing.T) {
	fetcher := &collector.MockFetcher{Closes: falling, End: utc(10, 0, 0)}
	f := newFixture(t, fetcher, []model.Instrument{"EUR/USD", "GBP/USD"}, 1, utc(10, 1, 0))

	res := f.s.Sweep(context.Background(), model.OneHour)
	if len(fetcher.Calls) != 1 {
		t.Errorf("expected only one fetch within budget, got %d", len(fetcher.Calls))
	}
	if res.Failures != 1 {
		t.Errorf("expected the second pair to be skipped, got %+v", res)
	}
	if len(f.rec.failures) != 1 || f.rec.failures[0].Class != collector.FailureQuota {
		t.Errorf("expected a %s failure, got %+v", collector.FailureQuota, f.rec.failures)
	}
	if f.pacer.n != 1 {
		t.Errorf("expected no pacing wait for a denied request, got %d waits", f.pacer.n)
	}
}

func TestSweep_DeliveryFailureRecorded(t *testing.T) {
	fetcher := &collector.MockFetcher{Closes: falling, End: utc(10, 0, 0)}
	f := newFixture(t, fetcher, []model.Instrument{"EUR/USD"}, 784, utc(10, 1, 0))
	f.out.err = &notifier.DeliveryError{Err: errors.New("bad gateway")}

	res := f.s.Sweep(context.Background(), model.OneHour)
	if res.Alerts != 0 || res.Analyzed != 1 {
		t.Errorf("unexpected result %+v", res)
	}
	if len(f.rec.alerts) != 1 || f.rec.alerts[0].Delivered || f.rec.alerts[0].Error == "" {
		t.Errorf("expected an undelivered alert record, got %+v", f.rec.alerts)
	}
}

func TestTick_SleepWakeTransitions(t *testing.T) {
	fetcher := &collector.MockFetcher{Closes: falling}
	f := newFixture(t, fetcher, []model.Instrument{"EUR/USD"}, 784, time.Date(2025, 3, 3, 1, 50, 0, 0, ist))
	ctx := context.Background()

	steps := []struct {
		h, m     int
		wantWait time.Duration
	}{
		{1, 50, DefaultAwakeTick},
		{2, 0, DefaultAsleepTick},
		{2, 10, DefaultAsleepTick},
		{4, 59, DefaultAsleepTick},
		{5, 0, DefaultAwakeTick},
		{5, 10, DefaultAwakeTick},
	}
	for _, st := range steps {
		f.clk.Set(time.Date(2025, 3, 3, st.h, st.m, 0, 0, ist))
		wait, err := f.s.Tick(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if wait != st.wantWait {
			t.Errorf("%02d:%02d: expected wait %v, got %v", st.h, st.m, st.wantWait, wait)
		}
	}

	if n := f.out.count("Going to Sleep"); n != 1 {
		t.Errorf("expected 1 sleep message, got %d", n)
	}
	if n := f.out.count("Bot is Awake"); n != 1 {
		t.Errorf("expected 1 wake message, got %d", n)
	}
	if len(f.rec.transitions) != 2 || !f.rec.transitions[0].Asleep || f.rec.transitions[1].Asleep {
		t.Errorf("unexpected transitions %+v", f.rec.transitions)
	}
	if len(fetcher.Calls) != 0 {
		t.Errorf("expected no fetches, got %d", len(fetcher.Calls))
	}
}

func TestTick_StartInsideQuietPeriod(t *testing.T) {
	fetcher := &collector.MockFetcher{Closes: falling}
	// 03:00 IST is 21:30 UTC
	f := newFixture(t, fetcher, []model.Instrument{"EUR/USD"}, 784, time.Date(2025, 3, 3, 3, 0, 0, 0, ist))

	for i := 0; i < 3; i++ {
		if _, err := f.s.Tick(context.Background()); err != nil {
			t.Fatal(err)
		}
		f.clk.Advance(DefaultAsleepTick)
	}
	if f.out.len() != 1 || f.out.count("Going to Sleep") != 1 {
		t.Errorf("expected a single sleep message, got %v", f.out.texts)
	}
	if !f.s.Asleep() {
		t.Error("expected scheduler to report asleep")
	}
}

func TestRun_PanicBacksOff(t *testing.T) {
	f := newFixture(t, panicFetcher{}, []model.Instrument{"EUR/USD"}, 784, utc(10, 1, 0))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.clk.OnSleep = func(n int) {
		if n == 2 {
			cancel()
		}
	}

	err := f.s.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	sleeps := f.clk.Sleeps()
	if len(sleeps) != 2 {
		t.Fatalf("expected 2 sleeps, got %v", sleeps)
	}
	if sleeps[0] != DefaultErrorBackoff {
		t.Errorf("expected error backoff %v after panic, got %v", DefaultErrorBackoff, sleeps[0])
	}
	if sleeps[1] != DefaultAwakeTick {
		t.Errorf("expected normal tick after recovery, got %v", sleeps[1])
	}
	if f.out.len() != 0 {
		t.Errorf("expected no messages, got %v", f.out.texts)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newFixture(t, &collector.MockFetcher{Closes: falling}, []model.Instrument{"EUR/USD"}, 784, utc(13, 30, 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := f.s.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestHandleCommand(t *testing.T) {
	pairs := []model.Instrument{"EUR/USD", "GBP/JPY"}
	f := newFixture(t, &collector.MockFetcher{Closes: falling}, pairs, 784, utc(13, 30, 0))

	status := f.s.HandleCommand("/status")
	if !strings.Contains(status, "awake") || !strings.Contains(status, "API requests today: 0/784") {
		t.Errorf("unexpected status reply: %q", status)
	}
	if !strings.Contains(status, "Next 4h close: 03/03/2025 16:00 UTC") {
		t.Errorf("expected next 4h close in status, got %q", status)
	}

	listed := f.s.HandleCommand("/pairs@RSISentinelBot")
	if !strings.Contains(listed, "EUR/USD, GBP/JPY") {
		t.Errorf("unexpected pairs reply: %q", listed)
	}
	if got := f.s.HandleCommand("/unknown"); got != notifier.HelpText {
		t.Errorf("expected help text, got %q", got)
	}
	if got := f.s.HandleCommand(""); got != notifier.HelpText {
		t.Errorf("expected help text for empty command, got %q", got)
	}
}

func TestStartupInfo(t *testing.T) {
	pairs := []model.Instrument{"EUR/USD", "GBP/USD"}
	f := newFixture(t, &collector.MockFetcher{Closes: falling}, pairs, 784, utc(13, 30, 0))

	info := f.s.StartupInfo()
	if info.ExpectedDaily != 54 {
		t.Errorf("expected 54 daily requests for 2 pairs, got %d", info.ExpectedDaily)
	}
	if info.DailyLimit != 784 || info.Pairs != 2 {
		t.Errorf("unexpected startup info %+v", info)
	}
	if err := f.s.SendStartup(context.Background()); err != nil {
		t.Fatal(err)
	}
	if f.out.count("RSISentinel Started") != 1 {
		t.Errorf("expected startup message, got %v", f.out.texts)
	}
}

func TestSendStartup_DeliveryError(t *testing.T) {
	f := newFixture(t, &collector.MockFetcher{Closes: falling}, []model.Instrument{"EUR/USD"}, 784, utc(13, 30, 0))
	f.out.err = errors.New("forbidden")

	if err := f.s.SendStartup(context.Background()); err == nil {
		t.Error("expected startup delivery error")
	}
}

func TestSendDigest(t *testing.T) {
	f := newFixture(t, &collector.MockFetcher{Closes: falling}, []model.Instrument{"EUR/USD"}, 784, utc(15, 30, 0))
	f.rec.summary = recorder.Summary{Readings: 40, Alerts: 3, Failures: 2}

	f.s.SendDigest(context.Background())
	if f.out.len() != 1 {
		t.Fatalf("expected one digest, got %d", f.out.len())
	}
	text := f.out.texts[0]
	for _, want := range []string{"Daily Summary", "2025-03-03", "Alerts sent: 3", "Failed analyses: 2"} {
		if !strings.Contains(text, want) {
			t.Errorf("digest missing %q: %q", want, text)
		}
	}
}

func TestRegisterDigest(t *testing.T) {
	f := newFixture(t, &collector.MockFetcher{Closes: falling}, []model.Instrument{"EUR/USD"}, 784, utc(13, 30, 0))

	if err := f.s.RegisterDigest(context.Background(), "0 0 21 * * *"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := f.s.RegisterDigest(context.Background(), "not a cron"); err == nil {
		t.Error("expected error for invalid digest schedule")
	}
	if got := len(f.s.Cron.Entries()); got != 1 {
		t.Errorf("expected 1 cron entry, got %d", got)
	}
}

// timeSeriesBody renders closes as a TwelveData payload, newest first, with
// the final close replaced by last when non-empty.
func timeSeriesBody(closes []float64, end time.Time, last string) string {
	var b strings.Builder
	b.WriteString(`{"status":"ok","values":[`)
	for i := len(closes) - 1; i >= 0; i-- {
		c := strconv.FormatFloat(closes[i], 'f', 4, 64)
		if i == len(closes)-1 && last != "" {
			c = last
		}
		ts := end.Add(-time.Duration(len(closes)-1-i) * time.Hour)
		if i != len(closes)-1 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, `{"datetime":%q,"close":%q}`, ts.Format("2006-01-02 15:04:05"), c)
	}
	b.WriteString("]}")
	return b.String()
}

func TestTick_NonFiniteCloseIsolated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		last := ""
		if r.URL.Query().Get("symbol") == "USD/JPY" {
			last = "NaN"
		}
		w.Write([]byte(timeSeriesBody(falling, utc(10, 0, 0), last)))
	}))
	defer srv.Close()

	fetcher := collector.NewTwelveDataFetcher(srv.URL, "k", "", 5*time.Second)
	f := newFixture(t, fetcher, []model.Instrument{"USD/JPY", "EUR/USD"}, 784, utc(10, 1, 0))

	wait, err := f.s.safeTick(context.Background())
	if err != nil {
		t.Fatalf("expected the tick to complete, got %v", err)
	}
	if wait != DefaultAwakeTick {
		t.Errorf("expected awake tick, got %v", wait)
	}
	if len(f.rec.failures) != 1 || f.rec.failures[0].Class != collector.FailureData {
		t.Fatalf("expected one %s failure, got %+v", collector.FailureData, f.rec.failures)
	}
	if len(f.rec.readings) != 1 || f.rec.readings[0].Instrument != "EUR/USD" {
		t.Errorf("expected EUR/USD to be analyzed, got %+v", f.rec.readings)
	}
	if f.out.count("EUR/USD") != 1 {
		t.Errorf("expected the EUR/USD alert, got %v", f.out.texts)
	}
}

func TestSweep_NonFiniteMockSeries(t *testing.T) {
	bad := append(append([]float64{}, falling[:15]...), math.Inf(1))
	fetcher := &collector.MockFetcher{
		Closes: falling,
		End:    utc(10, 0, 0),
		Series: map[model.Instrument][]float64{"USD/JPY": bad},
	}
	f := newFixture(t, fetcher, []model.Instrument{"USD/JPY", "EUR/USD"}, 784, utc(10, 1, 0))

	res := f.s.Sweep(context.Background(), model.OneHour)
	if res.Failures != 1 || res.Analyzed != 1 || res.Alerts != 1 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestCheckConnection(t *testing.T) {
	fetcher := &collector.MockFetcher{Closes: falling, End: utc(10, 0, 0)}
	f := newFixture(t, fetcher, []model.Instrument{"GBP/USD", "EUR/USD"}, 784, utc(13, 30, 0))

	if err := f.s.CheckConnection(context.Background(), "RSISentinelBot", -100123); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fetcher.Calls) != 1 || fetcher.Calls[0] != (model.AlertKey{Instrument: "EUR/USD", Timeframe: model.OneHour}) {
		t.Errorf("expected a single EUR/USD 1h fetch, got %v", fetcher.Calls)
	}
	if used := f.s.Quota.State().Used; used != 1 {
		t.Errorf("expected the test fetch to be charged, got %d used", used)
	}
	for _, want := range []string{"Connection Test Successful", "@RSISentinelBot", "EUR/USD 1h RSI: 9.92", "Chat ID: -100123"} {
		if f.out.count(want) != 1 {
			t.Errorf("connection message missing %q: %v", want, f.out.texts)
		}
	}
}

func TestCheckConnection_FirstPairFallback(t *testing.T) {
	fetcher := &collector.MockFetcher{Closes: falling, End: utc(10, 0, 0)}
	f := newFixture(t, fetcher, []model.Instrument{"USD/JPY", "GBP/USD"}, 784, utc(13, 30, 0))

	if err := f.s.CheckConnection(context.Background(), "bot", 1); err != nil {
		t.Fatal(err)
	}
	if len(fetcher.Calls) != 1 || fetcher.Calls[0].Instrument != "USD/JPY" {
		t.Errorf("expected the first pair to be used, got %v", fetcher.Calls)
	}
}

func TestCheckConnection_FetchFailure(t *testing.T) {
	fetcher := &collector.MockFetcher{
		Closes: falling,
		Errs:   map[model.Instrument]error{"EUR/USD": &collector.RemoteAPIError{Code: 401, Message: "invalid api key"}},
	}
	f := newFixture(t, fetcher, []model.Instrument{"EUR/USD"}, 784, utc(13, 30, 0))

	err := f.s.CheckConnection(context.Background(), "bot", 1)
	if collector.Classify(err) != collector.FailureRemoteAPI {
		t.Errorf("expected a remote API failure, got %v", err)
	}
	if f.out.len() != 0 {
		t.Errorf("expected no message on failure, got %v", f.out.texts)
	}
	if used := f.s.Quota.State().Used; used != 1 {
		t.Errorf("expected the failed attempt to be charged, got %d used", used)
	}
}
