package notifier

import (
	"fmt"
	"strings"
	"time"

	"RSISentinel/internal/model"
)

const displayLayout = "02/01/2006 15:04"

func zoneLabel(t time.Time) string {
	return t.Format("MST")
}

func joinTimeframes(tfs []model.Timeframe) string {
	parts := make([]string, len(tfs))
	for i, tf := range tfs {
		parts[i] = string(tf)
	}
	return strings.Join(parts, " & ")
}

// FormatAlert formats an RSI threshold crossing.
func FormatAlert(r *model.OscillatorReading, zone model.Zone, period int, loc *time.Location) string {
	var emoji, signal, action string
	if zone == model.ZoneOversold {
		emoji, signal, action = "📈", "🟢 OVERSOLD SIGNAL", "Potential BUY opportunity"
	} else {
		emoji, signal, action = "📉", "🔴 OVERBOUGHT SIGNAL", "Potential SELL opportunity"
	}
	local := r.Timestamp.In(loc)

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s <b>RSI ALERT</b> %s\n\n", emoji, emoji))
	b.WriteString(fmt.Sprintf("💱 Pair: %s\n", r.Instrument))
	b.WriteString(fmt.Sprintf("⏰ Timeframe: %s\n", r.Timeframe))
	b.WriteString(fmt.Sprintf("📊 RSI(%d): %.2f\n", period, r.Value))
	b.WriteString(fmt.Sprintf("💰 Price: %s\n", formatPrice(r.Price)))
	b.WriteString(fmt.Sprintf("🕐 %s: %s\n\n", zoneLabel(local), local.Format(displayLayout)))
	b.WriteString(fmt.Sprintf("<b>%s</b>\n%s\n\n", signal, action))
	b.WriteString("━━━━━━━━━━━━━━━\n⚠️ Not financial advice")
	return b.String()
}

// formatPrice keeps up to 5 decimals, trimming trailing zeros.
func formatPrice(p float64) string {
	s := fmt.Sprintf("%.5f", p)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// ConnectionInfo is the outcome of the startup connection test.
type ConnectionInfo struct {
	Bot       string
	Source    string
	Pair      model.Instrument
	Timeframe model.Timeframe
	RSI       float64
	ChatID    int64
	Pairs     int
}

// FormatConnectionTest formats the message sent once both collaborators answered.
func FormatConnectionTest(info ConnectionInfo) string {
	var b strings.Builder
	b.WriteString("🧪 <b>Connection Test Successful!</b>\n\n")
	b.WriteString(fmt.Sprintf("✅ Telegram Bot: @%s\n", info.Bot))
	b.WriteString(fmt.Sprintf("✅ Data source (%s): Connected\n", info.Source))
	b.WriteString(fmt.Sprintf("✅ RSI Calculation: Working (%s %s RSI: %.2f)\n", info.Pair, info.Timeframe, info.RSI))
	b.WriteString(fmt.Sprintf("✅ Chat ID: %d\n\n", info.ChatID))
	b.WriteString(fmt.Sprintf("🎯 Ready to monitor %d forex pairs!", info.Pairs))
	return b.String()
}

// StartupInfo summarises the configuration for the startup message.
type StartupInfo struct {
	Now           time.Time
	Location      *time.Location
	Pairs         int
	Timeframes    []model.Timeframe
	Period        int
	Oversold      float64
	Overbought    float64
	QuietStart    string
	QuietEnd      string
	DailyLimit    int
	ExpectedDaily int
	NextCloses    map[model.Timeframe]time.Time
}

// FormatStartup formats the process start message.
func FormatStartup(info StartupInfo) string {
	local := info.Now.In(info.Location)

	var b strings.Builder
	b.WriteString("🚀 <b>RSISentinel Started!</b>\n\n")
	b.WriteString(fmt.Sprintf("📊 Monitoring: %d pairs\n", info.Pairs))
	b.WriteString(fmt.Sprintf("⏰ Timeframes: %s (synced to candle closes)\n", joinTimeframes(info.Timeframes)))
	b.WriteString(fmt.Sprintf("📈 RSI(%d) Oversold: ≤ %g\n", info.Period, info.Oversold))
	b.WriteString(fmt.Sprintf("📉 RSI(%d) Overbought: ≥ %g\n\n", info.Period, info.Overbought))
	b.WriteString(fmt.Sprintf("🕐 Current %s: %s\n", zoneLabel(local), local.Format(displayLayout)))
	if info.QuietStart != info.QuietEnd {
		b.WriteString(fmt.Sprintf("😴 Sleep Schedule: %s - %s %s\n", info.QuietStart, info.QuietEnd, zoneLabel(local)))
	}
	for _, tf := range info.Timeframes {
		if next, ok := info.NextCloses[tf]; ok {
			b.WriteString(fmt.Sprintf("🕯 Next %s close: %s UTC\n", tf, next.UTC().Format(displayLayout)))
		}
	}
	b.WriteString(fmt.Sprintf("\nExpected daily usage: ~%d API requests (limit %d)", info.ExpectedDaily, info.DailyLimit))
	return b.String()
}

// FormatSleep formats the quiet-period entry message.
func FormatSleep(now, wake time.Time, loc *time.Location) string {
	local := now.In(loc)
	wakeLocal := wake.In(loc)

	var b strings.Builder
	b.WriteString("😴 <b>Going to Sleep Mode</b>\n\n")
	b.WriteString(fmt.Sprintf("🕐 %s Time: %s\n", zoneLabel(local), local.Format(displayLayout)))
	b.WriteString(fmt.Sprintf("⏰ Wake up at: %s %s\n\n", wakeLocal.Format(displayLayout), zoneLabel(wakeLocal)))
	b.WriteString("Markets are quiet during these hours.\n")
	b.WriteString(fmt.Sprintf("Will resume monitoring at %s %s.\n\n", wakeLocal.Format("15:04"), zoneLabel(wakeLocal)))
	b.WriteString("Sweet dreams! 🌙")
	return b.String()
}

// FormatWake formats the quiet-period exit message.
func FormatWake(now time.Time, loc *time.Location, pairs int, tfs []model.Timeframe) string {
	local := now.In(loc)

	var b strings.Builder
	b.WriteString("☀️ <b>Good Morning! Bot is Awake</b>\n\n")
	b.WriteString(fmt.Sprintf("🕐 %s Time: %s\n", zoneLabel(local), local.Format(displayLayout)))
	b.WriteString("🔍 Resuming RSI monitoring...\n")
	b.WriteString(fmt.Sprintf("📊 Watching %d pairs on %s timeframes\n\n", pairs, joinTimeframes(tfs)))
	b.WriteString("Ready to catch those RSI signals! 🎯")
	return b.String()
}

// StatusInfo is the snapshot shown by the /status command.
type StatusInfo struct {
	Now        time.Time
	Location   *time.Location
	Asleep     bool
	Quota      model.QuotaState
	AlertKeys  int
	NextCloses map[model.Timeframe]time.Time
	Timeframes []model.Timeframe
}

// FormatStatus formats the current runtime state.
func FormatStatus(info StatusInfo) string {
	local := info.Now.In(info.Location)
	mode := "☀️ awake"
	if info.Asleep {
		mode = "😴 asleep"
	}

	var b strings.Builder
	b.WriteString("📦 <b>Status</b>\n\n")
	b.WriteString(fmt.Sprintf("Mode: %s\n", mode))
	b.WriteString(fmt.Sprintf("%s Time: %s\n", zoneLabel(local), local.Format(displayLayout)))
	b.WriteString(fmt.Sprintf("API requests today: %d/%d\n", info.Quota.Used, info.Quota.Max))
	b.WriteString(fmt.Sprintf("Pairs on cooldown history: %d\n", info.AlertKeys))
	for _, tf := range info.Timeframes {
		if next, ok := info.NextCloses[tf]; ok {
			b.WriteString(fmt.Sprintf("Next %s close: %s UTC\n", tf, next.UTC().Format(displayLayout)))
		}
	}
	return b.String()
}

// DigestInfo is the daily usage summary.
type DigestInfo struct {
	Day      time.Time
	Quota    model.QuotaState
	Readings int
	Alerts   int
	Failures int
}

// FormatDigest formats the daily summary.
func FormatDigest(info DigestInfo) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("📅 <b>Daily Summary</b> | %s\n\n", info.Day.Format("2006-01-02")))
	b.WriteString(fmt.Sprintf("API requests: %d/%d\n", info.Quota.Used, info.Quota.Max))
	b.WriteString(fmt.Sprintf("RSI readings: %d\n", info.Readings))
	b.WriteString(fmt.Sprintf("Alerts sent: %d\n", info.Alerts))
	b.WriteString(fmt.Sprintf("Failed analyses: %d", info.Failures))
	return b.String()
}

// FormatPairs lists the monitored instruments.
func FormatPairs(pairs []model.Instrument) string {
	names := make([]string, len(pairs))
	for i, p := range pairs {
		names[i] = string(p)
	}
	return fmt.Sprintf("💱 <b>Pairs (%d)</b>\n\n%s", len(pairs), strings.Join(names, ", "))
}

// HelpText lists the supported commands.
const HelpText = "Available commands:\n• /status\n• /pairs\n• /help"
