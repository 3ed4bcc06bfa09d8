package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"RSISentinel/internal/clock"
	"RSISentinel/internal/collector"
	"RSISentinel/internal/config"
	"RSISentinel/internal/notifier"
	"RSISentinel/internal/quota"
	"RSISentinel/internal/recorder"
	"RSISentinel/internal/scheduler"
	"RSISentinel/internal/strategy"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	setupLogging("info", "console")
	log.Info().Msg("RSISentinel starting...")

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("RSISentinel failed")
	}
	log.Info().Msg("RSISentinel stopped")
}

func run() error {
	// Load config
	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	setupLogging(cfg.Log.Level, cfg.Log.Format)

	loc, _ := cfg.Location()
	chatID, _ := cfg.ChatID()
	timeframes, _ := cfg.Timeframes()
	pairs := cfg.Instruments()

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Init fetcher and collector
	fetcher := collector.NewTwelveDataFetcher(cfg.DataSource.BaseURL, cfg.DataSource.APIKey, cfg.Proxy, cfg.DataSource.RequestTimeout)
	col := collector.NewCollector(fetcher, cfg.Monitor.RSIPeriod, cfg.DataSource.OutputSize)
	log.Info().Str("source", fetcher.Name()).Msg("data source configured")

	// Init Telegram notifier
	tn, err := notifier.NewTelegramNotifier(ctx, notifier.TelegramOptions{
		BotToken: cfg.Telegram.BotToken,
		ChatID:   chatID,
		Proxy:    cfg.Proxy,
		Endpoint: cfg.Telegram.Endpoint,
		Timeout:  cfg.Telegram.Timeout,
	})
	if err != nil {
		return fmt.Errorf("telegram connection test: %w", err)
	}

	// Init recorder
	var rec recorder.Recorder
	if cfg.Database.SQLitePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.SQLitePath), 0o755); err != nil {
			log.Warn().Err(err).Msg("create data directory")
		}
		sr, err := recorder.NewSQLiteRecorder(cfg.Database.SQLitePath)
		if err != nil {
			log.Warn().Err(err).Msg("init sqlite recorder failed, using noop")
			rec = recorder.NewNoopRecorder()
		} else {
			rec = sr
			defer sr.Close()
		}
	} else {
		rec = recorder.NewNoopRecorder()
	}

	cal, err := scheduler.NewCalendar(loc, cfg.Schedule.QuietStart, cfg.Schedule.QuietEnd, cfg.Schedule.CloseWindow, timeframes)
	if err != nil {
		return fmt.Errorf("init calendar: %w", err)
	}

	clk := clock.Real{}
	sched := scheduler.NewScheduler(scheduler.Options{
		Instruments:  pairs,
		Timeframes:   timeframes,
		Period:       cfg.Monitor.RSIPeriod,
		QuietStart:   cfg.Schedule.QuietStart,
		QuietEnd:     cfg.Schedule.QuietEnd,
		AwakeTick:    cfg.Schedule.AwakeTick,
		AsleepTick:   cfg.Schedule.AsleepTick,
		ErrorBackoff: cfg.Schedule.ErrorBackoff,
	}, scheduler.Deps{
		Calendar:  cal,
		Collector: col,
		Quota:     quota.NewGovernor(cfg.MaxDailyRequests(), loc, clk),
		Dedup: strategy.NewDeduplicator(strategy.Thresholds{
			Oversold:   cfg.Monitor.Oversold,
			Overbought: cfg.Monitor.Overbought,
		}, cfg.Monitor.Cooldown),
		Notifier: tn,
		Recorder: rec,
		Pacer:    scheduler.NewPacer(cfg.DataSource.Pacing),
		Clock:    clk,
	})

	checkCtx, cancelCheck := context.WithTimeout(ctx, time.Minute)
	err = sched.CheckConnection(checkCtx, tn.Username(), chatID)
	cancelCheck()
	if err != nil {
		return fmt.Errorf("data source connection test: %w", err)
	}

	if err := sched.RegisterDigest(ctx, cfg.Schedule.DigestCron); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	if err := sched.SendStartup(ctx); err != nil {
		log.Error().Err(err).Msg("startup message")
	}

	// Start Telegram polling
	go tn.StartPolling(ctx, sched.HandleCommand)
	log.Info().Str("bot", tn.Username()).Msg("telegram polling started")

	log.Info().
		Int("pairs", len(pairs)).
		Int("daily_limit", cfg.MaxDailyRequests()).
		Str("timezone", loc.String()).
		Msg("RSISentinel is running. Press Ctrl+C to stop.")

	if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("monitoring loop: %w", err)
	}
	return nil
}

// setupLogging configures the global logger.
func setupLogging(level, format string) {
	if format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	log.Logger = log.Logger.Level(lvl)
}
