package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // Asia/Kolkata on hosts without a zoneinfo database

	"RSISentinel/internal/model"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// DefaultPairs are the major and minor forex pairs monitored out of the box.
var DefaultPairs = []string{
	// Majors
	"EUR/USD", "GBP/USD", "USD/JPY", "USD/CHF", "AUD/USD", "USD/CAD", "NZD/USD",
	// Minors
	"EUR/GBP", "EUR/JPY", "EUR/CHF", "EUR/AUD", "EUR/CAD", "EUR/NZD",
	"GBP/JPY", "GBP/CHF", "GBP/AUD", "GBP/CAD", "GBP/NZD",
	"CHF/JPY", "AUD/JPY", "CAD/JPY", "NZD/JPY",
	"AUD/CHF", "AUD/CAD", "AUD/NZD",
	"CAD/CHF", "NZD/CHF", "NZD/CAD",
}

// Config holds all application configuration.
type Config struct {
	Telegram struct {
		BotToken string        `yaml:"bot_token"`
		ChatID   string        `yaml:"chat_id"`
		Endpoint string        `yaml:"endpoint"`
		Timeout  time.Duration `yaml:"timeout"`
	} `yaml:"telegram"`
	DataSource struct {
		BaseURL        string        `yaml:"base_url"`
		APIKey         string        `yaml:"api_key"`
		OutputSize     int           `yaml:"output_size"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
		Pacing         time.Duration `yaml:"pacing"`
	} `yaml:"data_source"`
	Monitor struct {
		Pairs      []string      `yaml:"pairs"`
		Timeframes []string      `yaml:"timeframes"`
		RSIPeriod  int           `yaml:"rsi_period"`
		Oversold   float64       `yaml:"oversold"`
		Overbought float64       `yaml:"overbought"`
		Cooldown   time.Duration `yaml:"cooldown"`
	} `yaml:"monitor"`
	Schedule struct {
		Timezone     string        `yaml:"timezone"`
		QuietStart   string        `yaml:"quiet_start"`
		QuietEnd     string        `yaml:"quiet_end"`
		CloseWindow  time.Duration `yaml:"close_window"`
		AwakeTick    time.Duration `yaml:"awake_tick"`
		AsleepTick   time.Duration `yaml:"asleep_tick"`
		ErrorBackoff time.Duration `yaml:"error_backoff"`
		DigestCron   string        `yaml:"digest_cron"`
	} `yaml:"schedule"`
	Quota struct {
		MaxDailyRequests int `yaml:"max_daily_requests"`
		ChecksPerDay     int `yaml:"checks_per_day"`
	} `yaml:"quota"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // console or json
	} `yaml:"log"`
	Proxy string `yaml:"proxy"`
}

// Load starts from Default, overlays the YAML file and then environment
// variables. Keys present in the file replace defaults even when zero.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg(".env file not found, relying on process environment")
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	// an explicit empty list keeps the default set
	if len(cfg.Monitor.Pairs) == 0 {
		cfg.Monitor.Pairs = append([]string(nil), DefaultPairs...)
	}
	if len(cfg.Monitor.Timeframes) == 0 {
		cfg.Monitor.Timeframes = []string{string(model.OneHour), string(model.FourHour)}
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Telegram.ChatID = v
	}
	if v := os.Getenv("TWELVEDATA_API_KEY"); v != "" {
		c.DataSource.APIKey = v
	}
	if v := os.Getenv("TWELVEDATA_BASE_URL"); v != "" {
		c.DataSource.BaseURL = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		c.Proxy = v
	}
	if v := os.Getenv("PAIRS"); v != "" {
		c.Monitor.Pairs = splitList(v)
	}
	if v := os.Getenv("TIMEZONE"); v != "" {
		c.Schedule.Timezone = v
	}
	if v := os.Getenv("MAX_DAILY_REQUESTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MAX_DAILY_REQUESTS: %w", err)
		}
		c.Quota.MaxDailyRequests = n
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		c.Database.SQLitePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	return nil
}

// Default returns the configuration used when no file or environment sets a value.
func Default() *Config {
	c := &Config{}
	c.Telegram.Timeout = 30 * time.Second
	c.DataSource.OutputSize = 50
	c.DataSource.RequestTimeout = 30 * time.Second
	c.DataSource.Pacing = 2 * time.Second
	c.Monitor.Pairs = append([]string(nil), DefaultPairs...)
	c.Monitor.Timeframes = []string{string(model.OneHour), string(model.FourHour)}
	c.Monitor.RSIPeriod = 14
	c.Monitor.Oversold = 30
	c.Monitor.Overbought = 70
	c.Monitor.Cooldown = 4 * time.Hour
	c.Schedule.Timezone = "Asia/Kolkata"
	c.Schedule.QuietStart = "02:00"
	c.Schedule.QuietEnd = "05:00"
	c.Schedule.CloseWindow = 2 * time.Minute
	c.Schedule.AwakeTick = 60 * time.Second
	c.Schedule.AsleepTick = 600 * time.Second
	c.Schedule.ErrorBackoff = 300 * time.Second
	c.Schedule.DigestCron = "0 0 21 * * *"
	c.Quota.ChecksPerDay = 28
	c.Database.SQLitePath = "data/rsi_sentinel.db"
	c.Log.Level = "info"
	c.Log.Format = "console"
	return c
}

// Validate checks that all required fields are set and consistent.
func (c *Config) Validate() error {
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required")
	}
	if c.Telegram.ChatID == "" {
		return fmt.Errorf("telegram.chat_id is required")
	}
	if _, err := c.ChatID(); err != nil {
		return err
	}
	if c.DataSource.APIKey == "" {
		return fmt.Errorf("data_source.api_key is required")
	}
	if len(c.Monitor.Pairs) == 0 {
		return fmt.Errorf("monitor.pairs must not be empty")
	}
	if _, err := c.Timeframes(); err != nil {
		return err
	}
	if c.Monitor.RSIPeriod < 1 {
		return fmt.Errorf("monitor.rsi_period must be positive")
	}
	if c.Monitor.Oversold < 0 || c.Monitor.Overbought > 100 || c.Monitor.Oversold >= c.Monitor.Overbought {
		return fmt.Errorf("monitor thresholds must satisfy 0 <= oversold < overbought <= 100")
	}
	if c.Monitor.Cooldown < 0 {
		return fmt.Errorf("monitor.cooldown must not be negative")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	for name, v := range map[string]string{"quiet_start": c.Schedule.QuietStart, "quiet_end": c.Schedule.QuietEnd} {
		if _, err := time.Parse("15:04", v); err != nil {
			return fmt.Errorf("schedule.%s must be HH:MM, got %q", name, v)
		}
	}
	if c.Schedule.AwakeTick <= 0 || c.Schedule.AsleepTick <= 0 || c.Schedule.ErrorBackoff <= 0 {
		return fmt.Errorf("schedule tick intervals must be positive")
	}
	if c.DataSource.OutputSize < c.Monitor.RSIPeriod+1 {
		return fmt.Errorf("data_source.output_size must be at least rsi_period+1 (%d)", c.Monitor.RSIPeriod+1)
	}
	if c.Quota.MaxDailyRequests < 0 {
		return fmt.Errorf("quota.max_daily_requests must not be negative")
	}
	if c.MaxDailyRequests() < 1 {
		return fmt.Errorf("quota: daily ceiling must be positive, set max_daily_requests or checks_per_day")
	}
	return nil
}

// Location loads the reference timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("schedule.timezone: %w", err)
	}
	return loc, nil
}

// ChatID parses the Telegram chat id.
func (c *Config) ChatID() (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(c.Telegram.ChatID), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram.chat_id must be numeric: %w", err)
	}
	return id, nil
}

// Instruments returns the configured pairs.
func (c *Config) Instruments() []model.Instrument {
	out := make([]model.Instrument, 0, len(c.Monitor.Pairs))
	for _, p := range c.Monitor.Pairs {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, model.Instrument(strings.ToUpper(p)))
		}
	}
	return out
}

// Timeframes parses the configured timeframes in order.
func (c *Config) Timeframes() ([]model.Timeframe, error) {
	out := make([]model.Timeframe, 0, len(c.Monitor.Timeframes))
	for _, s := range c.Monitor.Timeframes {
		tf, err := model.ParseTimeframe(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("monitor.timeframes: %w", err)
		}
		out = append(out, tf)
	}
	return out, nil
}

// MaxDailyRequests returns the explicit ceiling, or pairs × checks per day.
func (c *Config) MaxDailyRequests() int {
	if c.Quota.MaxDailyRequests > 0 {
		return c.Quota.MaxDailyRequests
	}
	return len(c.Instruments()) * c.Quota.ChecksPerDay
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
