package recorder

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"RSISentinel/internal/model"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// SQLiteRecorder persists the audit trail to a SQLite database.
type SQLiteRecorder struct {
	db     *sql.DB
	mu     sync.Mutex
	now    func() time.Time
	logger zerolog.Logger
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{
		db:     db,
		now:    time.Now,
		logger: log.With().Str("component", "recorder").Logger(),
	}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	r.logger.Info().Str("path", dbPath).Msg("sqlite recorder opened")
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS readings (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp   INTEGER NOT NULL,
			instrument  TEXT NOT NULL,
			timeframe   TEXT NOT NULL,
			rsi         REAL,
			price       REAL,
			candle_time INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_readings_ts ON readings(timestamp)`,

		`CREATE TABLE IF NOT EXISTS alerts (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp   INTEGER NOT NULL,
			instrument  TEXT NOT NULL,
			timeframe   TEXT NOT NULL,
			zone        TEXT,
			rsi         REAL,
			price       REAL,
			delivered   INTEGER,
			error       TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(timestamp)`,

		`CREATE TABLE IF NOT EXISTS failures (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp   INTEGER NOT NULL,
			instrument  TEXT NOT NULL,
			timeframe   TEXT NOT NULL,
			class       TEXT,
			message     TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_failures_ts ON failures(timestamp)`,

		`CREATE TABLE IF NOT EXISTS transitions (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp   INTEGER NOT NULL,
			asleep      INTEGER
		)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (r *SQLiteRecorder) RecordReading(rd *model.OscillatorReading) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO readings
		(timestamp, instrument, timeframe, rsi, price, candle_time)
		VALUES (?,?,?,?,?,?)`,
		r.now().Unix(), string(rd.Instrument), string(rd.Timeframe),
		rd.Value, rd.Price, rd.Timestamp.Unix(),
	)
	return err
}

func (r *SQLiteRecorder) RecordAlert(evt *AlertEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rd := evt.Reading
	_, err := r.db.Exec(`INSERT INTO alerts
		(timestamp, instrument, timeframe, zone, rsi, price, delivered, error)
		VALUES (?,?,?,?,?,?,?,?)`,
		r.now().Unix(), string(rd.Instrument), string(rd.Timeframe),
		string(evt.Zone), rd.Value, rd.Price, boolToInt(evt.Delivered), evt.Error,
	)
	return err
}

func (r *SQLiteRecorder) RecordFailure(evt *FailureEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO failures
		(timestamp, instrument, timeframe, class, message)
		VALUES (?,?,?,?,?)`,
		r.now().Unix(), string(evt.Instrument), string(evt.Timeframe), evt.Class, evt.Message,
	)
	return err
}

func (r *SQLiteRecorder) RecordTransition(evt *TransitionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO transitions (timestamp, asleep) VALUES (?,?)`,
		evt.At.Unix(), boolToInt(evt.Asleep),
	)
	return err
}

// Summary counts readings, delivered alerts and failures recorded at or after since.
func (r *SQLiteRecorder) Summary(since time.Time) (Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var s Summary
	ts := since.Unix()
	queries := []struct {
		sql  string
		dest *int
	}{
		{`SELECT COUNT(*) FROM readings WHERE timestamp >= ?`, &s.Readings},
		{`SELECT COUNT(*) FROM alerts WHERE timestamp >= ? AND delivered = 1`, &s.Alerts},
		{`SELECT COUNT(*) FROM failures WHERE timestamp >= ?`, &s.Failures},
	}
	for _, q := range queries {
		if err := r.db.QueryRow(q.sql, ts).Scan(q.dest); err != nil {
			return Summary{}, fmt.Errorf("summary: %w", err)
		}
	}
	return s, nil
}

func (r *SQLiteRecorder) Close() error {
	r.logger.Info().Msg("closing sqlite recorder")
	return r.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
