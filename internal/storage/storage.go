// Package storage persists session history to SQLite: trades, PnL
// snapshots, market windows, reference prices, probability snapshots,
// and position changes. Writes go through an async batch writer.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/pairbot/gopair/pkg/logger"
)

var log = logger.WithField("module", "storage")

// DB wraps the sqlite handle.
type DB struct {
	db *sql.DB
}

// Open creates or opens the database, applies migrations, and purges
// time-series rows older than retentionDays (0 keeps everything).
func Open(path string, retentionDays int) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create db dir")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// The sqlite driver serializes writes; one connection avoids
	// SQLITE_BUSY under the batch writer.
	db.SetMaxOpenConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if retentionDays > 0 {
		if err := d.purge(retentionDays); err != nil {
			log.WithError(err).Warn("retention purge failed")
		}
	}
	return d, nil
}

// Close releases the handle.
func (d *DB) Close() error { return d.db.Close() }

func (d *DB) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA foreign_keys=ON;`,
		`
CREATE TABLE IF NOT EXISTS sessions (
  id TEXT PRIMARY KEY,
  started_at TEXT NOT NULL,
  ended_at TEXT,
  dry_run INTEGER NOT NULL DEFAULT 0,
  bankroll_usd REAL NOT NULL,
  realized_pnl REAL,
  config_yaml TEXT
);`,
		`
CREATE TABLE IF NOT EXISTS trades (
  order_id TEXT PRIMARY KEY,
  session_id TEXT NOT NULL,
  slug TEXT NOT NULL,
  token_id TEXT NOT NULL,
  direction TEXT NOT NULL,
  side TEXT NOT NULL,
  price REAL NOT NULL,
  size REAL NOT NULL,
  matched REAL NOT NULL DEFAULT 0,
  reason TEXT,
  ts TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_slug_ts ON trades(slug, ts DESC);`,
		`
CREATE TABLE IF NOT EXISTS pnl_snapshots (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  session_id TEXT NOT NULL,
  realized_pnl REAL NOT NULL,
  exposure_usd REAL NOT NULL,
  ts TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_pnl_snapshots_ts ON pnl_snapshots(ts DESC);`,
		`
CREATE TABLE IF NOT EXISTS market_windows (
  slug TEXT PRIMARY KEY,
  condition_id TEXT,
  market_type TEXT,
  neg_risk INTEGER NOT NULL DEFAULT 0,
  end_time TEXT,
  entered_at TEXT,
  exited_at TEXT
);`,
		`
CREATE TABLE IF NOT EXISTS btc_prices (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  price REAL NOT NULL,
  deviation REAL,
  range_pct REAL,
  tick_count INTEGER,
  ts TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_btc_prices_ts ON btc_prices(ts DESC);`,
		`
CREATE TABLE IF NOT EXISTS probability_snapshots (
  slug TEXT NOT NULL,
  up_bid REAL,
  up_ask REAL,
  down_bid REAL,
  down_ask REAL,
  ts_second INTEGER NOT NULL,
  PRIMARY KEY (slug, ts_second)
);`,
		`
CREATE TABLE IF NOT EXISTS merges (
  tx_hash TEXT PRIMARY KEY,
  session_id TEXT NOT NULL,
  slug TEXT NOT NULL,
  shares REAL NOT NULL,
  pnl REAL,
  ts TEXT NOT NULL
);`,
		`
CREATE TABLE IF NOT EXISTS position_changes (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  slug TEXT NOT NULL,
  up_shares REAL NOT NULL,
  down_shares REAL NOT NULL,
  up_cost REAL NOT NULL,
  down_cost REAL NOT NULL,
  ts TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_position_changes_slug_ts ON position_changes(slug, ts DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "migrate: %.60s", stmt)
		}
	}

	// Columns added after first release; duplicate-column errors mean
	// the migration already ran.
	alters := []string{
		`ALTER TABLE trades ADD COLUMN entry_edge REAL;`,
		`ALTER TABLE sessions ADD COLUMN assets TEXT;`,
	}
	for _, stmt := range alters {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			log.WithField("stmt", stmt).Debug("alter skipped (already applied)")
		}
	}
	return nil
}

// purge drops time-series rows older than days.
func (d *DB) purge(days int) error {
	cutoff := time.Now().AddDate(0, 0, -days).UTC().Format(time.RFC3339)
	for _, table := range []string{"pnl_snapshots", "btc_prices", "position_changes", "trades"} {
		res, err := d.db.Exec(fmt.Sprintf(`DELETE FROM %s WHERE ts < ?`, table), cutoff)
		if err != nil {
			return errors.Wrapf(err, "purge %s", table)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			log.WithField("table", table).WithField("rows", n).Info("retention purge")
		}
	}
	if _, err := d.db.Exec(`DELETE FROM probability_snapshots WHERE ts_second < ?`,
		time.Now().AddDate(0, 0, -days).Unix()); err != nil {
		return errors.Wrap(err, "purge probability_snapshots")
	}
	return nil
}

// StartSession inserts the session row at startup.
func (d *DB) StartSession(id string, startedAt time.Time, dryRun bool, bankrollUSD float64, configYAML string) error {
	_, err := d.db.Exec(
		`INSERT OR IGNORE INTO sessions (id, started_at, dry_run, bankroll_usd, config_yaml) VALUES (?, ?, ?, ?, ?)`,
		id, startedAt.UTC().Format(time.RFC3339), boolInt(dryRun), bankrollUSD, configYAML)
	return errors.Wrap(err, "start session")
}

// EndSession stamps the session end and final PnL.
func (d *DB) EndSession(id string, endedAt time.Time, realizedPnL float64) error {
	_, err := d.db.Exec(
		`UPDATE sessions SET ended_at = ?, realized_pnl = ? WHERE id = ?`,
		endedAt.UTC().Format(time.RFC3339), realizedPnL, id)
	return errors.Wrap(err, "end session")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
