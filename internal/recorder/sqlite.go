package recorder

import (
	"database/sql"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLiteRecorder persists historical data to a SQLite database.
type SQLiteRecorder struct {
	db  *sql.DB
	mu  sync.Mutex
	log *zap.SugaredLogger
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string, log *zap.SugaredLogger) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}

	// WAL so the dashboard and CLI can read while the bot writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "set WAL mode")
	}

	r := &SQLiteRecorder{db: db, log: log}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate")
	}

	log.Infof("[recorder] sqlite journal opened: %s", dbPath)
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id         TEXT PRIMARY KEY,
			timestamp  INTEGER NOT NULL,
			action     TEXT NOT NULL,
			direction  TEXT,
			price      REAL,
			entry      REAL,
			size       REAL,
			leverage   INTEGER,
			reason     TEXT,
			tx_ref     TEXT,
			pnl_pct    REAL,
			error      TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_ts ON trades(timestamp)`,

		`CREATE TABLE IF NOT EXISTS snapshots (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp INTEGER NOT NULL,
			price     REAL,
			ma        REAL,
			stoch_k   REAL,
			stoch_d   REAL,
			level_50  REAL,
			signal    TEXT,
			state     TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_ts ON snapshots(timestamp)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return errors.Wrapf(err, "exec %q", s[:40])
		}
	}
	return nil
}

func (r *SQLiteRecorder) RecordTrade(evt *TradeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if evt.ID == "" {
		evt.ID = ulid.Make().String()
	}
	if evt.Time.IsZero() {
		evt.Time = time.Now().UTC()
	}

	_, err := r.db.Exec(`INSERT INTO trades
		(id, timestamp, action, direction, price, entry, size, leverage, reason, tx_ref, pnl_pct, error)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		evt.ID, evt.Time.UnixMilli(), evt.Action, evt.Direction,
		evt.Price, evt.Entry, evt.Size, evt.Leverage,
		evt.Reason, evt.TxRef, evt.PnLPct, evt.Error,
	)
	return err
}

func (r *SQLiteRecorder) RecordSnapshot(evt *SnapshotEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ts := evt.Time
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := r.db.Exec(`INSERT INTO snapshots
		(timestamp, price, ma, stoch_k, stoch_d, level_50, signal, state)
		VALUES (?,?,?,?,?,?,?,?)`,
		ts.UnixMilli(), evt.Price, evt.MA, evt.StochK, evt.StochD, evt.Level50,
		evt.Signal, evt.State,
	)
	return err
}

func (r *SQLiteRecorder) RecentTrades(n int) ([]TradeEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.Query(`SELECT id, timestamp, action, direction, price, entry, size,
		leverage, reason, tx_ref, pnl_pct, error
		FROM trades ORDER BY timestamp DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TradeEvent
	for rows.Next() {
		var (
			evt TradeEvent
			ts  int64
		)
		if err := rows.Scan(&evt.ID, &ts, &evt.Action, &evt.Direction, &evt.Price, &evt.Entry,
			&evt.Size, &evt.Leverage, &evt.Reason, &evt.TxRef, &evt.PnLPct, &evt.Error); err != nil {
			return nil, err
		}
		evt.Time = time.UnixMilli(ts).UTC()
		out = append(out, evt)
	}
	return out, rows.Err()
}

// SnapshotCount returns the number of recorded ticks.
func (r *SQLiteRecorder) SnapshotCount() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM snapshots`).Scan(&n)
	return n, err
}

func (r *SQLiteRecorder) Close() error {
	r.log.Info("[recorder] closing sqlite journal")
	return r.db.Close()
}
