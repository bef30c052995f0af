// Package sqlite is the write-through persistence sink. The engine never
// reads it on the hot path; in-memory state is authoritative and reads
// fall back to it on miss.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"crypto-scalper/internal/indicator"
	"crypto-scalper/internal/model"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// Config configures the store.
type Config struct {
	DBPath string // e.g. "data/scalper.db"
}

// Store is a single-writer SQLite sink with transaction batching for
// high-volume tables.
type Store struct {
	db *sql.DB
}

// DB returns the underlying handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// New opens the database in WAL mode and creates the schema.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS trades (
			id            TEXT PRIMARY KEY,
			symbol        TEXT NOT NULL,
			side          TEXT NOT NULL,
			price         REAL NOT NULL,
			qty           REAL NOT NULL,
			ts            INTEGER NOT NULL,
			signal_kind   TEXT,
			confidence    INTEGER,
			entry_id      TEXT,
			reason        TEXT,
			pnl           REAL,
			exit_price    REAL,
			hold_time_sec INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_trades_symbol_ts ON trades (symbol, ts);

		CREATE TABLE IF NOT EXISTS positions (
			id              TEXT PRIMARY KEY,
			symbol          TEXT NOT NULL,
			qty             REAL NOT NULL,
			avg_entry_price REAL NOT NULL,
			entry_time      INTEGER NOT NULL,
			target_price    REAL,
			stop_loss_price REAL,
			entry_trade_id  TEXT,
			is_active       INTEGER NOT NULL DEFAULT 1
		);
		CREATE INDEX IF NOT EXISTS idx_positions_symbol ON positions (symbol, is_active);

		CREATE TABLE IF NOT EXISTS market_data (
			symbol         TEXT NOT NULL,
			ts             INTEGER NOT NULL,
			last_price     REAL NOT NULL,
			change_24h     REAL,
			change_pct_24h REAL,
			volume_24h     REAL,
			PRIMARY KEY (symbol, ts)
		);

		CREATE TABLE IF NOT EXISTS technical_analysis (
			symbol TEXT NOT NULL,
			ts     INTEGER NOT NULL,
			data   TEXT NOT NULL,
			PRIMARY KEY (symbol, ts)
		);

		CREATE TABLE IF NOT EXISTS trading_settings (
			id         INTEGER PRIMARY KEY CHECK (id = 1),
			data       TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS watchlist (
			symbol         TEXT PRIMARY KEY,
			name           TEXT,
			last_price     REAL NOT NULL DEFAULT 0,
			change_24h     REAL NOT NULL DEFAULT 0,
			change_pct_24h REAL NOT NULL DEFAULT 0,
			volume_24h     REAL NOT NULL DEFAULT 0,
			last_update    INTEGER NOT NULL DEFAULT 0,
			is_active      INTEGER NOT NULL DEFAULT 1
		);

		CREATE TABLE IF NOT EXISTS performance_metrics (
			ts              INTEGER PRIMARY KEY,
			total_pnl       REAL NOT NULL,
			day_pnl         REAL NOT NULL,
			trading_balance REAL NOT NULL,
			open_positions  INTEGER NOT NULL
		);
	`)
	return err
}

// SaveTrade upserts one ledger entry. Called from the OnTrade hook, so
// BUY rows are later overwritten with their finalized pnl fields.
func (s *Store) SaveTrade(t model.Trade) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO trades
			(id, symbol, side, price, qty, ts, signal_kind, confidence, entry_id, reason, pnl, exit_price, hold_time_sec)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Symbol, string(t.Side), t.Price, t.Qty, t.Time.UnixMilli(),
		t.SignalKind, t.Confidence, t.EntryID, t.Reason,
		nullFloat(t.Pnl), nullFloat(t.ExitPrice), nullInt(t.HoldTimeSec),
	)
	return err
}

// SavePosition upserts a position row; closed positions flip is_active.
func (s *Store) SavePosition(p model.Position, active bool) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO positions
			(id, symbol, qty, avg_entry_price, entry_time, target_price, stop_loss_price, entry_trade_id, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Symbol, p.Qty, p.AvgEntryPrice, p.EntryTime.UnixMilli(),
		p.TargetPrice, p.StopLossPrice, p.EntryTradeID, boolInt(active),
	)
	return err
}

// ClosePosition marks a symbol's rows inactive.
func (s *Store) ClosePosition(symbol string) error {
	_, err := s.db.Exec(`UPDATE positions SET is_active = 0 WHERE symbol = ?`, symbol)
	return err
}

// ActivePositions restores open positions from the last session.
func (s *Store) ActivePositions() ([]model.Position, error) {
	rows, err := s.db.Query(`
		SELECT id, symbol, qty, avg_entry_price, entry_time, target_price, stop_loss_price, entry_trade_id
		FROM positions WHERE is_active = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Position
	for rows.Next() {
		var p model.Position
		var entryMs int64
		if err := rows.Scan(&p.ID, &p.Symbol, &p.Qty, &p.AvgEntryPrice, &entryMs,
			&p.TargetPrice, &p.StopLossPrice, &p.EntryTradeID); err != nil {
			return nil, err
		}
		p.EntryTime = time.UnixMilli(entryMs).UTC()
		p.CurrentValue = p.Cost()
		out = append(out, p)
	}
	return out, rows.Err()
}

// RecentTrades returns up to limit trades newest first, optionally
// filtered by symbol.
func (s *Store) RecentTrades(symbol string, limit int) ([]model.Trade, error) {
	q := `SELECT id, symbol, side, price, qty, ts, signal_kind, confidence, entry_id, reason, pnl, exit_price, hold_time_sec
		FROM trades`
	args := []any{}
	if symbol != "" {
		q += ` WHERE symbol = ?`
		args = append(args, symbol)
	}
	q += ` ORDER BY ts DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Trade
	for rows.Next() {
		var t model.Trade
		var side string
		var ms int64
		var pnl, exitPrice sql.NullFloat64
		var hold sql.NullInt64
		if err := rows.Scan(&t.ID, &t.Symbol, &side, &t.Price, &t.Qty, &ms,
			&t.SignalKind, &t.Confidence, &t.EntryID, &t.Reason, &pnl, &exitPrice, &hold); err != nil {
			return nil, err
		}
		t.Side = model.TradeSide(side)
		t.Time = time.UnixMilli(ms).UTC()
		if pnl.Valid {
			v := pnl.Float64
			t.Pnl = &v
		}
		if exitPrice.Valid {
			v := exitPrice.Float64
			t.ExitPrice = &v
		}
		if hold.Valid {
			v := hold.Int64
			t.HoldTimeSec = &v
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SaveSettings stores the settings as a single JSON row.
func (s *Store) SaveSettings(set model.TradingSettings) error {
	data, err := json.Marshal(set)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO trading_settings (id, data, updated_at) VALUES (1, ?, ?)`,
		string(data), time.Now().UnixMilli())
	return err
}

// LoadSettings returns the persisted settings, or ok=false when none.
func (s *Store) LoadSettings() (model.TradingSettings, bool, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM trading_settings WHERE id = 1`).Scan(&data)
	if err == sql.ErrNoRows {
		return model.TradingSettings{}, false, nil
	}
	if err != nil {
		return model.TradingSettings{}, false, err
	}
	var set model.TradingSettings
	if err := json.Unmarshal([]byte(data), &set); err != nil {
		return model.TradingSettings{}, false, err
	}
	return set, true, nil
}

// SaveWatchlist replaces the persisted watchlist.
func (s *Store) SaveWatchlist(items []model.WatchlistItem) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM watchlist`); err != nil {
		tx.Rollback()
		return err
	}
	for _, w := range items {
		if _, err := tx.Exec(`
			INSERT INTO watchlist
				(symbol, name, last_price, change_24h, change_pct_24h, volume_24h, last_update, is_active)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			w.Symbol, w.Name, w.LastPrice, w.Change24h, w.ChangePct24h, w.Volume24h,
			w.LastUpdate.UnixMilli(), boolInt(w.IsActive)); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// LoadWatchlist restores the persisted watchlist.
func (s *Store) LoadWatchlist() ([]model.WatchlistItem, error) {
	rows, err := s.db.Query(`
		SELECT symbol, name, last_price, change_24h, change_pct_24h, volume_24h, last_update, is_active
		FROM watchlist`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.WatchlistItem
	for rows.Next() {
		var w model.WatchlistItem
		var lastUpdate int64
		var active int
		if err := rows.Scan(&w.Symbol, &w.Name, &w.LastPrice, &w.Change24h, &w.ChangePct24h,
			&w.Volume24h, &lastUpdate, &active); err != nil {
			return nil, err
		}
		if lastUpdate > 0 {
			w.LastUpdate = time.UnixMilli(lastUpdate).UTC()
		}
		w.IsActive = active != 0
		out = append(out, w)
	}
	return out, rows.Err()
}

// SaveAnalysis stores an indicator snapshot as JSON.
func (s *Store) SaveAnalysis(symbol string, snap indicator.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO technical_analysis (symbol, ts, data) VALUES (?, ?, ?)`,
		symbol, snap.ComputedAt.UnixMilli(), string(data))
	return err
}

// SavePerformance appends a performance sample.
func (s *Store) SavePerformance(st model.TradingState) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO performance_metrics (ts, total_pnl, day_pnl, trading_balance, open_positions)
		VALUES (?, ?, ?, ?, ?)`,
		time.Now().UnixMilli(), st.TotalPnl, st.DayPnl, st.TradingBalance, len(st.Positions))
	return err
}

// RunMarketData drains price updates into batched transactions. Flushes
// every batchSize rows or flushDelay, whichever comes first. Blocks
// until ctx is cancelled or the channel is closed.
func (s *Store) RunMarketData(ctx context.Context, ch <-chan model.PriceData) {
	batch := make([]model.PriceData, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := s.insertMarketData(batch); err != nil {
			log.Printf("[sqlite] market data batch error: %v", err)
		} else {
			log.Printf("[sqlite] committed %d market data rows in %v", len(batch), time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case pd, ok := <-ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, pd)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}
		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

func (s *Store) insertMarketData(rows []model.PriceData) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO market_data (symbol, ts, last_price, change_24h, change_pct_24h, volume_24h)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, pd := range rows {
		if _, err := stmt.Exec(pd.Symbol, pd.UpdatedAt.UnixMilli(), pd.LastPrice,
			pd.Change24h, pd.ChangePct24h, pd.Volume24h); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullFloat(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullInt(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}
