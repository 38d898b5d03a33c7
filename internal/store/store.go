// Package store persists closed trades to one SQLite database per
// trading day, keeping files bounded and queryable without a global
// index across the whole run.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/oddte/backtest-core/internal/backtest"
	"github.com/oddte/backtest-core/internal/logger"
)

// ErrWrite marks a durable write that failed even after its one retry.
// The trade stays in the caller's in-memory ledger, which remains
// authoritative for run-level aggregation.
var ErrWrite = errors.New("trade log write failed")

const schema = `
CREATE TABLE IF NOT EXISTS trade_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp INTEGER NOT NULL,
	symbol TEXT NOT NULL,
	expiry TEXT NOT NULL,
	"right" TEXT NOT NULL,
	strike REAL NOT NULL,
	spread_type TEXT NOT NULL,
	max_loss REAL NOT NULL,
	exit_pnl REAL NOT NULL,
	exit_reason TEXT NOT NULL,
	market_regime TEXT NOT NULL,
	json_data TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trade_logs_timestamp ON trade_logs(timestamp);
CREATE INDEX IF NOT EXISTS idx_trade_logs_symbol ON trade_logs(symbol);
CREATE INDEX IF NOT EXISTS idx_trade_logs_exit_pnl ON trade_logs(exit_pnl);
CREATE INDEX IF NOT EXISTS idx_trade_logs_market_regime ON trade_logs(market_regime);
`

// Store owns one *sql.DB per trading day, opened lazily and kept for the
// run's lifetime.
type Store struct {
	baseDir string

	mu   sync.Mutex
	days map[string]*sql.DB
}

// NewStore creates a store rooted at baseDir, which must already exist.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir, days: make(map[string]*sql.DB)}
}

func dayKey(ts time.Time) string {
	return ts.UTC().Format("2006-01-02")
}

func (s *Store) dbFor(ts time.Time) (*sql.DB, error) {
	key := dayKey(ts)

	s.mu.Lock()
	defer s.mu.Unlock()

	if db, ok := s.days[key]; ok {
		return db, nil
	}

	path := filepath.Join(s.baseDir, fmt.Sprintf("trades_%s.db", key))
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate %s: %w", path, err)
	}
	s.days[key] = db
	return db, nil
}

// Append durably writes a closed trade to its day's partition. A single
// write failure is retried once synchronously before being surfaced; the
// caller still has the in-memory TradeResult regardless of whether the
// durable write lands.
func (s *Store) Append(t backtest.TradeResult) error {
	db, err := s.dbFor(t.ExitTimestamp)
	if err != nil {
		return err
	}

	err = s.insert(db, t)
	if err != nil {
		logger.Debugf("store: write failed, retrying once: %v", err)
		err = s.insert(db, t)
	}
	if err != nil {
		logger.Warnf("store: write failed after retry, trade %s kept in-memory only: %v", t.CorrelationID, err)
		return fmt.Errorf("store: %w after retry: %v", ErrWrite, err)
	}
	return nil
}

func (s *Store) insert(db *sql.DB, t backtest.TradeResult) error {
	blob, err := json.Marshal(t)
	if err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO trade_logs (timestamp, symbol, expiry, "right", strike, spread_type, max_loss, exit_pnl, exit_reason, market_regime, json_data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ExitTimestamp.UnixMilli(), t.Symbol, t.Expiry.Format("2006-01-02"), string(t.Right), t.Strike,
		t.SpreadType, t.MaxLoss, t.ExitPnl, t.ExitReason, t.MarketRegime, string(blob), time.Now().UnixMilli(),
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// TradeRow is one persisted trade_logs record.
type TradeRow struct {
	ID           int64
	Timestamp    time.Time
	Symbol       string
	Expiry       string
	Right        string
	Strike       float64
	SpreadType   string
	MaxLoss      float64
	ExitPnl      float64
	ExitReason   string
	MarketRegime string
}

func scanRows(rows *sql.Rows) ([]TradeRow, error) {
	defer rows.Close()
	var out []TradeRow
	for rows.Next() {
		var r TradeRow
		var tsMillis int64
		if err := rows.Scan(&r.ID, &tsMillis, &r.Symbol, &r.Expiry, &r.Right, &r.Strike, &r.SpreadType, &r.MaxLoss, &r.ExitPnl, &r.ExitReason, &r.MarketRegime); err != nil {
			return nil, err
		}
		r.Timestamp = time.UnixMilli(tsMillis).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// TradesForDay returns every trade closed on day, ordered by timestamp
// ascending.
func (s *Store) TradesForDay(day time.Time) ([]TradeRow, error) {
	db, err := s.dbFor(day)
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(`SELECT id, timestamp, symbol, expiry, "right", strike, spread_type, max_loss, exit_pnl, exit_reason, market_regime FROM trade_logs ORDER BY timestamp ASC`)
	if err != nil {
		return nil, err
	}
	return scanRows(rows)
}

// LosingTradesForDay returns trades with exit_pnl <= minLoss (default
// -1 when the caller passes 0), ordered by pnl ascending.
func (s *Store) LosingTradesForDay(day time.Time, minLoss float64) ([]TradeRow, error) {
	if minLoss == 0 {
		minLoss = -1
	}
	db, err := s.dbFor(day)
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(`SELECT id, timestamp, symbol, expiry, "right", strike, spread_type, max_loss, exit_pnl, exit_reason, market_regime FROM trade_logs WHERE exit_pnl <= ? ORDER BY exit_pnl ASC`, minLoss)
	if err != nil {
		return nil, err
	}
	return scanRows(rows)
}

// DailySummary is the per-day aggregate over a day's closed trades.
type DailySummary struct {
	Total             int
	Winning           int
	WinRate           float64
	TotalPnl          float64
	AvgPnl            float64
	Worst             float64
	Best              float64
	TotalRiskDeployed float64
}

// Summary computes the daily summary as a pure fold over TradesForDay's
// result, re-computable from the same trade set.
func (s *Store) Summary(day time.Time) (DailySummary, error) {
	trades, err := s.TradesForDay(day)
	if err != nil {
		return DailySummary{}, err
	}
	if len(trades) == 0 {
		return DailySummary{}, nil
	}

	sum := DailySummary{Total: len(trades), Worst: trades[0].ExitPnl, Best: trades[0].ExitPnl}
	for _, t := range trades {
		sum.TotalPnl += t.ExitPnl
		sum.TotalRiskDeployed += t.MaxLoss
		if t.ExitPnl > 0 {
			sum.Winning++
		}
		if t.ExitPnl < sum.Worst {
			sum.Worst = t.ExitPnl
		}
		if t.ExitPnl > sum.Best {
			sum.Best = t.ExitPnl
		}
	}
	sum.WinRate = float64(sum.Winning) / float64(sum.Total)
	sum.AvgPnl = sum.TotalPnl / float64(sum.Total)
	return sum, nil
}

// Close releases every open per-day handle. Call once at run end.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, db := range s.days {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.days = make(map[string]*sql.DB)
	return firstErr
}

// EnsureBaseDir creates baseDir if it doesn't already exist.
func EnsureBaseDir(baseDir string) error {
	return os.MkdirAll(baseDir, 0o755)
}
