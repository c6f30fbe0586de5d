package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"wfengine/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

const candleSchema = `
CREATE TABLE IF NOT EXISTS candles (
	source TEXT    NOT NULL,
	symbol TEXT    NOT NULL,
	ts     INTEGER NOT NULL,
	open   REAL    NOT NULL,
	high   REAL    NOT NULL,
	low    REAL    NOT NULL,
	close  REAL    NOT NULL,
	volume REAL    NOT NULL,
	PRIMARY KEY (source, symbol, ts)
)`

// SQLiteStore implements Store backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates the
// candles table if needed and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(candleSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", dbPath, err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// WriteCandles upserts candles in a single transaction.
func (s *SQLiteStore) WriteCandles(ctx context.Context, source string, candles []domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO candles
		(source, symbol, ts, open, high, low, close, volume) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, source, strings.ToUpper(c.Symbol), c.Time.UnixMilli(),
			c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			return fmt.Errorf("inserting %s %s: %w", c.Symbol, c.Time.Format(time.DateOnly), err)
		}
	}
	return tx.Commit()
}

// Load returns candles for symbol within [start, end] ordered by time.
func (s *SQLiteStore) Load(ctx context.Context, symbol, source string, start, end time.Time) ([]domain.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT symbol, ts, open, high, low, close, volume
		FROM candles WHERE source = ? AND symbol = ? AND ts BETWEEN ? AND ?
		ORDER BY ts`, source, strings.ToUpper(symbol), start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, &QueryError{Symbol: symbol, Source: source, Err: err}
	}
	defer rows.Close()

	var candles []domain.Candle
	for rows.Next() {
		var (
			c  domain.Candle
			ts int64
		)
		if err := rows.Scan(&c.Symbol, &ts, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, &QueryError{Symbol: symbol, Source: source, Err: err}
		}
		c.Time = time.UnixMilli(ts).UTC()
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, &QueryError{Symbol: symbol, Source: source, Err: err}
	}
	if len(candles) == 0 {
		return nil, noData(symbol, source)
	}
	return candles, nil
}

// ListSymbols returns the distinct symbols stored for source.
func (s *SQLiteStore) ListSymbols(ctx context.Context, source string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT symbol FROM candles WHERE source = ? ORDER BY symbol`, source)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		symbols = append(symbols, sym)
	}
	return symbols, rows.Err()
}
