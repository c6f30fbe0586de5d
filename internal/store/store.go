// Package store defines the candle storage interfaces and their Parquet,
// SQLite and in-memory implementations.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wfengine/internal/domain"
	"wfengine/internal/util"
)

// CandleSource loads ordered daily candles. source names the market or
// feed partition (e.g. "us", "crypto").
type CandleSource interface {
	// Load returns candles for symbol within [start, end], ascending by time.
	// It fails with domain.ErrNoData when nothing is stored for the range and
	// with *QueryError when the backend itself fails.
	Load(ctx context.Context, symbol, source string, start, end time.Time) ([]domain.Candle, error)
}

// CandleWriter persists candles, replacing any existing candle with the same
// (source, symbol, time).
type CandleWriter interface {
	WriteCandles(ctx context.Context, source string, candles []domain.Candle) error
}

// Store is a readable and writable candle store.
type Store interface {
	CandleSource
	CandleWriter

	// ListSymbols returns all distinct symbols available in source.
	ListSymbols(ctx context.Context, source string) ([]string, error)
}

// Open returns the Store for backend: "parquet" (rooted at dataDir) or
// "sqlite" (at sqlitePath). Stores that hold resources implement io.Closer.
func Open(backend, dataDir, sqlitePath string) (Store, error) {
	switch backend {
	case "", "parquet":
		return NewParquetStore(dataDir), nil
	case "sqlite":
		s, err := NewSQLiteStore(sqlitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

// QueryError reports a storage or transport failure, as opposed to an empty
// result. Callers may retry it.
type QueryError struct {
	Symbol string
	Source string
	Err    error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query %s/%s: %v", e.Source, e.Symbol, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

func noData(symbol, source string) error {
	return fmt.Errorf("%s/%s: %w", source, symbol, domain.ErrNoData)
}

// Compile-time interface check.
var _ CandleSource = (*RetryingSource)(nil)

// RetryingSource retries *QueryError failures of the wrapped source with
// exponential backoff. domain.ErrNoData and other errors are returned at
// once.
type RetryingSource struct {
	Source    CandleSource
	Attempts  int
	BaseDelay time.Duration
}

// NewRetryingSource wraps src.
func NewRetryingSource(src CandleSource, attempts int, baseDelay time.Duration) *RetryingSource {
	if attempts < 1 {
		attempts = 1
	}
	return &RetryingSource{Source: src, Attempts: attempts, BaseDelay: baseDelay}
}

// Load implements CandleSource.
func (r *RetryingSource) Load(ctx context.Context, symbol, source string, start, end time.Time) ([]domain.Candle, error) {
	var out []domain.Candle
	err := util.Retry(ctx, r.Attempts, r.BaseDelay, IsQueryError, func() error {
		candles, err := r.Source.Load(ctx, symbol, source, start, end)
		if err != nil {
			return err
		}
		out = candles
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// IsQueryError reports whether err carries a *QueryError, i.e. the backend
// failed rather than having no data.
func IsQueryError(err error) bool {
	var qe *QueryError
	return errors.As(err, &qe)
}
