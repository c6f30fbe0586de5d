package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"wfengine/internal/domain"
)

// Compile-time interface check.
var _ Store = (*ParquetStore)(nil)

// ParquetStore implements Store using Parquet files on disk.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// CandleRecord is the Parquet schema for daily candles.
type CandleRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    float64 `parquet:"volume"`
}

// WriteCandles writes candles to Parquet files organized by symbol and year,
// merging with what is already on disk. Each symbol+year combination
// produces a separate file at:
//
//	<DataDir>/<source>/daily/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) WriteCandles(_ context.Context, source string, candles []domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	type key struct {
		symbol string
		year   int
	}
	groups := make(map[key][]CandleRecord)
	for _, c := range candles {
		k := key{symbol: strings.ToUpper(c.Symbol), year: c.Time.UTC().Year()}
		groups[k] = append(groups[k], CandleRecord{
			Symbol:    k.symbol,
			Timestamp: c.Time.UnixMilli(),
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
		})
	}

	for k, records := range groups {
		path := s.candlePath(k.symbol, source, k.year)

		existing, err := readParquetFile[CandleRecord](path)
		if err != nil {
			return fmt.Errorf("reading existing candles for %s/%d: %w", k.symbol, k.year, err)
		}
		merged := mergeCandleRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing candles for %s/%d: %w", k.symbol, k.year, err)
		}
	}
	return nil
}

// Load reads candles for symbol within [start, end]. Missing year files are
// skipped; an unreadable file is a *QueryError.
func (s *ParquetStore) Load(_ context.Context, symbol, source string, start, end time.Time) ([]domain.Candle, error) {
	var candles []domain.Candle
	for year := start.UTC().Year(); year <= end.UTC().Year(); year++ {
		records, err := readParquetFile[CandleRecord](s.candlePath(symbol, source, year))
		if err != nil {
			return nil, &QueryError{Symbol: symbol, Source: source, Err: err}
		}

		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp).UTC()
			if ts.Before(start) || ts.After(end) {
				continue
			}
			candles = append(candles, domain.Candle{
				Symbol: r.Symbol,
				Time:   ts,
				Open:   r.Open,
				High:   r.High,
				Low:    r.Low,
				Close:  r.Close,
				Volume: r.Volume,
			})
		}
	}
	if len(candles) == 0 {
		return nil, noData(symbol, source)
	}
	return candles, nil
}

// ListSymbols lists all symbols that have candle data in source.
func (s *ParquetStore) ListSymbols(_ context.Context, source string) ([]string, error) {
	dir := filepath.Join(s.DataDir, source, "daily")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// candlePath returns the filesystem path for a candle Parquet file.
// Layout: <dataDir>/<source>/daily/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) candlePath(symbol, source string, year int) string {
	return filepath.Join(s.DataDir, source, "daily", strings.ToUpper(symbol), fmt.Sprintf("%d.parquet", year))
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

// readParquetFile returns (nil, nil) when the file does not exist.
func readParquetFile[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeCandleRecords deduplicates records by timestamp, preferring incoming
// records over existing ones, and sorts by timestamp.
func mergeCandleRecords(existing, incoming []CandleRecord) []CandleRecord {
	seen := make(map[int64]CandleRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Timestamp] = r
	}
	for _, r := range incoming {
		seen[r.Timestamp] = r
	}

	merged := make([]CandleRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
