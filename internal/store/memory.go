package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"wfengine/internal/domain"
)

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-process Store for embedding and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string][]domain.Candle // source → SYMBOL → candles
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string][]domain.Candle)}
}

// WriteCandles merges candles by time, replacing duplicates.
func (m *MemoryStore) WriteCandles(_ context.Context, source string, candles []domain.Candle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bySymbol, ok := m.data[source]
	if !ok {
		bySymbol = make(map[string][]domain.Candle)
		m.data[source] = bySymbol
	}
	for _, c := range candles {
		sym := strings.ToUpper(c.Symbol)
		series := bySymbol[sym]
		i := sort.Search(len(series), func(i int) bool { return !series[i].Time.Before(c.Time) })
		if i < len(series) && series[i].Time.Equal(c.Time) {
			series[i] = c
			continue
		}
		series = append(series, domain.Candle{})
		copy(series[i+1:], series[i:])
		series[i] = c
		bySymbol[sym] = series
	}
	return nil
}

// Load implements CandleSource. The returned slice is a copy.
func (m *MemoryStore) Load(_ context.Context, symbol, source string, start, end time.Time) ([]domain.Candle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.Candle
	for _, c := range m.data[source][strings.ToUpper(symbol)] {
		if c.Time.Before(start) || c.Time.After(end) {
			continue
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, noData(symbol, source)
	}
	return out, nil
}

// ListSymbols implements Store.
func (m *MemoryStore) ListSymbols(_ context.Context, source string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	symbols := make([]string, 0, len(m.data[source]))
	for sym := range m.data[source] {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols, nil
}
