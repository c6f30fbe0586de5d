// Package strategy defines the Strategy interface for trading strategies and
// provides a Registry for managing multiple strategy implementations.
package strategy

import (
	"errors"
	"fmt"
	"sort"

	"wfengine/internal/domain"
	"wfengine/internal/regime"
)

// ErrUnknownStrategy is returned when a strategy name is not registered.
var ErrUnknownStrategy = errors.New("unknown strategy")

// State is the mutable per-(symbol, run) context threaded through Decide. A
// fresh State is created for every simulation run and is never shared
// between runs.
type State struct {
	// PrevSqueeze records whether the previous bar was in a volatility
	// squeeze.
	PrevSqueeze bool
	// EntryATR is the ATR observed when the open position was entered.
	EntryATR float64
	// StopPrice is the protective stop of the open position; zero when flat.
	StopPrice float64
	// Regime is the most recently classified market regime. Strategies
	// that do not classify leave it at the zero value.
	Regime regime.Regime
	// EntriesBlocked is set by a strategy while new long entries are
	// suppressed; the simulator ignores BUY signals until it is cleared.
	EntriesBlocked bool
}

// ClearStop resets entry bookkeeping after the position is closed.
func (s *State) ClearStop() {
	s.EntryATR = 0
	s.StopPrice = 0
}

// Strategy is the interface that all trading strategies must implement.
// Implementations are immutable configuration; all run state lives in State.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// Decide returns the action for the last candle of history. history is
	// the causal prefix up to and including the current bar; pos is the open
	// position or nil when flat.
	Decide(history []domain.Candle, pos *domain.Position, st *State) domain.Signal
}

// Registry holds a named collection of strategies for lookup and enumeration.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
	}
}

// Register adds a strategy to the registry, keyed by its Name().
func (r *Registry) Register(s Strategy) {
	r.strategies[s.Name()] = s
}

// Get retrieves a strategy by name. The second return value indicates whether
// the strategy was found.
func (r *Registry) Get(name string) (Strategy, bool) {
	s, ok := r.strategies[name]
	return s, ok
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Selector resolves the strategy for each symbol: overrides maps symbol to
// strategy name, everything else gets defaultName. All names are checked up
// front so a typo fails at setup rather than mid-run.
func (r *Registry) Selector(defaultName string, overrides map[string]string) (func(symbol string) Strategy, error) {
	def, ok := r.Get(defaultName)
	if !ok {
		return nil, fmt.Errorf("default strategy %q: %w", defaultName, ErrUnknownStrategy)
	}
	resolved := make(map[string]Strategy, len(overrides))
	for sym, name := range overrides {
		s, ok := r.Get(name)
		if !ok {
			return nil, fmt.Errorf("strategy %q for %s: %w", name, sym, ErrUnknownStrategy)
		}
		resolved[sym] = s
	}
	return func(symbol string) Strategy {
		if s, ok := resolved[symbol]; ok {
			return s
		}
		return def
	}, nil
}
