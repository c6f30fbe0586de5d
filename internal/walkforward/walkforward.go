// Package walkforward slices a date range into rolling in-sample /
// out-of-sample window pairs and simulates a strategy on each.
package walkforward

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"wfengine/internal/domain"
	"wfengine/internal/engine"
	"wfengine/internal/strategy"
)

// ErrInvalidConfig is returned by Validate for unusable window settings.
var ErrInvalidConfig = errors.New("invalid walk-forward config")

// Config describes the walk-forward schedule. All lengths are calendar days.
type Config struct {
	Start         time.Time
	End           time.Time
	InSampleDays  int
	OutSampleDays int
	StepDays      int
	WarmupDays    int
	MinOOSTrades  int
}

// Validate rejects schedules that cannot produce a window.
func (c Config) Validate() error {
	switch {
	case c.InSampleDays <= 0:
		return fmt.Errorf("%w: in-sample days must be positive, got %d", ErrInvalidConfig, c.InSampleDays)
	case c.OutSampleDays <= 0:
		return fmt.Errorf("%w: out-of-sample days must be positive, got %d", ErrInvalidConfig, c.OutSampleDays)
	case c.StepDays <= 0:
		return fmt.Errorf("%w: step days must be positive, got %d", ErrInvalidConfig, c.StepDays)
	case c.WarmupDays < 0:
		return fmt.Errorf("%w: warm-up days must not be negative, got %d", ErrInvalidConfig, c.WarmupDays)
	case c.MinOOSTrades < 0:
		return fmt.Errorf("%w: min OOS trades must not be negative, got %d", ErrInvalidConfig, c.MinOOSTrades)
	case !c.End.After(c.Start):
		return fmt.Errorf("%w: end %s is not after start %s", ErrInvalidConfig,
			c.End.Format(time.DateOnly), c.Start.Format(time.DateOnly))
	case c.Start.AddDate(0, 0, c.InSampleDays+c.OutSampleDays).After(c.End):
		return fmt.Errorf("%w: range %s..%s is shorter than one in-sample + out-of-sample window", ErrInvalidConfig,
			c.Start.Format(time.DateOnly), c.End.Format(time.DateOnly))
	}
	return nil
}

// Window is one in-sample / out-of-sample pair. Both ranges are half-open:
// [start, end).
type Window struct {
	InSampleStart  time.Time
	InSampleEnd    time.Time
	OutSampleStart time.Time
	OutSampleEnd   time.Time
}

// GenerateWindows emits IS = [t, t+IS), OOS = [IS.end, IS.end+OOS) for t
// advancing by StepDays from Start while OOS.end does not pass End.
func GenerateWindows(c Config) []Window {
	if c.InSampleDays <= 0 || c.OutSampleDays <= 0 || c.StepDays <= 0 {
		return nil
	}
	var out []Window
	for t := c.Start; ; t = t.AddDate(0, 0, c.StepDays) {
		isEnd := t.AddDate(0, 0, c.InSampleDays)
		oosEnd := isEnd.AddDate(0, 0, c.OutSampleDays)
		if oosEnd.After(c.End) {
			break
		}
		out = append(out, Window{
			InSampleStart:  t,
			InSampleEnd:    isEnd,
			OutSampleStart: isEnd,
			OutSampleEnd:   oosEnd,
		})
	}
	return out
}

// Status classifies a window result.
type Status string

const (
	StatusValid              Status = "valid"
	StatusInsufficientTrades Status = "insufficient_trades"
)

// WindowResult holds both simulations for one window. OutSample is nil when
// the symbol has no candles in the out-of-sample range.
type WindowResult struct {
	// Index is the window's position in GenerateWindows order.
	Index         int
	Window        Window
	InSample      *engine.BacktestResult
	OutSample     *engine.BacktestResult
	OOSTradeCount int
	Status        Status
}

// InSampleReturn returns the in-sample total return.
func (r WindowResult) InSampleReturn() (decimal.Decimal, bool) {
	if r.InSample == nil {
		return decimal.Zero, false
	}
	return r.InSample.Return(), true
}

// OutSampleReturn returns the out-of-sample total return. It is unavailable
// for windows that are not valid.
func (r WindowResult) OutSampleReturn() (decimal.Decimal, bool) {
	if r.OutSample == nil || r.Status != StatusValid {
		return decimal.Zero, false
	}
	return r.OutSample.Return(), true
}

// coverageSlackDays is how far the first candle may trail a window's
// in-sample start while the window still counts as covered: a weekend
// followed by a holiday.
const coverageSlackDays = 3

// Runner drives the simulator across every window for one symbol at a time.
// It is safe for concurrent use by multiple symbols.
type Runner struct {
	sim     *engine.Simulator
	cfg     Config
	windows []Window
	logger  *slog.Logger
}

// NewRunner validates cfg and precomputes the window schedule.
func NewRunner(sim *engine.Simulator, cfg Config, logger *slog.Logger) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default().With("component", "walkforward")
	}
	return &Runner{sim: sim, cfg: cfg, windows: GenerateWindows(cfg), logger: logger}, nil
}

// Windows returns the generated schedule.
func (r *Runner) Windows() []Window { return r.windows }

// Config returns the schedule configuration.
func (r *Runner) Config() Config { return r.cfg }

// Run simulates strat over every window covered by candles. A window is
// covered when the data starts no later than its first trading session
// (the in-sample start plus coverageSlackDays, for weekends and holidays)
// and has at least one in-sample candle. Warm-up history is included when
// available.
func (r *Runner) Run(symbol string, candles []domain.Candle, strat strategy.Strategy) ([]WindowResult, error) {
	if len(candles) == 0 {
		return nil, fmt.Errorf("walk-forward %s: %w", symbol, domain.ErrNoData)
	}

	var results []WindowResult
	for idx, w := range r.windows {
		if candles[0].Time.After(w.InSampleStart.AddDate(0, 0, coverageSlackDays)) {
			continue
		}
		isFrom := lowerBound(candles, w.InSampleStart)
		isTo := lowerBound(candles, w.InSampleEnd)
		if isTo <= isFrom {
			continue
		}

		wr := WindowResult{Index: idx, Window: w, Status: StatusValid}

		warm := lowerBound(candles, w.InSampleStart.AddDate(0, 0, -r.cfg.WarmupDays))
		is, err := r.sim.Run(symbol, candles[warm:isTo:isTo], isFrom-warm, strat)
		if err != nil {
			return nil, fmt.Errorf("window %d in-sample: %w", idx, err)
		}
		wr.InSample = is

		oosFrom := lowerBound(candles, w.OutSampleStart)
		oosTo := lowerBound(candles, w.OutSampleEnd)
		if oosTo > oosFrom {
			warm = lowerBound(candles, w.OutSampleStart.AddDate(0, 0, -r.cfg.WarmupDays))
			oos, err := r.sim.Run(symbol, candles[warm:oosTo:oosTo], oosFrom-warm, strat)
			if err != nil {
				return nil, fmt.Errorf("window %d out-of-sample: %w", idx, err)
			}
			wr.OutSample = oos
			wr.OOSTradeCount = oos.Metrics.ClosedTrades
		}

		if wr.OutSample == nil || wr.OOSTradeCount < r.cfg.MinOOSTrades {
			wr.Status = StatusInsufficientTrades
		}

		r.logger.Debug("window simulated",
			"symbol", symbol,
			"window", idx,
			"oos_start", w.OutSampleStart.Format(time.DateOnly),
			"is_return", is.Return().String(),
			"oos_trades", wr.OOSTradeCount,
			"status", wr.Status,
		)
		results = append(results, wr)
	}
	return results, nil
}

// lowerBound returns the index of the first candle at or after t.
func lowerBound(candles []domain.Candle, t time.Time) int {
	return sort.Search(len(candles), func(i int) bool {
		return !candles[i].Time.Before(t)
	})
}
