// Package portfolio combines independent per-symbol walk-forward runs into a
// single multi-asset out-of-sample track record.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"wfengine/internal/domain"
	"wfengine/internal/engine"
	"wfengine/internal/store"
	"wfengine/internal/strategy"
	"wfengine/internal/util"
	"wfengine/internal/walkforward"
)

var (
	// ErrAllSymbolsInsufficient is returned when no requested symbol passes
	// the availability check.
	ErrAllSymbolsInsufficient = errors.New("all symbols insufficient")
	// ErrNoSymbolsRetained is returned when the valid-window guard drops
	// every symbol.
	ErrNoSymbolsRetained = errors.New("no symbols retained")
)

// StressLevels are the fixed slippage overrides, in basis points, used by
// StressCompare.
var StressLevels = []float64{0, 30, 50}

// Weighting selects how active symbols share a window's capital.
type Weighting string

const (
	WeightEqual  Weighting = "equal"
	WeightInvVol Weighting = "inv-vol"
)

// ParseWeighting converts a config string into a Weighting.
func ParseWeighting(s string) (Weighting, error) {
	switch Weighting(strings.ToLower(s)) {
	case "", WeightEqual:
		return WeightEqual, nil
	case WeightInvVol:
		return WeightInvVol, nil
	default:
		return "", fmt.Errorf("unknown weighting %q", s)
	}
}

// Config is the portfolio run configuration.
type Config struct {
	Symbols     []string
	Source      string
	WalkForward walkforward.Config
	// Density is the expected daily bars per calendar day used by the
	// availability check.
	Density float64

	MaxPositions int
	Weighting    Weighting
	// VolLookback is the number of daily returns behind inv-vol weights.
	VolLookback int
	// MaxWeight caps any one symbol's weight; 0 or ≥1 disables the cap.
	MaxWeight float64

	// Drawdown thresholds are fractions of the rolling peak; 0 disables.
	DDReduceThreshold float64
	DDHaltThreshold   float64
	// DDLookback limits the drawdown to the last N+1 equity points; 0 uses
	// the full history.
	DDLookback int

	BenchmarkFilter   bool
	Benchmark         string
	BenchmarkMAPeriod int
	SymbolMAFilter    bool
	SymbolMAPeriod    int

	// MinValidRatio drops symbols whose valid windows, relative to the
	// largest window count of any symbol, fall below it. 0 disables.
	MinValidRatio float64
	MaxWorkers    int
}

// Validate rejects configurations that cannot run.
func (c Config) Validate() error {
	if err := c.WalkForward.Validate(); err != nil {
		return err
	}
	switch {
	case len(c.Symbols) == 0:
		return errors.New("portfolio: no symbols configured")
	case c.MaxPositions <= 0:
		return fmt.Errorf("portfolio: max positions must be positive, got %d", c.MaxPositions)
	case c.Weighting != WeightEqual && c.Weighting != WeightInvVol:
		return fmt.Errorf("portfolio: unknown weighting %q", c.Weighting)
	case c.Weighting == WeightInvVol && c.VolLookback < 2:
		return fmt.Errorf("portfolio: inv-vol lookback must be at least 2, got %d", c.VolLookback)
	case c.MaxWeight < 0:
		return fmt.Errorf("portfolio: max weight must not be negative, got %v", c.MaxWeight)
	case c.DDReduceThreshold < 0 || c.DDHaltThreshold < 0:
		return errors.New("portfolio: drawdown thresholds must not be negative")
	case c.DDLookback < 0:
		return fmt.Errorf("portfolio: drawdown lookback must not be negative, got %d", c.DDLookback)
	case c.BenchmarkFilter && (c.Benchmark == "" || c.BenchmarkMAPeriod <= 0):
		return errors.New("portfolio: benchmark filter needs a benchmark symbol and MA period")
	case c.SymbolMAFilter && c.SymbolMAPeriod <= 0:
		return fmt.Errorf("portfolio: symbol MA period must be positive, got %d", c.SymbolMAPeriod)
	case c.MinValidRatio < 0 || c.MinValidRatio > 1:
		return fmt.Errorf("portfolio: min valid ratio must be within [0, 1], got %v", c.MinValidRatio)
	}
	return nil
}

// Exclusion records a symbol left out of a run and why.
type Exclusion struct {
	Symbol string `json:"symbol"`
	Reason string `json:"reason"`
}

// Result is the output of one portfolio run.
type Result struct {
	Windows       []WindowResult                        `json:"windows"`
	Metrics       AggregatedMetrics                     `json:"metrics"`
	Contributions []SymbolContribution                  `json:"contributions"`
	SymbolWindows map[string][]walkforward.WindowResult `json:"symbol_windows"`
	Excluded      []Exclusion                           `json:"excluded,omitempty"`
	Dropped       []string                              `json:"dropped,omitempty"`
}

// Scenario is one stress-compare run.
type Scenario struct {
	Name        string  `json:"name"`
	SlippageBps float64 `json:"slippage_bps"`
	Result      *Result `json:"result,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// StressReport holds one Scenario per StressLevels entry.
type StressReport struct {
	Scenarios []Scenario `json:"scenarios"`
}

// Aggregator runs the walk-forward portfolio.
type Aggregator struct {
	src      store.CandleSource
	sim      engine.Config
	selector func(symbol string) strategy.Strategy
	cfg      Config
	cal      *util.TradingCalendar
	logger   *slog.Logger
}

// New validates cfg and creates an Aggregator. selector picks the strategy
// for each symbol.
func New(src store.CandleSource, sim engine.Config, selector func(symbol string) strategy.Strategy, cfg Config, logger *slog.Logger) (*Aggregator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if src == nil || selector == nil {
		return nil, errors.New("portfolio: candle source and strategy selector are required")
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 1
	}
	if logger == nil {
		logger = slog.Default().With("component", "portfolio")
	}
	return &Aggregator{
		src:      src,
		sim:      sim,
		selector: selector,
		cfg:      cfg,
		cal:      util.NewTradingCalendar(domain.Market(cfg.Source)).WithDensity(cfg.Density),
		logger:   logger,
	}, nil
}

// Run loads every symbol and produces the portfolio result with the
// configured simulator.
func (a *Aggregator) Run(ctx context.Context) (*Result, error) {
	data, err := a.load(ctx)
	if err != nil {
		return nil, err
	}
	return a.run(ctx, data, a.sim)
}

// StressCompare loads every symbol once and runs the portfolio at each of
// StressLevels. 0 bps uses the volume/spread model with no fixed override.
func (a *Aggregator) StressCompare(ctx context.Context) (*StressReport, error) {
	data, err := a.load(ctx)
	if err != nil {
		return nil, err
	}

	report := &StressReport{}
	for _, bps := range StressLevels {
		sc := Scenario{Name: fmt.Sprintf("%gbps", bps), SlippageBps: bps}
		res, err := a.run(ctx, data, a.sim.WithSlippageBps(bps))
		switch {
		case errors.Is(err, ErrNoSymbolsRetained):
			a.logger.Warn("stress scenario retained no symbols", "scenario", sc.Name)
			sc.Error = err.Error()
		case err != nil:
			return nil, fmt.Errorf("stress %s: %w", sc.Name, err)
		default:
			sc.Result = res
			a.logger.Info("stress scenario complete",
				"scenario", sc.Name,
				"valid_windows", res.Metrics.TotalValidWindows,
				"consistency_pass", res.Metrics.ConsistencyPass,
			)
		}
		report.Scenarios = append(report.Scenarios, sc)
	}
	return report, nil
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// dataset is the loaded, availability-checked input shared by every run.
type dataset struct {
	symbols   []string // sorted
	candles   map[string][]domain.Candle
	benchmark []domain.Candle // nil when the filter is off or unavailable
	excluded  []Exclusion
}

func (a *Aggregator) load(ctx context.Context) (*dataset, error) {
	wf := a.cfg.WalkForward
	start := wf.Start.AddDate(0, 0, -wf.WarmupDays)
	minBars := a.cal.MinBars(wf.WarmupDays + wf.InSampleDays + wf.OutSampleDays)

	symbols := lo.Uniq(lo.Map(a.cfg.Symbols, func(s string, _ int) string { return strings.ToUpper(s) }))
	sort.Strings(symbols)

	a.logger.Info("loading candles",
		"symbols", len(symbols),
		"source", a.cfg.Source,
		"start", start.Format("2006-01-02"),
		"end", wf.End.Format("2006-01-02"),
		"min_bars", minBars,
	)

	type loaded struct {
		candles []domain.Candle
		reason  string
	}
	results := make([]loaded, len(symbols))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.MaxWorkers)
	for i, sym := range symbols {
		g.Go(func() error {
			candles, err := a.src.Load(gctx, sym, a.cfg.Source, start, wf.End)
			switch {
			case err != nil && gctx.Err() != nil:
				return gctx.Err()
			case err != nil:
				results[i].reason = fmt.Sprintf("load: %v", err)
			case len(candles) < minBars:
				results[i].reason = fmt.Sprintf("insufficient data: %d candles, need %d", len(candles), minBars)
			default:
				results[i].candles = candles
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	data := &dataset{candles: make(map[string][]domain.Candle, len(symbols))}
	for i, sym := range symbols {
		if results[i].reason != "" {
			a.logger.Warn("symbol excluded", "symbol", sym, "reason", results[i].reason)
			data.excluded = append(data.excluded, Exclusion{Symbol: sym, Reason: results[i].reason})
			continue
		}
		data.symbols = append(data.symbols, sym)
		data.candles[sym] = results[i].candles
	}
	if len(data.symbols) == 0 {
		return nil, fmt.Errorf("%w: %d requested, none with at least %d candles",
			ErrAllSymbolsInsufficient, len(symbols), minBars)
	}

	if a.cfg.BenchmarkFilter {
		bench, err := a.src.Load(ctx, a.cfg.Benchmark, a.cfg.Source, start, wf.End)
		if err != nil {
			a.logger.Warn("benchmark unavailable, filter disabled", "benchmark", a.cfg.Benchmark, "error", err)
		} else {
			data.benchmark = bench
		}
	}
	return data, nil
}

// ---------------------------------------------------------------------------
// Running
// ---------------------------------------------------------------------------

func (a *Aggregator) run(ctx context.Context, data *dataset, simCfg engine.Config) (*Result, error) {
	runner, err := walkforward.NewRunner(engine.NewSimulator(simCfg), a.cfg.WalkForward, a.logger)
	if err != nil {
		return nil, err
	}

	type outcome struct {
		windows []walkforward.WindowResult
		err     error
	}
	outcomes := make([]outcome, len(data.symbols))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.MaxWorkers)
	for i, sym := range data.symbols {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			windows, err := runner.Run(sym, data.candles[sym], a.selector(sym))
			outcomes[i] = outcome{windows: windows, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{
		SymbolWindows: make(map[string][]walkforward.WindowResult, len(data.symbols)),
		Excluded:      append([]Exclusion(nil), data.excluded...),
	}
	var ran []string
	for i, sym := range data.symbols {
		if outcomes[i].err != nil {
			a.logger.Warn("symbol excluded", "symbol", sym, "error", outcomes[i].err)
			res.Excluded = append(res.Excluded, Exclusion{Symbol: sym, Reason: outcomes[i].err.Error()})
			continue
		}
		res.SymbolWindows[sym] = outcomes[i].windows
		ran = append(ran, sym)
		a.logger.Info("symbol walk-forward complete", "symbol", sym, "windows", len(outcomes[i].windows))
	}

	retained, dropped := a.applyValidRatioGuard(ran, res.SymbolWindows)
	res.Dropped = dropped
	if len(retained) == 0 {
		return nil, fmt.Errorf("%w: %d symbols dropped by the valid-window guard", ErrNoSymbolsRetained, len(dropped))
	}

	res.Windows = a.combine(retained, res.SymbolWindows, data)
	res.Metrics = aggregate(res.Windows)
	res.Contributions = contributions(res.Windows)

	a.logger.Info("portfolio run complete",
		"symbols", len(retained),
		"windows", len(res.Windows),
		"valid_windows", res.Metrics.TotalValidWindows,
		"median_return", res.Metrics.MedianOOSReturn.String(),
		"consistency_pass", res.Metrics.ConsistencyPass,
	)
	return res, nil
}

// applyValidRatioGuard splits symbols into retained and dropped by their
// share of non-insufficient windows relative to the largest window count.
func (a *Aggregator) applyValidRatioGuard(symbols []string, windows map[string][]walkforward.WindowResult) (retained, dropped []string) {
	if a.cfg.MinValidRatio <= 0 {
		return symbols, nil
	}
	maxWindows := 0
	for _, sym := range symbols {
		maxWindows = max(maxWindows, len(windows[sym]))
	}
	for _, sym := range symbols {
		valid := lo.CountBy(windows[sym], func(w walkforward.WindowResult) bool {
			return w.Status == walkforward.StatusValid
		})
		ratio := 0.0
		if maxWindows > 0 {
			ratio = float64(valid) / float64(maxWindows)
		}
		if ratio < a.cfg.MinValidRatio {
			a.logger.Warn("symbol dropped by valid-window guard",
				"symbol", sym, "valid", valid, "max_windows", maxWindows, "ratio", ratio)
			dropped = append(dropped, sym)
			continue
		}
		retained = append(retained, sym)
	}
	return retained, dropped
}
