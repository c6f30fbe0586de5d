package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"wfengine/internal/config"
	"wfengine/internal/engine"
	"wfengine/internal/portfolio"
	"wfengine/internal/regime"
	"wfengine/internal/slippage"
	"wfengine/internal/store"
	"wfengine/internal/strategy"
	"wfengine/internal/strategy/builtins"
	"wfengine/internal/walkforward"
)

const loadRetryDelay = 500 * time.Millisecond

// engineConfig converts the execution section into simulator settings. A
// positive slippageBps becomes a fixed override.
func engineConfig(ex config.Execution, slippageBps float64) (engine.Config, error) {
	kind, err := slippage.ParseKind(ex.Slippage.Model)
	if err != nil {
		return engine.Config{}, err
	}
	sizing, err := engine.ParseSizing(ex.Sizing)
	if err != nil {
		return engine.Config{}, err
	}

	cfg := engine.Config{
		InitialCapital:  decimal.NewFromFloat(ex.InitialCapital),
		CommissionRate:  decimal.NewFromFloat(ex.CommissionRate),
		CapitalFraction: decimal.NewFromFloat(ex.CapitalFraction),
		Slippage: slippage.Model{
			Kind:             kind,
			BaseBps:          ex.Slippage.BaseBps,
			ImpactCoef:       ex.Slippage.ImpactCoef,
			StressMultiplier: ex.Slippage.StressMultiplier,
			MaxPct:           ex.Slippage.MaxPct,
		},
		SpreadPct:      ex.SpreadPct,
		VolumeLookback: ex.VolumeLookback,
		Sizing:         sizing,
		RiskPct:        decimal.NewFromFloat(ex.RiskPct),
	}
	if !cfg.InitialCapital.IsPositive() {
		return engine.Config{}, fmt.Errorf("execution.initial_capital must be positive, got %v", ex.InitialCapital)
	}
	if ex.MaxPositionPct > 0 {
		cfg.Risk = engine.NewRiskManager(decimal.NewFromFloat(ex.MaxPositionPct))
	}
	if slippageBps > 0 {
		cfg = cfg.WithSlippageBps(slippageBps)
	}
	return cfg, nil
}

// newRegistry registers every built-in strategy with its configured
// parameters.
func newRegistry(sc config.StrategyConfig) *strategy.Registry {
	trend := builtins.EnhancedMA{
		Short:         sc.EnhancedMA.Short,
		Long:          sc.EnhancedMA.Long,
		ATRPeriod:     sc.EnhancedMA.ATRPeriod,
		StopMult:      sc.EnhancedMA.StopMult,
		SlopeLookback: sc.EnhancedMA.SlopeLookback,
		UseMA200:      sc.EnhancedMA.UseMA200,
		UseADX:        sc.EnhancedMA.UseADX,
		ADXPeriod:     sc.EnhancedMA.ADXPeriod,
		ADXMin:        sc.EnhancedMA.ADXMin,
	}
	squeeze := builtins.BBSqueeze{
		BBPeriod:  sc.BBSqueeze.BBPeriod,
		BBStdDev:  sc.BBSqueeze.BBStdDev,
		KCPeriod:  sc.BBSqueeze.KCPeriod,
		KCMult:    sc.BBSqueeze.KCMult,
		ATRPeriod: sc.BBSqueeze.ATRPeriod,
		StopMult:  sc.BBSqueeze.StopMult,
	}

	reg := strategy.NewRegistry()
	reg.Register(builtins.NewSimpleMA(sc.SimpleMA.Short, sc.SimpleMA.Long))
	reg.Register(trend)
	reg.Register(squeeze)
	reg.Register(builtins.RegimeAdaptive{
		Detector: regime.Detector{
			ShortPeriod: sc.Regime.ShortPeriod,
			LongPeriod:  sc.Regime.LongPeriod,
			ADXPeriod:   sc.Regime.ADXPeriod,
			WeakADX:     sc.Regime.WeakADX,
			TrendADX:    sc.Regime.TrendADX,
		},
		Trend: trend,
		Range: squeeze,
	})
	return reg
}

// portfolioConfig converts the backtest section for the given symbols.
func portfolioConfig(bt config.Backtest, symbols []string) (portfolio.Config, error) {
	start, end, err := bt.Dates()
	if err != nil {
		return portfolio.Config{}, err
	}
	weighting, err := portfolio.ParseWeighting(bt.Weighting)
	if err != nil {
		return portfolio.Config{}, err
	}
	return portfolio.Config{
		Symbols: symbols,
		Source:  bt.Source,
		WalkForward: walkforward.Config{
			Start:         start,
			End:           end,
			InSampleDays:  bt.InSampleDays,
			OutSampleDays: bt.OutSampleDays,
			StepDays:      bt.StepDays,
			WarmupDays:    bt.WarmupDays,
			MinOOSTrades:  bt.MinOOSTrades,
		},
		Density:           bt.Density,
		MaxPositions:      bt.MaxPositions,
		Weighting:         weighting,
		VolLookback:       bt.VolLookbackDays,
		MaxWeight:         bt.MaxWeight,
		DDReduceThreshold: bt.DDReduceThreshold,
		DDHaltThreshold:   bt.DDHaltThreshold,
		DDLookback:        bt.DDLookback,
		BenchmarkFilter:   bt.BenchmarkFilter,
		Benchmark:         bt.Benchmark,
		BenchmarkMAPeriod: bt.BenchmarkMAPeriod,
		SymbolMAFilter:    bt.SymbolMAFilter,
		SymbolMAPeriod:    bt.SymbolMAPeriod,
		MinValidRatio:     bt.MinValidRatio,
		MaxWorkers:        bt.MaxWorkers,
	}, nil
}

// newAggregator wires configuration, strategies and the candle source into
// a portfolio.Aggregator. Loads are retried on transport errors.
func newAggregator(cfg *config.Config, src store.CandleSource, symbols []string, logger *slog.Logger) (*portfolio.Aggregator, error) {
	simCfg, err := engineConfig(cfg.Execution, cfg.Backtest.SlippageBps)
	if err != nil {
		return nil, fmt.Errorf("execution config: %w", err)
	}
	overrides, err := cfg.Strategy.Overrides()
	if err != nil {
		return nil, err
	}
	selector, err := newRegistry(cfg.Strategy).Selector(cfg.Strategy.Default, overrides)
	if err != nil {
		return nil, fmt.Errorf("strategy config: %w", err)
	}
	pcfg, err := portfolioConfig(cfg.Backtest, symbols)
	if err != nil {
		return nil, fmt.Errorf("backtest config: %w", err)
	}

	if cfg.Backtest.LoadRetries > 1 {
		src = store.NewRetryingSource(src, cfg.Backtest.LoadRetries, loadRetryDelay)
	}
	return portfolio.New(src, simCfg, selector, pcfg, logger.With("component", "portfolio"))
}
