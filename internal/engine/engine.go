// Package engine runs a single-symbol, bar-by-bar backtest: it feeds the
// causal history to a strategy and executes its signals against a
// simulated broker.
package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"wfengine/internal/broker"
	"wfengine/internal/domain"
	"wfengine/internal/metrics"
	"wfengine/internal/slippage"
	"wfengine/internal/strategy"
)

// Sizing selects how BUY quantities are computed when a signal does not
// carry one.
type Sizing string

const (
	// SizingFraction invests CapitalFraction of cash at the close.
	SizingFraction Sizing = "fraction"
	// SizingRisk sizes from the signal's stop via RiskManager and falls back
	// to SizingFraction when the signal has no stop.
	SizingRisk Sizing = "risk"
)

// ParseSizing validates a sizing name from configuration. Empty means
// fraction.
func ParseSizing(s string) (Sizing, error) {
	switch Sizing(strings.ToLower(s)) {
	case "", SizingFraction:
		return SizingFraction, nil
	case SizingRisk:
		return SizingRisk, nil
	default:
		return "", fmt.Errorf("unknown sizing %q", s)
	}
}

// Config holds the simulator parameters shared by every run.
type Config struct {
	InitialCapital  decimal.Decimal
	CommissionRate  decimal.Decimal
	CapitalFraction decimal.Decimal
	Slippage        slippage.Model
	// SpreadPct is the assumed bid/ask spread as a fraction of price.
	SpreadPct float64
	// VolumeLookback is the number of trailing bars averaged for liquidity.
	VolumeLookback int
	Sizing         Sizing
	RiskPct        decimal.Decimal
	Risk           *RiskManager
}

// DefaultConfig returns 100,000 of capital, 10 bps commission, 95% capital
// fraction and the default slippage model.
func DefaultConfig() Config {
	return Config{
		InitialCapital:  decimal.NewFromInt(100000),
		CommissionRate:  decimal.RequireFromString("0.001"),
		CapitalFraction: decimal.RequireFromString("0.95"),
		Slippage:        slippage.DefaultModel(),
		SpreadPct:       0.0005,
		VolumeLookback:  20,
		Sizing:          SizingFraction,
		RiskPct:         decimal.RequireFromString("0.01"),
	}
}

// WithSlippageBps returns a copy of cfg whose slippage model carries a fixed
// override of bps. Zero restores the volume/spread model.
func (cfg Config) WithSlippageBps(bps float64) Config {
	cfg.Slippage = cfg.Slippage.WithFixedBps(bps)
	return cfg
}

// BacktestResult is the outcome of one simulation run.
type BacktestResult struct {
	Symbol       string
	Trades       []domain.Trade
	Equity       []domain.EquityPoint
	Metrics      metrics.Metrics
	Drawdowns    []metrics.DrawdownPoint
	FinalCapital decimal.Decimal
}

// Return is the run's total return.
func (r *BacktestResult) Return() decimal.Decimal { return r.Metrics.TotalReturn }

// Simulator executes strategies over candle series. It holds only
// configuration and is safe for concurrent use.
type Simulator struct {
	cfg Config
}

// NewSimulator creates a Simulator.
func NewSimulator(cfg Config) *Simulator {
	return &Simulator{cfg: cfg}
}

// Config returns the simulator's configuration.
func (s *Simulator) Config() Config { return s.cfg }

// Run simulates strat over candles. Bars before tradeFrom are warm-up
// history only: the strategy sees them but is not consulted and no equity is
// recorded. At bar i the strategy sees exactly candles[:i+1]. Any position
// still open on the final bar is liquidated at its close.
func (s *Simulator) Run(symbol string, candles []domain.Candle, tradeFrom int, strat strategy.Strategy) (*BacktestResult, error) {
	if len(candles) == 0 || tradeFrom >= len(candles) {
		return nil, fmt.Errorf("simulate %s: %w", symbol, domain.ErrNoData)
	}
	if tradeFrom < 0 {
		tradeFrom = 0
	}

	b := broker.NewSimulatorBroker(s.cfg.InitialCapital, s.cfg.CommissionRate)
	st := &strategy.State{}
	res := &BacktestResult{
		Symbol: symbol,
		Equity: make([]domain.EquityPoint, 0, len(candles)-tradeFrom),
	}

	last := len(candles) - 1
	for i := tradeFrom; i <= last; i++ {
		c := candles[i]
		price := decimal.NewFromFloat(c.Close).Round(8)
		b.MarkToMarket(symbol, price)
		pos := b.Position(symbol)

		var sig domain.Signal
		switch {
		case i == last && pos != nil:
			sig = domain.Sell("end of run liquidation")
		case i == last:
			sig = domain.Hold("end of run")
		default:
			sig = strat.Decide(candles[:i+1:i+1], pos, st)
			if sig.Action == domain.ActionBuy && st.EntriesBlocked {
				sig = domain.Hold("entries blocked")
			}
		}

		trade, err := s.execute(b, symbol, candles[:i+1:i+1], price, pos, sig)
		if err != nil {
			return nil, fmt.Errorf("simulate %s at %s: %w", symbol, c.Time.Format(time.DateOnly), err)
		}
		if trade != nil {
			res.Trades = append(res.Trades, *trade)
		}
		res.Equity = append(res.Equity, domain.EquityPoint{Timestamp: c.Time, Equity: b.Account().Equity})
	}

	res.FinalCapital = b.Account().Equity
	res.Metrics = metrics.Calculate(s.cfg.InitialCapital, res.Trades, res.Equity)
	res.Drawdowns = metrics.Drawdowns(res.Equity)
	return res, nil
}

// execute turns a signal into at most one fill. BUY while long and SELL while
// flat are ignored.
func (s *Simulator) execute(b broker.Broker, symbol string, history []domain.Candle, price decimal.Decimal, pos *domain.Position, sig domain.Signal) (*domain.Trade, error) {
	var (
		side domain.Side
		qty  decimal.Decimal
	)
	switch {
	case sig.Action == domain.ActionBuy && pos == nil:
		side = domain.SideBuy
		var err error
		if qty, err = s.buyQty(b.Account(), price, sig); err != nil {
			return nil, err
		}
		if !qty.IsPositive() {
			return nil, nil
		}
	case sig.Action == domain.ActionSell && pos != nil:
		side = domain.SideSell
		qty = pos.Qty
	default:
		return nil, nil
	}

	pct := s.cfg.Slippage.Pct(slippage.Params{
		OrderSize: qty.InexactFloat64(),
		AvgVolume: avgVolume(history, s.cfg.VolumeLookback),
		Spread:    s.cfg.SpreadPct,
	})
	bar := history[len(history)-1]
	trade, err := b.SubmitOrder(&domain.Order{
		Symbol:      symbol,
		Side:        side,
		Qty:         qty,
		RefPrice:    price,
		SlippagePct: pct,
		Timestamp:   bar.Time,
		Reason:      sig.Reason,
	})
	if errors.Is(err, broker.ErrInsufficientCash) {
		return nil, nil
	}
	return trade, err
}

func (s *Simulator) buyQty(acct domain.AccountInfo, price decimal.Decimal, sig domain.Signal) (decimal.Decimal, error) {
	if sig.Quantity.IsPositive() {
		return sig.Quantity, nil
	}
	if s.cfg.Sizing == SizingRisk && sig.StopPrice > 0 {
		return s.cfg.Risk.PositionSize(acct.Equity, s.cfg.RiskPct, price, decimal.NewFromFloat(sig.StopPrice))
	}
	if !price.IsPositive() {
		return decimal.Zero, nil
	}
	return acct.Cash.Mul(s.cfg.CapitalFraction).Div(price).Truncate(8), nil
}

// avgVolume is the mean volume of the last n bars of history.
func avgVolume(history []domain.Candle, n int) float64 {
	if n <= 0 {
		n = 1
	}
	if n > len(history) {
		n = len(history)
	}
	var sum float64
	for _, c := range history[len(history)-n:] {
		sum += c.Volume
	}
	return sum / float64(n)
}
