package portfolio

import (
	"sort"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"wfengine/internal/domain"
	"wfengine/internal/indicators"
	"wfengine/internal/walkforward"
)

// Status is the terminal state of a portfolio window.
type Status string

const (
	StatusValid              Status = "valid"
	StatusInsufficientTrades Status = "insufficient_trades"
	StatusBenchmarkBlocked   Status = "benchmark_blocked"
	StatusDDHalted           Status = "dd_halted"
	StatusDDReduced          Status = "dd_reduced"
)

// Position scalars applied by the drawdown throttle.
var (
	scalarFull    = decimal.NewFromInt(1)
	scalarReduced = decimal.RequireFromString("0.5")
)

// WindowResult is one out-of-sample window of the portfolio.
type WindowResult struct {
	Index  int                `json:"index"`
	Window walkforward.Window `json:"window"`
	// SymbolReturns holds each retained symbol's OOS return, nil when the
	// symbol had no usable return for the window.
	SymbolReturns          map[string]*decimal.Decimal `json:"symbol_returns"`
	Weights                map[string]float64          `json:"weights,omitempty"`
	PortfolioReturn        decimal.Decimal             `json:"portfolio_return"`
	ActiveSymbols          []string                    `json:"active_symbols"`
	BenchmarkFilterApplied bool                        `json:"benchmark_filter_applied"`
	TotalOOSTrades         int                         `json:"total_oos_trades"`
	PositionScalar         decimal.Decimal             `json:"position_scalar"`
	DrawdownAtWindow       float64                     `json:"drawdown_at_window"`
	Status                 Status                      `json:"status"`
}

// candidate is a symbol eligible for selection in one window.
type candidate struct {
	symbol string
	is     decimal.Decimal
	oos    decimal.Decimal
}

// combine walks the reference window set in order and builds the portfolio
// track record. symbols must be sorted.
func (a *Aggregator) combine(symbols []string, symbolWindows map[string][]walkforward.WindowResult, data *dataset) []WindowResult {
	if len(symbols) == 0 {
		return nil
	}
	ref := lo.MaxBy(symbols, func(x, y string) bool {
		return len(symbolWindows[x]) > len(symbolWindows[y])
	})

	byIndex := make(map[string]map[int]walkforward.WindowResult, len(symbols))
	for _, sym := range symbols {
		m := make(map[int]walkforward.WindowResult, len(symbolWindows[sym]))
		for _, wr := range symbolWindows[sym] {
			m[wr.Index] = wr
		}
		byIndex[sym] = m
	}

	dd := newDrawdownTracker(a.cfg.DDLookback)
	out := make([]WindowResult, 0, len(symbolWindows[ref]))
	for _, refWin := range symbolWindows[ref] {
		w := refWin.Window
		pw := WindowResult{
			Index:           refWin.Index,
			Window:          w,
			SymbolReturns:   make(map[string]*decimal.Decimal, len(symbols)),
			PortfolioReturn: decimal.Zero,
			ActiveSymbols:   []string{},
			PositionScalar:  scalarFull,
			Status:          StatusValid,
		}

		var pool []candidate
		for _, sym := range symbols {
			pw.SymbolReturns[sym] = nil
			wr, ok := byIndex[sym][refWin.Index]
			if !ok {
				continue
			}
			pw.TotalOOSTrades += wr.OOSTradeCount
			oos, ok := wr.OutSampleReturn()
			if !ok {
				continue
			}
			if a.cfg.SymbolMAFilter && belowMA(data.candles[sym], w.OutSampleStart, a.cfg.SymbolMAPeriod) {
				a.logger.Debug("symbol filtered below MA", "symbol", sym, "window", refWin.Index)
				continue
			}
			is, _ := wr.InSampleReturn()
			pw.SymbolReturns[sym] = &oos
			pool = append(pool, candidate{symbol: sym, is: is, oos: oos})
		}

		selected := selectCandidates(pool, a.cfg.MaxPositions)
		if data.benchmark != nil && belowMA(data.benchmark, w.OutSampleStart, a.cfg.BenchmarkMAPeriod) {
			pw.BenchmarkFilterApplied = true
			pw.Status = StatusBenchmarkBlocked
			selected = nil
		} else if len(selected) == 0 {
			pw.Status = StatusInsufficientTrades
		}

		if len(selected) > 0 {
			weights := a.weights(selected, data, w.OutSampleStart)
			pw.Weights = make(map[string]float64, len(selected))
			ret := decimal.Zero
			for i, c := range selected {
				pw.Weights[c.symbol] = weights[i]
				pw.ActiveSymbols = append(pw.ActiveSymbols, c.symbol)
				ret = ret.Add(decimal.NewFromFloat(weights[i]).Mul(c.oos))
			}
			pw.PortfolioReturn = ret.Round(12)
		}

		pw.DrawdownAtWindow = dd.Drawdown()
		switch {
		case a.cfg.DDHaltThreshold > 0 && pw.DrawdownAtWindow >= a.cfg.DDHaltThreshold:
			pw.PortfolioReturn = decimal.Zero
			pw.ActiveSymbols = []string{}
			pw.Weights = nil
			pw.PositionScalar = decimal.Zero
			pw.Status = StatusDDHalted
			dd.Hold()
		case a.cfg.DDReduceThreshold > 0 && pw.DrawdownAtWindow >= a.cfg.DDReduceThreshold && pw.Status == StatusValid:
			pw.PortfolioReturn = pw.PortfolioReturn.Mul(scalarReduced).Round(12)
			pw.PositionScalar = scalarReduced
			pw.Status = StatusDDReduced
			dd.Compound(pw.PortfolioReturn)
		default:
			dd.Compound(pw.PortfolioReturn)
		}

		a.logger.Debug("portfolio window",
			"window", pw.Index,
			"oos_start", w.OutSampleStart.Format(time.DateOnly),
			"active", pw.ActiveSymbols,
			"return", pw.PortfolioReturn.String(),
			"drawdown", pw.DrawdownAtWindow,
			"status", pw.Status,
		)
		out = append(out, pw)
	}
	return out
}

// selectCandidates ranks by in-sample return (descending, then symbol) and
// keeps the top n.
func selectCandidates(pool []candidate, n int) []candidate {
	ranked := append([]candidate(nil), pool...)
	sort.Slice(ranked, func(i, j int) bool {
		if c := ranked[i].is.Cmp(ranked[j].is); c != 0 {
			return c > 0
		}
		return ranked[i].symbol < ranked[j].symbol
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// belowMA reports whether the last close strictly before t is under the
// simple moving average of period closes. Too little history is not bearish.
func belowMA(candles []domain.Candle, t time.Time, period int) bool {
	hist := candles[:lowerBound(candles, t)]
	if period <= 0 || len(hist) < period {
		return false
	}
	closes := indicators.Closes(hist)
	ma, ok := indicators.Last(indicators.SMA(closes, period))
	if !ok {
		return false
	}
	return closes[len(closes)-1] < ma
}

func lowerBound(candles []domain.Candle, t time.Time) int {
	return sort.Search(len(candles), func(i int) bool {
		return !candles[i].Time.Before(t)
	})
}

// drawdownTracker keeps the compounded equity multiplier, one point per
// window, starting at 1.
type drawdownTracker struct {
	equity   []decimal.Decimal
	lookback int
}

func newDrawdownTracker(lookback int) *drawdownTracker {
	return &drawdownTracker{equity: []decimal.Decimal{decimal.NewFromInt(1)}, lookback: lookback}
}

// Drawdown is (peak − current) / peak over the full history, or the last
// lookback+1 points when lookback is set.
func (d *drawdownTracker) Drawdown() float64 {
	pts := d.equity
	if d.lookback > 0 && len(pts) > d.lookback+1 {
		pts = pts[len(pts)-d.lookback-1:]
	}
	peak := decimal.Max(pts[0], pts[1:]...)
	if !peak.IsPositive() {
		return 0
	}
	cur := pts[len(pts)-1]
	return peak.Sub(cur).DivRound(peak, 12).InexactFloat64()
}

// Compound applies r to the last equity point.
func (d *drawdownTracker) Compound(r decimal.Decimal) {
	last := d.equity[len(d.equity)-1]
	d.equity = append(d.equity, last.Mul(decimal.NewFromInt(1).Add(r)).Round(12))
}

// Hold repeats the last equity point.
func (d *drawdownTracker) Hold() {
	d.equity = append(d.equity, d.equity[len(d.equity)-1])
}
