// Package metrics derives performance statistics from a simulation's trades
// and equity curve.
package metrics

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"wfengine/internal/domain"
)

// MaxProfitFactor is reported when there are winning trades and no losses.
const MaxProfitFactor = 999

// tradingDaysPerYear annualises per-bar Sharpe on daily candles.
const tradingDaysPerYear = 252

// Metrics summarises one simulation run.
type Metrics struct {
	// TotalReturn is (final − initial) / initial, rounded to 12 places.
	TotalReturn      decimal.Decimal
	SharpeRatio      float64
	MaxDrawdownPct   float64
	WinRate          float64 // fraction of closed trades with positive PnL
	ProfitFactor     float64
	AvgWin           decimal.Decimal
	AvgLoss          decimal.Decimal // reported as a positive amount
	AvgTradeDuration time.Duration
	ClosedTrades     int
}

// DrawdownPoint is the percentage below the running peak at one bar.
type DrawdownPoint struct {
	Timestamp time.Time
	Pct       float64
}

// Calculate computes Metrics. The final equity is the last equity point, or
// initial when the curve is empty.
func Calculate(initial decimal.Decimal, trades []domain.Trade, equity []domain.EquityPoint) Metrics {
	var m Metrics

	final := initial
	if len(equity) > 0 {
		final = equity[len(equity)-1].Equity
	}
	m.TotalReturn = Return(initial, final)

	m.SharpeRatio = sharpe(equity)
	for _, dd := range Drawdowns(equity) {
		if dd.Pct > m.MaxDrawdownPct {
			m.MaxDrawdownPct = dd.Pct
		}
	}

	var (
		wins, losses     int
		grossWin, grossL decimal.Decimal
		held             time.Duration
		entry            = map[string]time.Time{}
	)
	for _, t := range trades {
		if t.Side == domain.SideBuy {
			entry[t.Symbol] = t.Timestamp
			continue
		}
		if !t.IsClosing() {
			continue
		}
		m.ClosedTrades++
		if opened, ok := entry[t.Symbol]; ok {
			held += t.Timestamp.Sub(opened)
			delete(entry, t.Symbol)
		}
		pnl := *t.RealizedPnL
		switch {
		case pnl.IsPositive():
			wins++
			grossWin = grossWin.Add(pnl)
		case pnl.IsNegative():
			losses++
			grossL = grossL.Add(pnl.Neg())
		}
	}

	if m.ClosedTrades > 0 {
		m.WinRate = float64(wins) / float64(m.ClosedTrades)
		m.AvgTradeDuration = held / time.Duration(m.ClosedTrades)
	}
	if wins > 0 {
		m.AvgWin = grossWin.Div(decimal.NewFromInt(int64(wins))).Round(8)
	}
	if losses > 0 {
		m.AvgLoss = grossL.Div(decimal.NewFromInt(int64(losses))).Round(8)
	}
	switch {
	case grossL.IsPositive():
		m.ProfitFactor = grossWin.Div(grossL).InexactFloat64()
	case grossWin.IsPositive():
		m.ProfitFactor = MaxProfitFactor
	}
	return m
}

// Return is (final − initial) / initial rounded to 12 places; zero when
// initial is not positive.
func Return(initial, final decimal.Decimal) decimal.Decimal {
	if !initial.IsPositive() {
		return decimal.Zero
	}
	return final.Sub(initial).DivRound(initial, 12)
}

// Drawdowns returns the drawdown percentage below the running peak at every
// equity point.
func Drawdowns(equity []domain.EquityPoint) []DrawdownPoint {
	out := make([]DrawdownPoint, len(equity))
	var peak decimal.Decimal
	for i, p := range equity {
		if i == 0 || p.Equity.GreaterThan(peak) {
			peak = p.Equity
		}
		var pct float64
		if peak.IsPositive() {
			pct = peak.Sub(p.Equity).Div(peak).InexactFloat64() * 100
		}
		out[i] = DrawdownPoint{Timestamp: p.Timestamp, Pct: pct}
	}
	return out
}

func sharpe(equity []domain.EquityPoint) float64 {
	if len(equity) < 3 {
		return 0
	}
	rets := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Equity
		if !prev.IsPositive() {
			continue
		}
		rets = append(rets, equity[i].Equity.Sub(prev).Div(prev).InexactFloat64())
	}
	if len(rets) < 2 {
		return 0
	}
	var mean float64
	for _, r := range rets {
		mean += r
	}
	mean /= float64(len(rets))
	var ss float64
	for _, r := range rets {
		ss += (r - mean) * (r - mean)
	}
	std := math.Sqrt(ss / float64(len(rets)-1))
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(tradingDaysPerYear)
}
