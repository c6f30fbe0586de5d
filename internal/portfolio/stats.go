package portfolio

import (
	"sort"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"wfengine/internal/indicators"
)

// MinPositiveRatio is the consistency gate's minimum share of positive
// windows. The gate also needs a non-negative median.
const MinPositiveRatio = 0.40

// AggregatedMetrics summarises the windows counted as traded (valid or
// dd_reduced). MaxDrawdown covers every window.
type AggregatedMetrics struct {
	MedianOOSReturn     decimal.Decimal `json:"median_oos_return"`
	AvgOOSReturn        decimal.Decimal `json:"avg_oos_return"`
	PositiveWindowCount int             `json:"positive_window_count"`
	TotalValidWindows   int             `json:"total_valid_windows"`
	PositiveRatio       float64         `json:"positive_ratio"`
	// MaxDrawdown is the largest peak-to-trough fall of the cumulative sum
	// of window returns, in return units.
	MaxDrawdown     decimal.Decimal `json:"max_drawdown"`
	SharpeEstimate  float64         `json:"sharpe_estimate"`
	ConsistencyPass bool            `json:"consistency_pass"`
}

// SymbolContribution is a symbol's average OOS return over the windows
// where it had one.
type SymbolContribution struct {
	Symbol           string          `json:"symbol"`
	AvgReturn        decimal.Decimal `json:"avg_return"`
	ValidWindowCount int             `json:"valid_window_count"`
}

func counted(w WindowResult) bool {
	return w.Status == StatusValid || w.Status == StatusDDReduced
}

func aggregate(windows []WindowResult) AggregatedMetrics {
	rets := lo.Map(lo.Filter(windows, func(w WindowResult, _ int) bool { return counted(w) }),
		func(w WindowResult, _ int) decimal.Decimal { return w.PortfolioReturn })

	m := AggregatedMetrics{
		MedianOOSReturn:     median(rets),
		AvgOOSReturn:        mean(rets),
		TotalValidWindows:   len(rets),
		PositiveWindowCount: lo.CountBy(rets, func(r decimal.Decimal) bool { return r.IsPositive() }),
		MaxDrawdown:         cumulativeDrawdown(windows),
	}
	if m.TotalValidWindows > 0 {
		m.PositiveRatio = float64(m.PositiveWindowCount) / float64(m.TotalValidWindows)
	}
	if len(rets) >= 2 {
		sd := indicators.SampleStdDev(lo.Map(rets, func(r decimal.Decimal, _ int) float64 { return r.InexactFloat64() }))
		if sd > 0 {
			m.SharpeEstimate = m.AvgOOSReturn.InexactFloat64() / sd
		}
	}
	m.ConsistencyPass = m.TotalValidWindows > 0 && m.PositiveRatio >= MinPositiveRatio && !m.MedianOOSReturn.IsNegative()
	return m
}

func mean(x []decimal.Decimal) decimal.Decimal {
	if len(x) == 0 {
		return decimal.Zero
	}
	return decimal.Sum(x[0], x[1:]...).DivRound(decimal.NewFromInt(int64(len(x))), 12)
}

func median(x []decimal.Decimal) decimal.Decimal {
	if len(x) == 0 {
		return decimal.Zero
	}
	s := append([]decimal.Decimal(nil), x...)
	sort.Slice(s, func(i, j int) bool { return s[i].LessThan(s[j]) })
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return s[mid-1].Add(s[mid]).DivRound(decimal.NewFromInt(2), 12)
}

// cumulativeDrawdown is the peak-to-trough fall of the running sum of all
// window returns, with the peak starting at zero.
func cumulativeDrawdown(windows []WindowResult) decimal.Decimal {
	var cum, peak, worst decimal.Decimal
	for _, w := range windows {
		cum = cum.Add(w.PortfolioReturn)
		peak = decimal.Max(peak, cum)
		worst = decimal.Max(worst, peak.Sub(cum))
	}
	return worst
}

// contributions averages each symbol's non-nil returns and ranks them
// descending, then by symbol.
func contributions(windows []WindowResult) []SymbolContribution {
	sums := make(map[string][]decimal.Decimal)
	for _, w := range windows {
		for sym, r := range w.SymbolReturns {
			if r != nil {
				sums[sym] = append(sums[sym], *r)
			}
		}
	}
	out := lo.Map(lo.Keys(sums), func(sym string, _ int) SymbolContribution {
		return SymbolContribution{Symbol: sym, AvgReturn: mean(sums[sym]), ValidWindowCount: len(sums[sym])}
	})
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].AvgReturn.Cmp(out[j].AvgReturn); c != 0 {
			return c > 0
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}
