package util

import (
	"math"

	"wfengine/internal/domain"
)

// DefaultDensity is the assumed fraction of calendar days that carry a
// daily bar.
const DefaultDensity = 0.6

// TradingCalendar converts calendar-day spans into expected daily bar counts
// for a market.
type TradingCalendar struct {
	market  domain.Market
	density float64
}

// NewTradingCalendar creates a TradingCalendar for the given market using
// DefaultDensity.
func NewTradingCalendar(market domain.Market) *TradingCalendar {
	return &TradingCalendar{
		market:  market,
		density: DefaultDensity,
	}
}

// WithDensity returns a copy using density; non-positive values keep the
// current one.
func (tc *TradingCalendar) WithDensity(density float64) *TradingCalendar {
	cp := *tc
	if density > 0 {
		cp.density = density
	}
	return &cp
}

// Market returns the calendar's market.
func (tc *TradingCalendar) Market() domain.Market { return tc.market }

// Density returns the bars-per-calendar-day ratio.
func (tc *TradingCalendar) Density() float64 { return tc.density }

// MinBars returns ceil(days × density), the minimum number of daily bars a
// symbol must have over a span of days.
func (tc *TradingCalendar) MinBars(days int) int {
	if days <= 0 {
		return 0
	}
	return int(math.Ceil(float64(days) * tc.density))
}
