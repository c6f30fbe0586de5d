// Package regime classifies the prevailing trend state of a candle history.
package regime

import (
	"wfengine/internal/domain"
	"wfengine/internal/indicators"
)

// Regime is a trend-state classification.
type Regime int

const (
	Sideways Regime = iota
	TrendingUp
	TrendingDown
	WeakTrend
)

// String returns the upper-case name of the regime.
func (r Regime) String() string {
	switch r {
	case Sideways:
		return "SIDEWAYS"
	case TrendingUp:
		return "TRENDING_UP"
	case TrendingDown:
		return "TRENDING_DOWN"
	case WeakTrend:
		return "WEAK_TREND"
	default:
		return "UNKNOWN"
	}
}

// Detector classifies using SMA(short)/SMA(long) relative position and ADX
// strength.
type Detector struct {
	ShortPeriod int
	LongPeriod  int
	ADXPeriod   int
	// WeakADX is the ADX level below which the market is considered
	// range-bound.
	WeakADX float64
	// TrendADX is the ADX level at or above which a trend is confirmed.
	TrendADX float64
}

// DefaultDetector returns the 50/200 SMA, ADX(14) detector.
func DefaultDetector() Detector {
	return Detector{ShortPeriod: 50, LongPeriod: 200, ADXPeriod: 14, WeakADX: 20, TrendADX: 25}
}

// Lookback is the number of trailing candles Classify reads.
func (d Detector) Lookback() int {
	n := d.LongPeriod
	if a := 4 * d.ADXPeriod; a > n {
		n = a
	}
	return n + 1
}

// Classify returns the regime of history as of its last candle. Histories
// too short for the long average are SIDEWAYS.
func (d Detector) Classify(history []domain.Candle) Regime {
	if len(history) < d.LongPeriod {
		return Sideways
	}
	window := indicators.Tail(history, d.Lookback())
	closes := indicators.Closes(window)

	adx, ok := indicators.Last(indicators.ADX(window, d.ADXPeriod))
	if !ok || adx < d.WeakADX {
		return Sideways
	}
	short, ok1 := indicators.Last(indicators.SMA(closes, d.ShortPeriod))
	long, ok2 := indicators.Last(indicators.SMA(closes, d.LongPeriod))
	if !ok1 || !ok2 {
		return Sideways
	}

	if adx >= d.TrendADX {
		switch {
		case short > long:
			return TrendingUp
		case short < long:
			return TrendingDown
		}
	}
	return WeakTrend
}
