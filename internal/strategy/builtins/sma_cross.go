// Package builtins provides the built-in strategy implementations: moving
// average crossovers, a volatility squeeze breakout and a regime-adaptive
// dispatcher over them.
package builtins

import (
	"wfengine/internal/domain"
	"wfengine/internal/indicators"
	"wfengine/internal/strategy"
)

// Compile-time interface checks.
var (
	_ strategy.Strategy = SimpleMA{}
	_ strategy.Strategy = EnhancedMA{}
)

// cross reports golden (+1) or dead (-1) crossover of short over long on the
// last bar, 0 otherwise or when either average is not yet available.
func cross(closes []float64, short, long int) int {
	s := indicators.SMA(closes, short)
	l := indicators.SMA(closes, long)
	s0, ok1 := indicators.At(s, 0)
	l0, ok2 := indicators.At(l, 0)
	s1, ok3 := indicators.At(s, 1)
	l1, ok4 := indicators.At(l, 1)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return 0
	}
	switch {
	case s1 <= l1 && s0 > l0:
		return 1
	case s1 >= l1 && s0 < l0:
		return -1
	}
	return 0
}

// SimpleMA implements a simple moving average crossover strategy. It buys
// when the short-period SMA crosses above the long-period SMA and sells when
// it crosses below.
type SimpleMA struct {
	Short int
	Long  int
}

// NewSimpleMA creates a SimpleMA with the given periods.
func NewSimpleMA(short, long int) SimpleMA {
	return SimpleMA{Short: short, Long: long}
}

// Name returns "simple-ma".
func (s SimpleMA) Name() string { return "simple-ma" }

// Decide implements strategy.Strategy.
func (s SimpleMA) Decide(history []domain.Candle, pos *domain.Position, _ *strategy.State) domain.Signal {
	if len(history) < s.Long+1 {
		return domain.Hold("warming up")
	}
	closes := indicators.Closes(indicators.Tail(history, s.Long+1))
	switch c := cross(closes, s.Short, s.Long); {
	case c > 0 && pos == nil:
		return domain.Buy("golden cross", 0)
	case c < 0 && pos != nil:
		return domain.Sell("dead cross")
	}
	return domain.Hold("no cross")
}

// EnhancedMA is a crossover strategy with an ATR stop, a rising long-MA
// filter and optional SMA(200) and ADX strength gates on entry.
type EnhancedMA struct {
	Short         int
	Long          int
	ATRPeriod     int
	StopMult      float64
	SlopeLookback int
	UseMA200      bool
	UseADX        bool
	ADXPeriod     int
	ADXMin        float64
}

// DefaultEnhancedMA returns a 20/50 crossover with a 2×ATR(14) stop and both
// gates enabled.
func DefaultEnhancedMA() EnhancedMA {
	return EnhancedMA{
		Short:         20,
		Long:          50,
		ATRPeriod:     14,
		StopMult:      2,
		SlopeLookback: 5,
		UseMA200:      true,
		UseADX:        true,
		ADXPeriod:     14,
		ADXMin:        20,
	}
}

// Name returns "enhanced-ma".
func (s EnhancedMA) Name() string { return "enhanced-ma" }

func (s EnhancedMA) lookback() int {
	n := s.Long + s.SlopeLookback + 1
	if s.UseMA200 && n < 201 {
		n = 201
	}
	if a := 4 * s.ATRPeriod; a > n {
		n = a
	}
	if s.UseADX {
		if a := 4 * s.ADXPeriod; a > n {
			n = a
		}
	}
	return n
}

// Decide implements strategy.Strategy.
func (s EnhancedMA) Decide(history []domain.Candle, pos *domain.Position, st *strategy.State) domain.Signal {
	if len(history) == 0 {
		return domain.Hold("no data")
	}
	window := indicators.Tail(history, s.lookback())
	closes := indicators.Closes(window)
	last := closes[len(closes)-1]
	c := cross(closes, s.Short, s.Long)

	if pos != nil {
		if st.StopPrice > 0 && last <= st.StopPrice {
			return domain.Sell("stop hit")
		}
		if c < 0 {
			return domain.Sell("dead cross")
		}
		return domain.Hold("in position")
	}

	st.ClearStop()
	if c <= 0 {
		return domain.Hold("no cross")
	}

	longMA := indicators.SMA(closes, s.Long)
	now, ok1 := indicators.At(longMA, 0)
	then, ok2 := indicators.At(longMA, s.SlopeLookback)
	if !ok1 || !ok2 || now <= then {
		return domain.Hold("long MA not rising")
	}
	if s.UseMA200 {
		ma200, ok := indicators.Last(indicators.SMA(closes, 200))
		if !ok || last <= ma200 {
			return domain.Hold("below MA200")
		}
	}
	if s.UseADX {
		adx, ok := indicators.Last(indicators.ADX(window, s.ADXPeriod))
		if !ok || adx < s.ADXMin {
			return domain.Hold("weak trend")
		}
	}
	atr, ok := indicators.Last(indicators.ATR(window, s.ATRPeriod))
	if !ok {
		return domain.Hold("warming up")
	}

	st.EntryATR = atr
	st.StopPrice = last - s.StopMult*atr
	return domain.Buy("golden cross confirmed", st.StopPrice)
}
