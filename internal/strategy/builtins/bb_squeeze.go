package builtins

import (
	"wfengine/internal/domain"
	"wfengine/internal/indicators"
	"wfengine/internal/strategy"
)

var _ strategy.Strategy = BBSqueeze{}

// BBSqueeze trades the release of a volatility squeeze, i.e. Bollinger
// bands contracting inside the Keltner channel.
type BBSqueeze struct {
	BBPeriod  int
	BBStdDev  float64
	KCPeriod  int
	KCMult    float64
	ATRPeriod int
	StopMult  float64
}

// DefaultBBSqueeze returns BB(20, 2) inside KC(20, 1.5×ATR) with a 2×ATR(14)
// stop.
func DefaultBBSqueeze() BBSqueeze {
	return BBSqueeze{BBPeriod: 20, BBStdDev: 2, KCPeriod: 20, KCMult: 1.5, ATRPeriod: 14, StopMult: 2}
}

// Name returns "bb-squeeze".
func (s BBSqueeze) Name() string { return "bb-squeeze" }

func (s BBSqueeze) lookback() int {
	n := s.BBPeriod
	if s.KCPeriod > n {
		n = s.KCPeriod
	}
	if s.ATRPeriod > n {
		n = s.ATRPeriod
	}
	return 3*n + 1
}

type squeezeState struct {
	squeeze bool
	middle  float64
	lower   float64
	atr     float64
}

// evaluate computes the squeeze flag and bands on the last bar of history.
func (s BBSqueeze) evaluate(history []domain.Candle) (squeezeState, bool) {
	window := indicators.Tail(history, s.lookback())
	bb := indicators.Bollinger(indicators.Closes(window), s.BBPeriod, s.BBStdDev)
	kc := indicators.Keltner(window, s.KCPeriod, s.ATRPeriod, s.KCMult)

	bu, ok1 := indicators.Last(bb.Upper)
	bl, ok2 := indicators.Last(bb.Lower)
	bm, ok3 := indicators.Last(bb.Middle)
	ku, ok4 := indicators.Last(kc.Upper)
	kl, ok5 := indicators.Last(kc.Lower)
	atr, ok6 := indicators.Last(indicators.ATR(window, s.ATRPeriod))
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 || !ok6 {
		return squeezeState{}, false
	}
	return squeezeState{
		squeeze: bu < ku && bl > kl,
		middle:  bm,
		lower:   bl,
		atr:     atr,
	}, true
}

// observe updates st.PrevSqueeze for the current bar without deciding.
func (s BBSqueeze) observe(history []domain.Candle, st *strategy.State) {
	ev, ok := s.evaluate(history)
	st.PrevSqueeze = ok && ev.squeeze
}

// Decide implements strategy.Strategy.
func (s BBSqueeze) Decide(history []domain.Candle, pos *domain.Position, st *strategy.State) domain.Signal {
	ev, ok := s.evaluate(history)
	prev := st.PrevSqueeze
	st.PrevSqueeze = ok && ev.squeeze
	if !ok {
		return domain.Hold("warming up")
	}

	last := history[len(history)-1].Close
	if pos != nil {
		if st.StopPrice > 0 && last <= st.StopPrice {
			return domain.Sell("stop hit")
		}
		if last < ev.lower {
			return domain.Sell("lower band breach")
		}
		return domain.Hold("in position")
	}

	st.ClearStop()
	if !prev || ev.squeeze {
		return domain.Hold("no squeeze release")
	}
	if len(history) < 2 {
		return domain.Hold("warming up")
	}
	prevClose := history[len(history)-2].Close
	if last <= ev.middle || last <= prevClose {
		return domain.Hold("release without upside breakout")
	}

	st.EntryATR = ev.atr
	st.StopPrice = last - s.StopMult*ev.atr
	return domain.Buy("squeeze breakout", st.StopPrice)
}
