package builtins

import (
	"fmt"

	"wfengine/internal/domain"
	"wfengine/internal/regime"
	"wfengine/internal/strategy"
)

var _ strategy.Strategy = RegimeAdaptive{}

// RegimeAdaptive routes each bar to a sub-strategy chosen by the detected
// regime: trend following in an uptrend, squeeze breakouts in range-bound
// markets, and cash in a downtrend.
type RegimeAdaptive struct {
	Detector regime.Detector
	Trend    EnhancedMA
	Range    BBSqueeze
}

// NewRegimeAdaptive builds the dispatcher from its default components.
func NewRegimeAdaptive() RegimeAdaptive {
	return RegimeAdaptive{
		Detector: regime.DefaultDetector(),
		Trend:    DefaultEnhancedMA(),
		Range:    DefaultBBSqueeze(),
	}
}

// Name returns "regime-adaptive".
func (s RegimeAdaptive) Name() string { return "regime-adaptive" }

// Decide implements strategy.Strategy. The signal reason is prefixed with
// the regime, e.g. "TRENDING_UP: golden cross", so trades record which
// branch produced them.
func (s RegimeAdaptive) Decide(history []domain.Candle, pos *domain.Position, st *strategy.State) domain.Signal {
	sig := s.route(s.Detector.Classify(history), history, pos, st)
	sig.Reason = st.Regime.String() + ": " + sig.Reason
	return sig
}

func (s RegimeAdaptive) route(r regime.Regime, history []domain.Candle, pos *domain.Position, st *strategy.State) domain.Signal {
	st.Regime = r
	switch r {
	case regime.TrendingUp:
		st.EntriesBlocked = false
		s.Range.observe(history, st)
		return s.Trend.Decide(history, pos, st)
	case regime.Sideways, regime.WeakTrend:
		st.EntriesBlocked = false
		return s.Range.Decide(history, pos, st)
	case regime.TrendingDown:
		st.EntriesBlocked = true
		s.Range.observe(history, st)
		if pos != nil {
			return domain.Sell("exit")
		}
		st.ClearStop()
		return domain.Hold("entries blocked")
	default:
		panic(fmt.Sprintf("builtins: unhandled regime %d", int(r)))
	}
}
