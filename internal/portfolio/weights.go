package portfolio

import (
	"math"
	"time"

	"wfengine/internal/indicators"
)

const (
	// maxCapIterations bounds the max-weight redistribution loop.
	maxCapIterations = 20
	capTolerance     = 1e-12
)

// weights returns one weight per selected candidate, in order, summing to 1.
func (a *Aggregator) weights(selected []candidate, data *dataset, oosStart time.Time) []float64 {
	raw := equalWeights(len(selected))
	if a.cfg.Weighting == WeightInvVol {
		if inv, ok := inverseVolatility(selected, data, oosStart, a.cfg.VolLookback); ok {
			raw = inv
		} else {
			a.logger.Debug("inv-vol history short, using equal weights", "oos_start", oosStart.Format(time.DateOnly))
		}
	}
	return capWeights(raw, a.cfg.MaxWeight)
}

// inverseVolatility weights each symbol by 1/σ of its last lookback daily
// returns before oosStart. ok is false if any symbol lacks the history.
func inverseVolatility(selected []candidate, data *dataset, oosStart time.Time, lookback int) ([]float64, bool) {
	out := make([]float64, len(selected))
	for i, c := range selected {
		candles := data.candles[c.symbol]
		hist := candles[:lowerBound(candles, oosStart)]
		if len(hist) < lookback+1 {
			return nil, false
		}
		sd := indicators.SampleStdDev(indicators.DailyReturns(indicators.Closes(hist[len(hist)-lookback-1:])))
		if !(sd > 0) || math.IsInf(sd, 0) {
			return nil, false
		}
		out[i] = 1 / sd
	}
	return out, true
}

func equalWeights(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1 / float64(n)
	}
	return out
}

// normalize scales w to sum to 1, falling back to equal weights when the
// total is near zero or not finite.
func normalize(w []float64) []float64 {
	var total float64
	for _, v := range w {
		total += v
	}
	if total < capTolerance || math.IsNaN(total) || math.IsInf(total, 0) {
		return equalWeights(len(w))
	}
	out := make([]float64, len(w))
	for i, v := range w {
		out[i] = v / total
	}
	return out
}

// capWeights normalizes w, then moves weight above limit onto the uncapped
// symbols in proportion to their weight for at most maxCapIterations rounds,
// and renormalizes. A limit of 0 or ≥1 leaves the weights uncapped. When
// the cap is infeasible (limit × len(w) < 1) every weight ends at the cap
// and the result is equal weights.
func capWeights(w []float64, limit float64) []float64 {
	if len(w) == 0 {
		return nil
	}
	out := normalize(w)
	if limit <= 0 || limit >= 1 {
		return out
	}
	for iter := 0; iter < maxCapIterations; iter++ {
		var excess float64
		for i, v := range out {
			if v > limit {
				excess += v - limit
				out[i] = limit
			}
		}
		if excess < capTolerance {
			break
		}
		var uncapped float64
		for _, v := range out {
			if v < limit {
				uncapped += v
			}
		}
		if uncapped <= 0 {
			break
		}
		for i, v := range out {
			if v < limit {
				out[i] = v + excess*v/uncapped
			}
		}
	}
	return normalize(out)
}
