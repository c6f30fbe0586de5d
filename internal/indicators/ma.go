// Package indicators implements the trailing technical indicators used by the
// strategies and the portfolio filters. Every function is a pure function of
// its input slice; series outputs are aligned to the input with NaN warm-up.
package indicators

import (
	"math"

	"wfengine/internal/domain"
)

// SMA over the last `p` points; returns a slice aligned to input length with NaNs for warmup.
func SMA(x []float64, p int) []float64 {
	if p <= 0 {
		return nil
	}
	out := make([]float64, len(x))
	var sum float64
	for i := range x {
		sum += x[i]
		if i >= p {
			sum -= x[i-p]
		}
		if i < p-1 {
			out[i] = math.NaN()
			continue
		}
		out[i] = sum / float64(p)
	}
	return out
}

// EMA (standard smoothing 2/(p+1)); NaNs for warmup until i==p-1, then seed with SMA.
func EMA(x []float64, p int) []float64 {
	if p <= 0 {
		return nil
	}
	out := make([]float64, len(x))
	if len(x) < p {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	k := 2.0 / float64(p+1)

	var seed float64
	for i := 0; i < p; i++ {
		seed += x[i]
	}
	seed /= float64(p)
	for i := 0; i < p-1; i++ {
		out[i] = math.NaN()
	}
	out[p-1] = seed
	for i := p; i < len(x); i++ {
		out[i] = (x[i]-out[i-1])*k + out[i-1]
	}
	return out
}

// MeanStd returns the rolling mean and population standard deviation over
// window p; NaNs for warmup.
func MeanStd(x []float64, p int) (mean, std []float64) {
	if p <= 0 {
		return nil, nil
	}
	n := len(x)
	mean = make([]float64, n)
	std = make([]float64, n)

	var sum, sum2 float64
	for i := 0; i < n; i++ {
		sum += x[i]
		sum2 += x[i] * x[i]
		if i >= p {
			sum -= x[i-p]
			sum2 -= x[i-p] * x[i-p]
		}
		if i < p-1 {
			mean[i] = math.NaN()
			std[i] = math.NaN()
			continue
		}
		m := sum / float64(p)
		v := sum2/float64(p) - m*m
		if v < 0 {
			v = 0
		}
		mean[i] = m
		std[i] = math.Sqrt(v)
	}
	return mean, std
}

// Last returns the final value of a series and whether it is usable.
func Last(series []float64) (float64, bool) {
	if len(series) == 0 {
		return 0, false
	}
	v := series[len(series)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// At returns series[len-1-back] and whether it is usable.
func At(series []float64, back int) (float64, bool) {
	i := len(series) - 1 - back
	if i < 0 || i >= len(series) {
		return 0, false
	}
	return Last(series[:i+1])
}

// Closes extracts close prices.
func Closes(candles []domain.Candle) []float64 {
	out := make([]float64, len(candles))
	for i := range candles {
		out[i] = candles[i].Close
	}
	return out
}

// Tail returns the last n candles (or all of them when fewer exist). The
// result shares the backing array but is capacity-limited.
func Tail(candles []domain.Candle, n int) []domain.Candle {
	if n <= 0 || n >= len(candles) {
		return candles[:len(candles):len(candles)]
	}
	start := len(candles) - n
	return candles[start:len(candles):len(candles)]
}
