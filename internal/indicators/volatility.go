package indicators

import (
	"math"

	"wfengine/internal/domain"
)

// TrueRange per bar; the first bar uses high-low.
func TrueRange(c []domain.Candle) []float64 {
	out := make([]float64, len(c))
	for i := range c {
		hl := c[i].High - c[i].Low
		if i == 0 {
			out[i] = hl
			continue
		}
		pc := c[i-1].Close
		out[i] = math.Max(hl, math.Max(math.Abs(c[i].High-pc), math.Abs(c[i].Low-pc)))
	}
	return out
}

// ATR with Wilder smoothing, seeded by the simple mean of the first p true
// ranges.
func ATR(c []domain.Candle, p int) []float64 {
	if p <= 0 {
		return nil
	}
	tr := TrueRange(c)
	out := nanSeries(len(c))
	if len(c) < p {
		return out
	}
	var seed float64
	for i := 0; i < p; i++ {
		seed += tr[i]
	}
	out[p-1] = seed / float64(p)
	for i := p; i < len(c); i++ {
		out[i] = (out[i-1]*float64(p-1) + tr[i]) / float64(p)
	}
	return out
}

// ADX is Wilder's Average Directional Index. The first value appears at
// index 2p-1.
func ADX(c []domain.Candle, p int) []float64 {
	n := len(c)
	out := nanSeries(n)
	if p <= 0 || n < 2*p {
		return out
	}

	tr := TrueRange(c)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 1; i < n; i++ {
		up := c[i].High - c[i-1].High
		down := c[i-1].Low - c[i].Low
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
	}

	var sTR, sPlus, sMinus float64
	for i := 1; i <= p; i++ {
		sTR += tr[i]
		sPlus += plusDM[i]
		sMinus += minusDM[i]
	}

	dx := make([]float64, n)
	dx[p] = directionalIndex(sPlus, sMinus, sTR)
	for i := p + 1; i < n; i++ {
		sTR = sTR - sTR/float64(p) + tr[i]
		sPlus = sPlus - sPlus/float64(p) + plusDM[i]
		sMinus = sMinus - sMinus/float64(p) + minusDM[i]
		dx[i] = directionalIndex(sPlus, sMinus, sTR)
	}

	var seed float64
	for i := p; i < 2*p; i++ {
		seed += dx[i]
	}
	out[2*p-1] = seed / float64(p)
	for i := 2 * p; i < n; i++ {
		out[i] = (out[i-1]*float64(p-1) + dx[i]) / float64(p)
	}
	return out
}

func directionalIndex(plus, minus, tr float64) float64 {
	if tr == 0 {
		return 0
	}
	pdi := 100 * plus / tr
	mdi := 100 * minus / tr
	if pdi+mdi == 0 {
		return 0
	}
	return 100 * math.Abs(pdi-mdi) / (pdi + mdi)
}

// Bands is an upper/middle/lower envelope.
type Bands struct {
	Upper  []float64
	Middle []float64
	Lower  []float64
}

// Bollinger bands: SMA(p) ± k population standard deviations.
func Bollinger(closes []float64, p int, k float64) Bands {
	mid, std := MeanStd(closes, p)
	b := Bands{Middle: mid, Upper: make([]float64, len(mid)), Lower: make([]float64, len(mid))}
	for i := range mid {
		b.Upper[i] = mid[i] + k*std[i]
		b.Lower[i] = mid[i] - k*std[i]
	}
	return b
}

// Keltner channel: EMA(p) of closes ± mult × ATR(atrP).
func Keltner(c []domain.Candle, p, atrP int, mult float64) Bands {
	mid := EMA(Closes(c), p)
	atr := ATR(c, atrP)
	b := Bands{Middle: mid, Upper: make([]float64, len(mid)), Lower: make([]float64, len(mid))}
	for i := range mid {
		b.Upper[i] = mid[i] + mult*atr[i]
		b.Lower[i] = mid[i] - mult*atr[i]
	}
	return b
}

// DailyReturns returns simple close-to-close returns, skipping non-positive
// reference prices.
func DailyReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 {
			continue
		}
		out = append(out, closes[i]/closes[i-1]-1)
	}
	return out
}

// SampleStdDev is the n-1 standard deviation; zero for fewer than two
// samples.
func SampleStdDev(x []float64) float64 {
	if len(x) < 2 {
		return 0
	}
	var m float64
	for _, v := range x {
		m += v
	}
	m /= float64(len(x))
	var ss float64
	for _, v := range x {
		ss += (v - m) * (v - m)
	}
	return math.Sqrt(ss / float64(len(x)-1))
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
