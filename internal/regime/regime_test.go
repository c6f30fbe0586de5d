package regime

import (
	"testing"
	"time"

	"wfengine/internal/domain"
)

func series(n int, step float64) []domain.Candle {
	out := make([]domain.Candle, n)
	t0 := time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC)
	for i := range out {
		p := 100 + step*float64(i)
		out[i] = domain.Candle{
			Symbol: "X", Time: t0.AddDate(0, 0, i),
			Open: p - step/2, High: p + 0.5, Low: p - 0.5, Close: p, Volume: 1e6,
		}
	}
	return out
}

func TestClassifyTrends(t *testing.T) {
	d := DefaultDetector()

	if got := d.Classify(series(260, 0.5)); got != TrendingUp {
		t.Errorf("Classify(uptrend) = %v, want %v", got, TrendingUp)
	}
	if got := d.Classify(series(260, -0.2)); got != TrendingDown {
		t.Errorf("Classify(downtrend) = %v, want %v", got, TrendingDown)
	}
	if got := d.Classify(series(260, 0)); got != Sideways {
		t.Errorf("Classify(flat) = %v, want %v", got, Sideways)
	}
}

func TestClassifyShortHistoryIsSideways(t *testing.T) {
	if got := DefaultDetector().Classify(series(150, 1)); got != Sideways {
		t.Errorf("Classify(short) = %v, want %v", got, Sideways)
	}
}

func TestClassifyDeterministic(t *testing.T) {
	d := DefaultDetector()
	h := series(300, 0.3)
	first := d.Classify(h)
	for i := 0; i < 5; i++ {
		if got := d.Classify(h); got != first {
			t.Fatalf("Classify run %d = %v, want %v", i, got, first)
		}
	}
}

func TestRegimeString(t *testing.T) {
	names := map[Regime]string{
		Sideways:     "SIDEWAYS",
		TrendingUp:   "TRENDING_UP",
		TrendingDown: "TRENDING_DOWN",
		WeakTrend:    "WEAK_TREND",
		Regime(99):   "UNKNOWN",
	}
	for r, want := range names {
		if got := r.String(); got != want {
			t.Errorf("Regime(%d).String() = %q, want %q", int(r), got, want)
		}
	}
}
