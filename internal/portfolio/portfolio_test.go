package portfolio

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"wfengine/internal/domain"
	"wfengine/internal/engine"
	"wfengine/internal/metrics"
	"wfengine/internal/store"
	"wfengine/internal/strategy"
	"wfengine/internal/strategy/builtins"
	"wfengine/internal/walkforward"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func date(y int, m time.Month, day int) time.Time { return time.Date(y, m, day, 0, 0, 0, 0, time.UTC) }

// symbolWindow builds a walk-forward result with the given IS/OOS returns.
func symbolWindow(idx int, is, oos string) walkforward.WindowResult {
	start := date(2021, 1, 1).AddDate(0, 0, 30*idx)
	return walkforward.WindowResult{
		Index: idx,
		Window: walkforward.Window{
			InSampleStart:  start,
			InSampleEnd:    start.AddDate(0, 0, 30),
			OutSampleStart: start.AddDate(0, 0, 30),
			OutSampleEnd:   start.AddDate(0, 0, 60),
		},
		InSample:      &engine.BacktestResult{Metrics: metrics.Metrics{TotalReturn: d(is)}},
		OutSample:     &engine.BacktestResult{Metrics: metrics.Metrics{TotalReturn: d(oos)}},
		OOSTradeCount: 2,
		Status:        walkforward.StatusValid,
	}
}

func testAggregator(cfg Config) *Aggregator {
	if cfg.MaxPositions == 0 {
		cfg.MaxPositions = 5
	}
	if cfg.Weighting == "" {
		cfg.Weighting = WeightEqual
	}
	return &Aggregator{cfg: cfg, logger: quiet}
}

func emptyData() *dataset { return &dataset{candles: map[string][]domain.Candle{}} }

func TestSelectionUsesInSampleReturn(t *testing.T) {
	a := testAggregator(Config{MaxPositions: 1})
	windows := map[string][]walkforward.WindowResult{
		"A": {symbolWindow(0, "0.05", "-0.02")},
		"B": {symbolWindow(0, "0.03", "0.04")},
	}

	got := a.combine([]string{"A", "B"}, windows, emptyData())
	if len(got) != 1 {
		t.Fatalf("got %d windows, want 1", len(got))
	}
	w := got[0]
	if len(w.ActiveSymbols) != 1 || w.ActiveSymbols[0] != "A" {
		t.Errorf("ActiveSymbols = %v, want [A]", w.ActiveSymbols)
	}
	if !w.PortfolioReturn.Equal(d("-0.02")) {
		t.Errorf("PortfolioReturn = %s, want -0.02", w.PortfolioReturn)
	}
	if w.Status != StatusValid {
		t.Errorf("Status = %s, want valid", w.Status)
	}
	if r := w.SymbolReturns["B"]; r == nil || !r.Equal(d("0.04")) {
		t.Errorf("SymbolReturns[B] = %v, want 0.04", r)
	}
}

func TestSelectionTieBreaksBySymbol(t *testing.T) {
	pool := []candidate{
		{symbol: "MSFT", is: d("0.02")},
		{symbol: "AAPL", is: d("0.02")},
		{symbol: "QQQ", is: d("0.01")},
	}
	got := selectCandidates(pool, 2)
	if len(got) != 2 || got[0].symbol != "AAPL" || got[1].symbol != "MSFT" {
		t.Errorf("selectCandidates = %+v", got)
	}
}

func TestInsufficientSymbolsLeaveWindowInCash(t *testing.T) {
	a := testAggregator(Config{})
	bad := symbolWindow(0, "0.05", "0.10")
	bad.Status = walkforward.StatusInsufficientTrades
	got := a.combine([]string{"A"}, map[string][]walkforward.WindowResult{"A": {bad}}, emptyData())

	w := got[0]
	if w.Status != StatusInsufficientTrades || !w.PortfolioReturn.IsZero() {
		t.Errorf("window = %s %s, want insufficient_trades 0", w.Status, w.PortfolioReturn)
	}
	if w.SymbolReturns["A"] != nil {
		t.Errorf("SymbolReturns[A] = %v, want nil", w.SymbolReturns["A"])
	}
}

func TestEqualWeightsCombineReturns(t *testing.T) {
	a := testAggregator(Config{MaxPositions: 2})
	windows := map[string][]walkforward.WindowResult{
		"A": {symbolWindow(0, "0.05", "0.10")},
		"B": {symbolWindow(0, "0.03", "-0.04")},
		"C": {symbolWindow(0, "0.01", "0.50")},
	}
	w := a.combine([]string{"A", "B", "C"}, windows, emptyData())[0]
	if !w.PortfolioReturn.Equal(d("0.03")) {
		t.Errorf("PortfolioReturn = %s, want 0.03", w.PortfolioReturn)
	}
	if _, ok := w.Weights["C"]; ok {
		t.Error("C should not be selected")
	}
}

func TestCapWeightsSumToOne(t *testing.T) {
	cases := []struct {
		w     []float64
		limit float64
	}{
		{[]float64{1, 1, 1}, 0},
		{[]float64{0.7, 0.2, 0.1}, 0.5},
		{[]float64{10, 1, 1, 1}, 0.3},
		{[]float64{5, 3}, 0.4}, // infeasible
		{[]float64{1e-15, 1e-15}, 0.6},
		{[]float64{3}, 0.2},
		{[]float64{0.9, 0.05, 0.03, 0.02}, 0.25},
	}
	for _, tc := range cases {
		got := capWeights(tc.w, tc.limit)
		var sum float64
		for _, v := range got {
			if math.IsNaN(v) {
				t.Fatalf("capWeights(%v, %v) produced NaN", tc.w, tc.limit)
			}
			sum += v
		}
		if math.Abs(sum-1) > 1e-9 {
			t.Errorf("capWeights(%v, %v) sums to %v", tc.w, tc.limit, sum)
		}
	}
}

func TestCapWeightsRedistributes(t *testing.T) {
	got := capWeights([]float64{0.7, 0.2, 0.1}, 0.5)
	want := []float64{0.5, 1.0 / 3, 1.0 / 6}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Errorf("weight[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	// Infeasible caps end at equal weights.
	got = capWeights([]float64{5, 3}, 0.4)
	if math.Abs(got[0]-0.5) > 1e-9 || math.Abs(got[1]-0.5) > 1e-9 {
		t.Errorf("infeasible cap = %v, want [0.5 0.5]", got)
	}
}

// alternating builds closes that rise by step and fall by step on
// alternate days, so the sample volatility of its returns is about step.
func alternating(sym string, from time.Time, n int, step float64) []domain.Candle {
	out := make([]domain.Candle, n)
	p := 100.0
	for i := range out {
		switch {
		case i == 0:
		case i%2 == 1:
			p *= 1 + step
		default:
			p *= 1 - step
		}
		out[i] = domain.Candle{Symbol: sym, Time: from.AddDate(0, 0, i), Open: p, High: p, Low: p, Close: p, Volume: 1e6}
	}
	return out
}

func assertWeights(t *testing.T, name string, got, want []float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: weights = %v, want %v", name, got, want)
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Errorf("%s: weights = %v, want %v", name, got, want)
			return
		}
	}
}

func TestInverseVolatilityWeights(t *testing.T) {
	from := date(2021, 1, 1)
	oosStart := from.AddDate(0, 0, 40)
	lo := alternating("LO", from, 40, 0.01)
	// A spike on the OOS start must not leak into the lookback.
	lo = append(lo, domain.Candle{Symbol: "LO", Time: oosStart, Open: 500, High: 500, Low: 500, Close: 500, Volume: 1e6})
	data := &dataset{candles: map[string][]domain.Candle{
		"HI":  alternating("HI", from, 40, 0.03),
		"LO":  lo,
		"NEW": alternating("NEW", from.AddDate(0, 0, 30), 10, 0.02),
	}}
	pair := []candidate{{symbol: "HI"}, {symbol: "LO"}}

	a := testAggregator(Config{Weighting: WeightInvVol, VolLookback: 20})
	assertWeights(t, "inv-vol", a.weights(pair, data, oosStart), []float64{0.25, 0.75})

	a = testAggregator(Config{Weighting: WeightInvVol, VolLookback: 20, MaxWeight: 0.6})
	assertWeights(t, "inv-vol capped", a.weights(pair, data, oosStart), []float64{0.4, 0.6})

	a = testAggregator(Config{Weighting: WeightEqual, VolLookback: 20})
	assertWeights(t, "equal", a.weights(pair, data, oosStart), []float64{0.5, 0.5})

	// NEW has 10 bars before the OOS start, short of lookback+1, so the
	// whole window falls back to equal weights.
	a = testAggregator(Config{Weighting: WeightInvVol, VolLookback: 20, MaxWeight: 0.6})
	withNew := append(pair, candidate{symbol: "NEW"})
	third := 1.0 / 3
	assertWeights(t, "short history", a.weights(withNew, data, oosStart), []float64{third, third, third})
}

func TestDrawdownTracker(t *testing.T) {
	dd := &drawdownTracker{equity: []decimal.Decimal{d("1"), d("1.2"), d("1.0")}}
	if got := dd.Drawdown(); math.Abs(got-1.0/6) > 1e-9 {
		t.Errorf("Drawdown = %v, want 0.1667", got)
	}

	dd = &drawdownTracker{equity: []decimal.Decimal{d("1.2"), d("1.0"), d("1.1")}, lookback: 1}
	if got := dd.Drawdown(); got != 0 {
		t.Errorf("Drawdown(lookback 1) = %v, want 0", got)
	}

	dd = newDrawdownTracker(0)
	dd.Compound(d("0.2"))
	dd.Hold()
	if n := len(dd.equity); n != 3 || !dd.equity[2].Equal(d("1.2")) {
		t.Errorf("equity = %v", dd.equity)
	}
}

// throttleWindows yields equity 1 → 1.2 → 1.0, so the third window starts
// in a 16.67% drawdown.
func throttleWindows() map[string][]walkforward.WindowResult {
	return map[string][]walkforward.WindowResult{
		"A": {
			symbolWindow(0, "0.01", "0.2"),
			symbolWindow(1, "0.01", "-0.166666666667"),
			symbolWindow(2, "0.01", "0.1"),
		},
	}
}

func TestDrawdownReduce(t *testing.T) {
	a := testAggregator(Config{DDReduceThreshold: 0.10, DDHaltThreshold: 0.20})
	got := a.combine([]string{"A"}, throttleWindows(), emptyData())

	w := got[2]
	if math.Abs(w.DrawdownAtWindow-1.0/6) > 1e-6 {
		t.Errorf("DrawdownAtWindow = %v, want 0.1667", w.DrawdownAtWindow)
	}
	if w.Status != StatusDDReduced {
		t.Errorf("Status = %s, want dd_reduced", w.Status)
	}
	if !w.PositionScalar.Equal(d("0.5")) {
		t.Errorf("PositionScalar = %s, want 0.5", w.PositionScalar)
	}
	if !w.PortfolioReturn.Equal(d("0.05")) {
		t.Errorf("PortfolioReturn = %s, want 0.05", w.PortfolioReturn)
	}
}

func TestDrawdownHaltTakesPrecedence(t *testing.T) {
	a := testAggregator(Config{DDReduceThreshold: 0.10, DDHaltThreshold: 0.15})
	got := a.combine([]string{"A"}, throttleWindows(), emptyData())

	w := got[2]
	if w.Status != StatusDDHalted {
		t.Fatalf("Status = %s, want dd_halted", w.Status)
	}
	if !w.PositionScalar.IsZero() || !w.PortfolioReturn.IsZero() || len(w.ActiveSymbols) != 0 {
		t.Errorf("halted window = scalar %s return %s active %v", w.PositionScalar, w.PortfolioReturn, w.ActiveSymbols)
	}
}

func descending(sym string, n int, from time.Time) []domain.Candle {
	out := make([]domain.Candle, n)
	for i := range out {
		p := 200 - float64(i)
		out[i] = domain.Candle{Symbol: sym, Time: from.AddDate(0, 0, i), Open: p, High: p + 1, Low: p - 1, Close: p, Volume: 1000}
	}
	return out
}

func TestBenchmarkBlocksWindow(t *testing.T) {
	a := testAggregator(Config{BenchmarkFilter: true, Benchmark: "SPY", BenchmarkMAPeriod: 5})
	data := emptyData()
	data.benchmark = descending("SPY", 60, date(2020, 12, 1))

	w := a.combine([]string{"A"}, map[string][]walkforward.WindowResult{"A": {symbolWindow(0, "0.05", "0.10")}}, data)[0]
	if w.Status != StatusBenchmarkBlocked || !w.BenchmarkFilterApplied {
		t.Errorf("Status = %s applied = %v, want benchmark_blocked", w.Status, w.BenchmarkFilterApplied)
	}
	if !w.PortfolioReturn.IsZero() || len(w.ActiveSymbols) != 0 {
		t.Errorf("blocked window traded: %s %v", w.PortfolioReturn, w.ActiveSymbols)
	}
}

func TestSymbolMAFilterMakesReturnUnavailable(t *testing.T) {
	a := testAggregator(Config{SymbolMAFilter: true, SymbolMAPeriod: 5})
	data := emptyData()
	data.candles["A"] = descending("A", 60, date(2020, 12, 1))

	windows := map[string][]walkforward.WindowResult{
		"A": {symbolWindow(0, "0.09", "0.10")},
		"B": {symbolWindow(0, "0.01", "0.02")},
	}
	w := a.combine([]string{"A", "B"}, windows, data)[0]
	if w.SymbolReturns["A"] != nil {
		t.Errorf("SymbolReturns[A] = %v, want nil", w.SymbolReturns["A"])
	}
	if len(w.ActiveSymbols) != 1 || w.ActiveSymbols[0] != "B" {
		t.Errorf("ActiveSymbols = %v, want [B]", w.ActiveSymbols)
	}
}

func TestAggregate(t *testing.T) {
	mk := func(ret string, st Status) WindowResult {
		return WindowResult{PortfolioReturn: d(ret), Status: st}
	}
	windows := []WindowResult{
		mk("0.10", StatusValid),
		mk("-0.05", StatusValid),
		mk("0", StatusDDHalted),
		mk("0.02", StatusDDReduced),
		mk("-0.08", StatusValid),
		mk("0", StatusBenchmarkBlocked),
	}
	m := aggregate(windows)

	if m.TotalValidWindows != 4 || m.PositiveWindowCount != 2 {
		t.Errorf("valid/positive = %d/%d, want 4/2", m.TotalValidWindows, m.PositiveWindowCount)
	}
	if m.PositiveRatio != 0.5 {
		t.Errorf("PositiveRatio = %v, want 0.5", m.PositiveRatio)
	}
	if !m.MedianOOSReturn.Equal(d("-0.015")) {
		t.Errorf("MedianOOSReturn = %s, want -0.015", m.MedianOOSReturn)
	}
	if !m.AvgOOSReturn.Equal(d("-0.0025")) {
		t.Errorf("AvgOOSReturn = %s, want -0.0025", m.AvgOOSReturn)
	}
	// cum: 0.10, 0.05, 0.05, 0.07, -0.01 → peak 0.10, trough -0.01.
	if !m.MaxDrawdown.Equal(d("0.11")) {
		t.Errorf("MaxDrawdown = %s, want 0.11", m.MaxDrawdown)
	}
	if m.ConsistencyPass {
		t.Error("negative median should fail the consistency gate")
	}
	if m.SharpeEstimate >= 0 {
		t.Errorf("SharpeEstimate = %v, want negative", m.SharpeEstimate)
	}

	if got := aggregate([]WindowResult{mk("0.01", StatusValid)}); got.SharpeEstimate != 0 || !got.ConsistencyPass {
		t.Errorf("single window = %+v", got)
	}
	if got := aggregate(nil); got.ConsistencyPass {
		t.Error("no windows should not pass")
	}
}

func TestContributions(t *testing.T) {
	r := func(s string) *decimal.Decimal { v := d(s); return &v }
	windows := []WindowResult{
		{SymbolReturns: map[string]*decimal.Decimal{"A": r("0.02"), "B": r("0.01"), "C": nil}},
		{SymbolReturns: map[string]*decimal.Decimal{"A": r("0.04"), "B": nil, "C": nil}},
	}
	got := contributions(windows)
	if len(got) != 2 {
		t.Fatalf("got %d contributions, want 2", len(got))
	}
	if got[0].Symbol != "A" || !got[0].AvgReturn.Equal(d("0.03")) || got[0].ValidWindowCount != 2 {
		t.Errorf("contributions[0] = %+v", got[0])
	}
	if got[1].Symbol != "B" || got[1].ValidWindowCount != 1 {
		t.Errorf("contributions[1] = %+v", got[1])
	}
}

// ---------------------------------------------------------------------------
// End-to-end
// ---------------------------------------------------------------------------

// wave writes a daily oscillating series so short moving averages cross
// often.
func wave(sym string, from time.Time, days int, phase float64) []domain.Candle {
	out := make([]domain.Candle, days)
	for i := range out {
		p := 100 + 10*math.Sin(float64(i)/3+phase) + float64(i)*0.01
		out[i] = domain.Candle{
			Symbol: sym,
			Time:   from.AddDate(0, 0, i),
			Open:   p, High: p + 1, Low: p - 1, Close: p,
			Volume: 1e6,
		}
	}
	return out
}

func testStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	mem := store.NewMemoryStore()
	from := date(2020, 1, 1)
	for i, sym := range []string{"AAA", "BBB", "CCC"} {
		if err := mem.WriteCandles(context.Background(), "us", wave(sym, from, 500, float64(i))); err != nil {
			t.Fatal(err)
		}
	}
	if err := mem.WriteCandles(context.Background(), "us", wave("THIN", from, 20, 0)); err != nil {
		t.Fatal(err)
	}
	return mem
}

func e2eConfig(symbols ...string) Config {
	return Config{
		Symbols: symbols,
		Source:  "us",
		WalkForward: walkforward.Config{
			Start:         date(2020, 2, 1),
			End:           date(2021, 3, 31),
			InSampleDays:  60,
			OutSampleDays: 30,
			StepDays:      30,
			WarmupDays:    30,
			MinOOSTrades:  1,
		},
		MaxPositions:      2,
		Weighting:         WeightInvVol,
		VolLookback:       20,
		MaxWeight:         0.8,
		DDReduceThreshold: 0.10,
		DDHaltThreshold:   0.20,
		MaxWorkers:        3,
	}
}

func simpleMA(string) strategy.Strategy { return builtins.NewSimpleMA(3, 8) }

func TestRunEndToEnd(t *testing.T) {
	agg, err := New(testStore(t), engine.DefaultConfig(), simpleMA, e2eConfig("AAA", "bbb", "CCC", "THIN", "NOPE"), quiet)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := agg.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(res.Excluded) != 2 {
		t.Errorf("Excluded = %+v, want THIN and NOPE", res.Excluded)
	}
	if len(res.SymbolWindows) != 3 || res.SymbolWindows["BBB"] == nil {
		t.Errorf("SymbolWindows keys = %d, want AAA BBB CCC", len(res.SymbolWindows))
	}
	if len(res.Windows) == 0 {
		t.Fatal("no portfolio windows")
	}
	for i, w := range res.Windows {
		if i > 0 && !w.Window.OutSampleStart.After(res.Windows[i-1].Window.OutSampleStart) {
			t.Errorf("window %d OOS start not increasing", i)
		}
		if len(w.ActiveSymbols) > 2 {
			t.Errorf("window %d has %d active symbols", i, len(w.ActiveSymbols))
		}
		if len(w.Weights) > 0 {
			var sum float64
			for _, v := range w.Weights {
				sum += v
			}
			if math.Abs(sum-1) > 1e-9 {
				t.Errorf("window %d weights sum to %v", i, sum)
			}
		}
	}

	again, err := agg.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if mustJSON(t, res) != mustJSON(t, again) {
		t.Error("identical runs produced different results")
	}
}

func TestRunAllSymbolsInsufficient(t *testing.T) {
	agg, err := New(testStore(t), engine.DefaultConfig(), simpleMA, e2eConfig("THIN", "NOPE"), quiet)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = agg.Run(context.Background())
	if !errors.Is(err, ErrAllSymbolsInsufficient) {
		t.Errorf("Run error = %v, want ErrAllSymbolsInsufficient", err)
	}
}

func TestValidRatioGuardDropsEverything(t *testing.T) {
	cfg := e2eConfig("AAA")
	cfg.WalkForward.MinOOSTrades = 1000
	cfg.MinValidRatio = 0.5
	agg, err := New(testStore(t), engine.DefaultConfig(), simpleMA, cfg, quiet)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := agg.Run(context.Background()); !errors.Is(err, ErrNoSymbolsRetained) {
		t.Errorf("Run error = %v, want ErrNoSymbolsRetained", err)
	}
}

func TestStressCompareZeroBpsMatchesDefault(t *testing.T) {
	agg, err := New(testStore(t), engine.DefaultConfig(), simpleMA, e2eConfig("AAA", "BBB", "CCC"), quiet)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	base, err := agg.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	report, err := agg.StressCompare(context.Background())
	if err != nil {
		t.Fatalf("StressCompare: %v", err)
	}
	if len(report.Scenarios) != len(StressLevels) {
		t.Fatalf("got %d scenarios, want %d", len(report.Scenarios), len(StressLevels))
	}
	zero := report.Scenarios[0]
	if zero.SlippageBps != 0 || zero.Result == nil {
		t.Fatalf("scenario 0 = %+v", zero)
	}
	if mustJSON(t, zero.Result.Windows) != mustJSON(t, base.Windows) {
		t.Error("0 bps windows differ from the default run")
	}
	if mustJSON(t, zero.Result.Metrics) != mustJSON(t, base.Metrics) {
		t.Error("0 bps metrics differ from the default run")
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := e2eConfig("AAA")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	bad := cfg
	bad.MaxPositions = 0
	if bad.Validate() == nil {
		t.Error("zero max positions should fail")
	}
	bad = cfg
	bad.WalkForward.End = bad.WalkForward.Start
	if err := bad.Validate(); !errors.Is(err, walkforward.ErrInvalidConfig) {
		t.Errorf("Validate = %v, want ErrInvalidConfig", err)
	}
	bad = cfg
	bad.BenchmarkFilter = true
	if bad.Validate() == nil {
		t.Error("benchmark filter without a benchmark should fail")
	}
}

func TestParseWeighting(t *testing.T) {
	if w, err := ParseWeighting("INV-VOL"); err != nil || w != WeightInvVol {
		t.Errorf("ParseWeighting(INV-VOL) = %q, %v", w, err)
	}
	if _, err := ParseWeighting("risk-parity"); err == nil {
		t.Error("ParseWeighting should reject unknown modes")
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}
