package us

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"wfengine/internal/domain"
	"wfengine/internal/gather"
	"wfengine/internal/store"
	"wfengine/internal/util"
)

// Compile-time interface check.
var _ gather.Gatherer = (*DailyBarGatherer)(nil)

// BarsClient is the part of the Alpaca market-data client the gatherer uses.
type BarsClient interface {
	GetMultiBars(symbols []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error)
}

// NewMarketDataClient creates an Alpaca market-data client.
func NewMarketDataClient(apiKey, apiSecret, dataURL string) *marketdata.Client {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	return marketdata.NewClient(opts)
}

// DailyBarOptions configures a DailyBarGatherer.
type DailyBarOptions struct {
	Source          string
	Symbols         []string
	Range           gather.DateRange
	BatchSize       int // symbols per API call
	MaxWorkers      int
	RateLimitPerMin int // 0 disables limiting
	RateLimitBurst  int
	Feed            string // "sip" or "iex"
	// CheckpointPath stores per-symbol progress for resuming; empty
	// disables resuming.
	CheckpointPath string
}

// DailyBarGatherer backfills daily OHLCV candles for a symbol list from the
// Alpaca market-data API into a candle store.
type DailyBarGatherer struct {
	client  BarsClient
	store   store.CandleWriter
	opts    DailyBarOptions
	limiter *util.RateLimiter
	log     *slog.Logger
}

// NewDailyBarGatherer creates a DailyBarGatherer writing to w.
func NewDailyBarGatherer(client BarsClient, w store.CandleWriter, opts DailyBarOptions) *DailyBarGatherer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 1
	}
	if opts.Feed == "" {
		opts.Feed = "sip"
	}
	if opts.Source == "" {
		opts.Source = string(domain.MarketUS)
	}
	return &DailyBarGatherer{
		client:  client,
		store:   w,
		opts:    opts,
		limiter: util.NewRateLimiter(opts.RateLimitPerMin, opts.RateLimitBurst),
		log:     slog.Default().With("gatherer", "us-daily"),
	}
}

// Name returns the gatherer identifier.
func (g *DailyBarGatherer) Name() string { return "us-daily" }

// Run fetches daily bars for every configured symbol and writes them to the
// store. Symbols finished by an earlier run for the same end date are
// skipped.
func (g *DailyBarGatherer) Run(ctx context.Context) error {
	endStr := g.opts.Range.End.Format(time.DateOnly)

	cp, err := loadCheckpoint(g.opts.CheckpointPath, endStr)
	if err != nil {
		return fmt.Errorf("loading checkpoint: %w", err)
	}
	if cp.Completed() {
		g.log.Info("already completed", "endDate", endStr)
		return nil
	}

	var remaining []string
	for _, sym := range g.opts.Symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" || cp.Seen(sym) {
			continue
		}
		remaining = append(remaining, sym)
	}

	var batches [][]string
	for i := 0; i < len(remaining); i += g.opts.BatchSize {
		batches = append(batches, remaining[i:min(i+g.opts.BatchSize, len(remaining))])
	}

	g.log.Info("starting us-daily",
		"endDate", endStr,
		"total", len(g.opts.Symbols),
		"remaining", len(remaining),
		"batches", len(batches),
	)

	batchCh := make(chan int, len(batches))
	for i := range batches {
		batchCh <- i
	}
	close(batchCh)

	var (
		wg        sync.WaitGroup
		totalHits atomic.Int64
		totalMiss atomic.Int64
		failed    atomic.Int64
	)
	workers := min(g.opts.MaxWorkers, len(batches))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batchIdx := range batchCh {
				if ctx.Err() != nil {
					return
				}
				hits, misses, err := g.runBatch(ctx, batches[batchIdx], cp)
				if err != nil {
					failed.Add(1)
					g.log.Error("batch failed",
						"batch", fmt.Sprintf("%d/%d", batchIdx+1, len(batches)),
						"err", err,
					)
					continue
				}
				totalHits.Add(int64(hits))
				totalMiss.Add(int64(misses))
				g.log.Info("batch done",
					"batch", fmt.Sprintf("%d/%d", batchIdx+1, len(batches)),
					"hits", hits,
					"empty", misses,
				)
			}
		}()
	}
	wg.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d batches failed", n, len(batches))
	}
	if err := cp.Complete(); err != nil {
		return fmt.Errorf("marking completed: %w", err)
	}

	g.log.Info("complete", "hits", totalHits.Load(), "empty", totalMiss.Load())
	return nil
}

// runBatch fetches one batch, writes its candles and records progress.
func (g *DailyBarGatherer) runBatch(ctx context.Context, batch []string, cp *checkpoint) (hits, misses int, err error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return 0, 0, err
	}
	candles, err := g.fetchMultiBars(ctx, batch)
	if err != nil {
		return 0, 0, err
	}

	hit := make(map[string]struct{})
	for _, c := range candles {
		hit[c.Symbol] = struct{}{}
	}
	var found, empty []string
	for _, sym := range batch {
		if _, ok := hit[sym]; ok {
			found = append(found, sym)
		} else {
			empty = append(empty, sym)
		}
	}

	if len(candles) > 0 {
		if err := g.store.WriteCandles(ctx, g.opts.Source, candles); err != nil {
			return 0, 0, fmt.Errorf("writing candles: %w", err)
		}
	}
	if err := cp.Mark(found, statusDone); err != nil {
		return 0, 0, err
	}
	if err := cp.Mark(empty, statusEmpty); err != nil {
		return 0, 0, err
	}
	return len(found), len(empty), nil
}

// fetchMultiBars fetches daily bars for multiple symbols in a single API call.
func (g *DailyBarGatherer) fetchMultiBars(ctx context.Context, symbols []string) ([]domain.Candle, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	multiBars, err := g.client.GetMultiBars(symbols, marketdata.GetBarsRequest{
		TimeFrame:  marketdata.OneDay,
		Adjustment: marketdata.All,
		Start:      g.opts.Range.Start,
		End:        g.opts.Range.End,
		Feed:       marketdata.Feed(g.opts.Feed),
	})
	if err != nil {
		return nil, fmt.Errorf("GetMultiBars: %w", err)
	}

	var candles []domain.Candle
	for symbol, bars := range multiBars {
		for _, b := range bars {
			candles = append(candles, domain.Candle{
				Symbol: strings.ToUpper(symbol),
				Time:   dailyTime(b.Timestamp),
				Open:   b.Open,
				High:   b.High,
				Low:    b.Low,
				Close:  b.Close,
				Volume: float64(b.Volume),
			})
		}
	}
	return candles, nil
}

var newYork = sync.OnceValue(func() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.UTC
	}
	return loc
})

// dailyTime normalises a bar timestamp to midnight UTC of its trading date
// in New York.
func dailyTime(ts time.Time) time.Time {
	ts = ts.In(newYork())
	return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
}
