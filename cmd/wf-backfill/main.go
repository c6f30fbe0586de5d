package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"wfengine/internal/config"
	"wfengine/internal/gather"
	"wfengine/internal/gather/us"
	"wfengine/internal/store"
	"wfengine/internal/util"
)

func main() {
	cfgPath := flag.String("config", config.Path(), "path to the YAML config")
	endFlag := flag.String("end", "", "last date to fetch (YYYY-MM-DD); default is the latest finished trading day")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format).With("run_id", uuid.NewString())
	util.SetDefault(logger)

	job := cfg.Gather.USDaily
	start, err := time.Parse(time.DateOnly, job.StartDate)
	if err != nil {
		log.Fatalf("gather.us_daily.start_date: %v", err)
	}

	var end time.Time
	if *endFlag != "" {
		end, err = time.Parse(time.DateOnly, *endFlag)
	} else {
		end, err = us.LatestFinishedTradingDay(
			us.NewCalendarClient(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL), time.Now())
	}
	if err != nil {
		log.Fatalf("determining end date: %v", err)
	}

	symbols, err := us.BackfillSymbols(job.SymbolsCSV, append(cfg.Backtest.Symbols, cfg.Backtest.Benchmark)...)
	if err != nil {
		log.Fatalf("collecting symbols: %v", err)
	}
	if len(symbols) == 0 {
		log.Fatalf("no symbols to backfill: set backtest.symbols or gather.us_daily.symbols_csv")
	}

	st, err := store.Open(cfg.Storage.Backend, cfg.Storage.DataDir, cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening store: %v", err)
	}
	if c, ok := st.(io.Closer); ok {
		defer c.Close()
	}

	gatherer := us.NewDailyBarGatherer(
		us.NewMarketDataClient(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL),
		st,
		us.DailyBarOptions{
			Source:          cfg.Backtest.Source,
			Symbols:         symbols,
			Range:           gather.DateRange{Start: start, End: end},
			BatchSize:       job.BatchSize,
			MaxWorkers:      job.MaxWorkers,
			RateLimitPerMin: job.RateLimitPerMin,
			RateLimitBurst:  job.RateLimitBurst,
			Feed:            job.Feed,
			CheckpointPath:  filepath.Join(cfg.Storage.DataDir, cfg.Backtest.Source, "daily", ".backfill.json"),
		},
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting wf-backfill",
		"symbols", len(symbols),
		"start", job.StartDate,
		"end", end.Format(time.DateOnly),
		"backend", cfg.Storage.Backend,
	)
	if err := gatherer.Run(ctx); err != nil {
		logger.Error("backfill failed", "error", err)
		os.Exit(1)
	}
}
