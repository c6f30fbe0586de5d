package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"wfengine/internal/config"
	"wfengine/internal/portfolio"
	"wfengine/internal/store"
	"wfengine/internal/util"
)

// output is the JSON document written for the report layer.
type output struct {
	RunID       string                  `json:"run_id"`
	GeneratedAt time.Time               `json:"generated_at"`
	Mode        string                  `json:"mode"`
	Symbols     []string                `json:"symbols"`
	Result      *portfolio.Result       `json:"result,omitempty"`
	Stress      *portfolio.StressReport `json:"stress,omitempty"`
}

func main() {
	cfgPath := flag.String("config", config.Path(), "path to the YAML config")
	symbolsFlag := flag.String("symbols", "", "comma-separated symbols, overriding backtest.symbols")
	stress := flag.Bool("stress", false, "run the 0/30/50 bps stress comparison")
	outPath := flag.String("out", "-", "output file for JSON results, - for stdout")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	runID := uuid.NewString()
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format).With("run_id", runID)
	util.SetDefault(logger)

	if err := run(cfg, runID, *symbolsFlag, *stress || cfg.Backtest.StressCompare, *outPath, logger); err != nil {
		logger.Error("wf-portfolio failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, runID, symbolsFlag string, stress bool, outPath string, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(cfg.Storage.Backend, cfg.Storage.DataDir, cfg.Storage.SQLitePath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	if c, ok := st.(io.Closer); ok {
		defer c.Close()
	}

	symbols, err := resolveSymbols(ctx, cfg.Backtest, symbolsFlag, st)
	if err != nil {
		return err
	}

	agg, err := newAggregator(cfg, st, symbols, logger)
	if err != nil {
		return err
	}

	out := output{RunID: runID, Mode: "run", Symbols: symbols}
	logger.Info("starting wf-portfolio", "symbols", len(symbols), "stress", stress, "backend", cfg.Storage.Backend)
	if stress {
		out.Mode = "stress"
		out.Stress, err = agg.StressCompare(ctx)
	} else {
		out.Result, err = agg.Run(ctx)
	}
	if err != nil {
		return err
	}
	out.GeneratedAt = time.Now().UTC()

	return writeJSON(outPath, out)
}

// resolveSymbols prefers the flag, then the config, then every symbol in
// the store.
func resolveSymbols(ctx context.Context, bt config.Backtest, flagValue string, st store.Store) ([]string, error) {
	if flagValue != "" {
		var symbols []string
		for _, s := range strings.Split(flagValue, ",") {
			if s = strings.TrimSpace(s); s != "" {
				symbols = append(symbols, s)
			}
		}
		return symbols, nil
	}
	if len(bt.Symbols) > 0 {
		return bt.Symbols, nil
	}
	symbols, err := st.ListSymbols(ctx, bt.Source)
	if err != nil {
		return nil, fmt.Errorf("listing symbols: %w", err)
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("no symbols configured and none stored for source %q", bt.Source)
	}
	return symbols, nil
}

func writeJSON(path string, v any) error {
	w := io.Writer(os.Stdout)
	if path != "-" && path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
