package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the configuration file used when WFENGINE_CONFIG is unset.
const DefaultPath = "config/wfengine.yaml"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the walk-forward engine.
type Config struct {
	Storage   Storage        `yaml:"storage"`
	Alpaca    Alpaca         `yaml:"alpaca"`
	Logging   Logging        `yaml:"logging"`
	Gather    GatherConfig   `yaml:"gather"`
	Backtest  Backtest       `yaml:"backtest"`
	Execution Execution      `yaml:"execution"`
	Strategy  StrategyConfig `yaml:"strategy"`
}

// Storage selects the candle store.
type Storage struct {
	Backend    string `yaml:"backend"` // "parquet" or "sqlite"
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Alpaca holds credentials and endpoints for the Alpaca API. BaseURL is the
// trading API, used for the market calendar.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// GatherConfig controls daily-bar backfill.
type GatherConfig struct {
	USDaily GatherJobConfig `yaml:"us_daily"`
}

// GatherJobConfig holds parameters for a single data gathering job.
type GatherJobConfig struct {
	StartDate       string `yaml:"start_date"`
	BatchSize       int    `yaml:"batch_size"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
	RateLimitBurst  int    `yaml:"rate_limit_burst"` // calls allowed back to back
	MaxWorkers      int    `yaml:"max_workers"`
	Feed            string `yaml:"feed"`
	// SymbolsCSV optionally lists extra symbols (first column, header row).
	SymbolsCSV string `yaml:"symbols_csv"`
}

// Backtest is the run configuration for a walk-forward portfolio run.
type Backtest struct {
	Symbols   []string `yaml:"symbols"` // empty means every symbol in the store
	Source    string   `yaml:"source"`
	StartDate string   `yaml:"start_date"`
	EndDate   string   `yaml:"end_date"`

	InSampleDays  int `yaml:"in_sample_days"`
	OutSampleDays int `yaml:"out_sample_days"`
	StepDays      int `yaml:"step_days"`
	WarmupDays    int `yaml:"warmup_days"`
	MinOOSTrades  int `yaml:"min_oos_trades"`

	MaxPositions    int     `yaml:"max_positions"`
	Weighting       string  `yaml:"weighting"` // "equal" or "inv-vol"
	VolLookbackDays int     `yaml:"vol_lookback_days"`
	MaxWeight       float64 `yaml:"max_weight"`
	SlippageBps     float64 `yaml:"slippage_bps"` // fixed override; 0 = model

	DDReduceThreshold float64 `yaml:"dd_reduce_threshold"`
	DDHaltThreshold   float64 `yaml:"dd_halt_threshold"`
	DDLookback        int     `yaml:"dd_lookback"`

	BenchmarkFilter   bool   `yaml:"benchmark_filter"`
	Benchmark         string `yaml:"benchmark"`
	BenchmarkMAPeriod int    `yaml:"benchmark_ma_period"`
	SymbolMAFilter    bool   `yaml:"symbol_ma_filter"`
	SymbolMAPeriod    int    `yaml:"symbol_ma_period"`

	MinValidRatio float64 `yaml:"min_valid_ratio"` // 0 disables the guard
	StressCompare bool    `yaml:"stress_compare"`
	Density       float64 `yaml:"density"`
	MaxWorkers    int     `yaml:"max_workers"`
	LoadRetries   int     `yaml:"load_retries"`
}

// Dates parses StartDate and EndDate (YYYY-MM-DD, UTC).
func (b Backtest) Dates() (start, end time.Time, err error) {
	start, err = time.Parse(time.DateOnly, b.StartDate)
	if err != nil {
		return start, end, fmt.Errorf("backtest.start_date: %w", err)
	}
	end, err = time.Parse(time.DateOnly, b.EndDate)
	if err != nil {
		return start, end, fmt.Errorf("backtest.end_date: %w", err)
	}
	return start, end, nil
}

// Execution holds simulator parameters.
type Execution struct {
	InitialCapital  float64  `yaml:"initial_capital"`
	CommissionRate  float64  `yaml:"commission_rate"`
	CapitalFraction float64  `yaml:"capital_fraction"`
	SpreadPct       float64  `yaml:"spread_pct"`
	VolumeLookback  int      `yaml:"volume_lookback"`
	Sizing          string   `yaml:"sizing"` // "fraction" or "risk"
	RiskPct         float64  `yaml:"risk_pct"`
	MaxPositionPct  float64  `yaml:"max_position_pct"`
	Slippage        Slippage `yaml:"slippage"`
}

// Slippage configures the volume/spread slippage model.
type Slippage struct {
	Model            string  `yaml:"model"` // "fixed", "linear" or "sqrt"
	BaseBps          float64 `yaml:"base_bps"`
	ImpactCoef       float64 `yaml:"impact_coef"`
	StressMultiplier float64 `yaml:"stress_multiplier"`
	MaxPct           float64 `yaml:"max_pct"`
}

// StrategyConfig selects strategies per symbol and holds their parameters.
type StrategyConfig struct {
	Default string `yaml:"default"`
	// AssetClasses maps an asset class to a strategy name.
	AssetClasses map[string]string `yaml:"asset_classes"`
	// Symbols maps a symbol to its asset class.
	Symbols map[string]string `yaml:"symbols"`

	SimpleMA   SimpleMAParams   `yaml:"simple_ma"`
	EnhancedMA EnhancedMAParams `yaml:"enhanced_ma"`
	BBSqueeze  BBSqueezeParams  `yaml:"bb_squeeze"`
	Regime     RegimeParams     `yaml:"regime"`
}

// Overrides resolves Symbols through AssetClasses into SYMBOL → strategy.
func (s StrategyConfig) Overrides() (map[string]string, error) {
	out := make(map[string]string, len(s.Symbols))
	for sym, class := range s.Symbols {
		name, ok := s.AssetClasses[class]
		if !ok {
			return nil, fmt.Errorf("strategy.symbols: %s has unknown asset class %q", sym, class)
		}
		out[strings.ToUpper(sym)] = name
	}
	return out, nil
}

type SimpleMAParams struct {
	Short int `yaml:"short"`
	Long  int `yaml:"long"`
}

type EnhancedMAParams struct {
	Short         int     `yaml:"short"`
	Long          int     `yaml:"long"`
	ATRPeriod     int     `yaml:"atr_period"`
	StopMult      float64 `yaml:"stop_mult"`
	SlopeLookback int     `yaml:"slope_lookback"`
	UseMA200      bool    `yaml:"use_ma200"`
	UseADX        bool    `yaml:"use_adx"`
	ADXPeriod     int     `yaml:"adx_period"`
	ADXMin        float64 `yaml:"adx_min"`
}

type BBSqueezeParams struct {
	BBPeriod  int     `yaml:"bb_period"`
	BBStdDev  float64 `yaml:"bb_std_dev"`
	KCPeriod  int     `yaml:"kc_period"`
	KCMult    float64 `yaml:"kc_mult"`
	ATRPeriod int     `yaml:"atr_period"`
	StopMult  float64 `yaml:"stop_mult"`
}

type RegimeParams struct {
	ShortPeriod int     `yaml:"short_period"`
	LongPeriod  int     `yaml:"long_period"`
	ADXPeriod   int     `yaml:"adx_period"`
	WeakADX     float64 `yaml:"weak_adx"`
	TrendADX    float64 `yaml:"trend_adx"`
}

// ---------------------------------------------------------------------------
// Defaults
// ---------------------------------------------------------------------------

// Default returns the configuration used for any field the file omits.
func Default() *Config {
	return &Config{
		Storage: Storage{Backend: "parquet", DataDir: "data", SQLitePath: "data/wfengine.db"},
		Alpaca:  Alpaca{BaseURL: "https://api.alpaca.markets"},
		Logging: Logging{Level: "info", Format: "json"},
		Gather: GatherConfig{
			USDaily: GatherJobConfig{StartDate: "2015-01-01", BatchSize: 100, RateLimitPerMin: 200, RateLimitBurst: 4, MaxWorkers: 4, Feed: "sip"},
		},
		Backtest: Backtest{
			Source:            "us",
			InSampleDays:      252,
			OutSampleDays:     63,
			StepDays:          63,
			WarmupDays:        300,
			MinOOSTrades:      1,
			MaxPositions:      5,
			Weighting:         "equal",
			VolLookbackDays:   60,
			MaxWeight:         1,
			DDReduceThreshold: 0.10,
			DDHaltThreshold:   0.20,
			Benchmark:         "SPY",
			BenchmarkMAPeriod: 200,
			SymbolMAPeriod:    200,
			Density:           0.6,
			MaxWorkers:        4,
			LoadRetries:       3,
		},
		Execution: Execution{
			InitialCapital:  100000,
			CommissionRate:  0.001,
			CapitalFraction: 0.95,
			SpreadPct:       0.0005,
			VolumeLookback:  20,
			Sizing:          "fraction",
			RiskPct:         0.01,
			Slippage:        Slippage{Model: "sqrt", BaseBps: 2, ImpactCoef: 0.1, StressMultiplier: 1, MaxPct: 0.05},
		},
		Strategy: StrategyConfig{
			Default:    "regime-adaptive",
			SimpleMA:   SimpleMAParams{Short: 20, Long: 50},
			EnhancedMA: EnhancedMAParams{Short: 20, Long: 50, ATRPeriod: 14, StopMult: 2, SlopeLookback: 5, UseMA200: true, UseADX: true, ADXPeriod: 14, ADXMin: 20},
			BBSqueeze:  BBSqueezeParams{BBPeriod: 20, BBStdDev: 2, KCPeriod: 20, KCMult: 1.5, ATRPeriod: 14, StopMult: 2},
			Regime:     RegimeParams{ShortPeriod: 50, LongPeriod: 200, ADXPeriod: 14, WeakADX: 20, TrendADX: 25},
		},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Path returns WFENGINE_CONFIG or DefaultPath.
func Path() string {
	if v := os.Getenv("WFENGINE_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads the YAML configuration file at the given path over Default(),
// and then applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}

	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}

	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("WFENGINE_SLIPPAGE_BPS"); v != "" {
		bps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("WFENGINE_SLIPPAGE_BPS: %w", err)
		}
		cfg.Backtest.SlippageBps = bps
	}

	// Standard Alpaca env vars (highest priority, canonical names used by the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	return nil
}
