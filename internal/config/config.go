package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	DataSource DataSourceConfig `yaml:"data_source"`
	Cache      CacheConfig      `yaml:"cache"`
	Backtest   BacktestConfig   `yaml:"backtest"`
	Models     []ModelConfig    `yaml:"models"`
	Ensemble   EnsembleConfig   `yaml:"ensemble"`
	Selection  SelectionConfig  `yaml:"selection"`
	Report     ReportConfig     `yaml:"report"`
	Registry   struct {
		StateFile string `yaml:"state_file"`
	} `yaml:"registry"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	Schedule struct {
		EvaluateCron string `yaml:"evaluate_cron"`
	} `yaml:"schedule"`
	Metrics struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
	Proxy   string        `yaml:"proxy"`
}

// DataSourceConfig selects where price history comes from.
type DataSourceConfig struct {
	Provider     string        `yaml:"provider"` // yahoo, binance, csv
	BaseURL      string        `yaml:"base_url"`
	CSVDir       string        `yaml:"csv_dir"`
	Symbols      []string      `yaml:"symbols"`
	Interval     time.Duration `yaml:"interval"`
	LookbackDays int           `yaml:"lookback_days"`
	GapTolerance int           `yaml:"gap_tolerance"` // missing samples that may be interpolated
	RateLimit    float64       `yaml:"rate_limit"`    // requests per second
}

// CacheConfig configures the Redis bar cache. Empty Addr disables it.
type CacheConfig struct {
	Addr     string        `yaml:"addr"`
	DB       int           `yaml:"db"`
	Password string        `yaml:"password"`
	TTL      time.Duration `yaml:"ttl"`
}

// BacktestConfig configures fold generation and cell execution.
type BacktestConfig struct {
	FoldCount   int           `yaml:"fold_count"`
	Horizon     int           `yaml:"horizon"`
	Stride      int           `yaml:"stride"`
	Policy      string        `yaml:"policy"` // stride, linspace
	EvalWindow  int           `yaml:"eval_window"`
	MinTrain    int           `yaml:"min_train"`
	TrainWindow int           `yaml:"train_window"` // 0 = expanding
	Workers     int           `yaml:"workers"`
	CellTimeout time.Duration `yaml:"cell_timeout"`
}

// ModelConfig declares one model adapter of the evaluation set.
type ModelConfig struct {
	Kind   string             `yaml:"kind"`
	Name   string             `yaml:"name"`
	Params map[string]float64 `yaml:"params"`
}

// EnsembleConfig configures the ensemble combiner when one is declared.
type EnsembleConfig struct {
	Members   []string           `yaml:"members"`
	Weighting string             `yaml:"weighting"` // equal, fixed, inverse_mape
	Weights   map[string]float64 `yaml:"weights"`
}

// SelectionConfig controls the recommendation and promotion step.
type SelectionConfig struct {
	CurrentModel      string  `yaml:"current_model"`
	MinImprovementPct float64 `yaml:"min_improvement_pct"`
	AutoPromote       bool    `yaml:"auto_promote"`
}

// ReportConfig controls where rendered reports go.
type ReportConfig struct {
	OutputDir string `yaml:"output_dir"`
	S3Bucket  string `yaml:"s3_bucket"`
	S3Prefix  string `yaml:"s3_prefix"`
	S3Region  string `yaml:"s3_region"`
}

// LoggingConfig configures the logrus logger.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // text, json
	Output     string `yaml:"output"` // stdout, file, both
	Directory  string `yaml:"directory"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// Model kinds understood by the forecast factory.
var knownKinds = map[string]bool{
	"naive":               true,
	"damped_trend":        true,
	"gradient_boosted":    true,
	"trend_decomposition": true,
	"autoregressive":      true,
	"recurrent_sequence":  true,
	"ensemble":            true,
}

// Load reads config from a YAML file, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.presetDefaults()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Proxy = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("BENCH_SYMBOLS"); v != "" {
		cfg.DataSource.Symbols = splitList(v)
	}
	if v := os.Getenv("CRON_EVALUATE"); v != "" {
		cfg.Schedule.EvaluateCron = v
	}
	if v := os.Getenv("S3_BUCKET"); v != "" {
		cfg.Report.S3Bucket = v
	}

	cfg.applyDefaults()
	return cfg, nil
}

// Default returns a config with every default applied and no file or
// environment input.
func Default() *Config {
	cfg := &Config{}
	cfg.presetDefaults()
	cfg.applyDefaults()
	return cfg
}

// presetDefaults sets the fields for which zero is a meaningful value. They
// are filled before parsing so an explicit 0 in the file is kept.
func (c *Config) presetDefaults() {
	c.DataSource.GapTolerance = 2
	c.Selection.MinImprovementPct = 5
}

func (c *Config) applyDefaults() {
	if c.DataSource.Provider == "" {
		c.DataSource.Provider = "yahoo"
	}
	if len(c.DataSource.Symbols) == 0 {
		c.DataSource.Symbols = []string{"BTC"}
	}
	if c.DataSource.Interval == 0 {
		c.DataSource.Interval = 24 * time.Hour
	}
	if c.DataSource.LookbackDays == 0 {
		c.DataSource.LookbackDays = 365
	}
	if c.DataSource.RateLimit == 0 {
		c.DataSource.RateLimit = 2
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = 24 * time.Hour
	}

	if c.Backtest.FoldCount == 0 {
		c.Backtest.FoldCount = 5
	}
	if c.Backtest.Horizon == 0 {
		c.Backtest.Horizon = 7
	}
	if c.Backtest.Stride == 0 {
		c.Backtest.Stride = c.Backtest.Horizon
	}
	if c.Backtest.Policy == "" {
		c.Backtest.Policy = "stride"
	}
	if c.Backtest.EvalWindow == 0 {
		c.Backtest.EvalWindow = 60
	}
	if c.Backtest.MinTrain == 0 {
		c.Backtest.MinTrain = 100
	}
	if c.Backtest.Workers == 0 {
		c.Backtest.Workers = 1
	}
	if c.Backtest.CellTimeout == 0 {
		c.Backtest.CellTimeout = 60 * time.Second
	}

	if len(c.Models) == 0 {
		c.Models = DefaultModels()
	}
	for i := range c.Models {
		if c.Models[i].Name == "" {
			c.Models[i].Name = c.Models[i].Kind
		}
	}
	if c.Ensemble.Weighting == "" {
		c.Ensemble.Weighting = "equal"
	}
	if len(c.Ensemble.Members) == 0 {
		c.Ensemble.Members = []string{"trend_decomposition", "autoregressive", "gradient_boosted"}
	}

	if c.Selection.CurrentModel == "" {
		c.Selection.CurrentModel = "trend_decomposition"
	}
	if c.Report.OutputDir == "" {
		c.Report.OutputDir = "data/reports"
	}
	if c.Report.S3Prefix == "" {
		c.Report.S3Prefix = "forecastbench"
	}
	if c.Registry.StateFile == "" {
		c.Registry.StateFile = "data/deployed_models.json"
	}
	if c.Database.SQLitePath == "" {
		c.Database.SQLitePath = "data/forecastbench.db"
	}
	if c.Schedule.EvaluateCron == "" {
		c.Schedule.EvaluateCron = "0 0 8 * * 1"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
	if c.Logging.Directory == "" {
		c.Logging.Directory = "logs"
	}
	if c.Logging.MaxSize == 0 {
		c.Logging.MaxSize = 50
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 5
	}
	if c.Logging.MaxAge == 0 {
		c.Logging.MaxAge = 30
	}
}

// DefaultModels is the evaluation set used when the config declares none.
func DefaultModels() []ModelConfig {
	return []ModelConfig{
		{Kind: "trend_decomposition", Name: "trend_decomposition"},
		{Kind: "autoregressive", Name: "autoregressive"},
		{Kind: "recurrent_sequence", Name: "recurrent_sequence"},
		{Kind: "gradient_boosted", Name: "gradient_boosted"},
		{Kind: "ensemble", Name: "ensemble"},
	}
}

// Validate checks that all required fields are set.
func (c *Config) Validate() error {
	switch c.DataSource.Provider {
	case "yahoo", "binance":
	case "csv":
		if c.DataSource.CSVDir == "" {
			return fmt.Errorf("data_source.csv_dir is required for the csv provider")
		}
	default:
		return fmt.Errorf("data_source.provider %q is not supported", c.DataSource.Provider)
	}
	if c.DataSource.GapTolerance < 0 {
		return fmt.Errorf("data_source.gap_tolerance must not be negative")
	}
	if c.Backtest.FoldCount <= 0 {
		return fmt.Errorf("backtest.fold_count must be positive")
	}
	if c.Backtest.Horizon <= 0 {
		return fmt.Errorf("backtest.horizon must be positive")
	}
	if c.Backtest.Stride <= 0 {
		return fmt.Errorf("backtest.stride must be positive")
	}
	if c.Backtest.Policy != "stride" && c.Backtest.Policy != "linspace" {
		return fmt.Errorf("backtest.policy %q is not supported", c.Backtest.Policy)
	}
	if c.Backtest.MinTrain < 2 {
		return fmt.Errorf("backtest.min_train must be at least 2")
	}
	if c.Backtest.Workers < 1 {
		return fmt.Errorf("backtest.workers must be at least 1")
	}

	names := make(map[string]string, len(c.Models))
	hasEnsemble := false
	for _, m := range c.Models {
		if !knownKinds[m.Kind] {
			return fmt.Errorf("models: unknown kind %q", m.Kind)
		}
		if _, dup := names[m.Name]; dup {
			return fmt.Errorf("models: duplicate name %q", m.Name)
		}
		names[m.Name] = m.Kind
		if m.Kind == "ensemble" {
			hasEnsemble = true
		}
	}
	if hasEnsemble {
		for _, member := range c.Ensemble.Members {
			kind, ok := names[member]
			if !ok {
				return fmt.Errorf("ensemble.members: %q is not a configured model", member)
			}
			if kind == "ensemble" {
				return fmt.Errorf("ensemble.members: %q is itself an ensemble", member)
			}
		}
		switch c.Ensemble.Weighting {
		case "equal", "inverse_mape":
		case "fixed":
			for _, member := range c.Ensemble.Members {
				if c.Ensemble.Weights[member] < 0 {
					return fmt.Errorf("ensemble.weights: %q must not be negative", member)
				}
			}
		default:
			return fmt.Errorf("ensemble.weighting %q is not supported", c.Ensemble.Weighting)
		}
	}
	if c.Selection.MinImprovementPct < 0 {
		return fmt.Errorf("selection.min_improvement_pct must not be negative")
	}
	return nil
}

// RequiresTelegram reports whether both Telegram credentials are present.
func (c *Config) RequiresTelegram() bool {
	return c.Telegram.BotToken != "" && c.Telegram.ChatID != ""
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, strings.ToUpper(s))
		}
	}
	return out
}
