package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "yahoo", cfg.DataSource.Provider)
	assert.Equal(t, []string{"BTC"}, cfg.DataSource.Symbols)
	assert.Equal(t, 24*time.Hour, cfg.DataSource.Interval)
	assert.Equal(t, 5, cfg.Backtest.FoldCount)
	assert.Equal(t, 7, cfg.Backtest.Horizon)
	assert.Equal(t, 7, cfg.Backtest.Stride)
	assert.Equal(t, "stride", cfg.Backtest.Policy)
	assert.Len(t, cfg.Models, len(DefaultModels()))
	assert.Equal(t, "0 0 8 * * 1", cfg.Schedule.EvaluateCron)
	assert.NoError(t, cfg.Validate())
	assert.False(t, cfg.RequiresTelegram())
}

func TestLoad_YAMLAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
data_source:
  provider: csv
  csv_dir: ./testdata
  gap_tolerance: 3
backtest:
  fold_count: 3
  horizon: 14
  policy: linspace
  cell_timeout: 5s
models:
  - kind: naive
  - kind: autoregressive
    name: ar
    params:
      max_p: 5
  - kind: ensemble
ensemble:
  members: [naive, ar]
  weighting: inverse_mape
`)
	t.Setenv("BENCH_SYMBOLS", "eth, sol")
	t.Setenv("TELEGRAM_BOT_TOKEN", "tok")
	t.Setenv("TELEGRAM_CHAT_ID", "1")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []string{"ETH", "SOL"}, cfg.DataSource.Symbols)
	assert.Equal(t, 3, cfg.DataSource.GapTolerance)
	assert.Equal(t, 14, cfg.Backtest.Stride)
	assert.Equal(t, 5*time.Second, cfg.Backtest.CellTimeout)
	assert.Equal(t, "naive", cfg.Models[0].Name)
	assert.Equal(t, "ensemble", cfg.Models[2].Name)
	assert.Equal(t, 5.0, cfg.Models[1].Params["max_p"])
	assert.True(t, cfg.RequiresTelegram())
}

func TestLoad_ExplicitZeroKept(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
data_source:
  gap_tolerance: 0
selection:
  min_improvement_pct: 0
`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0, cfg.DataSource.GapTolerance)
	assert.Equal(t, 0.0, cfg.Selection.MinImprovementPct)

	// Omitted fields still take their defaults.
	cfg, err = Load(writeConfig(t, "backtest:\n  horizon: 5\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.DataSource.GapTolerance)
	assert.Equal(t, 5.0, cfg.Selection.MinImprovementPct)
	assert.Equal(t, 2, Default().DataSource.GapTolerance)
}

func TestLoad_BadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "backtest: [unterminated"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"unknown provider", func(c *Config) { c.DataSource.Provider = "kraken" }, "provider"},
		{"csv without dir", func(c *Config) { c.DataSource.Provider = "csv" }, "csv_dir"},
		{"bad policy", func(c *Config) { c.Backtest.Policy = "random" }, "policy"},
		{"min train", func(c *Config) { c.Backtest.MinTrain = 1 }, "min_train"},
		{"unknown kind", func(c *Config) { c.Models = append(c.Models, ModelConfig{Kind: "prophet", Name: "p"}) }, "unknown kind"},
		{"duplicate name", func(c *Config) { c.Models = append(c.Models, ModelConfig{Kind: "naive", Name: "autoregressive"}) }, "duplicate"},
		{"missing member", func(c *Config) { c.Ensemble.Members = []string{"lstm"} }, "not a configured model"},
		{"nested ensemble", func(c *Config) { c.Ensemble.Members = []string{"ensemble"} }, "itself an ensemble"},
		{"bad weighting", func(c *Config) { c.Ensemble.Weighting = "median" }, "weighting"},
		{"negative weight", func(c *Config) {
			c.Ensemble.Weighting = "fixed"
			c.Ensemble.Weights = map[string]float64{"autoregressive": -1}
		}, "must not be negative"},
		{"negative improvement", func(c *Config) { c.Selection.MinImprovementPct = -1 }, "min_improvement_pct"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
