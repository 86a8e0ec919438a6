package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Giafferri/neo-rl-exec/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigJSON(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"data_paths": ["data/a.csv", "data/b.csv"],
		"simulation": {"goal": "base", "target": 0.2, "duration": 120},
		"fees": {"taker_bps": 5}
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"data/a.csv", "data/b.csv"}, cfg.DataPaths)
	assert.Equal(t, models.GoalBase, cfg.Simulation.Goal)
	assert.Equal(t, 0.2, cfg.Simulation.Target)
	assert.Equal(t, 120, cfg.Simulation.Duration)
	assert.Equal(t, 5.0, cfg.Fees.TakerBps)
	// 未指定的字段保留默认值
	assert.Equal(t, 2.5, cfg.Fees.MakerBps)
	assert.Equal(t, 50.0, cfg.Fees.MinFeeUSD)
	assert.Equal(t, 100.0, cfg.Reward.PnLWeightStep)
	require.NoError(t, Validate(cfg, true))
}

func TestLoadConfigYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
data_paths:
  - data/replay.csv
symbol: XBTUSD
simulation:
  initial_cash: 1000000
  goal: cash
  duration: 60
indicators:
  levels: 10
log:
  level: debug
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"data/replay.csv"}, cfg.DataPaths)
	assert.Equal(t, 1000000.0, cfg.Simulation.InitialCash)
	assert.Equal(t, 60, cfg.Simulation.Duration)
	assert.Equal(t, 10, cfg.Indicators.Levels)
	assert.Equal(t, "debug", cfg.LogConfig.Level)
	assert.Equal(t, 0.8, cfg.Indicators.TopThreshold)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	path := writeFile(t, "config.json", `{"data_paths": ["from-file.csv"]}`)
	t.Setenv("LOBSIM_DATA_PATHS", "x.csv,y.csv")
	t.Setenv("LOBSIM_DURATION", "42")
	t.Setenv("LOBSIM_LOG_LEVEL", "error")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"x.csv", "y.csv"}, cfg.DataPaths)
	assert.Equal(t, 42, cfg.Simulation.Duration)
	assert.Equal(t, "error", cfg.LogConfig.Level)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	path := writeFile(t, "broken.json", `{"simulation": `)
	_, err = LoadConfig(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(c *models.Config)
	}{
		{"no data", func(c *models.Config) { c.DataPaths = nil }},
		{"unknown goal", func(c *models.Config) { c.Simulation.Goal = "eth" }},
		{"zero duration", func(c *models.Config) { c.Simulation.Duration = 0 }},
		{"zero target", func(c *models.Config) { c.Simulation.Target = 0 }},
		{"negative fee", func(c *models.Config) { c.Fees.TakerBps = -1 }},
		{"too many levels", func(c *models.Config) { c.Indicators.Levels = 21 }},
		{"no depth levels", func(c *models.Config) { c.Simulation.DepthLevels = 0 }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.DataPaths = []string{"data.csv"}
			tc.mutate(cfg)
			assert.ErrorIs(t, Validate(cfg, true), ErrInvalidConfig)
		})
	}

	// 录制模式不需要数据文件
	assert.NoError(t, Validate(Defaults(), false))
	assert.ErrorIs(t, Validate(nil, false), ErrInvalidConfig)
}

func TestGoalAliasesAreNormalised(t *testing.T) {
	path := writeFile(t, "config.yaml", "simulation:\n  goal: USD\n")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, models.GoalCash, cfg.Simulation.Goal)

	for alias, want := range map[models.Goal]models.Goal{
		"usd":   models.GoalCash,
		"Cash":  models.GoalCash,
		"btc":   models.GoalBase,
		" BASE": models.GoalBase,
	} {
		cfg := Defaults()
		cfg.Simulation.Goal = alias
		require.NoError(t, Validate(cfg, false), alias)
		assert.Equal(t, want, cfg.Simulation.Goal, alias)
	}
}
