package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Giafferri/neo-rl-exec/internal/models"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Defaults 返回默认配置, 与原始模拟器的参数保持一致
func Defaults() *models.Config {
	return &models.Config{
		Symbol: "XBTUSD",
		Simulation: models.SimulationConfig{
			InitialCash:    50_000_000,
			InitialBase:    250,
			Goal:           models.GoalCash,
			Target:         0.1,
			Duration:       3600,
			StartIndex:     1,
			BuyAmountUSD:   100_000,
			SellAmountBase: 5,
			DepthLevels:    5,
		},
		Fees: models.FeeConfig{
			MakerBps:  2.5,
			TakerBps:  7.0,
			MinFeeUSD: 50,
		},
		Indicators: models.IndicatorConfig{
			Levels:           5,
			TopThreshold:     0.8,
			MultiThreshold:   0.6,
			OFIThreshold:     0.05,
			SlippageQuantity: 30,
		},
		Reward: models.RewardConfig{
			PnLWeightStep:      100,
			PnLWeightFinal:     5,
			StepLightPenalty:   1,
			StepHeavyPenalty:   2,
			FinalLightPenalty:  5,
			FinalHeavyPenalty:  50,
			NotAchievedPenalty: 10,
		},
		Recorder: models.RecorderConfig{
			Symbol:       "BTCUSDT",
			IntervalMs:   1000,
			Count:        60,
			Output:       "data/replay/recorded.csv",
			RequestBurst: 1,
		},
		LogConfig: models.LogConfig{
			Level:      "info",
			Output:     "console",
			File:       "logs/lobsim.log",
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     30,
		},
	}
}

// LoadConfig 从指定路径加载配置文件 (.json / .yaml / .yml), 覆盖在默认配置之上,
// 然后应用 LOBSIM_* 环境变量。返回的配置尚未校验。
func LoadConfig(path string) (*models.Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Defaults()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, cfg)
	default:
		err = json.Unmarshal(raw, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	ApplyEnvOverrides(cfg)
	// 别名 (usd / btc / 大写) 统一为规范值; 非法值留给 Validate 报告
	if goal, err := models.ParseGoal(string(cfg.Simulation.Goal)); err == nil {
		cfg.Simulation.Goal = goal
	}
	return cfg, nil
}

// ApplyEnvOverrides 读取 LOBSIM_* 环境变量并覆盖对应字段 (变量非空时)。
func ApplyEnvOverrides(cfg *models.Config) {
	if v := os.Getenv("LOBSIM_DATA_PATHS"); v != "" {
		cfg.DataPaths = strings.Split(v, ",")
	}
	setStr(&cfg.Symbol, "LOBSIM_SYMBOL")
	setStr(&cfg.DBPath, "LOBSIM_DB_PATH")
	setStr(&cfg.LogConfig.Level, "LOBSIM_LOG_LEVEL")
	setStr(&cfg.LogConfig.Output, "LOBSIM_LOG_OUTPUT")
	setStr(&cfg.Recorder.Symbol, "LOBSIM_RECORDER_SYMBOL")
	setInt(&cfg.Simulation.Duration, "LOBSIM_DURATION")
}

// Validate 检查配置是否可以用于回放, 并把 simulation.goal 规范化为 cash 或 base。
// requireData 为 false 时不检查数据文件 (录制/查询模式)。
func Validate(cfg *models.Config, requireData bool) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalidConfig)
	}
	if requireData && len(cfg.DataPaths) == 0 {
		return fmt.Errorf("%w: data_paths is required", ErrInvalidConfig)
	}

	goal, err := models.ParseGoal(string(cfg.Simulation.Goal))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg.Simulation.Goal = goal

	sim := cfg.Simulation
	if sim.Duration <= 0 {
		return fmt.Errorf("%w: simulation.duration must be positive", ErrInvalidConfig)
	}
	if sim.Target <= 0 {
		return fmt.Errorf("%w: simulation.target must be positive", ErrInvalidConfig)
	}
	if sim.StartIndex < 0 {
		return fmt.Errorf("%w: simulation.start_index must not be negative", ErrInvalidConfig)
	}
	if sim.DepthLevels < 1 || sim.DepthLevels > models.LevelsPerSide {
		return fmt.Errorf("%w: simulation.depth_levels must be within 1..%d", ErrInvalidConfig, models.LevelsPerSide)
	}
	if cfg.Fees.MakerBps < 0 || cfg.Fees.TakerBps < 0 || cfg.Fees.MinFeeUSD < 0 {
		return fmt.Errorf("%w: fees must not be negative", ErrInvalidConfig)
	}
	if cfg.Indicators.Levels < 1 || cfg.Indicators.Levels > models.LevelsPerSide {
		return fmt.Errorf("%w: indicators.levels must be within 1..%d", ErrInvalidConfig, models.LevelsPerSide)
	}
	return nil
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
