package main

import (
	"context"
	"errors"
	"flag"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Giafferri/neo-rl-exec/internal/bot"
	"github.com/Giafferri/neo-rl-exec/internal/config"
	"github.com/Giafferri/neo-rl-exec/internal/downloader"
	"github.com/Giafferri/neo-rl-exec/internal/env"
	"github.com/Giafferri/neo-rl-exec/internal/indicators"
	"github.com/Giafferri/neo-rl-exec/internal/ingestion"
	"github.com/Giafferri/neo-rl-exec/internal/logger"
	"github.com/Giafferri/neo-rl-exec/internal/models"
	"github.com/Giafferri/neo-rl-exec/internal/orderbook"
	"github.com/Giafferri/neo-rl-exec/internal/persistence"
	"github.com/Giafferri/neo-rl-exec/internal/reporter"
	"github.com/Giafferri/neo-rl-exec/internal/statemanager"

	"github.com/joho/godotenv"
)

func main() {
	// --- 命令行参数定义 ---
	configPath := flag.String("config", "config.yaml", "path to the config file (.json or .yaml)")
	mode := flag.String("mode", "simulate", "running mode: simulate, env, show, record, ingest or episodes")
	policyName := flag.String("policy", "interactive", "simulate policy: interactive, twap or hold")
	ts := flag.Int64("ts", 0, "first timestamp (ns) to show; defaults to the start index")
	count := flag.Int("count", 0, "episodes for env mode, samples for record mode, snapshots for show mode")
	in := flag.String("in", "", "ingest input: a raw XBTUSD_*.csv file or a directory of them")
	out := flag.String("out", "", "ingest/record output path")
	flag.Parse()

	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	// --- 加载 .env 文件 ---
	if err := godotenv.Load(); err != nil {
		logger.S().Debug("未找到 .env 文件，将从系统环境变量中读取。")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("无法加载配置文件: %v", err)
	}
	goal, err := models.ParseGoal(string(cfg.Simulation.Goal))
	if err != nil {
		logger.S().Fatalf("配置无效: %v", err)
	}
	cfg.Simulation.Goal = goal

	// --- 使用文件中的配置重新初始化日志 ---
	logger.InitLogger(cfg.LogConfig)
	defer logger.S().Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch *mode {
	case "simulate":
		mustValidate(cfg, true)
		runSimulate(ctx, cfg, *policyName)
	case "env":
		mustValidate(cfg, true)
		runEnv(ctx, cfg, *count)
	case "show":
		mustValidate(cfg, true)
		runShow(ctx, cfg, *ts, *count)
	case "record":
		runRecord(ctx, cfg, *count, *out)
	case "ingest":
		runIngest(ctx, *in, *out)
	case "episodes":
		runEpisodes(cfg)
	default:
		logger.S().Fatalf("未知的运行模式: %s", *mode)
	}
}

// loadConfig 读取配置文件; 文件不存在时使用默认配置和环境变量
func loadConfig(path string) (*models.Config, error) {
	cfg, err := config.LoadConfig(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.S().Infof("配置文件 %s 不存在，使用默认配置。", path)
		cfg = config.Defaults()
		config.ApplyEnvOverrides(cfg)
		return cfg, nil
	}
	return cfg, err
}

func mustValidate(cfg *models.Config, requireData bool) {
	if err := config.Validate(cfg, requireData); err != nil {
		logger.S().Fatal(err)
	}
}

func loadSeries(ctx context.Context, cfg *models.Config) *orderbook.Series {
	start := time.Now()
	series, err := orderbook.LoadSeries(ctx, cfg.DataPaths...)
	if err != nil {
		logger.S().Fatalf("无法加载订单簿数据: %v", err)
	}
	logger.S().Infof("加载了 %d 个快照 (%d 个文件), 耗时 %s", series.Len(), len(cfg.DataPaths), time.Since(start).Round(time.Millisecond))
	return series
}

// openRepository 打开回合数据库; 未配置 db_path 时返回 nil
func openRepository(cfg *models.Config) persistence.EpisodeRepository {
	if cfg.DBPath == "" {
		return nil
	}
	repo, err := persistence.NewBadgerRepository(cfg.DBPath)
	if err != nil {
		logger.S().Fatalf("无法打开数据库 %s: %v", cfg.DBPath, err)
	}
	return repo
}

// runSimulate 运行一个回放回合
func runSimulate(ctx context.Context, cfg *models.Config, policyName string) {
	logger.S().Info("--- 启动回放模式 ---")
	series := loadSeries(ctx, cfg)

	policy, err := bot.NewPolicy(policyName, os.Stdin, os.Stdout)
	if err != nil {
		logger.S().Fatal(err)
	}
	if policyName == "interactive" {
		cfg.Simulation.ShowBook = true
	}

	var sm *statemanager.StateManager
	if repo := openRepository(cfg); repo != nil {
		defer repo.Close()
		sm = statemanager.NewStateManager(nil, repo, logger.L())
		sm.Start()
		defer sm.Stop()
	}

	sim := bot.NewSimulator(cfg, series, policy, sm, logger.L())
	sim.SetOutput(os.Stdout)
	report, err := sim.Run(ctx)
	if err != nil {
		logger.S().Fatalf("回放失败: %v", err)
	}
	logger.S().Infof("回合 %s 完成。", report.EpisodeID)
}

// runEnv 用随机动作运行若干个 RL 回合, 检查环境和奖励
func runEnv(ctx context.Context, cfg *models.Config, episodes int) {
	if episodes <= 0 {
		episodes = 1
	}
	series := loadSeries(ctx, cfg)
	e := env.New(cfg, series, logger.L())
	logger.S().Infof("观测维度: %d, 动作数: %d", e.ObservationDim(), e.NumActions())

	for ep := 1; ep <= episodes; ep++ {
		if _, err := e.Reset(); err != nil {
			logger.S().Fatalf("重置环境失败: %v", err)
		}
		var ret float64
		var res env.StepResult
		for !res.Done() {
			if ctx.Err() != nil {
				return
			}
			var err error
			res, err = e.Step(models.Action(rand.Intn(e.NumActions())))
			if err != nil {
				logger.S().Fatalf("第 %d 回合执行失败: %v", ep, err)
			}
			ret += res.Reward
		}
		logger.S().Infof("回合 %d: 步数=%d, 回报=%.4f, 达成目标=%t, PnL=%.4f%%",
			ep, res.Info.Step, ret, res.Info.Performance.AchievedGoal, res.Info.Performance.PnLPercentage)
		reporter.RenderMetrics(os.Stdout, reporter.CalculateMetrics(e.Exchange(), res.Info.Performance))
	}
}

// runShow 打印从某个时间戳开始的 count 个连续快照和指标
func runShow(ctx context.Context, cfg *models.Config, ts int64, count int) {
	series := loadSeries(ctx, cfg)
	if ts == 0 {
		var ok bool
		ts, ok = series.TimestampAt(cfg.Simulation.StartIndex)
		if !ok {
			logger.S().Fatalf("起始序号 %d 超出数据范围", cfg.Simulation.StartIndex)
		}
	}
	if count <= 0 {
		count = 5
	}
	shown, err := reporter.ShowSeries(os.Stdout, series, ts, count, indicators.OptionsFromConfig(cfg.Indicators), cfg.Indicators.Levels)
	if err != nil {
		logger.S().Fatal(err)
	}
	if shown < count {
		logger.S().Warnf("%d 个时间戳中有 %d 个不在数据中", count, count-shown)
	}
}

// runRecord 从币安录制深度快照
func runRecord(ctx context.Context, cfg *models.Config, count int, out string) {
	rc := cfg.Recorder
	if count > 0 {
		rc.Count = count
	}
	if out != "" {
		rc.Output = out
	}
	logger.S().Infof("开始录制 %s 深度: %d 次, 间隔 %dms -> %s", rc.Symbol, rc.Count, rc.IntervalMs, rc.Output)

	rec := downloader.NewDepthRecorder(rc, downloader.NewBinanceSource(), logger.L())
	n, err := rec.RecordToFile(ctx, rc.Output)
	if err != nil {
		logger.S().Fatalf("录制失败: %v", err)
	}
	logger.S().Infof("录制完成, 共 %d 个快照。", n)
}

// runIngest 转换宽格式原始数据
func runIngest(ctx context.Context, in, out string) {
	if in == "" {
		in = "data/raw"
	}
	outDir := out
	if outDir == "" {
		outDir = "data/replay"
	}
	info, err := os.Stat(in)
	if err != nil {
		logger.S().Fatal(err)
	}

	if info.IsDir() {
		n, err := ingestion.Batch(ctx, in, outDir, logger.L())
		if err != nil {
			logger.S().Fatalf("批量转换失败: %v", err)
		}
		logger.S().Infof("转换了 %d 个文件。", n)
		return
	}

	if fi, err := os.Stat(outDir); out == "" || (err == nil && fi.IsDir()) {
		out = filepath.Join(outDir, ingestion.OutputName(in))
	}
	n, err := ingestion.IngestFile(in, out)
	if err != nil {
		logger.S().Fatalf("转换失败: %v", err)
	}
	logger.S().Infof("%s -> %s (%d 个快照)", in, out, n)
}

// runEpisodes 列出数据库中的回合
func runEpisodes(cfg *models.Config) {
	repo := openRepository(cfg)
	if repo == nil {
		logger.S().Fatal("episodes 模式需要配置 db_path")
	}
	defer repo.Close()

	episodes, err := repo.ListEpisodes()
	if err != nil {
		logger.S().Fatalf("读取回合失败: %v", err)
	}
	reporter.RenderEpisodes(os.Stdout, episodes)
}
