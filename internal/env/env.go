// Package env 把回放数据、执行模型和奖励函数包装成离散动作的强化学习环境
package env

import (
	"errors"
	"fmt"
	"time"

	"github.com/Giafferri/neo-rl-exec/internal/exchange"
	"github.com/Giafferri/neo-rl-exec/internal/indicators"
	"github.com/Giafferri/neo-rl-exec/internal/models"
	"github.com/Giafferri/neo-rl-exec/internal/orderbook"
	"github.com/Giafferri/neo-rl-exec/internal/scorer"

	"go.uber.org/zap"
)

// BaseObservationDim 是基础观测的长度:
// [cash, base, ask_price, bid_price, spread, mid_price, ask_volume, bid_volume]
const BaseObservationDim = 8

var (
	// ErrEpisodeDone 表示回合已结束, 需要先调用 Reset
	ErrEpisodeDone = errors.New("episode is done, call Reset")
	// ErrInvalidAction 表示动作不在 {Hold, Buy, Sell} 中
	ErrInvalidAction = errors.New("invalid action")
)

// Observation 是传给智能体的扁平观测向量
type Observation []float64

// Info 携带一步的诊断信息
type Info struct {
	Step        int
	TimestampNs int64
	Trade       models.TradeResult
	Performance models.Performance
	Penalty     float64
	SumRewards  float64
	FinalReward float64 // 只在结束步有值
}

// StepResult 是 Step 的返回值。Terminated 表示目标达成, Truncated 表示时长或数据耗尽。
type StepResult struct {
	Observation Observation
	Reward      float64
	Terminated  bool
	Truncated   bool
	Info        Info
}

// Done 报告回合是否结束
func (r StepResult) Done() bool {
	return r.Terminated || r.Truncated
}

// Env 是单个回合的执行环境, 不能被多个 goroutine 同时使用
type Env struct {
	cfg      *models.Config
	series   *orderbook.Series
	exchange *exchange.BacktestExchange
	scorer   *scorer.Scorer
	opts     indicators.Options
	logger   *zap.Logger

	idx     int // 当前快照在序列中的位置
	step    int
	acc     scorer.Accumulator
	current *models.Snapshot
	started bool
	done    bool
}

// New 创建环境。series 在环境的生命周期内只读。
func New(cfg *models.Config, series *orderbook.Series, logger *zap.Logger) *Env {
	return &Env{
		cfg:      cfg,
		series:   series,
		exchange: exchange.NewBacktestExchange(cfg),
		scorer:   scorer.New(scorer.WeightsFromConfig(cfg.Reward)),
		opts:     indicators.OptionsFromConfig(cfg.Indicators),
		logger:   logger,
	}
}

// ObservationDim 返回观测向量的长度
func (e *Env) ObservationDim() int {
	if !e.cfg.Simulation.UseFeatures {
		return BaseObservationDim
	}
	return BaseObservationDim + indicators.NumFeatures + 4*e.cfg.Simulation.DepthLevels
}

// NumActions 返回离散动作空间的大小
func (e *Env) NumActions() int {
	return models.NumActions
}

// Exchange 返回环境内部的回放账户, 用于回合结束后的报告
func (e *Env) Exchange() *exchange.BacktestExchange {
	return e.exchange
}

// Reset 恢复初始余额并回到起始快照
func (e *Env) Reset() (Observation, error) {
	e.exchange.Reset()
	e.idx = e.cfg.Simulation.StartIndex
	e.step = 0
	e.acc = scorer.Accumulator{}
	e.done = false
	e.started = false

	if err := e.load(e.idx); err != nil {
		return nil, fmt.Errorf("reset: %w", err)
	}
	e.started = true
	e.logger.Debug("environment reset",
		zap.Int("start_index", e.idx),
		zap.Int64("timestamp_ns", e.current.TimestampNs),
		zap.Int("duration", e.cfg.Simulation.Duration),
	)
	return e.observe(), nil
}

// load 把序列中第 idx 个时间戳设为当前快照
func (e *Env) load(idx int) error {
	ts, ok := e.series.TimestampAt(idx)
	if !ok {
		return fmt.Errorf("index %d outside series of %d snapshots: %w", idx, e.series.Len(), orderbook.ErrTimestampNotFound)
	}
	snap, err := e.series.GetSnapshot(ts)
	if err != nil {
		return err
	}
	e.current = snap
	e.exchange.SetSnapshot(snap)
	return nil
}

// Step 在当前快照上执行动作, 计算奖励, 然后前进到下一个快照
func (e *Env) Step(action models.Action) (StepResult, error) {
	if !e.started || e.done {
		return StepResult{}, ErrEpisodeDone
	}
	if action < models.Hold || action > models.Sell {
		return StepResult{}, fmt.Errorf("%w: %d", ErrInvalidAction, int(action))
	}

	amount := 0.0
	switch action {
	case models.Buy:
		amount = e.cfg.Simulation.BuyAmountUSD
	case models.Sell:
		amount = e.cfg.Simulation.SellAmountBase
	}
	trade := e.exchange.Execute(action, amount)
	e.step++

	sim := e.cfg.Simulation
	perf, err := scorer.GetPerformance(e.exchange.Initial(), e.exchange.Portfolio(), e.current, sim.Goal, sim.Target, sim.Duration)
	if err != nil {
		return StepResult{}, fmt.Errorf("step %d: %w", e.step, err)
	}
	sr := e.scorer.RewardAtT(perf, e.step, e.acc)
	e.acc = sr.Next

	res := StepResult{
		Reward: sr.Reward,
		Info: Info{
			Step:        e.step,
			TimestampNs: e.current.TimestampNs,
			Trade:       trade,
			Performance: perf,
			Penalty:     sr.Penalty,
		},
	}

	res.Terminated = perf.AchievedGoal
	res.Truncated = !res.Terminated && (e.step >= sim.Duration || e.idx+1 >= e.series.Len())
	if res.Done() {
		final, acc := e.scorer.FinalReward(perf, e.acc)
		e.acc = acc
		res.Reward += final
		res.Info.FinalReward = final
		e.done = true
		e.logger.Info("episode finished",
			zap.Int("steps", e.step),
			zap.Bool("achieved_goal", perf.AchievedGoal),
			zap.Float64("pnl_percentage", perf.PnLPercentage),
			zap.Float64("final_reward", final),
			zap.Float64("sum_rewards", e.acc.SumRewards),
		)
	} else {
		e.idx++
		if err := e.load(e.idx); err != nil {
			return StepResult{}, fmt.Errorf("step %d: %w", e.step, err)
		}
	}
	res.Info.SumRewards = e.acc.SumRewards
	res.Observation = e.observe()
	return res, nil
}

// observe 根据当前快照和余额构造观测, 缺失的市场值记为 0
func (e *Env) observe() Observation {
	p := e.exchange.Portfolio()
	s := e.current

	// 价格和价差以 USD 计
	ask, askOK := indicators.BestAskPrice(s.Asks)
	bid, bidOK := indicators.BestBidPrice(s.Bids)
	var spread float64
	if askOK && bidOK {
		spread = ask - bid
	}
	mid, _ := indicators.Midpoint(s)
	askVol, _ := indicators.BestAskSize(s.Asks)
	bidVol, _ := indicators.BestBidSize(s.Bids)

	obs := make(Observation, 0, e.ObservationDim())
	obs = append(obs, p.Cash, p.Base, ask, bid, spread, mid, askVol, bidVol)
	if !e.cfg.Simulation.UseFeatures {
		return obs
	}

	prev := e.series.Previous(s.TimestampNs, time.Second)
	f := indicators.Compute(s, prev, e.opts)
	obs = append(obs, f.Vector()...)
	return append(obs, DepthFeatures(s, e.cfg.Simulation.DepthLevels)...)
}

// DepthFeatures 返回 4*n 个值: 卖方距离, 卖方名义金额, 买方距离, 买方名义金额。
// 每一块都从盘口开始, 不足 n 档补 0, 超过则截断。
func DepthFeatures(s *models.Snapshot, n int) []float64 {
	out := make([]float64, 4*n)
	asks := s.BestAsks()
	for i := 0; i < n && i < len(asks); i++ {
		out[i] = asks[i].DistanceToMid
		out[n+i] = asks[i].NotionalUSD
	}
	for i := 0; i < n && i < len(s.Bids); i++ {
		out[2*n+i] = s.Bids[i].DistanceToMid
		out[3*n+i] = s.Bids[i].NotionalUSD
	}
	return out
}
