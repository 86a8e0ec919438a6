// Package scorer 计算按市值计价的绩效和按目标塑形的奖励
package scorer

import (
	"errors"
	"math"

	"github.com/Giafferri/neo-rl-exec/internal/indicators"
	"github.com/Giafferri/neo-rl-exec/internal/models"
)

// ErrNoMidpoint 表示快照两侧都为空, 无法估值
var ErrNoMidpoint = errors.New("snapshot has no midpoint")

// GetPerformance 以快照中间价对初始余额和当前余额估值。
// goal 为 cash 时 cash <= initial_cash*target 即达成, goal 为 base 时对基础资产同理。
func GetPerformance(initial, current models.Portfolio, snap *models.Snapshot, goal models.Goal, target float64, duration int) (models.Performance, error) {
	mid, ok := indicators.Midpoint(snap)
	if !ok {
		return models.Performance{}, ErrNoMidpoint
	}

	total := current.Cash + current.Base*mid
	initialValue := initial.Cash + initial.Base*mid
	pnl := total - initialValue
	pnlPct := 0.0
	if initialValue != 0 {
		pnlPct = pnl / initialValue * 100
	}

	var achieved bool
	if goal == models.GoalCash {
		achieved = current.Cash <= initial.Cash*target
	} else {
		achieved = current.Base <= initial.Base*target
	}

	return models.Performance{
		CashAtT:             current.Cash,
		BaseAtT:             current.Base,
		InitialCash:         initial.Cash,
		InitialBase:         initial.Base,
		TotalPortfolioValue: total,
		PnL:                 pnl,
		PnLPercentage:       pnlPct,
		AchievedGoal:        achieved,
		Duration:            duration,
		Target:              target,
		Goal:                goal,
	}, nil
}

// Weights 是奖励函数的权重。
// 非对称结构固定: cash 目标对低于目标 (under) 施加重罚, base 目标对高于目标 (over) 施加重罚。
type Weights struct {
	PnLStep     float64
	PnLFinal    float64
	StepLight   float64
	StepHeavy   float64
	FinalLight  float64
	FinalHeavy  float64
	NotAchieved float64
}

// DefaultWeights 返回默认权重
func DefaultWeights() Weights {
	return Weights{
		PnLStep:     100,
		PnLFinal:    5,
		StepLight:   1,
		StepHeavy:   2,
		FinalLight:  5,
		FinalHeavy:  50,
		NotAchieved: 10,
	}
}

// WeightsFromConfig 从配置构造权重
func WeightsFromConfig(cfg models.RewardConfig) Weights {
	return Weights{
		PnLStep:     cfg.PnLWeightStep,
		PnLFinal:    cfg.PnLWeightFinal,
		StepLight:   cfg.StepLightPenalty,
		StepHeavy:   cfg.StepHeavyPenalty,
		FinalLight:  cfg.FinalLightPenalty,
		FinalHeavy:  cfg.FinalHeavyPenalty,
		NotAchieved: cfg.NotAchievedPenalty,
	}
}

// Accumulator 是驱动器在步与步之间传递的奖励状态
type Accumulator struct {
	SumRewards  float64
	PreviousPnL float64 // 上一步的 pnl%
	Steps       int
}

// StepReward 是 RewardAtT 的结果, Next 需要传给下一次调用
type StepReward struct {
	Reward        float64
	SumRewards    float64
	PnLPercentage float64
	Penalty       float64
	Next          Accumulator
}

// Scorer 计算每一步和回合结束时的奖励
type Scorer struct {
	Weights Weights
}

// New 创建一个 Scorer
func New(w Weights) *Scorer {
	return &Scorer{Weights: w}
}

// TargetRatio 返回当前余额相对 initial*target 的比例 (按目标选择 cash 或 base)
func TargetRatio(perf models.Performance) float64 {
	if perf.Goal == models.GoalCash {
		return perf.CashAtT / math.Max(1e-9, perf.InitialCash*perf.Target)
	}
	return perf.BaseAtT / math.Max(1e-9, perf.InitialBase*perf.Target)
}

// deviation 返回 (over, under) 平方项的加权和
func (s *Scorer) deviation(perf models.Performance, light, heavy float64) float64 {
	ratio := TargetRatio(perf)
	over := math.Max(0, ratio-1)
	under := math.Max(0, 1-ratio)
	if perf.Goal == models.GoalCash {
		return light*over*over + heavy*under*under
	}
	return heavy*over*over + light*under*under
}

// RewardAtT 计算第 step 步的奖励。
// 第 1 步使用绝对 pnl% 并把累计值重置为本步奖励, 之后使用相对上一步的 pnl% 增量并累加。
// 偏离目标的惩罚按 (step/duration)^2 放大。
func (s *Scorer) RewardAtT(perf models.Performance, step int, acc Accumulator) StepReward {
	delta := perf.PnLPercentage
	if step != 1 {
		delta = perf.PnLPercentage - acc.PreviousPnL
	}
	reward := s.Weights.PnLStep * ((1+delta)*(1+delta) - 1)

	progress := float64(step) / math.Max(1, float64(perf.Duration))
	progress = math.Min(1, math.Max(0, progress))
	penalty := s.deviation(perf, s.Weights.StepLight, s.Weights.StepHeavy) * progress * progress
	reward -= penalty

	sum := acc.SumRewards + reward
	steps := acc.Steps + 1
	if step == 1 {
		sum = reward
		steps = 1
	}

	return StepReward{
		Reward:        reward,
		SumRewards:    sum,
		PnLPercentage: perf.PnLPercentage,
		Penalty:       penalty,
		Next:          Accumulator{SumRewards: sum, PreviousPnL: perf.PnLPercentage, Steps: steps},
	}
}

// FinalReward 计算回合结束时的奖励: 减半的 PnL 项, 减去终局非对称惩罚,
// 未达成目标时再减去固定惩罚。返回值同时累加进 acc。
func (s *Scorer) FinalReward(perf models.Performance, acc Accumulator) (float64, Accumulator) {
	pnl := perf.PnLPercentage
	final := s.Weights.PnLFinal * (((1+pnl)*(1+pnl) - 1) / 2)
	final -= s.deviation(perf, s.Weights.FinalLight, s.Weights.FinalHeavy)
	if !perf.AchievedGoal {
		final -= s.Weights.NotAchieved
	}
	acc.SumRewards += final
	return final, acc
}
