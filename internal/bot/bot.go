package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Giafferri/neo-rl-exec/internal/exchange"
	"github.com/Giafferri/neo-rl-exec/internal/indicators"
	"github.com/Giafferri/neo-rl-exec/internal/models"
	"github.com/Giafferri/neo-rl-exec/internal/orderbook"
	"github.com/Giafferri/neo-rl-exec/internal/reporter"
	"github.com/Giafferri/neo-rl-exec/internal/scorer"
	"github.com/Giafferri/neo-rl-exec/internal/statemanager"

	"github.com/google/uuid"
	"github.com/jxskiss/base62"
	"go.uber.org/zap"
)

const (
	stateVersion = 1
	previousLag  = time.Second // 差分指标使用的回看间隔
)

// ErrNoSteps 表示回合在第一个快照之前就结束了
var ErrNoSteps = errors.New("episode produced no snapshot")

// EpisodeReport 是一次回放的结果
type EpisodeReport struct {
	EpisodeID    string
	Policy       string
	Steps        int
	Performance  models.Performance
	FinalReward  float64
	SumRewards   float64
	StoppedEarly bool // 目标提前达成
	Quit         bool // 策略主动退出
	Metrics      *reporter.Metrics
}

// Simulator 在历史快照上回放一个清算回合
type Simulator struct {
	config   *models.Config
	series   *orderbook.Series
	exchange *exchange.BacktestExchange
	scorer   *scorer.Scorer
	policy   Policy
	state    *statemanager.StateManager // 可为 nil
	opts     indicators.Options
	out      io.Writer // 为 nil 时不打印订单簿和报告
	logger   *zap.SugaredLogger
}

// NewSimulator 创建一个模拟器。state 可为 nil, 此时步骤不会被记录。
func NewSimulator(config *models.Config, series *orderbook.Series, policy Policy, state *statemanager.StateManager, logger *zap.Logger) *Simulator {
	return &Simulator{
		config:   config,
		series:   series,
		exchange: exchange.NewBacktestExchange(config),
		scorer:   scorer.New(scorer.WeightsFromConfig(config.Reward)),
		policy:   policy,
		state:    state,
		opts:     indicators.OptionsFromConfig(config.Indicators),
		logger:   logger.Sugar().Named("sim"),
	}
}

// SetOutput 设置订单簿、指标和最终报告的输出位置
func (s *Simulator) SetOutput(w io.Writer) {
	s.out = w
}

// Exchange 返回回放账户
func (s *Simulator) Exchange() *exchange.BacktestExchange {
	return s.exchange
}

// NewEpisodeID 生成一个紧凑的回合 ID
func NewEpisodeID() string {
	id := uuid.New()
	return base62.EncodeToString(id[:])
}

// Run 从 StartIndex 开始回放 Duration 步。
// 每一步: 取 t 和 t-1s 的快照, 询问策略, 执行, 计算奖励并记录; 达成目标后提前结束。
func (s *Simulator) Run(ctx context.Context) (*EpisodeReport, error) {
	sim := s.config.Simulation
	s.exchange.Reset()

	startTs, ok := s.series.TimestampAt(sim.StartIndex)
	if !ok {
		return nil, fmt.Errorf("start index %d outside series of %d snapshots: %w", sim.StartIndex, s.series.Len(), orderbook.ErrTimestampNotFound)
	}

	report := &EpisodeReport{EpisodeID: NewEpisodeID(), Policy: s.policy.Name()}
	initial := s.exchange.Initial()
	s.dispatch(statemanager.EpisodeStartEvent, &models.EpisodeState{
		EpisodeID: report.EpisodeID,
		Symbol:    s.config.Symbol,
		Version:   stateVersion,
		Params: models.EpisodeParams{
			Policy:      report.Policy,
			Initial:     initial,
			Goal:        sim.Goal,
			Target:      sim.Target,
			Duration:    sim.Duration,
			StartTimeNs: startTs,
		},
	})

	s.logger.Infof("开始回合 %s: 策略=%s, 目标=%s <= %.2f%%, 时长=%d, 起始时间戳=%d",
		report.EpisodeID, report.Policy, sim.Goal, sim.Target*100, sim.Duration, startTs)

	var (
		acc  scorer.Accumulator
		last *models.Snapshot
		perf models.Performance
	)
	for step := 1; step <= sim.Duration; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ts, ok := s.series.TimestampAt(sim.StartIndex + step - 1)
		if !ok {
			s.logger.Warnf("数据在第 %d 步耗尽, 回合结束。", step)
			break
		}
		snap, err := s.series.GetSnapshot(ts)
		if err != nil {
			return nil, err
		}
		prev := s.series.Previous(ts, previousLag)
		last = snap
		s.exchange.SetSnapshot(snap)
		s.render(snap, prev)

		order, err := s.policy.Decide(ctx, Decision{
			Step:      step,
			Remaining: sim.Duration - step + 1,
			Snapshot:  snap,
			Previous:  prev,
			Portfolio: s.exchange.Portfolio(),
			Initial:   initial,
			Goal:      sim.Goal,
			Target:    sim.Target,
		})
		if err != nil {
			return nil, fmt.Errorf("policy %s at step %d: %w", report.Policy, step, err)
		}
		if order.Quit {
			report.Quit = true
			s.logger.Infof("策略在第 %d 步退出。", step)
			break
		}

		res := s.exchange.Execute(order.Action, s.amount(order))
		if res.Executed() {
			if order.Action != models.Hold {
				s.logger.Debugf("第 %d 步 %s 成交: 数量=%.6f, 均价=%.2f, 手续费=%.6f %s",
					step, order.Action, res.Quantity, res.AvgPrice, res.Fee, res.FeeAsset)
			}
		} else {
			s.logger.Debugf("第 %d 步 %s 被拒绝: %v", step, order.Action, res.Reason)
		}

		perf, err = scorer.GetPerformance(initial, res.Portfolio, snap, sim.Goal, sim.Target, sim.Duration)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", step, err)
		}
		sr := s.scorer.RewardAtT(perf, step, acc)
		acc = sr.Next
		report.Steps = step

		mid, _ := indicators.Midpoint(snap)
		s.dispatch(statemanager.StepRecordedEvent, models.StepRecord{
			Step:          step,
			TimestampNs:   ts,
			Action:        order.Action,
			Status:        res.Status,
			Quantity:      res.Quantity,
			AvgPrice:      res.AvgPrice,
			Fee:           res.Fee,
			Portfolio:     res.Portfolio,
			Midpoint:      mid,
			PnLPercentage: sr.PnLPercentage,
			Reward:        sr.Reward,
			SumRewards:    sr.SumRewards,
		})
		if s.out != nil {
			fmt.Fprintf(s.out, "Reward at step %d: %.4f, cumulative: %.4f\n", step, sr.Reward, sr.SumRewards)
		}

		if perf.AchievedGoal {
			report.StoppedEarly = true
			s.logger.Infof("目标在第 %d 步达成。", step)
			break
		}
	}

	if last == nil {
		return nil, ErrNoSteps
	}
	// 策略在第一步之前退出时仍然按当前余额估值
	if report.Steps == 0 {
		var err error
		perf, err = scorer.GetPerformance(initial, s.exchange.Portfolio(), last, sim.Goal, sim.Target, sim.Duration)
		if err != nil {
			return nil, err
		}
	}

	final, acc := s.scorer.FinalReward(perf, acc)
	report.Performance = perf
	report.FinalReward = final
	report.SumRewards = acc.SumRewards

	s.dispatch(statemanager.EpisodeFinishedEvent, models.EpisodeSummary{
		Performance:  perf,
		FinalReward:  final,
		SumRewards:   acc.SumRewards,
		Steps:        report.Steps,
		EndTimeNs:    last.TimestampNs,
		StoppedEarly: report.StoppedEarly,
	})
	if s.state != nil {
		if err := s.state.Flush(ctx); err != nil {
			s.logger.Errorf("等待回合状态持久化失败: %v", err)
		}
	}

	report.Metrics = reporter.CalculateMetrics(s.exchange, perf)
	report.Metrics.StartTime = time.Unix(0, startTs)
	report.Metrics.EndTime = time.Unix(0, last.TimestampNs)
	report.Metrics.StepsSimulated = report.Steps
	report.Metrics.FinalReward = final
	report.Metrics.CumulativeReward = acc.SumRewards
	if s.out != nil {
		reporter.RenderPerformance(s.out, perf)
		reporter.RenderMetrics(s.out, report.Metrics)
	}

	s.logger.Infof("回合 %s 结束: 步数=%d, 达成目标=%t, PnL=%.4f%%, 最终奖励=%.4f, 累计奖励=%.4f",
		report.EpisodeID, report.Steps, perf.AchievedGoal, perf.PnLPercentage, final, acc.SumRewards)
	return report, nil
}

// amount 返回订单数量, 未指定时使用配置的默认值
func (s *Simulator) amount(o Order) float64 {
	if o.Amount > 0 {
		return o.Amount
	}
	switch o.Action {
	case models.Buy:
		return s.config.Simulation.BuyAmountUSD
	case models.Sell:
		return s.config.Simulation.SellAmountBase
	}
	return 0
}

func (s *Simulator) render(snap, prev *models.Snapshot) {
	if s.out == nil || !s.config.Simulation.ShowBook {
		return
	}
	reporter.RenderBook(s.out, snap, s.config.Indicators.Levels)
	f := indicators.Compute(snap, prev, s.opts)
	reporter.RenderIndicators(s.out, &f)
}

func (s *Simulator) dispatch(t statemanager.EventType, data interface{}) {
	if s.state == nil {
		return
	}
	s.state.DispatchEvent(statemanager.NormalizedEvent{Type: t, Timestamp: time.Now(), Data: data})
}
