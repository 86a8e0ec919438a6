package bot

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/Giafferri/neo-rl-exec/internal/config"
	"github.com/Giafferri/neo-rl-exec/internal/models"
	"github.com/Giafferri/neo-rl-exec/internal/orderbook"
	"github.com/Giafferri/neo-rl-exec/internal/statemanager"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const second = int64(1e9)

func newSeries(t *testing.T, n int) *orderbook.Series {
	t.Helper()
	var rows []models.LevelRecord
	for i := 1; i <= n; i++ {
		rows = append(rows, orderbook.Block(int64(i)*second, 10000,
			[]orderbook.Quote{{Distance: -0.001, Notional: 300000}, {Distance: -0.002, Notional: 400000}},
			[]orderbook.Quote{{Distance: 0.001, Notional: 300000}, {Distance: 0.002, Notional: 400000}},
		)...)
	}
	s, err := orderbook.NewSeries(rows)
	require.NoError(t, err)
	return s
}

func testConfig() *models.Config {
	cfg := config.Defaults()
	cfg.Simulation.InitialCash = 100000
	cfg.Simulation.InitialBase = 10
	cfg.Simulation.Duration = 5
	cfg.Simulation.Goal = models.GoalBase
	cfg.Simulation.Target = 0.1
	return cfg
}

// scriptedPolicy 依次返回预设的指令, 用完后 Hold
type scriptedPolicy struct {
	orders    []Order
	decisions []Decision
}

func (p *scriptedPolicy) Name() string { return "scripted" }

func (p *scriptedPolicy) Decide(_ context.Context, d Decision) (Order, error) {
	p.decisions = append(p.decisions, d)
	if len(p.orders) == 0 {
		return Order{Action: models.Hold}, nil
	}
	o := p.orders[0]
	p.orders = p.orders[1:]
	return o, nil
}

func TestParseOrder(t *testing.T) {
	testCases := []struct {
		line    string
		want    Order
		wantErr bool
	}{
		{"b", Order{Action: models.Buy}, false},
		{"buy 2500", Order{Action: models.Buy, Amount: 2500}, false},
		{" S 0.5 ", Order{Action: models.Sell, Amount: 0.5}, false},
		{"h", Order{Action: models.Hold}, false},
		{"q", Order{Quit: true}, false},
		{"", Order{}, true},
		{"x", Order{}, true},
		{"b -1", Order{}, true},
		{"s abc", Order{}, true},
	}
	for _, tc := range testCases {
		t.Run(tc.line, func(t *testing.T) {
			got, err := parseOrder(tc.line)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestInteractivePolicy(t *testing.T) {
	var out bytes.Buffer
	p := NewInteractivePolicy(strings.NewReader("nonsense\nb 1000\n"), &out)
	d := Decision{Step: 1, Remaining: 3, Portfolio: models.Portfolio{Cash: 10, Base: 1}}

	order, err := p.Decide(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, Order{Action: models.Buy, Amount: 1000}, order)
	assert.Contains(t, out.String(), "unknown command")

	// 输入结束视为退出
	order, err = p.Decide(context.Background(), d)
	require.NoError(t, err)
	assert.True(t, order.Quit)
}

func TestTWAPPolicy(t *testing.T) {
	p := TWAPPolicy{}
	d := Decision{
		Remaining: 4,
		Portfolio: models.Portfolio{Cash: 1000, Base: 10},
		Initial:   models.Portfolio{Cash: 1000, Base: 10},
		Goal:      models.GoalBase,
		Target:    0.2,
	}
	order, err := p.Decide(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, models.Sell, order.Action)
	assert.InDelta(t, 2, order.Amount, 1e-12)

	d.Goal = models.GoalCash
	order, _ = p.Decide(context.Background(), d)
	assert.Equal(t, models.Buy, order.Action)
	assert.InDelta(t, 200, order.Amount, 1e-12)

	d.Portfolio.Cash = 100
	order, _ = p.Decide(context.Background(), d)
	assert.Equal(t, models.Hold, order.Action)
}

func TestNewPolicy(t *testing.T) {
	for _, name := range []string{"hold", "twap", "interactive", "TWAP"} {
		p, err := NewPolicy(name, strings.NewReader(""), &bytes.Buffer{})
		require.NoError(t, err)
		assert.Equal(t, strings.ToLower(name), p.Name())
	}
	_, err := NewPolicy("martingale", nil, nil)
	assert.Error(t, err)
}

func TestNewEpisodeID(t *testing.T) {
	a, b := NewEpisodeID(), NewEpisodeID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestSimulatorHoldRunsFullDuration(t *testing.T) {
	cfg := testConfig()
	policy := &scriptedPolicy{}
	sim := NewSimulator(cfg, newSeries(t, 10), policy, nil, zap.NewNop())

	report, err := sim.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, report.Steps)
	assert.False(t, report.StoppedEarly)
	assert.False(t, report.Performance.AchievedGoal)
	assert.Equal(t, "scripted", report.Policy)

	// 从 StartIndex=1 开始, 每步都能看到前一秒的快照
	require.Len(t, policy.decisions, 5)
	assert.Equal(t, 2*second, policy.decisions[0].Snapshot.TimestampNs)
	require.NotNil(t, policy.decisions[0].Previous)
	assert.Equal(t, second, policy.decisions[0].Previous.TimestampNs)
	assert.Equal(t, 5, policy.decisions[0].Remaining)
	assert.Equal(t, 1, policy.decisions[4].Remaining)

	// base 目标: 持有 10 倍目标, 终局惩罚 50*9^2 加上未达成惩罚 10
	assert.InDelta(t, -4060, report.FinalReward, 1e-9)
	assert.Zero(t, report.Metrics.TotalTrades)
}

func TestSimulatorStopsWhenGoalReached(t *testing.T) {
	cfg := testConfig()
	sim := NewSimulator(cfg, newSeries(t, 10), TWAPPolicy{}, nil, zap.NewNop())

	report, err := sim.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.StoppedEarly)
	assert.True(t, report.Performance.AchievedGoal)
	assert.Equal(t, 5, report.Steps)
	assert.Equal(t, 5, report.Metrics.Sells)
	assert.LessOrEqual(t, sim.Exchange().Portfolio().Base, 1.0)
}

func TestSimulatorQuitAndPersistence(t *testing.T) {
	cfg := testConfig()
	sm := statemanager.NewStateManager(nil, nil, zap.NewNop())
	sm.Start()
	defer sm.Stop()

	policy := &scriptedPolicy{orders: []Order{{Action: models.Sell, Amount: 1}, {Action: models.Buy}, {Quit: true}}}
	sim := NewSimulator(cfg, newSeries(t, 10), policy, sm, zap.NewNop())
	var out bytes.Buffer
	sim.SetOutput(&out)

	report, err := sim.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Quit)
	assert.Equal(t, 2, report.Steps)
	assert.Equal(t, 1, report.Metrics.Buys)
	assert.Equal(t, 1, report.Metrics.Sells)

	state := sm.GetStateSnapshot()
	require.NotNil(t, state)
	assert.Equal(t, report.EpisodeID, state.EpisodeID)
	assert.Equal(t, "scripted", state.Params.Policy)
	require.Len(t, state.Steps, 2)
	assert.Equal(t, models.Sell, state.Steps[0].Action)
	assert.Equal(t, models.Filled, state.Steps[0].Status)
	// 买入使用配置的默认数量
	assert.InDelta(t, cfg.Simulation.BuyAmountUSD, state.Steps[1].Quantity*state.Steps[1].AvgPrice, 1e-6)
	require.NotNil(t, state.Summary)
	assert.Equal(t, report.FinalReward, state.Summary.FinalReward)

	assert.Contains(t, out.String(), "Reward at step 2")
	assert.Contains(t, strings.ToLower(out.String()), "episode report")
}

func TestSimulatorStartOutsideSeries(t *testing.T) {
	cfg := testConfig()
	cfg.Simulation.StartIndex = 50
	sim := NewSimulator(cfg, newSeries(t, 3), HoldPolicy{}, nil, zap.NewNop())

	_, err := sim.Run(context.Background())
	assert.ErrorIs(t, err, orderbook.ErrTimestampNotFound)
}

func TestSimulatorHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sim := NewSimulator(testConfig(), newSeries(t, 10), HoldPolicy{}, nil, zap.NewNop())

	_, err := sim.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
