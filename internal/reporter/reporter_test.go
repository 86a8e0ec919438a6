package reporter

import (
	"bytes"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/Giafferri/neo-rl-exec/internal/config"
	"github.com/Giafferri/neo-rl-exec/internal/exchange"
	"github.com/Giafferri/neo-rl-exec/internal/indicators"
	"github.com/Giafferri/neo-rl-exec/internal/models"
	"github.com/Giafferri/neo-rl-exec/internal/orderbook"
	"github.com/Giafferri/neo-rl-exec/internal/scorer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func book(t *testing.T, ts int64) *models.Snapshot {
	t.Helper()
	rows := orderbook.Block(ts, 10000,
		[]orderbook.Quote{{Distance: -0.001, Notional: 30000}, {Distance: -0.002, Notional: 40000}},
		[]orderbook.Quote{{Distance: 0.001, Notional: 30000}, {Distance: 0.002, Notional: 40000}},
	)
	s, err := orderbook.NewSeries(rows)
	require.NoError(t, err)
	snap, err := s.GetSnapshot(ts)
	require.NoError(t, err)
	return snap
}

func TestCalculateMaxDrawdown(t *testing.T) {
	testCases := []struct {
		name   string
		curve  []float64
		expect float64
	}{
		{"empty", nil, 0},
		{"single point", []float64{100}, 0},
		{"monotonic up", []float64{100, 110, 120}, 0},
		{"one dip", []float64{100, 80, 120}, 0.2},
		{"deeper later dip", []float64{100, 90, 200, 100}, 0.5},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.expect, calculateMaxDrawdown(tc.curve), 1e-12)
		})
	}
}

func TestRenderBook(t *testing.T) {
	var buf bytes.Buffer
	RenderBook(&buf, book(t, 1), 3)
	out := buf.String()

	assert.Contains(t, out, "9990.00")  // 最优买价
	assert.Contains(t, out, "10010.00") // 最优卖价
	assert.Contains(t, out, "10000.00") // mid
	assert.Contains(t, strings.ToLower(out), "order book @")

	buf.Reset()
	RenderBook(&buf, nil, 3)
	assert.Empty(t, buf.String())
}

func TestRenderIndicators(t *testing.T) {
	f := indicators.Compute(book(t, 1), nil, indicators.DefaultOptions())

	var buf bytes.Buffer
	RenderIndicators(&buf, &f)
	out := buf.String()

	for _, name := range f.Names() {
		assert.Contains(t, out, name)
	}
	// 没有前一个快照时差分指标缺失
	assert.Contains(t, out, na)
	assert.Contains(t, out, indicators.LabelNoData)
}

func TestGenerateReport(t *testing.T) {
	cfg := config.Defaults()
	cfg.Simulation.InitialCash = 100000
	cfg.Simulation.InitialBase = 1

	be := exchange.NewBacktestExchange(cfg)
	snap := book(t, 1)
	be.SetSnapshot(snap)
	require.True(t, be.Execute(models.Buy, 20000).Executed())
	be.SetSnapshot(book(t, 2))
	require.True(t, be.Execute(models.Sell, 0.5).Executed())
	assert.False(t, be.Execute(models.Sell, 100).Executed())

	perf, err := scorer.GetPerformance(be.Initial(), be.Portfolio(), snap, models.GoalCash, 0.1, 10)
	require.NoError(t, err)

	var buf bytes.Buffer
	start := time.Unix(0, 1).UTC()
	m := GenerateReport(&buf, be, perf, start, start.Add(time.Second))

	assert.Equal(t, 2, m.TotalTrades)
	assert.Equal(t, 1, m.Buys)
	assert.Equal(t, 1, m.Sells)
	assert.Equal(t, 1, m.Rejections)
	assert.InDelta(t, 0.5, m.BaseSold, 1e-12)
	assert.InDelta(t, 20000, m.NotionalBought, 1e-9)
	assert.InDelta(t, be.TotalFees(), m.TotalFees, 1e-12)
	assert.InDelta(t, 110000, m.InitialValue, 1e-6)
	assert.Less(t, m.FinalValue, m.InitialValue)
	assert.Greater(t, m.MaxDrawdown, 0.0)
	assert.Equal(t, be.Portfolio().Cash, m.EndingCash)

	assert.Contains(t, strings.ToLower(buf.String()), "episode report")
	assert.Contains(t, buf.String(), "buy 1 / sell 1")
}

func TestRenderEpisodes(t *testing.T) {
	now := time.Now()
	episodes := []*models.EpisodeState{
		{
			EpisodeID:      "later",
			Params:         models.EpisodeParams{Policy: "twap", Goal: models.GoalBase},
			Summary:        &models.EpisodeSummary{FinalReward: -2.5, Steps: 742, Performance: models.Performance{AchievedGoal: true}},
			LastUpdateTime: now,
		},
		nil,
		{
			EpisodeID:      "earlier",
			Params:         models.EpisodeParams{Policy: "hold", Goal: models.GoalCash},
			LastUpdateTime: now.Add(-time.Hour),
		},
	}

	var buf bytes.Buffer
	RenderEpisodes(&buf, episodes)
	out := buf.String()

	assert.Contains(t, out, "-2.5000")
	assert.Contains(t, out, "742")
	assert.Contains(t, out, "twap")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("earlier")), bytes.Index(buf.Bytes(), []byte("later")))
}

func TestShowSeriesPrintsConsecutiveSnapshots(t *testing.T) {
	quotes := func(sign float64) []orderbook.Quote {
		return []orderbook.Quote{{Distance: sign * 0.001, Notional: 30000}, {Distance: sign * 0.002, Notional: 40000}}
	}
	sec := int64(time.Second)
	var rows []models.LevelRecord
	rows = append(rows, orderbook.Block(sec, 10000, quotes(-1), quotes(1))...)
	rows = append(rows, orderbook.Block(2*sec, 10010, quotes(-1), quotes(1))...)
	// 3 秒缺失
	rows = append(rows, orderbook.Block(4*sec, 10010, quotes(-1), quotes(1))...)
	series, err := orderbook.NewSeries(rows)
	require.NoError(t, err)

	var buf bytes.Buffer
	shown, err := ShowSeries(&buf, series, sec, 4, indicators.DefaultOptions(), 3)
	require.NoError(t, err)
	assert.Equal(t, 3, shown)

	sections := strings.Split(strings.ToLower(buf.String()), "order book @")
	require.Len(t, sections, 4)
	// 第一个快照没有前一秒, 变化量缺失; 第二个相对前一秒中间价上涨 10
	assert.Regexp(t, regexp.MustCompile(`delta_midpoint\s*│\s*n/a`), sections[1])
	assert.Regexp(t, regexp.MustCompile(`delta_midpoint\s*│\s*10\s*│`), sections[2])
	assert.Regexp(t, regexp.MustCompile(`delta_midpoint\s*│\s*n/a`), sections[3])

	_, err = ShowSeries(&buf, series, 3*sec, 2, indicators.DefaultOptions(), 3)
	assert.ErrorIs(t, err, orderbook.ErrTimestampNotFound)
}
