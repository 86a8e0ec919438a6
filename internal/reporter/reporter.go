// Package reporter 以表格形式打印订单簿、指标、绩效和回合统计
package reporter

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/Giafferri/neo-rl-exec/internal/exchange"
	"github.com/Giafferri/neo-rl-exec/internal/indicators"
	"github.com/Giafferri/neo-rl-exec/internal/models"
	"github.com/Giafferri/neo-rl-exec/internal/orderbook"

	"github.com/jedib0t/go-pretty/v6/table"
)

const na = "n/a"

// Metrics 存储一个回合结束时计算出的执行指标
type Metrics struct {
	Symbol           string
	InitialValue     float64 // 初始余额按期末中间价估值
	FinalValue       float64
	PnL              float64
	PnLPercentage    float64
	TotalTrades      int
	Buys             int
	Sells            int
	Rejections       int
	BaseBought       float64
	BaseSold         float64
	NotionalBought   float64
	NotionalSold     float64
	TotalFees        float64 // USD 等值
	MaxDrawdown      float64 // 百分比
	EndingCash       float64
	EndingBase       float64
	AchievedGoal     bool
	Goal             models.Goal
	StartTime        time.Time
	EndTime          time.Time
	StepsSimulated   int
	FinalReward      float64
	CumulativeReward float64
}

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	if title != "" {
		t.SetTitle("%s", title)
	}
	return t
}

func fmtOpt(v *float64) string {
	if v == nil {
		return na
	}
	return fmt.Sprintf("%.6g", *v)
}

// RenderBook 打印前 levels 档的买卖盘, 每行从盘口开始
func RenderBook(w io.Writer, snap *models.Snapshot, levels int) {
	if snap == nil {
		return
	}
	t := newTable(w, fmt.Sprintf("Order book @ %s", time.Unix(0, snap.TimestampNs).UTC().Format(time.RFC3339Nano)))
	t.AppendHeader(table.Row{"#", "Bid Size", "Bid Price", "Ask Price", "Ask Size"})

	asks := snap.BestAsks()
	for i := 0; i < levels; i++ {
		row := table.Row{i, "", "", "", ""}
		if i < len(snap.Bids) {
			row[1] = fmt.Sprintf("%.4f", snap.Bids[i].SizeBTC)
			row[2] = fmt.Sprintf("%.2f", snap.Bids[i].Price())
		}
		if i < len(asks) {
			row[3] = fmt.Sprintf("%.2f", asks[i].Price())
			row[4] = fmt.Sprintf("%.4f", asks[i].SizeBTC)
		}
		t.AppendRow(row)
	}
	if mid, ok := indicators.Midpoint(snap); ok {
		t.AppendFooter(table.Row{"", "", "mid", fmt.Sprintf("%.2f", mid), ""})
	}
	t.Render()
}

// RenderIndicators 打印全部指标, 缺失值显示为 n/a
func RenderIndicators(w io.Writer, f *indicators.Features) {
	t := newTable(w, "Indicators")
	t.AppendHeader(table.Row{"Indicator", "Value", "Label"})

	labels := map[string]string{
		"imbalance_top_of_book":  f.ImbalanceTopOfBook.Label,
		"imbalance_multi_levels": f.ImbalanceMultiLevels.Label,
		"orderflow_imbalance":    f.OrderFlowImbalance.Label,
	}
	values := f.Map()
	for _, name := range f.Names() {
		t.AppendRow(table.Row{name, fmtOpt(values[name]), labels[name]})
	}
	t.Render()
}

// ShowSeries 从 start 开始打印 count 个间隔 1 秒的快照, 每个快照附带相对前一秒的变化量指标。
// 序列中缺失的时间戳被跳过; start 本身缺失时返回 ErrTimestampNotFound。返回打印的快照数。
func ShowSeries(w io.Writer, series *orderbook.Series, start int64, count int, opts indicators.Options, levels int) (int, error) {
	if !series.Has(start) {
		return 0, fmt.Errorf("%w: %d", orderbook.ErrTimestampNotFound, start)
	}
	if count < 1 {
		count = 1
	}

	shown := 0
	for i := 0; i < count; i++ {
		ts := start + int64(i)*int64(time.Second)
		snap, err := series.GetSnapshot(ts)
		if err != nil {
			continue
		}
		f := indicators.Compute(snap, series.Previous(ts, time.Second), opts)
		RenderBook(w, snap, levels)
		RenderIndicators(w, &f)
		shown++
	}
	return shown, nil
}

// RenderPerformance 打印当前绩效
func RenderPerformance(w io.Writer, perf models.Performance) {
	t := newTable(w, "Performance")
	t.AppendHeader(table.Row{"", "Now", "Initial"})
	t.AppendRows([]table.Row{
		{"Cash", fmt.Sprintf("%.2f", perf.CashAtT), fmt.Sprintf("%.2f", perf.InitialCash)},
		{"Base", fmt.Sprintf("%.6f", perf.BaseAtT), fmt.Sprintf("%.6f", perf.InitialBase)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Portfolio value", fmt.Sprintf("%.2f", perf.TotalPortfolioValue), ""},
		{"PnL", fmt.Sprintf("%.2f", perf.PnL), fmt.Sprintf("%.4f%%", perf.PnLPercentage)},
		{"Goal", fmt.Sprintf("%s <= %.2f%%", perf.Goal, perf.Target*100), fmt.Sprintf("achieved=%t", perf.AchievedGoal)},
	})
	t.Render()
}

// CalculateMetrics 根据回放账户和期末绩效计算执行指标
func CalculateMetrics(be *exchange.BacktestExchange, perf models.Performance) *Metrics {
	m := &Metrics{
		Symbol:        be.Symbol,
		FinalValue:    perf.TotalPortfolioValue,
		PnL:           perf.PnL,
		PnLPercentage: perf.PnLPercentage,
		InitialValue:  perf.TotalPortfolioValue - perf.PnL,
		Rejections:    be.Rejections(),
		TotalFees:     be.TotalFees(),
		AchievedGoal:  perf.AchievedGoal,
		Goal:          perf.Goal,
	}

	trades := be.TradeLog()
	m.TotalTrades = len(trades)
	for _, tr := range trades {
		switch tr.Action {
		case models.Buy:
			m.Buys++
			m.BaseBought += tr.Quantity
			m.NotionalBought += tr.Notional
		case models.Sell:
			m.Sells++
			m.BaseSold += tr.Quantity
			m.NotionalSold += tr.Notional
		}
	}

	portfolio := be.Portfolio()
	m.EndingCash = portfolio.Cash
	m.EndingBase = portfolio.Base
	m.MaxDrawdown = calculateMaxDrawdown(be.EquityCurve()) * 100
	return m
}

// GenerateReport 计算并打印回合结束时的报告
func GenerateReport(w io.Writer, be *exchange.BacktestExchange, perf models.Performance, startTime, endTime time.Time) *Metrics {
	m := CalculateMetrics(be, perf)
	m.StartTime = startTime
	m.EndTime = endTime
	RenderMetrics(w, m)
	return m
}

// RenderMetrics 打印执行指标
func RenderMetrics(w io.Writer, m *Metrics) {
	t := newTable(w, fmt.Sprintf("Episode report %s", m.Symbol))
	if !m.StartTime.IsZero() {
		t.AppendRow(table.Row{"Period", fmt.Sprintf("%s -> %s", m.StartTime.UTC().Format("2006-01-02 15:04:05"), m.EndTime.UTC().Format("2006-01-02 15:04:05"))})
	}
	if m.StepsSimulated > 0 {
		t.AppendRow(table.Row{"Steps", m.StepsSimulated})
	}
	t.AppendRows([]table.Row{
		{"Initial value", fmt.Sprintf("%.2f", m.InitialValue)},
		{"Final value", fmt.Sprintf("%.2f", m.FinalValue)},
		{"PnL", fmt.Sprintf("%.2f (%.4f%%)", m.PnL, m.PnLPercentage)},
		{"Max drawdown", fmt.Sprintf("%.4f%%", m.MaxDrawdown)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Trades", fmt.Sprintf("%d (buy %d / sell %d)", m.TotalTrades, m.Buys, m.Sells)},
		{"Rejected", m.Rejections},
		{"Bought", fmt.Sprintf("%.6f for %.2f", m.BaseBought, m.NotionalBought)},
		{"Sold", fmt.Sprintf("%.6f for %.2f", m.BaseSold, m.NotionalSold)},
		{"Fees (USD)", fmt.Sprintf("%.2f", m.TotalFees)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Ending cash", fmt.Sprintf("%.2f", m.EndingCash)},
		{"Ending base", fmt.Sprintf("%.6f", m.EndingBase)},
		{"Goal", fmt.Sprintf("%s achieved=%t", m.Goal, m.AchievedGoal)},
		{"Final reward", fmt.Sprintf("%.6f", m.FinalReward)},
		{"Cumulative reward", fmt.Sprintf("%.6f", m.CumulativeReward)},
	})
	t.Render()
}

// RenderEpisodes 打印已持久化的回合列表, 按最后更新时间排序
func RenderEpisodes(w io.Writer, episodes []*models.EpisodeState) {
	sorted := make([]*models.EpisodeState, 0, len(episodes))
	for _, ep := range episodes {
		if ep != nil {
			sorted = append(sorted, ep)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].LastUpdateTime.Before(sorted[j].LastUpdateTime)
	})

	t := newTable(w, "Episodes")
	t.AppendHeader(table.Row{"ID", "Symbol", "Policy", "Goal", "Steps", "PnL %", "Final Reward", "Sum Rewards", "Achieved"})
	for _, ep := range sorted {
		row := table.Row{ep.EpisodeID, ep.Symbol, ep.Params.Policy, ep.Params.Goal, len(ep.Steps), na, na, na, na}
		if s := ep.Summary; s != nil {
			// 列表只包含回合头, 步数取自汇总
			row[4] = s.Steps
			row[5] = fmt.Sprintf("%.4f", s.Performance.PnLPercentage)
			row[6] = fmt.Sprintf("%.4f", s.FinalReward)
			row[7] = fmt.Sprintf("%.4f", s.SumRewards)
			row[8] = s.Performance.AchievedGoal
		}
		t.AppendRow(row)
	}
	t.AppendFooter(table.Row{"", "", "", "Total", len(sorted)})
	t.Render()
}

func calculateMaxDrawdown(equityCurve []float64) float64 {
	if len(equityCurve) < 2 {
		return 0.0
	}
	peak := equityCurve[0]
	maxDrawdown := 0.0

	for _, equity := range equityCurve {
		if equity > peak {
			peak = equity
		}
		if peak <= 0 {
			continue
		}
		drawdown := (peak - equity) / peak
		if drawdown > maxDrawdown {
			maxDrawdown = drawdown
		}
	}
	return maxDrawdown
}
