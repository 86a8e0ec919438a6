package indicators

import (
	"math"

	"github.com/Giafferri/neo-rl-exec/internal/models"
)

// ImbalanceTopOfBook = (Q_bid0 - Q_ask0) / (Q_bid0 + Q_ask0), 取各侧存放在盘口位置的档位
// (bids 索引 0, asks 最后一个索引)。任一数量为零时返回 "No data"。
func ImbalanceTopOfBook(s *models.Snapshot, threshold float64) Labeled {
	if s == nil {
		return Labeled{Label: LabelNoData}
	}
	bid, ok := s.TopBid()
	if !ok {
		return Labeled{Label: LabelNoData}
	}
	ask, ok := s.TopAsk()
	if !ok {
		return Labeled{Label: LabelNoData}
	}
	return imbalance(bid.SizeBTC, ask.SizeBTC, threshold)
}

// ImbalanceMultiLevels 与 ImbalanceTopOfBook 相同, 但数量为各侧最优 levels 档的总和
func ImbalanceMultiLevels(s *models.Snapshot, levels int, threshold float64) Labeled {
	if s == nil || len(s.Bids) == 0 || len(s.Asks) == 0 {
		return Labeled{Label: LabelNoData}
	}
	return imbalance(sizeSum(bestBids(s, levels)), sizeSum(bestAsks(s, levels)), threshold)
}

func imbalance(qBid, qAsk, threshold float64) Labeled {
	if qBid == 0 || qAsk == 0 || qBid+qAsk == 0 {
		return Labeled{Label: LabelNoData}
	}
	v := (qBid - qAsk) / (qBid + qAsk)
	label := LabelBookBalanced
	switch {
	case v > threshold:
		label = LabelTiltedBid
	case v < -threshold:
		label = LabelTiltedAsk
	}
	return Labeled{Value: v, OK: true, Label: label}
}

// Unit 是滑点估算时数量的单位
type Unit int

const (
	UnitBase  Unit = iota // 基础资产 (BTC)
	UnitQuote             // 计价资产 (USD), 按中间价换算
)

// Slippage 模拟吃单 quantity 的执行均价, 返回相对中间价的百分比:
// 买入为 (exec - mid) / mid * 100, 卖出符号相反。
// 买入按最优到最差遍历 asks, 卖出遍历 bids, 最后一档按比例部分成交。
// 所有档位的深度不足以成交时结果缺失。
func Slippage(s *models.Snapshot, quantity float64, side models.Action, unit Unit) (float64, bool) {
	mid, ok := Midpoint(s)
	if !ok || mid == 0 || quantity <= 0 {
		return 0, false
	}
	if unit == UnitQuote {
		quantity /= mid
	}

	var ladder []models.LevelRecord
	switch side {
	case models.Buy:
		ladder = s.BestAsks()
	case models.Sell:
		ladder = s.Bids
	default:
		return 0, false
	}

	remaining := quantity
	var cost float64
	for _, lvl := range ladder {
		if lvl.SizeBTC <= 0 {
			continue
		}
		take := math.Min(lvl.SizeBTC, remaining)
		cost += take * lvl.Price()
		remaining -= take
		if remaining <= 0 {
			break
		}
	}
	if remaining > quantity*1e-12 {
		return 0, false
	}

	exec := cost / quantity
	if side == models.Buy {
		return (exec - mid) / mid * 100, true
	}
	return (mid - exec) / mid * 100, true
}

// Slope 是每侧的订单簿斜率, 深度为零的一侧为 nil
type Slope struct {
	Bid *float64
	Ask *float64
}

// OrderbookSlope 对每侧最优 levels 档计算 |dist_last - dist_first| / Σsize, 保留 6 位小数
func OrderbookSlope(s *models.Snapshot, levels int) Slope {
	if s == nil {
		return Slope{}
	}
	return Slope{
		Bid: sideSlope(bestBids(s, levels)),
		Ask: sideSlope(bestAsks(s, levels)),
	}
}

func sideSlope(levels []models.LevelRecord) *float64 {
	if len(levels) == 0 {
		return nil
	}
	total := sizeSum(levels)
	if total == 0 {
		return nil
	}
	v := math.Abs(levels[len(levels)-1].DistanceToMid-levels[0].DistanceToMid) / total
	v = math.Round(v*1e6) / 1e6
	return &v
}

// BookPressureIndex = Σ(bid_size/|bid_dist|) / Σ(ask_size/|ask_dist|), 取各侧最优 levels 档,
// 只统计符号与所在侧一致的档位 (bid < 0, ask > 0)。大于 1 表示买压。
func BookPressureIndex(s *models.Snapshot, levels int) (float64, bool) {
	if s == nil {
		return 0, false
	}
	var bidAgg, askAgg float64
	for _, lvl := range bestBids(s, levels) {
		if lvl.DistanceToMid < 0 {
			bidAgg += lvl.SizeBTC / -lvl.DistanceToMid
		}
	}
	for _, lvl := range bestAsks(s, levels) {
		if lvl.DistanceToMid > 0 {
			askAgg += lvl.SizeBTC / lvl.DistanceToMid
		}
	}
	if askAgg == 0 {
		return 0, false
	}
	return bidAgg / askAgg, true
}
