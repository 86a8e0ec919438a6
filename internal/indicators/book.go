// Package indicators 实现订单簿微观结构指标。
//
// 所有函数都是纯函数, 只读取传入的快照。数据不足时返回 ok == false (或 nil 指针),
// 缺失值沿依赖链传播, 从不 panic 也不使用哨兵数值。
package indicators

import (
	"math"

	"github.com/Giafferri/neo-rl-exec/internal/models"
)

// BestBid 返回第一个数量非零的买档的 distance_to_mid, 从前往后扫描
func BestBid(bids []models.LevelRecord) (float64, bool) {
	for _, lvl := range bids {
		if lvl.SizeBTC != 0 {
			return lvl.DistanceToMid, true
		}
	}
	return 0, false
}

// BestAsk 返回第一个数量非零的卖档的 distance_to_mid, 从后往前扫描 (最优卖档存放在末尾)
func BestAsk(asks []models.LevelRecord) (float64, bool) {
	for i := len(asks) - 1; i >= 0; i-- {
		if asks[i].SizeBTC != 0 {
			return asks[i].DistanceToMid, true
		}
	}
	return 0, false
}

// BestBidSize 返回 BestBid 所在档位的数量
func BestBidSize(bids []models.LevelRecord) (float64, bool) {
	for _, lvl := range bids {
		if lvl.SizeBTC != 0 {
			return lvl.SizeBTC, true
		}
	}
	return 0, false
}

// BestAskSize 返回 BestAsk 所在档位的数量
func BestAskSize(asks []models.LevelRecord) (float64, bool) {
	for i := len(asks) - 1; i >= 0; i-- {
		if asks[i].SizeBTC != 0 {
			return asks[i].SizeBTC, true
		}
	}
	return 0, false
}

// BestBidPrice 返回 BestBid 所在档位的 USD 价格
func BestBidPrice(bids []models.LevelRecord) (float64, bool) {
	for _, lvl := range bids {
		if lvl.SizeBTC != 0 {
			return lvl.Price(), true
		}
	}
	return 0, false
}

// BestAskPrice 返回 BestAsk 所在档位的 USD 价格
func BestAskPrice(asks []models.LevelRecord) (float64, bool) {
	for i := len(asks) - 1; i >= 0; i-- {
		if asks[i].SizeBTC != 0 {
			return asks[i].Price(), true
		}
	}
	return 0, false
}

// Midpoint 返回快照的参考中间价。两侧共享同一个中间价, 优先取卖侧。
func Midpoint(s *models.Snapshot) (float64, bool) {
	if s == nil {
		return 0, false
	}
	if len(s.Asks) > 0 {
		return s.Asks[0].MidpointUSD, true
	}
	if len(s.Bids) > 0 {
		return s.Bids[0].MidpointUSD, true
	}
	return 0, false
}

// Spread = best_ask - best_bid, 以 distance_to_mid 为单位。交叉盘时可以为负。
func Spread(s *models.Snapshot) (float64, bool) {
	if s == nil {
		return 0, false
	}
	ask, ok := BestAsk(s.Asks)
	if !ok {
		return 0, false
	}
	bid, ok := BestBid(s.Bids)
	if !ok {
		return 0, false
	}
	return ask - bid, true
}

// NormalizedSpread = spread / midpoint * 100
func NormalizedSpread(s *models.Snapshot) (float64, bool) {
	spread, ok := Spread(s)
	if !ok {
		return 0, false
	}
	mid, ok := Midpoint(s)
	if !ok || mid == 0 {
		return 0, false
	}
	return spread / mid * 100, true
}

// vwap 计算单侧的 Σnotional / Σsize
func vwap(levels []models.LevelRecord) (float64, bool) {
	var notional, size float64
	for _, lvl := range levels {
		notional += lvl.NotionalUSD
		size += lvl.SizeBTC
	}
	if len(levels) == 0 || size == 0 {
		return 0, false
	}
	return notional / size, true
}

// VAMP 是卖侧和买侧 VWAP 的平均值 (volume adjusted mid)
func VAMP(s *models.Snapshot) (float64, bool) {
	if s == nil {
		return 0, false
	}
	ask, ok := vwap(s.Asks)
	if !ok {
		return 0, false
	}
	bid, ok := vwap(s.Bids)
	if !ok {
		return 0, false
	}
	return (ask + bid) / 2, true
}

// VAMPAsk 是卖侧 VWAP
func VAMPAsk(asks []models.LevelRecord) (float64, bool) {
	return vwap(asks)
}

// VAMPBid 是买侧 VWAP
func VAMPBid(bids []models.LevelRecord) (float64, bool) {
	return vwap(bids)
}

// VAMPVarMidpoint 是 VAMP 相对中间价的百分比偏离
func VAMPVarMidpoint(s *models.Snapshot) (float64, bool) {
	vamp, ok := VAMP(s)
	if !ok {
		return 0, false
	}
	mid, ok := Midpoint(s)
	return pctFrom(vamp, mid, ok)
}

// VAMPAskVarMidpoint 是卖侧 VWAP 相对中间价的百分比偏离
func VAMPAskVarMidpoint(asks []models.LevelRecord) (float64, bool) {
	v, ok := VAMPAsk(asks)
	if !ok {
		return 0, false
	}
	return pctFrom(v, asks[0].MidpointUSD, true)
}

// VAMPBidVarMidpoint 是买侧 VWAP 相对中间价的百分比偏离
func VAMPBidVarMidpoint(bids []models.LevelRecord) (float64, bool) {
	v, ok := VAMPBid(bids)
	if !ok {
		return 0, false
	}
	return pctFrom(v, bids[0].MidpointUSD, true)
}

func pctFrom(v, mid float64, ok bool) (float64, bool) {
	if !ok || mid == 0 {
		return 0, false
	}
	return (v - mid) / mid * 100, true
}

// depth 返回单侧的 Σnotional; 没有任何正的 notional 时缺失
func depth(levels []models.LevelRecord) (float64, bool) {
	var sum float64
	positive := false
	for _, lvl := range levels {
		sum += lvl.NotionalUSD
		if lvl.NotionalUSD > 0 {
			positive = true
		}
	}
	return sum, positive
}

// BidDepth 是买侧总名义价值
func BidDepth(bids []models.LevelRecord) (float64, bool) {
	return depth(bids)
}

// AskDepth 是卖侧总名义价值
func AskDepth(asks []models.LevelRecord) (float64, bool) {
	return depth(asks)
}

// LiquidityRatio = bid_depth / ask_depth
func LiquidityRatio(s *models.Snapshot) (float64, bool) {
	if s == nil {
		return 0, false
	}
	bid, ok := BidDepth(s.Bids)
	if !ok {
		return 0, false
	}
	ask, ok := AskDepth(s.Asks)
	if !ok {
		return 0, false
	}
	return bid / ask, true
}

// StdSide 是单侧各档 notional 的样本标准差 (n-1), 少于两档时缺失
func StdSide(levels []models.LevelRecord) (float64, bool) {
	n := len(levels)
	if n < 2 {
		return 0, false
	}
	var mean float64
	for _, lvl := range levels {
		mean += lvl.NotionalUSD
	}
	mean /= float64(n)

	var ss float64
	for _, lvl := range levels {
		d := lvl.NotionalUSD - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(n-1)), true
}

// MicroPrice 是盘口距离按对侧数量加权的交叉:
// (ask_dist*bid_size + bid_dist*ask_size) / (bid_size + ask_size)
func MicroPrice(s *models.Snapshot) (float64, bool) {
	if s == nil {
		return 0, false
	}
	pBid, ok1 := BestBid(s.Bids)
	pAsk, ok2 := BestAsk(s.Asks)
	qBid, ok3 := BestBidSize(s.Bids)
	qAsk, ok4 := BestAskSize(s.Asks)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return 0, false
	}
	denom := qBid + qAsk
	if denom == 0 {
		return 0, false
	}
	return (pAsk*qBid + pBid*qAsk) / denom, true
}
