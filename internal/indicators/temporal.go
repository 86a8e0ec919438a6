package indicators

import "github.com/Giafferri/neo-rl-exec/internal/models"

// 两个快照之间的差分指标。prev 为 nil 时 (没有 t-1s 的快照) 结果缺失。

type metric func(s *models.Snapshot) (float64, bool)

func delta(f metric, cur, prev *models.Snapshot) (float64, bool) {
	if cur == nil || prev == nil {
		return 0, false
	}
	now, ok := f(cur)
	if !ok {
		return 0, false
	}
	before, ok := f(prev)
	if !ok {
		return 0, false
	}
	return now - before, true
}

// DeltaSpread = spread(cur) - spread(prev)
func DeltaSpread(cur, prev *models.Snapshot) (float64, bool) {
	return delta(Spread, cur, prev)
}

// DeltaMidpoint = midpoint(cur) - midpoint(prev)
func DeltaMidpoint(cur, prev *models.Snapshot) (float64, bool) {
	return delta(Midpoint, cur, prev)
}

// DeltaVAMP = VAMP(cur) - VAMP(prev)
func DeltaVAMP(cur, prev *models.Snapshot) (float64, bool) {
	return delta(VAMP, cur, prev)
}

// DeltaStdSide 是同一侧在两个快照之间的标准差变化
func DeltaStdSide(cur, prev []models.LevelRecord) (float64, bool) {
	now, ok := StdSide(cur)
	if !ok {
		return 0, false
	}
	before, ok := StdSide(prev)
	if !ok {
		return 0, false
	}
	return now - before, true
}

// 结果标签
const (
	LabelNoData       = "No data"
	LabelNoChange     = "No change"
	LabelBuyPressure  = "Buy pressure"
	LabelSellPressure = "Sell pressure"
	LabelFlowBalanced = "Balanced"
	LabelTiltedBid    = "tilted BID"
	LabelTiltedAsk    = "tilted ASK"
	LabelBookBalanced = "balanced"
)

// Labeled 是带分类标签的指标结果。OK 为 false 时 Value 无意义。
type Labeled struct {
	Value float64
	OK    bool
	Label string
}

// Ptr 将结果转换为可选值
func (l Labeled) Ptr() *float64 {
	return ptr(l.Value, l.OK)
}

// OrderFlowImbalance 比较前 levels 档的累计数量在两个快照之间的变化:
// ofi = (Δbid - Δask) / (Δbid + Δask)。分母为零时返回 "No change"。
func OrderFlowImbalance(cur, prev *models.Snapshot, levels int, threshold float64) Labeled {
	if cur == nil || prev == nil {
		return Labeled{Label: LabelNoData}
	}
	dBid := sizeSum(bestBids(cur, levels)) - sizeSum(bestBids(prev, levels))
	dAsk := sizeSum(bestAsks(cur, levels)) - sizeSum(bestAsks(prev, levels))

	denom := dBid + dAsk
	if denom == 0 {
		return Labeled{Label: LabelNoChange}
	}
	ofi := (dBid - dAsk) / denom
	label := LabelFlowBalanced
	switch {
	case ofi > threshold:
		label = LabelBuyPressure
	case ofi < -threshold:
		label = LabelSellPressure
	}
	return Labeled{Value: ofi, OK: true, Label: label}
}

// bestBids 返回最优的 n 个买档 (从最优开始)
func bestBids(s *models.Snapshot, n int) []models.LevelRecord {
	if n > len(s.Bids) {
		n = len(s.Bids)
	}
	if n < 0 {
		n = 0
	}
	return s.Bids[:n]
}

// bestAsks 返回最优的 n 个卖档, 按最优到最差排序
func bestAsks(s *models.Snapshot, n int) []models.LevelRecord {
	if n > len(s.Asks) {
		n = len(s.Asks)
	}
	if n < 0 {
		n = 0
	}
	out := make([]models.LevelRecord, n)
	for i := 0; i < n; i++ {
		out[i] = s.Asks[len(s.Asks)-1-i]
	}
	return out
}

func sizeSum(levels []models.LevelRecord) float64 {
	var sum float64
	for _, lvl := range levels {
		sum += lvl.SizeBTC
	}
	return sum
}
