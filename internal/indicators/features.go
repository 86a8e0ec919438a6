package indicators

import "github.com/Giafferri/neo-rl-exec/internal/models"

// Options 是指标引擎的可调参数
type Options struct {
	Levels           int     // 多档位指标使用的档位数
	TopThreshold     float64 // ImbalanceTopOfBook 的标签阈值
	MultiThreshold   float64 // ImbalanceMultiLevels 的标签阈值
	OFIThreshold     float64 // OrderFlowImbalance 的标签阈值
	SlippageQuantity float64 // 0 表示不计算滑点
	SlippageUnit     Unit
	SlippageSide     models.Action
}

// DefaultOptions 返回默认参数
func DefaultOptions() Options {
	return Options{
		Levels:         5,
		TopThreshold:   0.8,
		MultiThreshold: 0.6,
		OFIThreshold:   0.05,
		SlippageUnit:   UnitBase,
		SlippageSide:   models.Buy,
	}
}

// OptionsFromConfig 从配置构造参数, 未设置的字段使用默认值
func OptionsFromConfig(cfg models.IndicatorConfig) Options {
	opts := DefaultOptions()
	if cfg.Levels > 0 {
		opts.Levels = cfg.Levels
	}
	if cfg.TopThreshold > 0 {
		opts.TopThreshold = cfg.TopThreshold
	}
	if cfg.MultiThreshold > 0 {
		opts.MultiThreshold = cfg.MultiThreshold
	}
	if cfg.OFIThreshold > 0 {
		opts.OFIThreshold = cfg.OFIThreshold
	}
	opts.SlippageQuantity = cfg.SlippageQuantity
	return opts
}

// Features 是当前快照 (以及 t-1s 快照) 的所有指标, 缺失值为 nil
type Features struct {
	TimestampNs int64

	BestBid          *float64
	BestAsk          *float64
	BestBidSize      *float64
	BestAskSize      *float64
	Midpoint         *float64
	Spread           *float64
	NormalizedSpread *float64
	MicroPrice       *float64

	BidDepth          *float64
	AskDepth          *float64
	LiquidityRatio    *float64
	Slope             Slope
	BookPressureIndex *float64

	VAMP               *float64
	VAMPVarMidpoint    *float64
	VAMPAsk            *float64
	VAMPAskVarMidpoint *float64
	VAMPBid            *float64
	VAMPBidVarMidpoint *float64

	StdBid *float64
	StdAsk *float64

	ImbalanceTopOfBook   Labeled
	ImbalanceMultiLevels Labeled

	DeltaSpread   *float64
	DeltaMidpoint *float64
	DeltaVAMP     *float64
	DeltaStdBid   *float64
	DeltaStdAsk   *float64

	OrderFlowImbalance Labeled
	Slippage           *float64
}

// Compute 计算 cur 的全部指标。prev 为 nil 时差分类指标缺失。
func Compute(cur, prev *models.Snapshot, opts Options) Features {
	f := Features{}
	if cur == nil {
		f.ImbalanceTopOfBook = Labeled{Label: LabelNoData}
		f.ImbalanceMultiLevels = Labeled{Label: LabelNoData}
		f.OrderFlowImbalance = Labeled{Label: LabelNoData}
		return f
	}
	f.TimestampNs = cur.TimestampNs

	f.BestBid = ptr(BestBid(cur.Bids))
	f.BestAsk = ptr(BestAsk(cur.Asks))
	f.BestBidSize = ptr(BestBidSize(cur.Bids))
	f.BestAskSize = ptr(BestAskSize(cur.Asks))
	f.Midpoint = ptr(Midpoint(cur))
	f.Spread = ptr(Spread(cur))
	f.NormalizedSpread = ptr(NormalizedSpread(cur))
	f.MicroPrice = ptr(MicroPrice(cur))

	f.BidDepth = ptr(BidDepth(cur.Bids))
	f.AskDepth = ptr(AskDepth(cur.Asks))
	f.LiquidityRatio = ptr(LiquidityRatio(cur))
	f.Slope = OrderbookSlope(cur, opts.Levels)
	f.BookPressureIndex = ptr(BookPressureIndex(cur, opts.Levels))

	f.VAMP = ptr(VAMP(cur))
	f.VAMPVarMidpoint = ptr(VAMPVarMidpoint(cur))
	f.VAMPAsk = ptr(VAMPAsk(cur.Asks))
	f.VAMPAskVarMidpoint = ptr(VAMPAskVarMidpoint(cur.Asks))
	f.VAMPBid = ptr(VAMPBid(cur.Bids))
	f.VAMPBidVarMidpoint = ptr(VAMPBidVarMidpoint(cur.Bids))

	f.StdBid = ptr(StdSide(cur.Bids))
	f.StdAsk = ptr(StdSide(cur.Asks))

	f.ImbalanceTopOfBook = ImbalanceTopOfBook(cur, opts.TopThreshold)
	f.ImbalanceMultiLevels = ImbalanceMultiLevels(cur, opts.Levels, opts.MultiThreshold)

	f.DeltaSpread = ptr(DeltaSpread(cur, prev))
	f.DeltaMidpoint = ptr(DeltaMidpoint(cur, prev))
	f.DeltaVAMP = ptr(DeltaVAMP(cur, prev))
	if prev != nil {
		f.DeltaStdBid = ptr(DeltaStdSide(cur.Bids, prev.Bids))
		f.DeltaStdAsk = ptr(DeltaStdSide(cur.Asks, prev.Asks))
	}

	f.OrderFlowImbalance = OrderFlowImbalance(cur, prev, opts.Levels, opts.OFIThreshold)
	if opts.SlippageQuantity > 0 {
		f.Slippage = ptr(Slippage(cur, opts.SlippageQuantity, opts.SlippageSide, opts.SlippageUnit))
	}
	return f
}

var featureNames = []string{
	"best_bid",
	"best_ask",
	"best_bid_size",
	"best_ask_size",
	"midpoint",
	"spread",
	"normalized_spread",
	"micro_price",
	"bid_depth",
	"ask_depth",
	"liquidity_ratio",
	"orderbook_slope_bid",
	"orderbook_slope_ask",
	"book_pressure_index",
	"VAMP",
	"VAMP_var_midpoint",
	"VAMP_ask",
	"VAMP_ask_var_midpoint",
	"VAMP_bid",
	"VAMP_bid_var_midpoint",
	"std_bid",
	"std_ask",
	"imbalance_top_of_book",
	"imbalance_multi_levels",
	"delta_spread",
	"delta_midpoint",
	"delta_VAMP",
	"delta_std_bid",
	"delta_std_ask",
	"orderflow_imbalance",
	"slippage",
}

// NumFeatures 是 Vector() 的长度
var NumFeatures = len(featureNames)

// Names 返回 Vector() 中每个位置的指标名
func (f *Features) Names() []string {
	out := make([]string, len(featureNames))
	copy(out, featureNames)
	return out
}

// values 的顺序必须与 featureNames 一致
func (f *Features) values() []*float64 {
	return []*float64{
		f.BestBid,
		f.BestAsk,
		f.BestBidSize,
		f.BestAskSize,
		f.Midpoint,
		f.Spread,
		f.NormalizedSpread,
		f.MicroPrice,
		f.BidDepth,
		f.AskDepth,
		f.LiquidityRatio,
		f.Slope.Bid,
		f.Slope.Ask,
		f.BookPressureIndex,
		f.VAMP,
		f.VAMPVarMidpoint,
		f.VAMPAsk,
		f.VAMPAskVarMidpoint,
		f.VAMPBid,
		f.VAMPBidVarMidpoint,
		f.StdBid,
		f.StdAsk,
		f.ImbalanceTopOfBook.Ptr(),
		f.ImbalanceMultiLevels.Ptr(),
		f.DeltaSpread,
		f.DeltaMidpoint,
		f.DeltaVAMP,
		f.DeltaStdBid,
		f.DeltaStdAsk,
		f.OrderFlowImbalance.Ptr(),
		f.Slippage,
	}
}

// Vector 返回扁平的指标向量, 缺失值为 0 (配合 Mask 使用)
func (f *Features) Vector() []float64 {
	vals := f.values()
	out := make([]float64, len(vals))
	for i, v := range vals {
		if v != nil {
			out[i] = *v
		}
	}
	return out
}

// Mask 标记 Vector() 中哪些位置是真实值
func (f *Features) Mask() []bool {
	vals := f.values()
	out := make([]bool, len(vals))
	for i, v := range vals {
		out[i] = v != nil
	}
	return out
}

// Map 返回 指标名 -> 可选值, 用于打印
func (f *Features) Map() map[string]*float64 {
	vals := f.values()
	out := make(map[string]*float64, len(vals))
	for i, v := range vals {
		out[featureNames[i]] = v
	}
	return out
}

func ptr(v float64, ok bool) *float64 {
	if !ok {
		return nil
	}
	return &v
}
