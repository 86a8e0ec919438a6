package downloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/Giafferri/neo-rl-exec/internal/models"
	"github.com/Giafferri/neo-rl-exec/internal/orderbook"

	"github.com/adshao/go-binance/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrEmptyBook 表示深度快照两侧都没有报价
var ErrEmptyBook = errors.New("depth snapshot has no levels")

// Level 是交易所返回的一个价位
type Level struct {
	Price    float64
	Quantity float64
}

// DepthSource 提供某个交易对的深度快照, bids 从高到低, asks 从低到高
type DepthSource interface {
	Depth(ctx context.Context, symbol string, limit int) (bids, asks []Level, err error)
}

// BinanceSource 通过币安 REST 接口获取深度
type BinanceSource struct {
	client *binance.Client
}

// NewBinanceSource 创建一个新的数据源实例
func NewBinanceSource() *BinanceSource {
	return &BinanceSource{
		client: binance.NewClient("", ""), // 公共接口不需要API Key
	}
}

// Depth 获取前 limit 档深度
func (s *BinanceSource) Depth(ctx context.Context, symbol string, limit int) ([]Level, []Level, error) {
	res, err := s.client.NewDepthService().Symbol(symbol).Limit(limit).Do(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("获取 %s 深度失败: %w", symbol, err)
	}

	bids := make([]Level, 0, len(res.Bids))
	for _, bid := range res.Bids {
		lvl, err := parseLevel(bid.Price, bid.Quantity)
		if err != nil {
			return nil, nil, err
		}
		bids = append(bids, lvl)
	}
	asks := make([]Level, 0, len(res.Asks))
	for _, ask := range res.Asks {
		lvl, err := parseLevel(ask.Price, ask.Quantity)
		if err != nil {
			return nil, nil, err
		}
		asks = append(asks, lvl)
	}
	return bids, asks, nil
}

func parseLevel(price, qty string) (Level, error) {
	p, err := strconv.ParseFloat(price, 64)
	if err != nil {
		return Level{}, fmt.Errorf("解析价格 %q 失败: %w", price, err)
	}
	q, err := strconv.ParseFloat(qty, 64)
	if err != nil {
		return Level{}, fmt.Errorf("解析数量 %q 失败: %w", qty, err)
	}
	return Level{Price: p, Quantity: q}, nil
}

// DepthRecorder 按固定间隔采样深度快照, 生成长格式的订单簿序列
type DepthRecorder struct {
	cfg     models.RecorderConfig
	source  DepthSource
	limiter *rate.Limiter
	step    time.Duration // 采样间隔, 时间戳按它对齐
	now     func() time.Time
	logger  *zap.Logger
}

// NewDepthRecorder 创建一个录制器, 请求频率由 IntervalMs 和 RequestBurst 决定
func NewDepthRecorder(cfg models.RecorderConfig, source DepthSource, logger *zap.Logger) *DepthRecorder {
	interval := time.Duration(cfg.IntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	burst := cfg.RequestBurst
	if burst < 1 {
		burst = 1
	}
	return &DepthRecorder{
		cfg:     cfg,
		source:  source,
		limiter: rate.NewLimiter(rate.Every(interval), burst),
		step:    interval,
		now:     time.Now,
		logger:  logger,
	}
}

// Record 采样 Count 次并返回所有行。时间戳对齐到采样间隔, 同一时间戳只保留第一次采样。
func (r *DepthRecorder) Record(ctx context.Context) ([]models.LevelRecord, error) {
	var (
		rows   []models.LevelRecord
		lastTs int64
	)
	for i := 0; i < r.cfg.Count; i++ {
		if err := r.limiter.Wait(ctx); err != nil {
			return rows, err
		}

		bids, asks, err := r.source.Depth(ctx, r.cfg.Symbol, models.LevelsPerSide)
		if err != nil {
			// 单次失败不终止录制
			r.logger.Warn("depth request failed", zap.String("symbol", r.cfg.Symbol), zap.Error(err))
			continue
		}

		ts := r.now().Truncate(r.step).UnixNano()
		if ts <= lastTs {
			r.logger.Debug("skipping duplicate sample", zap.Int64("timestamp_ns", ts))
			continue
		}
		block, err := ToRows(ts, bids, asks)
		if err != nil {
			r.logger.Warn("skipping sample", zap.Int64("timestamp_ns", ts), zap.Error(err))
			continue
		}
		rows = append(rows, block...)
		lastTs = ts
	}
	r.logger.Info("depth recording finished",
		zap.String("symbol", r.cfg.Symbol),
		zap.Int("snapshots", len(rows)/(2*models.LevelsPerSide)),
	)
	return rows, nil
}

// RecordToFile 录制并把结果写入 CSV 文件, 必要时创建目录
func (r *DepthRecorder) RecordToFile(ctx context.Context, filePath string) (int, error) {
	rows, err := r.Record(ctx)
	if err != nil && len(rows) == 0 {
		return 0, err
	}
	if err != nil {
		// 被取消时保留已经采到的数据
		r.logger.Warn("recording interrupted, writing partial series", zap.Error(err))
	}

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("无法创建目录 %s: %v", dir, err)
	}
	file, err := os.Create(filePath)
	if err != nil {
		return 0, fmt.Errorf("无法创建文件 %s: %v", filePath, err)
	}
	defer file.Close()

	if err := orderbook.WriteCSV(file, rows); err != nil {
		return 0, fmt.Errorf("写入 %s 失败: %w", filePath, err)
	}
	return len(rows) / (2 * models.LevelsPerSide), nil
}

// ToRows 把一次深度快照转换为一个时间戳的 40 行。
// 中间价取最优买卖价的平均值, 距离 = price/mid - 1, 名义金额 = price*quantity。
// 订单流列没有来源, 保持为 0。
func ToRows(ts int64, bids, asks []Level) ([]models.LevelRecord, error) {
	bids = sorted(bids, func(a, b Level) bool { return a.Price > b.Price })
	asks = sorted(asks, func(a, b Level) bool { return a.Price < b.Price })

	var mid float64
	switch {
	case len(bids) > 0 && len(asks) > 0:
		mid = (bids[0].Price + asks[0].Price) / 2
	case len(bids) > 0:
		mid = bids[0].Price
	case len(asks) > 0:
		mid = asks[0].Price
	default:
		return nil, ErrEmptyBook
	}

	return orderbook.Block(ts, mid, quotes(bids, mid), quotes(asks, mid)), nil
}

func sorted(levels []Level, less func(a, b Level) bool) []Level {
	out := make([]Level, 0, len(levels))
	for _, l := range levels {
		if l.Price > 0 && l.Quantity > 0 {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func quotes(levels []Level, mid float64) []orderbook.Quote {
	out := make([]orderbook.Quote, len(levels))
	for i, l := range levels {
		out[i] = orderbook.Quote{
			Distance: l.Price/mid - 1,
			Notional: l.Price * l.Quantity,
		}
	}
	return out
}
