package exchange

import (
	"math"

	"github.com/Giafferri/neo-rl-exec/internal/models"
)

// FeeSchedule 是手续费表。模型只产生吃单成交, MakerBps 仅作记录。
type FeeSchedule struct {
	MakerBps  float64
	TakerBps  float64
	MinFeeUSD float64 // 每笔订单的最低手续费 (USD 等值)
}

// DefaultFees 返回默认费率: maker 2.5bps, taker 7bps, 最低 50 USD
func DefaultFees() FeeSchedule {
	return FeeSchedule{MakerBps: 2.5, TakerBps: 7.0, MinFeeUSD: 50}
}

// FeesFromConfig 从配置构造手续费表
func FeesFromConfig(cfg models.FeeConfig) FeeSchedule {
	return FeeSchedule{MakerBps: cfg.MakerBps, TakerBps: cfg.TakerBps, MinFeeUSD: cfg.MinFeeUSD}
}

// QuoteFee 返回买入 amountUSD 的手续费 (USD)
func (f FeeSchedule) QuoteFee(amountUSD float64) float64 {
	return math.Max(amountUSD*f.TakerBps/1e4, f.MinFeeUSD)
}

// BaseFee 返回卖出 amountBase 的手续费 (基础资产单位)。
// 最低手续费按中间价换算成基础资产。
func (f FeeSchedule) BaseFee(amountBase, midpoint float64) float64 {
	floor := 0.0
	if midpoint > 0 {
		floor = f.MinFeeUSD / midpoint
	}
	return math.Max(amountBase*f.TakerBps/1e4, floor)
}

// Executor 模拟按档位吃单。它是无状态的: 余额由调用方传入, 结果以值返回。
type Executor struct {
	Fees FeeSchedule
}

// NewExecutor 创建一个执行模型
func NewExecutor(fees FeeSchedule) *Executor {
	return &Executor{Fees: fees}
}

func rejected(action models.Action, p models.Portfolio, requested float64, reason error) models.TradeResult {
	return models.TradeResult{
		Status:    models.Rejected,
		Action:    action,
		Portfolio: p,
		Requested: requested,
		Reason:    reason,
	}
}

// Buy 花费 amountUSD 买入基础资产。
// 从最优卖档开始, 预算足够时吃掉整档 notional, 否则在预算耗尽的档位按 remaining / price 部分成交。
// 整个卖侧深度不足时只成交可用部分。
func (e *Executor) Buy(s *models.Snapshot, p models.Portfolio, amountUSD float64) models.TradeResult {
	if amountUSD <= 0 {
		return rejected(models.Buy, p, amountUSD, ErrInvalidAmount)
	}
	fee := e.Fees.QuoteFee(amountUSD)
	if amountUSD+fee > p.Cash {
		return rejected(models.Buy, p, amountUSD, ErrInsufficientBalance)
	}

	var fills []models.Fill
	var cost, acquired float64
	for _, lvl := range s.BestAsks() {
		if lvl.NotionalUSD <= 0 {
			continue
		}
		price := lvl.Price()
		if cost+lvl.NotionalUSD <= amountUSD {
			cost += lvl.NotionalUSD
			acquired += lvl.SizeBTC
			fills = append(fills, models.Fill{Level: lvl.Level, Price: price, Quantity: lvl.SizeBTC, Notional: lvl.NotionalUSD})
			if cost == amountUSD {
				break
			}
			continue
		}
		remaining := amountUSD - cost
		qty := remaining / price
		cost += remaining
		acquired += qty
		fills = append(fills, models.Fill{Level: lvl.Level, Price: price, Quantity: qty, Notional: remaining, Partial: true})
		break
	}
	if acquired <= 0 {
		return rejected(models.Buy, p, amountUSD, ErrNoLiquidity)
	}

	return models.TradeResult{
		Status:    models.Filled,
		Action:    models.Buy,
		Portfolio: models.Portfolio{Cash: p.Cash - cost - fee, Base: p.Base + acquired},
		Requested: amountUSD,
		Quantity:  acquired,
		Notional:  cost,
		AvgPrice:  cost / acquired,
		Fee:       fee,
		FeeAsset:  "USD",
		Fills:     fills,
	}
}

// Sell 卖出 amountBase 的基础资产, 从最优买档开始吃单。手续费以基础资产计。
func (e *Executor) Sell(s *models.Snapshot, p models.Portfolio, amountBase float64) models.TradeResult {
	if amountBase <= 0 {
		return rejected(models.Sell, p, amountBase, ErrInvalidAmount)
	}
	mid := 0.0
	if len(s.Asks) > 0 {
		mid = s.Asks[0].MidpointUSD
	} else if len(s.Bids) > 0 {
		mid = s.Bids[0].MidpointUSD
	}
	fee := e.Fees.BaseFee(amountBase, mid)
	if amountBase+fee > p.Base {
		return rejected(models.Sell, p, amountBase, ErrInsufficientBalance)
	}

	var fills []models.Fill
	var revenue, sold float64
	for _, lvl := range s.Bids {
		if lvl.SizeBTC <= 0 {
			continue
		}
		price := lvl.Price()
		if sold+lvl.SizeBTC <= amountBase {
			sold += lvl.SizeBTC
			revenue += lvl.SizeBTC * price
			fills = append(fills, models.Fill{Level: lvl.Level, Price: price, Quantity: lvl.SizeBTC, Notional: lvl.SizeBTC * price})
			if sold == amountBase {
				break
			}
			continue
		}
		remaining := amountBase - sold
		sold += remaining
		revenue += remaining * price
		fills = append(fills, models.Fill{Level: lvl.Level, Price: price, Quantity: remaining, Notional: remaining * price, Partial: true})
		break
	}
	if sold <= 0 {
		return rejected(models.Sell, p, amountBase, ErrNoLiquidity)
	}

	return models.TradeResult{
		Status:    models.Filled,
		Action:    models.Sell,
		Portfolio: models.Portfolio{Cash: p.Cash + revenue, Base: p.Base - sold - fee},
		Requested: amountBase,
		Quantity:  sold,
		Notional:  revenue,
		AvgPrice:  revenue / sold,
		Fee:       fee,
		FeeAsset:  "BASE",
		Fills:     fills,
	}
}

// Hold 是恒等转移, 数量为零
func (e *Executor) Hold(p models.Portfolio) models.TradeResult {
	return models.TradeResult{Status: models.Filled, Action: models.Hold, Portfolio: p}
}

// Execute 按动作分发。amount 对买入为 USD, 对卖出为基础资产, 对 Hold 忽略。
func (e *Executor) Execute(s *models.Snapshot, p models.Portfolio, action models.Action, amount float64) models.TradeResult {
	switch action {
	case models.Buy:
		return e.Buy(s, p, amount)
	case models.Sell:
		return e.Sell(s, p, amount)
	case models.Hold:
		return e.Hold(p)
	}
	return rejected(action, p, amount, ErrInvalidAmount)
}
