package models

import (
	"fmt"
	"strings"
)

// Portfolio 是调用方持有的余额, 只由执行模型的买卖操作改变
type Portfolio struct {
	Cash float64 `json:"cash"` // USD, 不强制非负
	Base float64 `json:"base"` // 基础资产数量 (BTC)
}

// Goal 定义了清算目标
type Goal string

const (
	GoalCash Goal = "cash"
	GoalBase Goal = "base"
)

// ParseGoal 解析目标, "btc" 作为 base 的别名
func ParseGoal(s string) (Goal, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cash", "usd":
		return GoalCash, nil
	case "base", "btc":
		return GoalBase, nil
	}
	return "", fmt.Errorf("unknown goal %q", s)
}

// Action 是离散动作空间: 0 = Hold, 1 = Buy, 2 = Sell
type Action int

const (
	Hold Action = iota
	Buy
	Sell
)

// NumActions is the size of the discrete action space.
const NumActions = 3

func (a Action) String() string {
	switch a {
	case Hold:
		return "hold"
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// TradeStatus discriminates the trade result variant.
type TradeStatus int

const (
	Rejected TradeStatus = iota
	Filled
)

func (s TradeStatus) String() string {
	if s == Filled {
		return "FILLED"
	}
	return "REJECTED"
}

// Fill is the part of an order executed against one ladder level.
type Fill struct {
	Level    int     `json:"level"`
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"` // base units
	Notional float64 `json:"notional"` // USD
	Partial  bool    `json:"partial"`
}

// TradeResult 是执行模型的返回值。
// Status == Rejected 时只有 Portfolio (未改变) 和 Reason 有意义。
type TradeResult struct {
	Status    TradeStatus `json:"status"`
	Action    Action      `json:"action"`
	Portfolio Portfolio   `json:"portfolio"`
	Requested float64     `json:"requested"` // USD for buys, base units for sells
	Quantity  float64     `json:"quantity"`  // base units filled
	Notional  float64     `json:"notional"`  // USD exchanged, before fees
	AvgPrice  float64     `json:"avg_price"`
	Fee       float64     `json:"fee"`
	FeeAsset  string      `json:"fee_asset"`
	Fills     []Fill      `json:"fills,omitempty"`
	Reason    error       `json:"-"`
}

// Executed reports whether the trade changed (or, for Hold, confirmed) the
// balances.
func (r TradeResult) Executed() bool {
	return r.Status == Filled
}

// Performance 是每一步根据余额和当前快照重新计算的绩效记录
type Performance struct {
	CashAtT             float64 `json:"cash_at_t"`
	BaseAtT             float64 `json:"btc_at_t"`
	InitialCash         float64 `json:"initial_cash"`
	InitialBase         float64 `json:"initial_btc"`
	TotalPortfolioValue float64 `json:"total_portfolio_value"`
	PnL                 float64 `json:"pnl"`
	PnLPercentage       float64 `json:"pnl_percentage"`
	AchievedGoal        bool    `json:"achieved_goal"`
	Duration            int     `json:"duration"`
	Target              float64 `json:"target"`
	Goal                Goal    `json:"goal"`
}

// TradeRecord 是回放账户的成交日志条目
type TradeRecord struct {
	TimestampNs int64   `json:"timestamp_ns"`
	Action      Action  `json:"action"`
	Quantity    float64 `json:"quantity"`
	Notional    float64 `json:"notional"`
	AvgPrice    float64 `json:"avg_price"`
	Fee         float64 `json:"fee"`
	FeeAsset    string  `json:"fee_asset"`
	FeeUSD      float64 `json:"fee_usd"` // 按成交时中间价换算的手续费
}
