package exchange

import (
	"sync"

	"github.com/Giafferri/neo-rl-exec/internal/models"
)

// BacktestExchange 实现了 Exchange 接口, 是回放时驱动器持有的模拟账户。
// 它在无状态的 Executor 之上维护余额、成交日志、权益曲线和累计手续费。
type BacktestExchange struct {
	Symbol   string
	executor *Executor

	initial   models.Portfolio
	portfolio models.Portfolio
	snapshot  *models.Snapshot
	midpoint  float64

	tradeLog    []models.TradeRecord
	equityCurve []float64
	totalFees   float64 // USD 等值
	rejections  int
	mu          sync.Mutex
}

var _ Exchange = (*BacktestExchange)(nil)

// NewBacktestExchange 创建一个新的 BacktestExchange 实例, 初始余额来自配置
func NewBacktestExchange(cfg *models.Config) *BacktestExchange {
	initial := models.Portfolio{Cash: cfg.Simulation.InitialCash, Base: cfg.Simulation.InitialBase}
	return &BacktestExchange{
		Symbol:      cfg.Symbol,
		executor:    NewExecutor(FeesFromConfig(cfg.Fees)),
		initial:     initial,
		portfolio:   initial,
		tradeLog:    make([]models.TradeRecord, 0),
		equityCurve: make([]float64, 0, cfg.Simulation.Duration+1),
	}
}

// Reset 恢复初始余额并清空日志, 用于开始新的回合
func (e *BacktestExchange) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.portfolio = e.initial
	e.snapshot = nil
	e.midpoint = 0
	e.tradeLog = e.tradeLog[:0]
	e.equityCurve = e.equityCurve[:0]
	e.totalFees = 0
	e.rejections = 0
}

// SetSnapshot 推进到新的快照并记录一个权益点
func (e *BacktestExchange) SetSnapshot(s *models.Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.snapshot = s
	e.midpoint = 0
	if len(s.Asks) > 0 {
		e.midpoint = s.Asks[0].MidpointUSD
	} else if len(s.Bids) > 0 {
		e.midpoint = s.Bids[0].MidpointUSD
	}
	e.updateEquity()
}

// Execute 在当前快照上执行动作, 成交时更新余额和成交日志。必须先调用 SetSnapshot。
func (e *BacktestExchange) Execute(action models.Action, amount float64) models.TradeResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.snapshot == nil {
		return rejected(action, e.portfolio, amount, ErrNoSnapshot)
	}

	res := e.executor.Execute(e.snapshot, e.portfolio, action, amount)
	if !res.Executed() {
		e.rejections++
		return res
	}
	e.portfolio = res.Portfolio
	if action == models.Hold {
		return res
	}

	feeUSD := res.Fee
	if res.FeeAsset == "BASE" {
		feeUSD = res.Fee * e.midpoint
	}
	e.totalFees += feeUSD
	e.tradeLog = append(e.tradeLog, models.TradeRecord{
		TimestampNs: e.snapshot.TimestampNs,
		Action:      action,
		Quantity:    res.Quantity,
		Notional:    res.Notional,
		AvgPrice:    res.AvgPrice,
		Fee:         res.Fee,
		FeeAsset:    res.FeeAsset,
		FeeUSD:      feeUSD,
	})
	// 成交后的权益覆盖当前时间点
	if n := len(e.equityCurve); n > 0 {
		e.equityCurve = e.equityCurve[:n-1]
	}
	e.updateEquity()
	return res
}

// updateEquity 计算并记录当前权益。必须在持有锁的情况下调用。
func (e *BacktestExchange) updateEquity() {
	equity := e.portfolio.Cash + e.portfolio.Base*e.midpoint
	e.equityCurve = append(e.equityCurve, equity)
}

// Portfolio 返回当前余额
func (e *BacktestExchange) Portfolio() models.Portfolio {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.portfolio
}

// Initial 返回初始余额
func (e *BacktestExchange) Initial() models.Portfolio {
	return e.initial
}

// TradeLog 返回成交日志的只读副本
func (e *BacktestExchange) TradeLog() []models.TradeRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	cpy := make([]models.TradeRecord, len(e.tradeLog))
	copy(cpy, e.tradeLog)
	return cpy
}

// EquityCurve 返回权益曲线的只读副本
func (e *BacktestExchange) EquityCurve() []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	cpy := make([]float64, len(e.equityCurve))
	copy(cpy, e.equityCurve)
	return cpy
}

// TotalFees 返回累计手续费 (USD 等值)
func (e *BacktestExchange) TotalFees() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalFees
}

// Rejections 返回被拒绝的订单数
func (e *BacktestExchange) Rejections() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rejections
}
