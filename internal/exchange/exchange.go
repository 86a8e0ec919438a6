package exchange

import (
	"errors"

	"github.com/Giafferri/neo-rl-exec/internal/models"
)

var (
	// ErrInsufficientBalance 表示余额不足以支付数量加手续费
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrInvalidAmount 表示下单数量不是正数
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrNoLiquidity 表示对应一侧没有任何可成交的档位
	ErrNoLiquidity = errors.New("no liquidity on the book side")
	// ErrNoSnapshot 表示账户还没有收到任何快照
	ErrNoSnapshot = errors.New("no snapshot set")
)

// Exchange 定义了驱动器 (模拟器和 RL 环境) 使用的账户接口。
// 回放时由 BacktestExchange 实现。
type Exchange interface {
	SetSnapshot(s *models.Snapshot)
	Execute(action models.Action, amount float64) models.TradeResult
	Portfolio() models.Portfolio
}
