package bot

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Giafferri/neo-rl-exec/internal/models"
)

// Order 是策略在一步中给出的指令。Amount 为 0 时使用配置的默认数量。
type Order struct {
	Action models.Action
	Amount float64 // 买入为 USD, 卖出为基础资产
	Quit   bool    // 提前结束回合
}

// Decision 是策略决策时可见的信息
type Decision struct {
	Step      int
	Remaining int // 包括当前步在内的剩余步数
	Snapshot  *models.Snapshot
	Previous  *models.Snapshot // t-1s 的快照, 可能为 nil
	Portfolio models.Portfolio
	Initial   models.Portfolio
	Goal      models.Goal
	Target    float64
}

// Policy 为每一步选择动作
type Policy interface {
	Name() string
	Decide(ctx context.Context, d Decision) (Order, error)
}

// NewPolicy 按名字创建策略。interactive 策略从 in 读取指令并把提示写到 out。
func NewPolicy(name string, in io.Reader, out io.Writer) (Policy, error) {
	switch strings.ToLower(name) {
	case "hold":
		return HoldPolicy{}, nil
	case "twap":
		return TWAPPolicy{}, nil
	case "interactive", "":
		return NewInteractivePolicy(in, out), nil
	}
	return nil, fmt.Errorf("unknown policy %q", name)
}

// HoldPolicy 从不交易
type HoldPolicy struct{}

func (HoldPolicy) Name() string { return "hold" }

func (HoldPolicy) Decide(context.Context, Decision) (Order, error) {
	return Order{Action: models.Hold}, nil
}

// TWAPPolicy 把超出目标的部分平均分配到剩余的每一步。
// 现金目标通过买入消耗现金, 基础资产目标通过卖出消耗基础资产。
type TWAPPolicy struct{}

func (TWAPPolicy) Name() string { return "twap" }

func (TWAPPolicy) Decide(_ context.Context, d Decision) (Order, error) {
	remaining := d.Remaining
	if remaining < 1 {
		remaining = 1
	}
	if d.Goal == models.GoalCash {
		excess := d.Portfolio.Cash - d.Initial.Cash*d.Target
		if excess <= 0 {
			return Order{Action: models.Hold}, nil
		}
		return Order{Action: models.Buy, Amount: excess / float64(remaining)}, nil
	}
	excess := d.Portfolio.Base - d.Initial.Base*d.Target
	if excess <= 0 {
		return Order{Action: models.Hold}, nil
	}
	return Order{Action: models.Sell, Amount: excess / float64(remaining)}, nil
}

// InteractivePolicy 逐步询问用户: b [amount], s [amount], h, q
type InteractivePolicy struct {
	in  *bufio.Scanner
	out io.Writer
}

// NewInteractivePolicy 创建一个交互式策略
func NewInteractivePolicy(in io.Reader, out io.Writer) *InteractivePolicy {
	return &InteractivePolicy{in: bufio.NewScanner(in), out: out}
}

func (p *InteractivePolicy) Name() string { return "interactive" }

// Decide 读取一行指令。输入结束时视为退出, 无法识别的输入会重新询问。
func (p *InteractivePolicy) Decide(ctx context.Context, d Decision) (Order, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Order{}, err
		}
		fmt.Fprintf(p.out, "[step %d, %d left] cash=%.2f base=%.6f > (b)uy [usd] / (s)ell [base] / (h)old / (q)uit: ",
			d.Step, d.Remaining, d.Portfolio.Cash, d.Portfolio.Base)
		if !p.in.Scan() {
			if err := p.in.Err(); err != nil {
				return Order{}, err
			}
			return Order{Quit: true}, nil
		}

		order, err := parseOrder(p.in.Text())
		if err != nil {
			fmt.Fprintln(p.out, err)
			continue
		}
		return order, nil
	}
}

var errEmptyCommand = errors.New("please enter b, s, h or q")

func parseOrder(line string) (Order, error) {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return Order{}, errEmptyCommand
	}

	var order Order
	switch fields[0] {
	case "b", "buy":
		order.Action = models.Buy
	case "s", "sell":
		order.Action = models.Sell
	case "h", "hold":
		return Order{Action: models.Hold}, nil
	case "q", "quit", "exit":
		return Order{Quit: true}, nil
	default:
		return Order{}, fmt.Errorf("unknown command %q", fields[0])
	}

	if len(fields) > 1 {
		amount, err := strconv.ParseFloat(fields[1], 64)
		if err != nil || amount <= 0 {
			return Order{}, fmt.Errorf("invalid amount %q", fields[1])
		}
		order.Amount = amount
	}
	return order, nil
}
