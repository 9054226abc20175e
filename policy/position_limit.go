package policy

import (
	"fmt"
	"math"

	"account-guardian-go/bus"
)

// PositionSizeLimit 单仓位规模上限。trade-scoped：只强平事发
// 合约，不锁账户。
type PositionSizeLimit struct {
	MaxSize float64 // 合约数（绝对值）
}

func (p *PositionSizeLimit) ID() string { return "position_size_limit" }

func (p *PositionSizeLimit) Category() Category { return CategoryTradeScoped }

func (p *PositionSizeLimit) Evaluate(ev bus.Event) *Violation {
	if p == nil || p.MaxSize <= 0 || ev.Kind != bus.KindPositionChanged {
		return nil
	}
	size := math.Abs(ev.Float("size"))
	if size <= p.MaxSize {
		return nil
	}
	return &Violation{
		PolicyID:  p.ID(),
		AccountID: ev.AccountID,
		Severity:  "WARNING",
		Reason:    fmt.Sprintf("position %s size %.2f exceeds limit %.2f", ev.Symbol, size, p.MaxSize),
		Directive: Directive{
			Action: ActionClosePosition,
			Symbol: ev.Symbol,
		},
	}
}
