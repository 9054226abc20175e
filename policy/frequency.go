package policy

import (
	"fmt"
	"time"

	"account-guardian-go/bus"
)

// TradeFrequency 滚动窗口内成交笔数上限：过度交易触发冷却。
type TradeFrequency struct {
	MaxTrades int
	Window    time.Duration
	Cooldown  time.Duration
	Counter   TradeCounter
}

func (p *TradeFrequency) ID() string { return "trade_frequency" }

func (p *TradeFrequency) Category() Category { return CategoryCooldown }

func (p *TradeFrequency) Evaluate(ev bus.Event) *Violation {
	if p == nil || p.Counter == nil || p.MaxTrades <= 0 || ev.Kind != bus.KindTradeExecuted {
		return nil
	}
	n := p.Counter.TradesInWindow(ev.AccountID, p.Window)
	if n <= p.MaxTrades {
		return nil
	}
	return &Violation{
		PolicyID:  p.ID(),
		AccountID: ev.AccountID,
		Severity:  "WARNING",
		Reason:    fmt.Sprintf("%d trades in %s exceeds limit %d", n, p.Window, p.MaxTrades),
		Directive: Directive{
			Action:  ActionCancelOrders,
			Lockout: &LockoutSpec{Hard: false, Duration: p.Cooldown},
		},
	}
}
