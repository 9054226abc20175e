package policy

import (
	"fmt"

	"account-guardian-go/bus"
)

// DailyLossLimit 日内已实现亏损上限。突破后全账户撤单平仓并安装
// 开放式 hard 锁定，直到下一个重置边界。
type DailyLossLimit struct {
	Limit float64 // 允许的最大亏损（正数，如 500 表示 -500 触发）
	PnL   PnLSource
}

func (p *DailyLossLimit) ID() string { return "daily_loss_limit" }

func (p *DailyLossLimit) Category() Category { return CategoryHardLockout }

func (p *DailyLossLimit) Evaluate(ev bus.Event) *Violation {
	if p == nil || p.PnL == nil || p.Limit <= 0 {
		return nil
	}
	if ev.Kind != bus.KindTradeExecuted {
		return nil
	}
	pnl := p.PnL.DailyPnL(ev.AccountID)
	if pnl > -p.Limit {
		return nil
	}
	return &Violation{
		PolicyID:  p.ID(),
		AccountID: ev.AccountID,
		Severity:  "CRITICAL",
		Reason:    fmt.Sprintf("daily realized pnl %.2f breached limit -%.2f", pnl, p.Limit),
		Directive: Directive{
			Action:  ActionFlattenAndLock,
			Lockout: &LockoutSpec{Hard: true},
		},
	}
}
