package policy

import (
	"fmt"
	"time"

	"account-guardian-go/bus"
)

// Tier 冷却档位：单笔亏损达到 Loss 时冷却 Cooldown。
type Tier struct {
	Loss     float64
	Cooldown time.Duration
}

// LossCooldown 单笔亏损分层冷却。多档阈值同时命中时取最严厉的
// 一档（冷却时长最大），而不是先匹配的那档。
type LossCooldown struct {
	Tiers []Tier
}

func (p *LossCooldown) ID() string { return "loss_cooldown" }

func (p *LossCooldown) Category() Category { return CategoryCooldown }

func (p *LossCooldown) Evaluate(ev bus.Event) *Violation {
	if p == nil || len(p.Tiers) == 0 || ev.Kind != bus.KindTradeExecuted {
		return nil
	}
	loss := -ev.Float("realizedPnl")
	if loss <= 0 {
		return nil
	}

	var matched *Tier
	for i := range p.Tiers {
		t := &p.Tiers[i]
		if loss < t.Loss {
			continue
		}
		if matched == nil || t.Cooldown > matched.Cooldown {
			matched = t
		}
	}
	if matched == nil {
		return nil
	}
	return &Violation{
		PolicyID:  p.ID(),
		AccountID: ev.AccountID,
		Severity:  "WARNING",
		Reason:    fmt.Sprintf("single trade loss %.2f hit tier %.2f, cooling down %s", loss, matched.Loss, matched.Cooldown),
		Directive: Directive{
			Action:  ActionFlattenAndLock,
			Lockout: &LockoutSpec{Hard: false, Duration: matched.Cooldown},
		},
	}
}
