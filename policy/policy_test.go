package policy

import (
	"testing"
	"time"

	"account-guardian-go/bus"
)

type stubPnL struct{ v float64 }

func (s stubPnL) DailyPnL(string) float64 { return s.v }

type stubCounter struct{ n int }

func (s stubCounter) TradesInWindow(string, time.Duration) int { return s.n }

func tradeEvent(pnl float64) bus.Event {
	return bus.Event{
		Kind:      bus.KindTradeExecuted,
		AccountID: "ACC-1",
		At:        time.Now().UTC(),
		Payload:   map[string]interface{}{"realizedPnl": pnl},
	}
}

func TestDailyLossLimit(t *testing.T) {
	p := &DailyLossLimit{Limit: 500, PnL: stubPnL{v: -450}}
	if v := p.Evaluate(tradeEvent(-100)); v != nil {
		t.Fatalf("under limit should pass, got %v", v)
	}

	p.PnL = stubPnL{v: -550}
	v := p.Evaluate(tradeEvent(-350))
	if v == nil {
		t.Fatal("expected violation at -550 with limit 500")
	}
	if v.Directive.Action != ActionFlattenAndLock {
		t.Fatalf("action = %s, want flatten-and-lock", v.Directive.Action)
	}
	if v.Directive.Lockout == nil || !v.Directive.Lockout.Hard || v.Directive.Lockout.Duration != 0 {
		t.Fatalf("expected unbounded hard lockout, got %+v", v.Directive.Lockout)
	}
}

func TestDailyLossLimitExactBoundary(t *testing.T) {
	p := &DailyLossLimit{Limit: 500, PnL: stubPnL{v: -500}}
	if v := p.Evaluate(tradeEvent(-1)); v == nil {
		t.Fatal("pnl exactly at -limit must violate")
	}
}

func TestDailyLossIgnoresOtherKinds(t *testing.T) {
	p := &DailyLossLimit{Limit: 500, PnL: stubPnL{v: -900}}
	ev := bus.Event{Kind: bus.KindOrderChanged, AccountID: "ACC-1"}
	if v := p.Evaluate(ev); v != nil {
		t.Fatal("order event must not trigger daily loss policy")
	}
}

func TestLossCooldownSelectsMostSevereTier(t *testing.T) {
	p := &LossCooldown{Tiers: []Tier{
		{Loss: 100, Cooldown: 60 * time.Second},
		{Loss: 500, Cooldown: 1800 * time.Second},
	}}

	v := p.Evaluate(tradeEvent(-600))
	if v == nil {
		t.Fatal("loss 600 should violate")
	}
	if v.Directive.Lockout.Duration != 1800*time.Second {
		t.Fatalf("must select 1800s tier, got %s", v.Directive.Lockout.Duration)
	}

	// 档位声明顺序无关
	p.Tiers = []Tier{
		{Loss: 500, Cooldown: 1800 * time.Second},
		{Loss: 100, Cooldown: 60 * time.Second},
	}
	v = p.Evaluate(tradeEvent(-600))
	if v == nil || v.Directive.Lockout.Duration != 1800*time.Second {
		t.Fatalf("tier order must not matter, got %+v", v)
	}
}

func TestLossCooldownLowTier(t *testing.T) {
	p := &LossCooldown{Tiers: []Tier{
		{Loss: 100, Cooldown: 60 * time.Second},
		{Loss: 500, Cooldown: 1800 * time.Second},
	}}
	v := p.Evaluate(tradeEvent(-150))
	if v == nil || v.Directive.Lockout.Duration != 60*time.Second {
		t.Fatalf("loss 150 should select 60s tier, got %+v", v)
	}
	if v.Directive.Lockout.Hard {
		t.Fatal("cooldown tier must not be hard")
	}
}

func TestLossCooldownIgnoresProfitsAndSmallLosses(t *testing.T) {
	p := &LossCooldown{Tiers: []Tier{{Loss: 100, Cooldown: time.Minute}}}
	if v := p.Evaluate(tradeEvent(50)); v != nil {
		t.Fatal("profit must not trigger cooldown")
	}
	if v := p.Evaluate(tradeEvent(-99)); v != nil {
		t.Fatal("loss under lowest tier must not trigger")
	}
}

func TestTradeFrequency(t *testing.T) {
	p := &TradeFrequency{
		MaxTrades: 5,
		Window:    time.Minute,
		Cooldown:  5 * time.Minute,
		Counter:   stubCounter{n: 5},
	}
	if v := p.Evaluate(tradeEvent(0)); v != nil {
		t.Fatal("at limit should pass")
	}

	p.Counter = stubCounter{n: 6}
	v := p.Evaluate(tradeEvent(0))
	if v == nil {
		t.Fatal("over limit should violate")
	}
	if v.Directive.Action != ActionCancelOrders {
		t.Fatalf("action = %s, want cancel-orders", v.Directive.Action)
	}
	if v.Directive.Lockout.Duration != 5*time.Minute {
		t.Fatalf("cooldown duration = %s", v.Directive.Lockout.Duration)
	}
}

func TestPositionSizeLimit(t *testing.T) {
	p := &PositionSizeLimit{MaxSize: 10}
	ev := bus.Event{
		Kind:      bus.KindPositionChanged,
		AccountID: "ACC-1",
		Symbol:    "ESZ6",
		Payload:   map[string]interface{}{"size": -12.0},
	}
	v := p.Evaluate(ev)
	if v == nil {
		t.Fatal("short 12 over limit 10 should violate")
	}
	if v.Directive.Action != ActionClosePosition || v.Directive.Symbol != "ESZ6" {
		t.Fatalf("expected trade-scoped close of ESZ6, got %+v", v.Directive)
	}
	if v.Directive.Lockout != nil {
		t.Fatal("trade-scoped policy must not lock the account")
	}

	ev.Payload["size"] = 10.0
	if v := p.Evaluate(ev); v != nil {
		t.Fatal("at limit should pass")
	}
}

func TestConnectivityWatch(t *testing.T) {
	p := &ConnectivityWatch{}
	ev := bus.Event{
		Kind:      bus.KindConnectivityChanged,
		AccountID: "ACC-1",
		Payload:   map[string]interface{}{"status": "disconnected"},
	}
	v := p.Evaluate(ev)
	if v == nil {
		t.Fatal("disconnect should produce alert-only violation")
	}
	if v.Directive.Action != ActionNone {
		t.Fatalf("alert-only must not enforce, got %s", v.Directive.Action)
	}

	ev.Payload["status"] = "auth-failed"
	if v := p.Evaluate(ev); v == nil || v.Severity != "CRITICAL" {
		t.Fatalf("auth failure should be critical, got %+v", v)
	}

	ev.Payload["status"] = "connected"
	if v := p.Evaluate(ev); v != nil {
		t.Fatal("reconnect must not violate")
	}
}
