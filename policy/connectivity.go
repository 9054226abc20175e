package policy

import (
	"fmt"

	"account-guardian-go/bus"
)

// ConnectivityWatch 平台连接异常。alert-only：连接断开时执法调用
// 本来就会失败，不把它当执法触发器，只上报。
type ConnectivityWatch struct{}

func (p *ConnectivityWatch) ID() string { return "connectivity_watch" }

func (p *ConnectivityWatch) Category() Category { return CategoryAlertOnly }

func (p *ConnectivityWatch) Evaluate(ev bus.Event) *Violation {
	if ev.Kind != bus.KindConnectivityChanged {
		return nil
	}
	status := ev.Str("status")
	if status == "connected" {
		return nil
	}
	severity := "WARNING"
	if status == "auth-failed" {
		severity = "CRITICAL"
	}
	return &Violation{
		PolicyID:  p.ID(),
		AccountID: ev.AccountID,
		Severity:  severity,
		Reason:    fmt.Sprintf("platform connectivity: %s", status),
		Directive: Directive{Action: ActionNone},
	}
}
