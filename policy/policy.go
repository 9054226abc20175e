package policy

import (
	"time"

	"account-guardian-go/bus"
)

// Category 执法类别
type Category int

const (
	// CategoryTradeScoped 只处置事发仓位/订单，不锁账户
	CategoryTradeScoped Category = iota
	// CategoryCooldown 全账户撤单平仓 + 限时自到期锁定
	CategoryCooldown
	// CategoryHardLockout 全账户撤单平仓 + 持续到重置边界或人工清除的锁定
	CategoryHardLockout
	// CategoryAlertOnly 只产生告警，不执法
	CategoryAlertOnly
)

// String 返回类别名称
func (c Category) String() string {
	switch c {
	case CategoryTradeScoped:
		return "trade-scoped"
	case CategoryCooldown:
		return "cooldown"
	case CategoryHardLockout:
		return "hard-lockout"
	case CategoryAlertOnly:
		return "alert-only"
	default:
		return "unknown"
	}
}

// Action 执法动作
type Action int

const (
	ActionNone Action = iota
	ActionClosePosition
	ActionCloseAll
	ActionCancelOrders
	ActionFlattenAndLock
)

// String 返回动作名称
func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionClosePosition:
		return "close-position"
	case ActionCloseAll:
		return "close-all"
	case ActionCancelOrders:
		return "cancel-orders"
	case ActionFlattenAndLock:
		return "flatten-and-lock"
	default:
		return "unknown"
	}
}

// LockoutSpec 违规附带的锁定要求。Duration 为 0 表示开放式
// hard 锁定（直到重置边界或人工清除）。
type LockoutSpec struct {
	Hard     bool
	Duration time.Duration
}

// Directive 执法指令
type Directive struct {
	Action  Action
	Symbol  string // 仅 close-position 使用
	Lockout *LockoutSpec
}

// Violation 策略违规
type Violation struct {
	PolicyID  string
	AccountID string
	Severity  string // "WARNING" | "CRITICAL"
	Reason    string
	Directive Directive
}

// PnLSource 提供当前营业日已实现盈亏。
type PnLSource interface {
	DailyPnL(accountID string) float64
}

// TradeCounter 提供滚动窗口内成交笔数。
type TradeCounter interface {
	TradesInWindow(accountID string, window time.Duration) int
}

// Policy 显式策略接口：固定的具体实现集合，不做运行期反射。
// Evaluate 返回 nil 表示本事件未违规。
type Policy interface {
	ID() string
	Category() Category
	Evaluate(ev bus.Event) *Violation
}
