package bus

import "time"

// Kind 事件类型
type Kind int

const (
	// KindTradeExecuted 成交事件（带已实现盈亏增量）
	KindTradeExecuted Kind = iota
	// KindPositionChanged 仓位变化事件
	KindPositionChanged
	// KindOrderChanged 订单状态变化事件
	KindOrderChanged
	// KindConnectivityChanged 平台连接状态变化事件
	KindConnectivityChanged
	// KindViolation 策略违规事件（引擎内部发布，用于观测）
	KindViolation
	// KindEnforcement 强制执行事件（引擎内部发布，用于观测）
	KindEnforcement
)

// String 返回类型名称
func (k Kind) String() string {
	switch k {
	case KindTradeExecuted:
		return "TRADE_EXECUTED"
	case KindPositionChanged:
		return "POSITION_CHANGED"
	case KindOrderChanged:
		return "ORDER_CHANGED"
	case KindConnectivityChanged:
		return "CONNECTIVITY_CHANGED"
	case KindViolation:
		return "VIOLATION"
	case KindEnforcement:
		return "ENFORCEMENT"
	default:
		return "UNKNOWN"
	}
}

// Event 规范化账户事件，只读。Payload 携带按类型约定的附加字段
// （如 realizedPnl、size、status），由 gateway 在归一化时填充。
type Event struct {
	Kind      Kind
	AccountID string
	Symbol    string
	At        time.Time // UTC
	Payload   map[string]interface{}
}

// Float 从 Payload 取浮点字段，缺失或类型不符返回 0。
func (e Event) Float(key string) float64 {
	switch v := e.Payload[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

// Str 从 Payload 取字符串字段，缺失返回空串。
func (e Event) Str(key string) string {
	if v, ok := e.Payload[key].(string); ok {
		return v
	}
	return ""
}
