package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"account-guardian-go/bus"
)

// ErrNonAccountEvent 表示消息合法但与账户事件无关（心跳、订阅确认等）。
var ErrNonAccountEvent = errors.New("non account event")

// wireMessage 对应行情网关推送的账户事件包装。
type wireMessage struct {
	Type      string  `json:"type"`
	Account   string  `json:"account"`
	Symbol    string  `json:"symbol"`
	Timestamp int64   `json:"ts"` // 毫秒
	Realized  float64 `json:"realizedPnl"`
	Size      float64 `json:"size"`
	Status    string  `json:"status"`
	Open      int     `json:"openOrders"`
}

// ParseAccountEvent 解析单条网关消息为账户事件。
// 心跳与订阅确认返回 ErrNonAccountEvent；格式错误返回解析错误。
func ParseAccountEvent(raw []byte) (bus.Event, error) {
	var msg wireMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return bus.Event{}, err
	}

	at := time.Now().UTC()
	if msg.Timestamp > 0 {
		at = time.UnixMilli(msg.Timestamp).UTC()
	}

	switch msg.Type {
	case "trade":
		if msg.Account == "" {
			return bus.Event{}, fmt.Errorf("trade message missing account")
		}
		return bus.Event{
			Kind:      bus.KindTradeExecuted,
			AccountID: msg.Account,
			Symbol:    msg.Symbol,
			At:        at,
			Payload:   map[string]interface{}{"realizedPnl": msg.Realized},
		}, nil
	case "position":
		if msg.Account == "" {
			return bus.Event{}, fmt.Errorf("position message missing account")
		}
		return bus.Event{
			Kind:      bus.KindPositionChanged,
			AccountID: msg.Account,
			Symbol:    msg.Symbol,
			At:        at,
			Payload:   map[string]interface{}{"size": msg.Size},
		}, nil
	case "order":
		if msg.Account == "" {
			return bus.Event{}, fmt.Errorf("order message missing account")
		}
		return bus.Event{
			Kind:      bus.KindOrderChanged,
			AccountID: msg.Account,
			Symbol:    msg.Symbol,
			At:        at,
			Payload: map[string]interface{}{
				"status":     msg.Status,
				"openOrders": float64(msg.Open),
			},
		}, nil
	case "heartbeat", "subscribed":
		return bus.Event{}, ErrNonAccountEvent
	default:
		return bus.Event{}, fmt.Errorf("unknown message type %q", msg.Type)
	}
}
