package gateway

import (
	"errors"
	"testing"

	"account-guardian-go/bus"
)

func TestParseTradeMessage(t *testing.T) {
	raw := []byte(`{"type":"trade","account":"ACC-1","symbol":"ESZ6","realizedPnl":-120.5,"ts":1755000000000}`)
	ev, err := ParseAccountEvent(raw)
	if err != nil {
		t.Fatalf("parse err: %v", err)
	}
	if ev.Kind != bus.KindTradeExecuted || ev.AccountID != "ACC-1" || ev.Symbol != "ESZ6" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if pnl := ev.Float("realizedPnl"); pnl != -120.5 {
		t.Fatalf("unexpected pnl %.2f", pnl)
	}
	if ev.At.UnixMilli() != 1755000000000 {
		t.Fatalf("timestamp not taken from message: %v", ev.At)
	}
}

func TestParsePositionMessage(t *testing.T) {
	raw := []byte(`{"type":"position","account":"ACC-2","symbol":"NQZ6","size":-7}`)
	ev, err := ParseAccountEvent(raw)
	if err != nil {
		t.Fatalf("parse err: %v", err)
	}
	if ev.Kind != bus.KindPositionChanged || ev.Float("size") != -7 {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestParseOrderMessage(t *testing.T) {
	raw := []byte(`{"type":"order","account":"ACC-2","symbol":"NQZ6","status":"filled","openOrders":4}`)
	ev, err := ParseAccountEvent(raw)
	if err != nil {
		t.Fatalf("parse err: %v", err)
	}
	if ev.Kind != bus.KindOrderChanged || ev.Str("status") != "filled" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Float("openOrders") != 4 {
		t.Fatalf("open orders not carried: %+v", ev.Payload)
	}
}

func TestParseHeartbeatSkipped(t *testing.T) {
	for _, raw := range []string{`{"type":"heartbeat"}`, `{"type":"subscribed","accounts":["ACC-1"]}`} {
		if _, err := ParseAccountEvent([]byte(raw)); !errors.Is(err, ErrNonAccountEvent) {
			t.Fatalf("expected ErrNonAccountEvent for %s, got %v", raw, err)
		}
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := []string{
		`{"type":"trade","realizedPnl":-1}`, // 缺账户
		`{"type":"unknown-kind"}`,
		`not json`,
	}
	for _, raw := range cases {
		if _, err := ParseAccountEvent([]byte(raw)); err == nil {
			t.Fatalf("expected error for %s", raw)
		}
	}
}
