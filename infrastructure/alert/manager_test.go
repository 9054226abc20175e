package alert

import (
	"testing"
	"time"
)

func TestSendAlert(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, 5*time.Minute)

	err := mgr.Send(Alert{
		Level:     "WARNING",
		AccountID: "ACC-1",
		Message:   "daily loss limit breached",
		Fields:    map[string]interface{}{"pnl": -550.0},
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if mock.Count() != 1 {
		t.Fatalf("expected 1 alert, got %d", mock.Count())
	}
	got := mock.GetAlerts()[0]
	if got.Level != "WARNING" || got.AccountID != "ACC-1" {
		t.Errorf("unexpected alert %+v", got)
	}
	if got.Timestamp.IsZero() {
		t.Error("timestamp should be set")
	}
}

func TestSendLevels(t *testing.T) {
	tests := []struct {
		name    string
		sendFn  func(*Manager) error
		wantLvl string
	}{
		{"Warning", func(m *Manager) error { return m.Warning("ACC-1", "w", nil) }, "WARNING"},
		{"Error", func(m *Manager) error { return m.Error("ACC-1", "e", nil) }, "ERROR"},
		{"Critical", func(m *Manager) error { return m.Critical("ACC-1", "c", nil) }, "CRITICAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := NewMockChannel("mock")
			mgr := NewManager([]Channel{mock}, 5*time.Minute)
			if err := tt.sendFn(mgr); err != nil {
				t.Fatalf("send failed: %v", err)
			}
			if mock.Count() != 1 {
				t.Fatalf("expected 1 alert, got %d", mock.Count())
			}
			if got := mock.GetAlerts()[0].Level; got != tt.wantLvl {
				t.Errorf("level = %s, want %s", got, tt.wantLvl)
			}
		})
	}
}

func TestThrottling(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, 100*time.Millisecond)

	mgr.Warning("ACC-1", "repeat", nil)
	mgr.Warning("ACC-1", "repeat", nil)
	if mock.Count() != 1 {
		t.Errorf("throttled send should not increase count, got %d", mock.Count())
	}

	time.Sleep(150 * time.Millisecond)
	mgr.Warning("ACC-1", "repeat", nil)
	if mock.Count() != 2 {
		t.Errorf("after throttle period: expected 2 alerts, got %d", mock.Count())
	}
}

func TestThrottleKeyIncludesAccount(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, 5*time.Minute)

	// 不同账户同一消息不互相限流
	mgr.Warning("ACC-1", "lockout persist failed", nil)
	mgr.Warning("ACC-2", "lockout persist failed", nil)
	mgr.Error("ACC-1", "lockout persist failed", nil) // 不同级别

	if mock.Count() != 3 {
		t.Errorf("expected 3 alerts, got %d", mock.Count())
	}
}

func TestPartialChannelFailure(t *testing.T) {
	bad := NewMockChannel("bad")
	bad.SetShouldError(true)
	good := NewMockChannel("good")
	mgr := NewManager([]Channel{bad, good}, 5*time.Minute)

	if err := mgr.Warning("ACC-1", "msg", nil); err != nil {
		t.Errorf("should not return error when some channels succeed: %v", err)
	}
	if good.Count() != 1 {
		t.Error("successful channel should receive alert")
	}
}

func TestAllChannelsFail(t *testing.T) {
	bad := NewMockChannel("bad")
	bad.SetShouldError(true)
	mgr := NewManager([]Channel{bad}, 5*time.Minute)

	if err := mgr.Warning("ACC-1", "msg", nil); err == nil {
		t.Error("expected error when all channels fail")
	}
}

func TestResetThrottle(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, 5*time.Minute)

	mgr.Warning("ACC-1", "msg", nil)
	mgr.Warning("ACC-1", "msg", nil)
	if mock.Count() != 1 {
		t.Fatal("should be throttled")
	}

	mgr.ResetThrottle()
	mgr.Warning("ACC-1", "msg", nil)
	if mock.Count() != 2 {
		t.Errorf("after reset: expected 2 alerts, got %d", mock.Count())
	}
}

func TestWebhookChannelKeepsBoundedHistory(t *testing.T) {
	ch := NewWebhookChannel("webhook", 3)
	for i := 0; i < 5; i++ {
		_ = ch.Send(Alert{Level: "WARNING", Message: "m", Fields: map[string]interface{}{"i": i}})
	}
	recent := ch.Recent()
	if len(recent) != 3 {
		t.Fatalf("expected bounded history of 3, got %d", len(recent))
	}
	if recent[0].Fields["i"] != 2 {
		t.Errorf("oldest retained should be i=2, got %v", recent[0].Fields["i"])
	}
}
