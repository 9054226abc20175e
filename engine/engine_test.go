package engine

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"account-guardian-go/aggregate"
	"account-guardian-go/bus"
	"account-guardian-go/infrastructure/alert"
	"account-guardian-go/lockout"
	"account-guardian-go/policy"
	"account-guardian-go/store"
	"account-guardian-go/timer"
)

// mockExecutor 记录执法调用
type mockExecutor struct {
	mu        sync.Mutex
	closed    []string // account:symbol
	closedAll []string
	cancelled []string
	failAll   bool
}

func (m *mockExecutor) ClosePosition(accountID, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = append(m.closed, accountID+":"+symbol)
	return nil
}

func (m *mockExecutor) CloseAllPositions(accountID string) ([]Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closedAll = append(m.closedAll, accountID)
	if m.failAll {
		return []Result{{Target: "ESZ6", Err: errors.New("reject")}, {Target: "NQZ6"}}, nil
	}
	return []Result{{Target: "ESZ6"}}, nil
}

func (m *mockExecutor) CancelAllOrders(accountID string) ([]Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, accountID)
	return nil, nil
}

func (m *mockExecutor) snapshot() (closedAll, cancelled []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.closedAll...), append([]string(nil), m.cancelled...)
}

type harness struct {
	bus      *bus.Bus
	eng      *Engine
	exec     *mockExecutor
	lockouts *lockout.Manager
	agg      *aggregate.Tracker
	mock     *alert.MockChannel
}

func newHarness(t *testing.T, policies func(h *harness) []policy.Policy) *harness {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	timers := timer.NewScheduler(nil)
	timers.Start()
	t.Cleanup(timers.Stop)

	mock := alert.NewMockChannel("mock")
	alerts := alert.NewManager([]alert.Channel{mock}, time.Hour)

	h := &harness{
		bus:      bus.New(nil),
		exec:     &mockExecutor{},
		lockouts: lockout.NewManager(st, timers, alerts, nil),
		agg:      aggregate.NewTracker(st, nil, nil),
		mock:     mock,
	}
	h.eng = New(Config{EvaluateAll: true}, policies(h), h.bus, h.agg, h.lockouts, h.exec, alerts, nil, nil)
	h.eng.Register()
	return h
}

func trade(account string, pnl float64) bus.Event {
	return bus.Event{
		Kind:      bus.KindTradeExecuted,
		AccountID: account,
		At:        time.Now().UTC(),
		Payload:   map[string]interface{}{"realizedPnl": pnl},
	}
}

// 场景：日亏损限额 -500，先 -200 再 -350；第二笔后聚合为 -550，
// 安装无限期 hard 锁定并派发撤单+平仓指令。
func TestDailyLossScenario(t *testing.T) {
	h := newHarness(t, func(h *harness) []policy.Policy {
		return []policy.Policy{&policy.DailyLossLimit{Limit: 500, PnL: h.agg}}
	})

	h.bus.Publish(trade("ACC-1", -200))
	h.bus.Publish(trade("ACC-1", -350))
	h.bus.Close()

	assert.Equal(t, -550.0, h.agg.DailyPnL("ACC-1"))
	require.True(t, h.lockouts.IsLocked("ACC-1"))

	rec, ok := h.lockouts.Active("ACC-1")
	require.True(t, ok)
	assert.Equal(t, "hard", rec.Category)
	assert.Nil(t, rec.ExpiresAt, "daily loss lockout must be unbounded")

	closedAll, cancelled := h.exec.snapshot()
	assert.Equal(t, []string{"ACC-1"}, closedAll)
	assert.Equal(t, []string{"ACC-1"}, cancelled)
}

// 场景：两笔同账户事件背靠背到达，聚合恰好各计一次。
func TestBackToBackTradesNoDoubleCount(t *testing.T) {
	h := newHarness(t, func(h *harness) []policy.Policy { return nil })

	for i := 0; i < 50; i++ {
		h.bus.Publish(trade("ACC-1", -10))
	}
	h.bus.Close()

	assert.Equal(t, -500.0, h.agg.DailyPnL("ACC-1"))
	assert.Equal(t, 50, h.agg.DailyTradeCount("ACC-1"))
}

// 场景：冷却档位 {100→60s, 500→1800s}，单笔亏 600 选 1800s 档。
func TestTieredCooldownScenario(t *testing.T) {
	h := newHarness(t, func(h *harness) []policy.Policy {
		return []policy.Policy{&policy.LossCooldown{Tiers: []policy.Tier{
			{Loss: 100, Cooldown: 60 * time.Second},
			{Loss: 500, Cooldown: 1800 * time.Second},
		}}}
	})

	start := time.Now()
	h.bus.Publish(trade("ACC-1", -600))
	h.bus.Close()

	rec, ok := h.lockouts.Active("ACC-1")
	require.True(t, ok)
	assert.Equal(t, "cooldown", rec.Category)
	require.NotNil(t, rec.ExpiresAt)
	remaining := rec.ExpiresAt.Sub(start)
	assert.Greater(t, remaining, 1700*time.Second, "must select the 1800s tier, not 60s")
}

// 已锁定账户：锁定对紧随其后的事件立即可见，不再积累新违规。
func TestLockedAccountSkipsAccountWidePolicies(t *testing.T) {
	h := newHarness(t, func(h *harness) []policy.Policy {
		return []policy.Policy{
			&policy.DailyLossLimit{Limit: 100, PnL: h.agg},
			&policy.PositionSizeLimit{MaxSize: 10},
		}
	})

	h.bus.Publish(trade("ACC-1", -150)) // 触发 hard 锁定
	h.bus.Publish(trade("ACC-1", -150)) // 已锁定，不应再执法
	// trade-scoped 清理残余敞口仍然生效
	h.bus.Publish(bus.Event{
		Kind:      bus.KindPositionChanged,
		AccountID: "ACC-1",
		Symbol:    "ESZ6",
		Payload:   map[string]interface{}{"size": 12.0},
	})
	h.bus.Close()

	closedAll, _ := h.exec.snapshot()
	assert.Len(t, closedAll, 1, "account-wide enforcement must run only once")
	assert.Contains(t, h.exec.closed, "ACC-1:ESZ6", "trade-scoped cleanup must still run while locked")
	// 聚合仍然记账
	assert.Equal(t, -300.0, h.agg.DailyPnL("ACC-1"))
}

// 冷却到期由定时器清除后，is_locked 随即为 false。
func TestCooldownExpiryUnlocksWithoutQuery(t *testing.T) {
	h := newHarness(t, func(h *harness) []policy.Policy {
		return []policy.Policy{&policy.LossCooldown{Tiers: []policy.Tier{
			{Loss: 100, Cooldown: 100 * time.Millisecond},
		}}}
	})

	h.bus.Publish(trade("ACC-1", -200))
	h.bus.Close()
	require.True(t, h.lockouts.IsLocked("ACC-1"))

	require.Eventually(t, func() bool {
		_, active := h.lockouts.Active("ACC-1")
		return !active
	}, 3*time.Second, 20*time.Millisecond)
	assert.False(t, h.lockouts.IsLocked("ACC-1"))
}

// 连接断开只告警，不执法。
func TestConnectivityAlertOnly(t *testing.T) {
	h := newHarness(t, func(h *harness) []policy.Policy {
		return []policy.Policy{&policy.ConnectivityWatch{}}
	})

	h.bus.Publish(bus.Event{
		Kind:      bus.KindConnectivityChanged,
		AccountID: "ACC-1",
		Payload:   map[string]interface{}{"status": "disconnected"},
	})
	h.bus.Close()

	closedAll, cancelled := h.exec.snapshot()
	assert.Empty(t, closedAll)
	assert.Empty(t, cancelled)
	assert.False(t, h.lockouts.IsLocked("ACC-1"))
	assert.GreaterOrEqual(t, h.mock.Count(), 1, "disconnect must raise alert")
}

// 批量平仓部分失败：失败被上报但不中断，也不影响已装锁定。
func TestBestEffortFlatten(t *testing.T) {
	h := newHarness(t, func(h *harness) []policy.Policy {
		return []policy.Policy{&policy.DailyLossLimit{Limit: 100, PnL: h.agg}}
	})
	h.exec.failAll = true

	h.bus.Publish(trade("ACC-1", -150))
	h.bus.Close()

	assert.True(t, h.lockouts.IsLocked("ACC-1"), "lockout must hold even when flatten partially fails")
	found := false
	for _, a := range h.mock.GetAlerts() {
		if a.Level == "ERROR" {
			found = true
		}
	}
	assert.True(t, found, "per-target enforcement failure must be reported")
}

// 第一违规即停（EvaluateAll=false）时保持配置的优先级顺序。
func TestFirstMatchStopsWhenConfigured(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "prio.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	timers := timer.NewScheduler(nil)
	timers.Start()
	t.Cleanup(timers.Stop)

	b := bus.New(nil)
	exec := &mockExecutor{}
	agg := aggregate.NewTracker(st, nil, nil)
	locks := lockout.NewManager(st, timers, nil, nil)
	policies := []policy.Policy{
		&policy.DailyLossLimit{Limit: 100, PnL: agg},
		&policy.LossCooldown{Tiers: []policy.Tier{{Loss: 50, Cooldown: time.Minute}}},
	}
	eng := New(Config{EvaluateAll: false}, policies, b, agg, locks, exec, nil, nil, nil)
	eng.Register()

	b.Publish(trade("ACC-1", -150))
	b.Close()

	rec, ok := locks.Active("ACC-1")
	require.True(t, ok)
	assert.Equal(t, "hard", rec.Category, "higher priority policy must win under first-match")
}
