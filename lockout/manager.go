package lockout

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"account-guardian-go/infrastructure/alert"
	"account-guardian-go/infrastructure/logger"
	"account-guardian-go/store"
	"account-guardian-go/timer"
)

// Category 锁定类别
type Category int

const (
	// CategoryCooldown 自到期的限时锁定
	CategoryCooldown Category = iota
	// CategoryHard 持续到重置边界或人工清除的锁定
	CategoryHard
)

// String 返回类别名称
func (c Category) String() string {
	switch c {
	case CategoryCooldown:
		return "cooldown"
	case CategoryHard:
		return "hard"
	default:
		return "unknown"
	}
}

// ClearedBy 清除来源
const (
	ClearedByExpiry = "expiry"
	ClearedByReset  = "system-reset"
	ClearedByAdmin  = "admin"
)

// ErrPersist 锁定持久化彻底失败。未落库的锁定在崩溃后会悄悄恢复
// 交易权限，因此调用方必须把它视为该次强制执行的致命错误。
var ErrPersist = errors.New("lockout persist failed")

const (
	persistAttempts = 4
	persistBackoff  = 100 * time.Millisecond
)

// Clock 抽象时间便于测试。
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Manager 每账户交易权限的状态机：Unlocked → Locked(category,
// expiry) → Unlocked。内存表是缓存，store 是事实来源；启动时
// Recover 先装载再服务。
type Manager struct {
	mu     sync.RWMutex
	active map[string]store.LockoutRecord

	store  *store.Store
	timers *timer.Scheduler
	alerts *alert.Manager
	log    *logger.Logger
	clock  Clock
}

// NewManager 创建锁定管理器
func NewManager(st *store.Store, timers *timer.Scheduler, alerts *alert.Manager, log *logger.Logger) *Manager {
	return &Manager{
		active: make(map[string]store.LockoutRecord),
		store:  st,
		timers: timers,
		alerts: alerts,
		log:    log,
		clock:  realClock{},
	}
}

// Recover 启动恢复：重新装载全部锁定。已过期的 cooldown 立即清除，
// 未到期的按剩余时长重挂定时器；hard 不论是否带到期时间都原样装回，
// 它只被重置边界或人工清除。锁定定时器不独立持久化，这里从锁定行重建。
func (m *Manager) Recover() error {
	recs, err := m.store.LoadLockouts()
	if err != nil {
		return fmt.Errorf("load lockouts: %w", err)
	}

	now := m.clock.Now()
	for _, rec := range recs {
		cooldown := rec.Category == CategoryCooldown.String()
		if cooldown && rec.ExpiresAt != nil && !rec.ExpiresAt.After(now) {
			if err := m.Clear(rec.AccountID, ClearedByExpiry); err != nil && m.log != nil {
				m.log.Error("clear stale lockout failed",
					zap.String("account", rec.AccountID), zap.Error(err))
			}
			continue
		}
		m.mu.Lock()
		m.active[rec.AccountID] = rec
		m.mu.Unlock()
		if cooldown && rec.ExpiresAt != nil {
			m.armTimer(rec.AccountID, *rec.ExpiresAt)
		}
		if m.log != nil {
			m.log.Info("lockout recovered",
				zap.String("account", rec.AccountID),
				zap.String("category", rec.Category),
				zap.String("reason", rec.Reason))
		}
	}
	return nil
}

// Set 安装锁定。与既有锁定按优先规则合并：
//   - hard 永远压过 cooldown；
//   - 后来的 hard 仅在更晚到期或无限期时替换先前的 hard；
//   - 后来的 cooldown 仅在更晚到期时替换先前的 cooldown。
//
// 只有 cooldown 注册到期定时器；hard 的 ExpiresAt 仅参与优先级
// 比较，从不被定时器自动清除（只能等重置边界或人工清除）。
// 持久化失败经有界重试后升级为 CRITICAL 告警并返回 ErrPersist。
func (m *Manager) Set(accountID, reason string, cat Category, expiresAt *time.Time) error {
	now := m.clock.Now()
	rec := store.LockoutRecord{
		AccountID: accountID,
		Reason:    reason,
		Category:  cat.String(),
		LockedAt:  now,
		ExpiresAt: expiresAt,
	}

	m.mu.Lock()
	existing, has := m.active[accountID]
	if has && !supersedes(rec, existing) {
		m.mu.Unlock()
		if m.log != nil {
			m.log.Info("lockout kept by precedence",
				zap.String("account", accountID),
				zap.String("existing", existing.Category),
				zap.String("incoming", cat.String()))
		}
		return nil
	}
	m.active[accountID] = rec
	m.mu.Unlock()

	if err := m.persist(rec); err != nil {
		// 回滚缓存，保持与 store 一致
		m.mu.Lock()
		if has {
			m.active[accountID] = existing
		} else {
			delete(m.active, accountID)
		}
		m.mu.Unlock()
		if m.alerts != nil {
			m.alerts.Critical(accountID, "lockout persist failed", map[string]interface{}{
				"reason": reason,
				"error":  err.Error(),
			})
		}
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}

	if cat == CategoryCooldown && expiresAt != nil {
		m.armTimer(accountID, *expiresAt)
	} else {
		// hard 替换 cooldown 时要取消残留的到期定时器
		m.timers.Cancel(timerID(accountID))
	}

	if m.log != nil {
		m.log.Warn("lockout installed",
			zap.String("account", accountID),
			zap.String("category", cat.String()),
			zap.String("reason", reason),
			zap.Timep("expires_at", expiresAt))
	}
	return nil
}

// IsLocked 账户是否处于锁定状态。hard 忽略到期时间，挂着就是锁着；
// cooldown 的到期判定只看缓存里的时间，实际清除由定时器回调驱动，
// 不靠查询触发。
func (m *Manager) IsLocked(accountID string) bool {
	m.mu.RLock()
	rec, ok := m.active[accountID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	if rec.Category == CategoryHard.String() {
		return true
	}
	return rec.ExpiresAt == nil || rec.ExpiresAt.After(m.clock.Now())
}

// Active 返回账户当前锁定记录（若有）。
func (m *Manager) Active(accountID string) (store.LockoutRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.active[accountID]
	return rec, ok
}

// ActiveCount 当前锁定账户数，供指标上报。
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// Clear 清除锁定并留审计记录。对未锁定账户是幂等空操作。
// 关联的冷却定时器在返回前同步取消，避免陈旧定时器事后误触发。
func (m *Manager) Clear(accountID, clearedBy string) error {
	m.timers.Cancel(timerID(accountID))

	m.mu.Lock()
	_, had := m.active[accountID]
	delete(m.active, accountID)
	m.mu.Unlock()

	if err := m.store.DeleteLockout(accountID, clearedBy, m.clock.Now()); err != nil {
		return fmt.Errorf("delete lockout: %w", err)
	}
	if had && m.log != nil {
		m.log.Info("lockout cleared",
			zap.String("account", accountID),
			zap.String("cleared_by", clearedBy))
	}
	return nil
}

// ClearOnReset 重置边界到来时清除 hard 锁定（带不带到期时间都清，
// hard 的到期时间从不触发自动清除）。cooldown 不受重置影响，
// 由自身定时器清除。
func (m *Manager) ClearOnReset(accountID string) error {
	m.mu.RLock()
	rec, ok := m.active[accountID]
	m.mu.RUnlock()
	if !ok || rec.Category != CategoryHard.String() {
		return nil
	}
	return m.Clear(accountID, ClearedByReset)
}

// supersedes 判定新锁定是否替换既有锁定（§优先规则）。
// 规则自愈：即使出现异常状态也以确定性的比较收敛，不在运行期报错。
func supersedes(incoming, existing store.LockoutRecord) bool {
	hard := CategoryHard.String()
	switch {
	case incoming.Category == hard && existing.Category != hard:
		return true
	case incoming.Category != hard && existing.Category == hard:
		return false
	case incoming.Category == hard:
		// 都是 hard：仅更晚到期或无限期的替换
		if incoming.ExpiresAt == nil {
			return existing.ExpiresAt != nil
		}
		return existing.ExpiresAt != nil && incoming.ExpiresAt.After(*existing.ExpiresAt)
	default:
		// 都是 cooldown：更晚到期的胜出
		if incoming.ExpiresAt == nil {
			return true
		}
		return existing.ExpiresAt == nil || incoming.ExpiresAt.After(*existing.ExpiresAt)
	}
}

func (m *Manager) armTimer(accountID string, expiresAt time.Time) {
	m.timers.StartTimerAt(timerID(accountID), accountID, expiresAt, nil,
		func(string, map[string]interface{}) {
			if err := m.Clear(accountID, ClearedByExpiry); err != nil && m.log != nil {
				m.log.Error("auto-expiry clear failed",
					zap.String("account", accountID), zap.Error(err))
			}
		})
}

func (m *Manager) persist(rec store.LockoutRecord) error {
	var err error
	for i := 0; i < persistAttempts; i++ {
		if err = m.store.UpsertLockout(rec); err == nil {
			return nil
		}
		time.Sleep(persistBackoff << uint(i))
	}
	return err
}

func timerID(accountID string) string {
	return "lockout:" + accountID
}
