package aggregate

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"account-guardian-go/infrastructure/logger"
	"account-guardian-go/store"
)

// Session 账户营业日的划分参数：时区 + 每日重置边界（本地时刻）。
// 零值表示 UTC 午夜。
type Session struct {
	Loc    *time.Location
	Hour   int
	Minute int
}

// Sessions 提供账户营业日的划分参数。
type Sessions interface {
	Session(accountID string) Session
}

// StaticSessions 配置期装配的账户会话表，未配置的账户按 UTC 午夜。
type StaticSessions map[string]Session

func (z StaticSessions) Session(accountID string) Session {
	s := z[accountID]
	if s.Loc == nil {
		s.Loc = time.UTC
	}
	return s
}

// Tracker 维护每账户当前营业日的已实现盈亏与成交计数。
// store 是事实来源，内存只是缓存：首次访问某账户时从 store
// 装载（load-then-serve），之后写操作先落库再更新缓存。
type Tracker struct {
	mu       sync.Mutex
	cache    map[string]*accountState
	store    *store.Store
	sessions Sessions
	log      *logger.Logger
	clock    func() time.Time
}

type accountState struct {
	businessDate string
	realizedPnL  float64
	tradeCount   int
}

// NewTracker 创建聚合器
func NewTracker(st *store.Store, sessions Sessions, log *logger.Logger) *Tracker {
	if sessions == nil {
		sessions = StaticSessions{}
	}
	return &Tracker{
		cache:    make(map[string]*accountState),
		store:    st,
		sessions: sessions,
		log:      log,
		clock:    time.Now,
	}
}

// BusinessDate t 所属的营业日：按账户本地重置边界切分，键取边界
// 开启当天的日历日期。边界在 17:00 的账户，17:05 的成交已属于当日
// 17:00 开启的新营业日；16:00 的成交还在前一日开启的营业日里。
// 重置边界一过，聚合键自然换行，不依赖缓存失效。
func (tr *Tracker) BusinessDate(accountID string, t time.Time) string {
	s := tr.sessions.Session(accountID)
	local := t.In(s.Loc)
	open := time.Date(local.Year(), local.Month(), local.Day(), s.Hour, s.Minute, 0, 0, s.Loc)
	if local.Before(open) {
		open = open.AddDate(0, 0, -1)
	}
	return open.Format("2006-01-02")
}

// AddTrade 累加一笔成交。先写库（带有界退避重试），成功后更新缓存；
// 返回后限额策略读到的就是含本笔的聚合值。
func (tr *Tracker) AddTrade(accountID string, pnlDelta float64, at time.Time) error {
	date := tr.BusinessDate(accountID, at)

	err := retry(3, 100*time.Millisecond, func() error {
		return tr.store.AddTrade(accountID, date, pnlDelta, at)
	})
	if err != nil {
		return fmt.Errorf("persist trade: %w", err)
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	st := tr.loadLocked(accountID, date)
	st.realizedPnL += pnlDelta
	st.tradeCount++
	return nil
}

// DailyPnL 当前营业日累计已实现盈亏。
func (tr *Tracker) DailyPnL(accountID string) float64 {
	date := tr.BusinessDate(accountID, tr.clock())
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.loadLocked(accountID, date).realizedPnL
}

// DailyTradeCount 当前营业日成交笔数。
func (tr *Tracker) DailyTradeCount(accountID string) int {
	date := tr.BusinessDate(accountID, tr.clock())
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.loadLocked(accountID, date).tradeCount
}

// TradesInWindow 最近 window 内的成交笔数（滚动窗口，读 store 日志）。
func (tr *Tracker) TradesInWindow(accountID string, window time.Duration) int {
	n, err := tr.store.CountTradesSince(accountID, tr.clock().Add(-window))
	if err != nil {
		if tr.log != nil {
			tr.log.Error("count trades failed", zap.String("account", accountID), zap.Error(err))
		}
		return 0
	}
	return n
}

// Roll 重置边界到来时由调度器调用：丢弃缓存强制按新营业日装载，
// 并裁剪滚动成交日志。聚合行按重置边界建键（见 BusinessDate），
// 新营业日从零值行开始，旧行保留作历史。
func (tr *Tracker) Roll(accountID string, at time.Time) {
	tr.mu.Lock()
	delete(tr.cache, accountID)
	tr.mu.Unlock()

	if err := tr.store.PruneTradeLog(accountID, at.Add(-24*time.Hour)); err != nil && tr.log != nil {
		tr.log.Warn("prune trade log failed", zap.String("account", accountID), zap.Error(err))
	}
	if tr.log != nil {
		tr.log.Info("daily aggregate rolled",
			zap.String("account", accountID),
			zap.String("business_date", tr.BusinessDate(accountID, at)))
	}
}

// loadLocked 缓存未命中或跨营业日时从 store 重新装载。
func (tr *Tracker) loadLocked(accountID, date string) *accountState {
	st, ok := tr.cache[accountID]
	if ok && st.businessDate == date {
		return st
	}
	agg, err := tr.store.GetAggregate(accountID, date)
	if err != nil {
		if tr.log != nil {
			tr.log.Error("load aggregate failed", zap.String("account", accountID), zap.Error(err))
		}
		agg = store.DailyAggregate{AccountID: accountID, BusinessDate: date}
	}
	st = &accountState{
		businessDate: date,
		realizedPnL:  agg.RealizedPnL,
		tradeCount:   agg.TradeCount,
	}
	tr.cache[accountID] = st
	return st
}

// retry 有界指数退避。耐久写失败不能被静默吞掉（见锁定管理器的
// 升级路径），这里只做瞬时 I/O 失败的缓冲。
func retry(attempts int, base time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		time.Sleep(base << uint(i))
	}
	return err
}
