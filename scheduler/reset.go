package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"account-guardian-go/infrastructure/logger"
	"account-guardian-go/metrics"
	"account-guardian-go/store"
)

// Cadence 重置节奏
type Cadence int

const (
	// CadenceDaily 每个营业日重置
	CadenceDaily Cadence = iota
	// CadenceWeekly 每周重置（按配置星期几）
	CadenceWeekly
)

// String 返回节奏名称
func (c Cadence) String() string {
	switch c {
	case CadenceDaily:
		return "daily"
	case CadenceWeekly:
		return "weekly"
	default:
		return "unknown"
	}
}

// Entry 单账户的重置排程。
type Entry struct {
	AccountID string
	Cadence   Cadence
	Hour      int // 本地时区挂钟时刻
	Minute    int
	Zone      *time.Location
	Weekday   time.Weekday // 仅 weekly 使用
}

// Roller 重置边界到来时滚动日聚合。
type Roller interface {
	Roll(accountID string, at time.Time)
}

// ResetClearer 清除以重置为边界的锁定。
type ResetClearer interface {
	ClearOnReset(accountID string) error
}

// Clock 抽象时间便于测试。
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Scheduler 以固定间隔（默认一分钟）扫描所有排程。
// 每次扫描都按当前时区数据重新计算应触发时刻，而不是预挂长定时器，
// 这样夏令时切换发生在排程与触发之间也不会打偏。
// last_fired_at 持久化保证重启后同一周期不重复触发。
type Scheduler struct {
	mu      sync.Mutex
	entries []Entry
	fired   map[string]time.Time // accountID:cadence -> last fired

	store    *store.Store
	agg      Roller
	lockouts ResetClearer
	log      *logger.Logger
	metrics  *metrics.Collector
	clock    Clock
	interval time.Duration

	stop chan struct{}
	done chan struct{}
}

// SetMetrics 注入指标收集器，需在 Run 前调用。
func (s *Scheduler) SetMetrics(m *metrics.Collector) { s.metrics = m }

// New 创建重置调度器
func New(st *store.Store, agg Roller, lockouts ResetClearer, log *logger.Logger) *Scheduler {
	return &Scheduler{
		fired:    make(map[string]time.Time),
		store:    st,
		agg:      agg,
		lockouts: lockouts,
		log:      log,
		clock:    realClock{},
		interval: time.Minute,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Schedule 登记一个账户的重置排程。营运配置，无取消路径；
// Deregister 仅用于账户下线清理。
func (s *Scheduler) Schedule(e Entry) error {
	if e.Zone == nil {
		return fmt.Errorf("entry for %s: zone required", e.AccountID)
	}
	if e.Hour < 0 || e.Hour > 23 || e.Minute < 0 || e.Minute > 59 {
		return fmt.Errorf("entry for %s: invalid fire time %02d:%02d", e.AccountID, e.Hour, e.Minute)
	}

	last, ok, err := s.store.LastFired(e.AccountID, e.Cadence.String())
	if err != nil {
		return fmt.Errorf("load reset history: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	if ok {
		s.fired[key(e)] = last
	}
	return nil
}

// Deregister 移除账户的全部排程。
func (s *Scheduler) Deregister(accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.AccountID != accountID {
			kept = append(kept, e)
		}
	}
	s.entries = kept
}

// Run 扫描循环。阻塞直到 ctx 取消或 Stop。
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Sweep() // 启动即补扫一次，处理停机期间错过的边界
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Stop 停止扫描循环。
func (s *Scheduler) Stop() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	<-s.done
}

// Sweep 单次扫描：对每个排程判定是否到达新的触发时刻。
func (s *Scheduler) Sweep() {
	now := s.clock.Now()

	s.mu.Lock()
	entries := make([]Entry, len(s.entries))
	copy(entries, s.entries)
	s.mu.Unlock()

	for _, e := range entries {
		due := lastDue(e, now)
		if due.IsZero() || now.Before(due) {
			continue
		}
		s.mu.Lock()
		last, ok := s.fired[key(e)]
		s.mu.Unlock()
		if ok && !due.After(last) {
			continue // 本周期已触发过（含跨重启）
		}
		s.fire(e, due, now)
	}
}

// fire 执行重置：滚动聚合、清除重置边界锁定、落库 last_fired_at。
func (s *Scheduler) fire(e Entry, due, now time.Time) {
	if s.agg != nil {
		s.agg.Roll(e.AccountID, now)
	}
	if s.lockouts != nil {
		if err := s.lockouts.ClearOnReset(e.AccountID); err != nil && s.log != nil {
			s.log.Error("reset-scoped lockout clear failed",
				zap.String("account", e.AccountID), zap.Error(err))
		}
	}
	if err := s.store.SetLastFired(e.AccountID, e.Cadence.String(), due); err != nil {
		// 下一轮扫描会重试；Roll/Clear 是幂等的
		if s.log != nil {
			s.log.Error("persist reset history failed",
				zap.String("account", e.AccountID), zap.Error(err))
		}
		return
	}

	s.mu.Lock()
	s.fired[key(e)] = due
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ResetFires.Inc()
	}
	if s.log != nil {
		s.log.Info("reset fired",
			zap.String("account", e.AccountID),
			zap.String("cadence", e.Cadence.String()),
			zap.Time("boundary", due))
	}
}

// lastDue 计算 now 之前（含 now）最近一次应触发的 UTC 时刻。
// time.Date 对不存在的本地时刻（春季跳变）归一化到第一个有效瞬间，
// 对重复时刻（秋季回拨）取第一个 UTC 瞬间，满足确定性要求。
func lastDue(e Entry, now time.Time) time.Time {
	local := now.In(e.Zone)

	switch e.Cadence {
	case CadenceWeekly:
		// 回退到本周期望星期几，再往前找最近一个不晚于 now 的触发点
		for back := 0; back < 8; back++ {
			d := local.AddDate(0, 0, -back)
			if d.Weekday() != e.Weekday {
				continue
			}
			candidate := time.Date(d.Year(), d.Month(), d.Day(), e.Hour, e.Minute, 0, 0, e.Zone)
			if !candidate.After(now) {
				return candidate.UTC()
			}
		}
		return time.Time{}
	default:
		for back := 0; back < 2; back++ {
			d := local.AddDate(0, 0, -back)
			candidate := time.Date(d.Year(), d.Month(), d.Day(), e.Hour, e.Minute, 0, 0, e.Zone)
			if !candidate.After(now) {
				return candidate.UTC()
			}
		}
		return time.Time{}
	}
}

func key(e Entry) string {
	return e.AccountID + ":" + e.Cadence.String()
}
