package timer

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"account-guardian-go/infrastructure/logger"
	"account-guardian-go/metrics"
)

// Callback 定时器到期回调。回调在独立 goroutine 中执行，
// 慢回调不会拖慢其他定时器的触发。
type Callback func(id string, payload map[string]interface{})

// Handle 定时器句柄
type Handle struct {
	ID        string
	AccountID string
	FiresAt   time.Time
	Payload   map[string]interface{}
	cb        Callback
}

// Clock 抽象时间便于测试。
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Scheduler 通用一次性命名倒计时器。
// 单调度循环 + 最近截止时间唤醒，触发精度在秒级抖动窗口内，
// 对以分钟/小时计的冷却时长足够。
type Scheduler struct {
	mu      sync.Mutex
	timers  map[string]*Handle
	wake    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	clock   Clock
	log     *logger.Logger
	metrics *metrics.Collector
}

// SetMetrics 注入指标收集器，需在 Start 前调用。
func (s *Scheduler) SetMetrics(m *metrics.Collector) { s.metrics = m }

// NewScheduler 创建定时器调度器
func NewScheduler(log *logger.Logger) *Scheduler {
	return &Scheduler{
		timers: make(map[string]*Handle),
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		clock:  realClock{},
		log:    log,
	}
}

// Start 启动调度循环
func (s *Scheduler) Start() {
	go s.loop()
}

// Stop 停止调度循环，未触发的定时器被丢弃。
func (s *Scheduler) Stop() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	<-s.done
}

// StartTimer 注册一个命名定时器。duration <= 0 时在下一个调度
// 周期立即触发，不报错。同名定时器被替换（旧的不再触发）。
func (s *Scheduler) StartTimer(id, accountID string, duration time.Duration, payload map[string]interface{}, cb Callback) *Handle {
	h := &Handle{
		ID:        id,
		AccountID: accountID,
		FiresAt:   s.clock.Now().Add(duration),
		Payload:   payload,
		cb:        cb,
	}
	s.mu.Lock()
	s.timers[id] = h
	s.mu.Unlock()
	s.kick()
	return h
}

// StartTimerAt 以绝对截止时间注册定时器。
func (s *Scheduler) StartTimerAt(id, accountID string, deadline time.Time, payload map[string]interface{}, cb Callback) *Handle {
	return s.StartTimer(id, accountID, deadline.Sub(s.clock.Now()), payload, cb)
}

// Cancel 取消定时器。幂等：取消已触发或不存在的定时器返回 false，不报错。
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	_, ok := s.timers[id]
	delete(s.timers, id)
	s.mu.Unlock()
	return ok
}

// Pending 返回未触发定时器数量。
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *Scheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// loop 调度主循环：睡到最近截止时间，触发全部到期定时器后从表中移除。
func (s *Scheduler) loop() {
	defer close(s.done)
	for {
		next := s.fireDue()

		var wait <-chan time.Time
		if !next.IsZero() {
			d := next.Sub(s.clock.Now())
			if d < 0 {
				d = 0
			}
			t := time.NewTimer(d)
			wait = t.C
			select {
			case <-s.stop:
				t.Stop()
				return
			case <-s.wake:
				t.Stop()
			case <-wait:
			}
			continue
		}

		select {
		case <-s.stop:
			return
		case <-s.wake:
		}
	}
}

// fireDue 触发所有到期定时器，返回下一个最近截止时间（无则零值）。
func (s *Scheduler) fireDue() time.Time {
	now := s.clock.Now()
	var due []*Handle
	var next time.Time

	s.mu.Lock()
	for id, h := range s.timers {
		if !h.FiresAt.After(now) {
			due = append(due, h)
			delete(s.timers, id)
			continue
		}
		if next.IsZero() || h.FiresAt.Before(next) {
			next = h.FiresAt
		}
	}
	s.mu.Unlock()

	for _, h := range due {
		go s.invoke(h)
	}
	return next
}

func (s *Scheduler) invoke(h *Handle) {
	defer func() {
		if r := recover(); r != nil && s.log != nil {
			s.log.Error("timer callback panic",
				zap.String("timer", h.ID),
				zap.Any("panic", r))
		}
	}()
	if s.metrics != nil {
		s.metrics.TimerFires.Inc()
	}
	if h.cb != nil {
		h.cb(h.ID, h.Payload)
	}
}
