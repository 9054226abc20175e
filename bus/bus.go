package bus

import (
	"sync"

	"go.uber.org/zap"

	"account-guardian-go/infrastructure/logger"
)

// Handler 事件处理函数。可以在内部继续做异步工作，
// 但同一账户的事件保证按发布顺序串行送达。
type Handler func(Event)

const accountQueueSize = 256

// Bus 进程内发布/订阅总线。
// 每个账户一个串行 worker，保证单账户事件流的顺序性；
// 不同账户并发处理，互不阻塞。
type Bus struct {
	mu       sync.RWMutex
	handlers map[Kind][]Handler
	workers  map[string]*accountWorker
	log      *logger.Logger
	closed   bool
	wg       sync.WaitGroup
}

type accountWorker struct {
	queue chan Event
}

// New 创建事件总线
func New(log *logger.Logger) *Bus {
	return &Bus{
		handlers: make(map[Kind][]Handler),
		workers:  make(map[string]*accountWorker),
		log:      log,
	}
}

// Subscribe 注册某类事件的处理器，按注册顺序送达。
// 必须在 Publish 之前完成注册（启动期装配）。
func (b *Bus) Subscribe(kind Kind, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], h)
}

// Publish 将事件入队到对应账户的 worker，从不阻塞调用方：
// 账户队列满时丢弃该事件并记录告警日志（worker 停摆时反压到
// 行情源只会让积压更糟，守护进程宁可丢观测精度也不能卡住）。
// 总线本身不提供跨重启持久化，崩溃恢复由 store 负责。
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	w, ok := b.workers[ev.AccountID]
	if ok && !b.closed {
		// 在读锁内入队，避免与 Close 关闭通道竞争
		b.enqueue(w, ev)
		b.mu.RUnlock()
		return
	}
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return
	}

	w = b.spawnWorker(ev.AccountID)
	b.mu.RLock()
	if !b.closed {
		b.enqueue(w, ev)
	}
	b.mu.RUnlock()
}

func (b *Bus) enqueue(w *accountWorker, ev Event) {
	select {
	case w.queue <- ev:
	default:
		if b.log != nil {
			b.log.Warn("account queue full, event dropped",
				zap.String("account", ev.AccountID),
				zap.String("kind", ev.Kind.String()))
		}
	}
}

func (b *Bus) spawnWorker(accountID string) *accountWorker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if w, ok := b.workers[accountID]; ok {
		return w
	}
	w := &accountWorker{queue: make(chan Event, accountQueueSize)}
	b.workers[accountID] = w
	b.wg.Add(1)
	go b.run(accountID, w)
	return w
}

// run 账户 worker 主循环：逐条取事件，顺序分发给该类型的全部订阅者。
// handlers 表在启动期装配后只读，这里不加锁：worker 排空队列
// 不依赖任何锁，Publish 在读锁内的入队才不会与 Close 形成互等。
func (b *Bus) run(accountID string, w *accountWorker) {
	defer b.wg.Done()
	for ev := range w.queue {
		for _, h := range b.handlers[ev.Kind] {
			b.deliver(accountID, ev, h)
		}
	}
}

// deliver 单个订阅者失败（panic）被捕获并记录，不影响后续订阅者。
func (b *Bus) deliver(accountID string, ev Event, h Handler) {
	defer func() {
		if r := recover(); r != nil && b.log != nil {
			b.log.Error("event handler panic",
				zap.String("account", accountID),
				zap.String("kind", ev.Kind.String()),
				zap.Any("panic", r))
		}
	}()
	h(ev)
}

// Close 停止接收新事件并等待所有队列排空。
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, w := range b.workers {
		close(w.queue)
	}
	b.mu.Unlock()
	b.wg.Wait()
}
