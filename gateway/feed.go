package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"account-guardian-go/bus"
	"account-guardian-go/infrastructure/logger"
	"account-guardian-go/metrics"
)

const (
	feedReadTimeout  = 30 * time.Second
	feedBaseBackoff  = 1 * time.Second
	feedMaxBackoff   = 30 * time.Second
	feedWriteTimeout = 5 * time.Second
)

// Feed 维护到账户事件网关的 WebSocket 连接：断线自动重连（指数退避），
// 连接状态变化作为 connectivity 事件发布到总线，由策略层决定是否告警。
type Feed struct {
	Endpoint string
	Accounts []string // 订阅的账户
	Dialer   *websocket.Dialer

	bus     *bus.Bus
	log     *logger.Logger
	metrics *metrics.Collector

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewFeed(endpoint string, accounts []string, b *bus.Bus, log *logger.Logger, m *metrics.Collector) *Feed {
	return &Feed{
		Endpoint: endpoint,
		Accounts: accounts,
		Dialer:   websocket.DefaultDialer,
		bus:      b,
		log:      log,
		metrics:  m,
	}
}

// Run 阻塞运行连接循环，直到 ctx 取消。
func (f *Feed) Run(ctx context.Context) {
	backoff := feedBaseBackoff
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, _, err := f.Dialer.DialContext(ctx, f.Endpoint, nil)
		if err != nil {
			if f.log != nil {
				f.log.Warn("feed dial failed",
					zap.String("endpoint", f.Endpoint),
					zap.Duration("retry_in", backoff),
					zap.Error(err))
			}
			if f.metrics != nil {
				f.metrics.FeedReconnects.Inc()
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > feedMaxBackoff {
				backoff = feedMaxBackoff
			}
			continue
		}
		backoff = feedBaseBackoff

		f.mu.Lock()
		f.conn = conn
		f.mu.Unlock()

		if err := f.subscribe(conn); err != nil {
			if f.log != nil {
				f.log.Error("feed subscribe failed", zap.Error(err))
			}
			conn.Close()
			continue
		}

		if f.metrics != nil {
			f.metrics.FeedConnected.Set(1)
		}
		if f.log != nil {
			f.log.Info("feed connected", zap.String("endpoint", f.Endpoint))
		}
		f.publishConnectivity("connected")

		f.readLoop(ctx, conn)

		f.mu.Lock()
		f.conn = nil
		f.mu.Unlock()
		if f.metrics != nil {
			f.metrics.FeedConnected.Set(0)
			f.metrics.FeedReconnects.Inc()
		}
		if f.log != nil {
			f.log.Warn("feed disconnected, reconnecting")
		}
		f.publishConnectivity("disconnected")
	}
}

// Close 主动关闭当前连接，配合 ctx 取消使用。
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		_ = f.conn.Close()
		f.conn = nil
	}
}

func (f *Feed) subscribe(conn *websocket.Conn) error {
	sub := map[string]interface{}{
		"op":       "subscribe",
		"accounts": f.Accounts,
	}
	payload, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (f *Feed) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(feedReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(feedReadTimeout))
		return nil
	})
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if f.log != nil && ctx.Err() == nil {
				f.log.Warn("feed read failed", zap.Error(err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(feedReadTimeout))
		f.handleMessage(raw)
	}
}

func (f *Feed) handleMessage(raw []byte) {
	ev, err := ParseAccountEvent(raw)
	if err != nil {
		if !errors.Is(err, ErrNonAccountEvent) && f.log != nil {
			f.log.Warn("feed message dropped", zap.Error(err), zap.ByteString("raw", raw))
		}
		return
	}
	f.bus.Publish(ev)
}

func (f *Feed) publishConnectivity(status string) {
	for _, acc := range f.Accounts {
		f.bus.Publish(bus.Event{
			Kind:      bus.KindConnectivityChanged,
			AccountID: acc,
			At:        time.Now().UTC(),
			Payload:   map[string]interface{}{"status": status},
		})
	}
}
