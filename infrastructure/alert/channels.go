package alert

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"account-guardian-go/infrastructure/logger"
)

// ZapChannel 把告警写入结构化日志，是守护进程的默认通道。
type ZapChannel struct {
	log  *logger.Logger
	name string
}

// NewZapChannel 创建日志告警通道
func NewZapChannel(name string, log *logger.Logger) *ZapChannel {
	return &ZapChannel{log: log, name: name}
}

// Send 发送告警到日志
func (c *ZapChannel) Send(alert Alert) error {
	fields := []zap.Field{
		zap.String("level", alert.Level),
		zap.String("account", alert.AccountID),
		zap.Time("at", alert.Timestamp),
	}
	for k, v := range alert.Fields {
		fields = append(fields, zap.Any(k, v))
	}
	switch alert.Level {
	case "ERROR", "CRITICAL":
		c.log.Error(alert.Message, fields...)
	default:
		c.log.Warn(alert.Message, fields...)
	}
	return nil
}

// Name 返回通道名称
func (c *ZapChannel) Name() string {
	return c.name
}

// WebhookChannel 预留的外部通知通道占位；当前实现仅缓存最近告警，
// 供运维面板拉取。
type WebhookChannel struct {
	name   string
	mu     sync.Mutex
	recent []Alert
	limit  int
}

// NewWebhookChannel 创建通知通道
func NewWebhookChannel(name string, limit int) *WebhookChannel {
	if limit <= 0 {
		limit = 100
	}
	return &WebhookChannel{name: name, limit: limit}
}

// Send 缓存告警
func (c *WebhookChannel) Send(alert Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recent = append(c.recent, alert)
	if len(c.recent) > c.limit {
		c.recent = c.recent[len(c.recent)-c.limit:]
	}
	return nil
}

// Name 返回通道名称
func (c *WebhookChannel) Name() string {
	return c.name
}

// Recent 返回缓存的最近告警
func (c *WebhookChannel) Recent() []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Alert, len(c.recent))
	copy(out, c.recent)
	return out
}

// MockChannel 模拟告警通道（用于测试）
type MockChannel struct {
	name      string
	mu        sync.Mutex
	alerts    []Alert
	shouldErr bool
}

// NewMockChannel 创建模拟告警通道
func NewMockChannel(name string) *MockChannel {
	return &MockChannel{name: name}
}

// Send 记录告警（用于测试验证）
func (c *MockChannel) Send(alert Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shouldErr {
		return fmt.Errorf("mock error")
	}
	c.alerts = append(c.alerts, alert)
	return nil
}

// Name 返回通道名称
func (c *MockChannel) Name() string {
	return c.name
}

// GetAlerts 获取所有接收到的告警
func (c *MockChannel) GetAlerts() []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Alert, len(c.alerts))
	copy(out, c.alerts)
	return out
}

// SetShouldError 设置是否返回错误
func (c *MockChannel) SetShouldError(shouldErr bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shouldErr = shouldErr
}

// Count 返回接收到的告警数量
func (c *MockChannel) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.alerts)
}
