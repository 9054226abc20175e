// Package metrics provides Prometheus metrics for the account guardian
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StartMetricsServer 启动Prometheus指标服务器
func StartMetricsServer(addr string) {
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		_ = http.ListenAndServe(addr, nil)
	}()
}

// Collector 守护进程的核心指标集合
type Collector struct {
	EventsProcessed    *prometheus.CounterVec
	Violations         *prometheus.CounterVec
	Enforcements       *prometheus.CounterVec
	EnforcementErrors  prometheus.Counter
	ActiveLockouts     prometheus.Gauge
	TimerFires         prometheus.Counter
	ResetFires         prometheus.Counter
	PersistFailures    prometheus.Counter
	FeedReconnects     prometheus.Counter
	FeedConnected      prometheus.Gauge
}

// NewCollector 注册并返回指标集合
func NewCollector() *Collector {
	return &Collector{
		EventsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_events_processed_total",
			Help: "Account events processed by the rule engine",
		}, []string{"kind"}),
		Violations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_violations_total",
			Help: "Policy violations by policy id",
		}, []string{"policy"}),
		Enforcements: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_enforcements_total",
			Help: "Enforcement directives dispatched by action",
		}, []string{"action"}),
		EnforcementErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "guardian_enforcement_errors_total",
			Help: "Failed enforcement calls to the trading platform",
		}),
		ActiveLockouts: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "guardian_active_lockouts",
			Help: "Accounts currently locked out",
		}),
		TimerFires: promauto.NewCounter(prometheus.CounterOpts{
			Name: "guardian_timer_fires_total",
			Help: "Countdown timers fired",
		}),
		ResetFires: promauto.NewCounter(prometheus.CounterOpts{
			Name: "guardian_reset_fires_total",
			Help: "Daily/weekly reset boundaries fired",
		}),
		PersistFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "guardian_persist_failures_total",
			Help: "Durable writes that failed after bounded retry",
		}),
		FeedReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "guardian_feed_reconnects_total",
			Help: "Platform event feed reconnect attempts",
		}),
		FeedConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "guardian_feed_connected",
			Help: "1 when the platform event feed is connected",
		}),
	}
}
