package engine

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"account-guardian-go/aggregate"
	"account-guardian-go/bus"
	"account-guardian-go/infrastructure/alert"
	"account-guardian-go/infrastructure/logger"
	"account-guardian-go/lockout"
	"account-guardian-go/metrics"
	"account-guardian-go/policy"
)

// Result 单个平仓/撤单目标的结果。
type Result struct {
	Target string
	Err    error
}

// Executor 交易平台侧的执法能力（§外部协作方）。
// 批量操作尽力而为：单个目标失败不中断其余目标。
type Executor interface {
	ClosePosition(accountID, symbol string) error
	CloseAllPositions(accountID string) ([]Result, error)
	CancelAllOrders(accountID string) ([]Result, error)
}

// Config 引擎配置
type Config struct {
	// EvaluateAll 为 true 时评估全部策略并执行所有违规的指令；
	// 否则在第一条违规后停止。
	EvaluateAll bool
}

// Engine 规则评估引擎：订阅事件总线，对每个事件按固定优先级
// 顺序评估已启用策略，违规时派发执法指令并安装锁定。
// 同账户事件由总线保证串行送达，引擎内不再加锁。
type Engine struct {
	cfg Config

	polMu    sync.RWMutex
	policies []policy.Policy // 配置定下的优先级顺序

	bus      *bus.Bus
	agg      *aggregate.Tracker
	lockouts *lockout.Manager
	exec     Executor
	alerts   *alert.Manager
	log      *logger.Logger
	metrics  *metrics.Collector
}

// New 创建引擎
func New(cfg Config, policies []policy.Policy, b *bus.Bus, agg *aggregate.Tracker,
	lockouts *lockout.Manager, exec Executor, alerts *alert.Manager,
	log *logger.Logger, m *metrics.Collector) *Engine {
	return &Engine{
		cfg:      cfg,
		policies: policies,
		bus:      b,
		agg:      agg,
		lockouts: lockouts,
		exec:     exec,
		alerts:   alerts,
		log:      log,
		metrics:  m,
	}
}

// Register 订阅账户事件。违规/执法观测事件不订阅，避免引擎
// 被自己的副作用再次触发。
func (e *Engine) Register() {
	for _, k := range []bus.Kind{
		bus.KindTradeExecuted,
		bus.KindPositionChanged,
		bus.KindOrderChanged,
		bus.KindConnectivityChanged,
	} {
		e.bus.Subscribe(k, e.Handle)
	}
}

// UpdatePolicies 原子替换策略集，配置热更新时调用。
// 进行中的事件继续用旧策略集评估完。
func (e *Engine) UpdatePolicies(policies []policy.Policy) {
	e.polMu.Lock()
	e.policies = policies
	e.polMu.Unlock()
}

// Handle 处理单个账户事件。
func (e *Engine) Handle(ev bus.Event) {
	if e.metrics != nil {
		e.metrics.EventsProcessed.WithLabelValues(ev.Kind.String()).Inc()
	}

	// 成交先落聚合，限额策略紧接着就要读它
	if ev.Kind == bus.KindTradeExecuted {
		if err := e.agg.AddTrade(ev.AccountID, ev.Float("realizedPnl"), ev.At); err != nil {
			if e.metrics != nil {
				e.metrics.PersistFailures.Inc()
			}
			if e.alerts != nil {
				e.alerts.Critical(ev.AccountID, "trade aggregate persist failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
			if e.log != nil {
				e.log.Error("aggregate write failed", zap.String("account", ev.AccountID), zap.Error(err))
			}
		}
	}

	locked := e.lockouts.IsLocked(ev.AccountID)

	e.polMu.RLock()
	policies := e.policies
	e.polMu.RUnlock()

	for _, p := range policies {
		// 已锁定账户不再从自身执法副作用里积累新违规，
		// 只保留告警与残余敞口的 trade-scoped 处置
		if locked && p.Category() != policy.CategoryAlertOnly && p.Category() != policy.CategoryTradeScoped {
			continue
		}
		v := p.Evaluate(ev)
		if v == nil {
			continue
		}
		e.act(*v)
		if !e.cfg.EvaluateAll {
			break
		}
	}

	if e.metrics != nil {
		e.metrics.ActiveLockouts.Set(float64(e.lockouts.ActiveCount()))
	}
}

// act 执行一条违规：派发执法指令、安装锁定、发布观测事件。
func (e *Engine) act(v policy.Violation) {
	id := ulid.Make().String()

	if e.metrics != nil {
		e.metrics.Violations.WithLabelValues(v.PolicyID).Inc()
	}
	if e.log != nil {
		e.log.LogViolation(v.PolicyID, v.AccountID, v.Reason, map[string]interface{}{
			"violation_id": id,
			"severity":     v.Severity,
			"action":       v.Directive.Action.String(),
		})
	}
	if e.alerts != nil {
		e.alerts.Send(alert.Alert{
			Level:     v.Severity,
			AccountID: v.AccountID,
			Message:   v.Reason,
			Fields:    map[string]interface{}{"policy": v.PolicyID, "violation_id": id},
		})
	}
	e.bus.Publish(bus.Event{
		Kind:      bus.KindViolation,
		AccountID: v.AccountID,
		At:        time.Now().UTC(),
		Payload: map[string]interface{}{
			"violation_id": id,
			"policy":       v.PolicyID,
			"reason":       v.Reason,
		},
	})

	// 先锁再平：锁定必须耐久成立，随后的平仓失败可以重试，
	// 反过来未锁先平会留下重开仓位的窗口
	if lk := v.Directive.Lockout; lk != nil {
		var expires *time.Time
		if lk.Duration > 0 {
			t := time.Now().Add(lk.Duration)
			expires = &t
		}
		cat := lockout.CategoryCooldown
		if lk.Hard {
			cat = lockout.CategoryHard
		}
		if err := e.lockouts.Set(v.AccountID, v.Reason, cat, expires); err != nil {
			// 持久化失败已在管理器内升级告警，这里放弃本次执法动作
			if e.log != nil {
				e.log.Error("lockout install failed, enforcement aborted",
					zap.String("account", v.AccountID), zap.Error(err))
			}
			return
		}
	}

	e.dispatch(v, id)
}

// dispatch 按指令调用执法协作方，尽力而为。
func (e *Engine) dispatch(v policy.Violation, id string) {
	if v.Directive.Action == policy.ActionNone || e.exec == nil {
		return
	}
	if e.metrics != nil {
		e.metrics.Enforcements.WithLabelValues(v.Directive.Action.String()).Inc()
	}

	switch v.Directive.Action {
	case policy.ActionClosePosition:
		if err := e.exec.ClosePosition(v.AccountID, v.Directive.Symbol); err != nil {
			e.reportExecFailure(v.AccountID, "close position failed", v.Directive.Symbol, err)
		}
	case policy.ActionCloseAll:
		e.reportResults(v.AccountID, "close position failed", e.closeAll(v.AccountID))
	case policy.ActionCancelOrders:
		e.reportResults(v.AccountID, "cancel order failed", e.cancelAll(v.AccountID))
	case policy.ActionFlattenAndLock:
		e.reportResults(v.AccountID, "cancel order failed", e.cancelAll(v.AccountID))
		e.reportResults(v.AccountID, "close position failed", e.closeAll(v.AccountID))
	}

	if e.log != nil {
		e.log.LogEnforcement(v.Directive.Action.String(), v.AccountID, map[string]interface{}{
			"violation_id": id,
			"policy":       v.PolicyID,
		})
	}
	e.bus.Publish(bus.Event{
		Kind:      bus.KindEnforcement,
		AccountID: v.AccountID,
		At:        time.Now().UTC(),
		Payload: map[string]interface{}{
			"violation_id": id,
			"action":       v.Directive.Action.String(),
		},
	})
}

func (e *Engine) closeAll(accountID string) []Result {
	res, err := e.exec.CloseAllPositions(accountID)
	if err != nil {
		e.reportExecFailure(accountID, "close all positions failed", "", err)
	}
	return res
}

func (e *Engine) cancelAll(accountID string) []Result {
	res, err := e.exec.CancelAllOrders(accountID)
	if err != nil {
		e.reportExecFailure(accountID, "cancel all orders failed", "", err)
	}
	return res
}

// reportResults 逐目标上报失败，不中断批量（尽力而为的 flatten）。
func (e *Engine) reportResults(accountID, msg string, results []Result) {
	for _, r := range results {
		if r.Err != nil {
			e.reportExecFailure(accountID, msg, r.Target, r.Err)
		}
	}
}

func (e *Engine) reportExecFailure(accountID, msg, target string, err error) {
	if e.metrics != nil {
		e.metrics.EnforcementErrors.Inc()
	}
	if e.log != nil {
		e.log.Error(msg,
			zap.String("account", accountID),
			zap.String("target", target),
			zap.Error(err))
	}
	if e.alerts != nil {
		e.alerts.Error(accountID, msg, map[string]interface{}{"target": target, "error": err.Error()})
	}
}
