package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/zap"

	"account-guardian-go/aggregate"
	"account-guardian-go/bus"
	"account-guardian-go/config"
	"account-guardian-go/engine"
	"account-guardian-go/gateway"
	"account-guardian-go/infrastructure/alert"
	"account-guardian-go/infrastructure/logger"
	"account-guardian-go/lockout"
	"account-guardian-go/metrics"
	"account-guardian-go/policy"
	"account-guardian-go/scheduler"
	"account-guardian-go/store"
	"account-guardian-go/timer"
)

func main() {
	cfgPath := flag.String("config", "configs/guardian.yaml", "配置文件路径")
	metricsAddr := flag.String("metricsAddr", "", "Prometheus metrics 监听地址，覆盖配置")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	lg, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer lg.Close()

	addr := cfg.MetricsAddr
	if *metricsAddr != "" {
		addr = *metricsAddr
	}
	if addr != "" {
		go metrics.StartMetricsServer(addr)
	}
	collector := metrics.NewCollector()

	alerts := alert.NewManager([]alert.Channel{alert.NewZapChannel("zap", lg)}, time.Minute)

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		lg.Error("open store failed", zap.String("path", cfg.Store.Path), zap.Error(err))
		os.Exit(1)
	}
	defer st.Close()

	timers := timer.NewScheduler(lg)
	timers.SetMetrics(collector)
	timers.Start()
	defer timers.Stop()

	locks := lockout.NewManager(st, timers, alerts, lg)
	// 崩溃恢复先于任何事件处理：锁定先于放行
	if err := locks.Recover(); err != nil {
		lg.Error("lockout recovery failed", zap.Error(err))
		os.Exit(1)
	}

	sessions := aggregate.StaticSessions{}
	accounts := make([]string, 0, len(cfg.Accounts))
	for id, acc := range cfg.Accounts {
		loc, err := acc.Location()
		if err != nil {
			lg.Error("account timezone invalid", zap.String("account", id), zap.Error(err))
			os.Exit(1)
		}
		// 营业日以每日重置边界切分，聚合键与调度器边界一致
		sessions[id] = aggregate.Session{Loc: loc, Hour: acc.DailyReset.Hour, Minute: acc.DailyReset.Minute}
		accounts = append(accounts, id)
	}
	agg := aggregate.NewTracker(st, sessions, lg)

	resets := scheduler.New(st, agg, locks, lg)
	resets.SetMetrics(collector)
	for id, acc := range cfg.Accounts {
		loc := sessions[id].Loc
		if err := resets.Schedule(scheduler.Entry{
			AccountID: id,
			Cadence:   scheduler.CadenceDaily,
			Hour:      acc.DailyReset.Hour,
			Minute:    acc.DailyReset.Minute,
			Zone:      loc,
		}); err != nil {
			lg.Error("schedule daily reset failed", zap.String("account", id), zap.Error(err))
			os.Exit(1)
		}
		if w := acc.WeeklyReset; w != nil {
			wd, err := config.ParseWeekday(w.Weekday)
			if err != nil {
				lg.Error("weekly reset weekday invalid", zap.String("account", id), zap.Error(err))
				os.Exit(1)
			}
			if err := resets.Schedule(scheduler.Entry{
				AccountID: id,
				Cadence:   scheduler.CadenceWeekly,
				Hour:      w.Hour,
				Minute:    w.Minute,
				Zone:      loc,
				Weekday:   wd,
			}); err != nil {
				lg.Error("schedule weekly reset failed", zap.String("account", id), zap.Error(err))
				os.Exit(1)
			}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go resets.Run(ctx)
	defer resets.Stop()

	b := bus.New(lg)

	exec := &gateway.EnforcementClient{
		BaseURL:    cfg.Gateway.EnforcementURL,
		APIKey:     cfg.Gateway.APIKey,
		HTTPClient: gateway.NewEnforcementHTTPClient(),
	}

	eng := engine.New(engine.Config{EvaluateAll: cfg.EvaluateAll},
		buildPolicies(cfg.Policies, agg), b, agg, locks, exec, alerts, lg, collector)
	eng.Register()

	feed := gateway.NewFeed(cfg.Gateway.Endpoint, accounts, b, lg, collector)
	go feed.Run(ctx)

	watcher, err := config.NewWatcher(*cfgPath, config.DefaultWatchConfig(), func(next config.AppConfig) {
		eng.UpdatePolicies(buildPolicies(next.Policies, agg))
		lg.Info("policies reloaded", zap.String("config", *cfgPath))
	})
	if err != nil {
		lg.Error("config watcher init failed", zap.Error(err))
		os.Exit(1)
	}
	watcher.SetErrorHandler(func(err error) {
		lg.Warn("config reload rejected, keeping previous", zap.Error(err))
	})
	if err := watcher.Start(ctx); err != nil {
		lg.Error("config watcher start failed", zap.Error(err))
		os.Exit(1)
	}
	defer watcher.Stop()

	// systemd 就绪通知与看门狗（非 systemd 环境下是 no-op）
	daemon.SdNotify(false, daemon.SdNotifyReady)
	if interval, err := daemon.SdWatchdogEnabled(false); err == nil && interval > 0 {
		go func() {
			ticker := time.NewTicker(interval / 2)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					daemon.SdNotify(false, daemon.SdNotifyWatchdog)
				}
			}
		}()
	}

	lg.Info("guardian started",
		zap.String("env", cfg.Env),
		zap.Int("accounts", len(accounts)),
		zap.String("feed", cfg.Gateway.Endpoint))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	daemon.SdNotify(false, daemon.SdNotifyStopping)
	lg.Info("guardian shutting down")
	cancel()
	feed.Close()
	// 总线排空后再停下游，保证在途事件的锁定落盘
	b.Close()
}

// buildPolicies 按固定优先级把配置装配成策略集：
// 硬锁定 > 冷却 > trade-scoped > 告警。
func buildPolicies(pc config.PoliciesConfig, agg *aggregate.Tracker) []policy.Policy {
	var policies []policy.Policy
	if pc.DailyLoss.Enabled {
		policies = append(policies, &policy.DailyLossLimit{Limit: pc.DailyLoss.Limit, PnL: agg})
	}
	if pc.LossCooldown.Enabled {
		tiers := make([]policy.Tier, 0, len(pc.LossCooldown.Tiers))
		for _, t := range pc.LossCooldown.Tiers {
			tiers = append(tiers, policy.Tier{
				Loss:     t.Loss,
				Cooldown: time.Duration(t.CooldownSeconds) * time.Second,
			})
		}
		policies = append(policies, &policy.LossCooldown{Tiers: tiers})
	}
	if pc.TradeFrequency.Enabled {
		policies = append(policies, &policy.TradeFrequency{
			MaxTrades: pc.TradeFrequency.MaxTrades,
			Window:    time.Duration(pc.TradeFrequency.WindowSeconds) * time.Second,
			Cooldown:  time.Duration(pc.TradeFrequency.CooldownSeconds) * time.Second,
			Counter:   agg,
		})
	}
	if pc.PositionLimit.Enabled {
		policies = append(policies, &policy.PositionSizeLimit{MaxSize: pc.PositionLimit.MaxSize})
	}
	if pc.Connectivity.Enabled {
		policies = append(policies, &policy.ConnectivityWatch{})
	}
	return policies
}
