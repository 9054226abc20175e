package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"account-guardian-go/infrastructure/logger"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env         string                   `yaml:"env"`
	Log         logger.Config            `yaml:"log"`
	Store       StoreConfig              `yaml:"store"`
	Gateway     GatewayConfig            `yaml:"gateway"`
	MetricsAddr string                   `yaml:"metricsAddr"`
	EvaluateAll bool                     `yaml:"evaluateAll"` // 违规后是否继续评估后续策略
	Accounts    map[string]AccountConfig `yaml:"accounts"`
	Policies    PoliciesConfig           `yaml:"policies"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type GatewayConfig struct {
	Endpoint       string `yaml:"endpoint"`       // 账户事件 WS 地址
	EnforcementURL string `yaml:"enforcementURL"` // 券商风控 REST 地址
	APIKey         string `yaml:"apiKey"`
}

// AccountConfig 保存账户的时区与重置时刻。
type AccountConfig struct {
	Timezone    string       `yaml:"timezone"` // IANA 名称，默认 UTC
	DailyReset  ResetTime    `yaml:"dailyReset"`
	WeeklyReset *WeeklyReset `yaml:"weeklyReset"` // 可选
}

type ResetTime struct {
	Hour   int `yaml:"hour"`
	Minute int `yaml:"minute"`
}

type WeeklyReset struct {
	Weekday string `yaml:"weekday"`
	Hour    int    `yaml:"hour"`
	Minute  int    `yaml:"minute"`
}

type PoliciesConfig struct {
	DailyLoss      DailyLossConfig      `yaml:"dailyLoss"`
	LossCooldown   LossCooldownConfig   `yaml:"lossCooldown"`
	TradeFrequency TradeFrequencyConfig `yaml:"tradeFrequency"`
	PositionLimit  PositionLimitConfig  `yaml:"positionLimit"`
	Connectivity   ConnectivityConfig   `yaml:"connectivity"`
}

type DailyLossConfig struct {
	Enabled bool    `yaml:"enabled"`
	Limit   float64 `yaml:"limit"`
}

type LossCooldownConfig struct {
	Enabled bool        `yaml:"enabled"`
	Tiers   []TierEntry `yaml:"tiers"`
}

type TierEntry struct {
	Loss            float64 `yaml:"loss"`
	CooldownSeconds int     `yaml:"cooldownSeconds"`
}

type TradeFrequencyConfig struct {
	Enabled         bool `yaml:"enabled"`
	MaxTrades       int  `yaml:"maxTrades"`
	WindowSeconds   int  `yaml:"windowSeconds"`
	CooldownSeconds int  `yaml:"cooldownSeconds"`
}

type PositionLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	MaxSize float64 `yaml:"maxSize"`
}

type ConnectivityConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Location 解析账户时区，空值取 UTC。
func (a AccountConfig) Location() (*time.Location, error) {
	if a.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(a.Timezone)
}

// ParseWeekday 将配置的星期名解析为 time.Weekday。
func ParseWeekday(name string) (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), name) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", name)
}

// Load reads YAML config from path and applies basic validation.
func Load(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides sensitive fields from env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("GUARDIAN_GATEWAY_API_KEY"); v != "" {
		cfg.Gateway.APIKey = v
	}
	if v := os.Getenv("GUARDIAN_GATEWAY_ENDPOINT"); v != "" {
		cfg.Gateway.Endpoint = v
	}
	return cfg, Validate(cfg)
}

// Validate ensures required fields are present and well-formed.
// 配置错误一律在启动期拒绝，不带病运行。
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	if cfg.Store.Path == "" {
		return errors.New("store.path is required")
	}
	if len(cfg.Accounts) == 0 {
		return errors.New("accounts config is required")
	}
	for id, acc := range cfg.Accounts {
		if _, err := acc.Location(); err != nil {
			return fmt.Errorf("account %s timezone: %w", id, err)
		}
		if err := validateResetTime(acc.DailyReset.Hour, acc.DailyReset.Minute); err != nil {
			return fmt.Errorf("account %s dailyReset: %w", id, err)
		}
		if w := acc.WeeklyReset; w != nil {
			if _, err := ParseWeekday(w.Weekday); err != nil {
				return fmt.Errorf("account %s weeklyReset: %w", id, err)
			}
			if err := validateResetTime(w.Hour, w.Minute); err != nil {
				return fmt.Errorf("account %s weeklyReset: %w", id, err)
			}
		}
	}
	if err := validatePolicies(cfg.Policies); err != nil {
		return err
	}
	return nil
}

func validateResetTime(hour, minute int) error {
	if hour < 0 || hour > 23 {
		return fmt.Errorf("hour %d out of range", hour)
	}
	if minute < 0 || minute > 59 {
		return fmt.Errorf("minute %d out of range", minute)
	}
	return nil
}

func validatePolicies(p PoliciesConfig) error {
	if p.DailyLoss.Enabled && p.DailyLoss.Limit <= 0 {
		return errors.New("policies.dailyLoss.limit must be > 0")
	}
	if p.LossCooldown.Enabled {
		if len(p.LossCooldown.Tiers) == 0 {
			return errors.New("policies.lossCooldown.tiers is required when enabled")
		}
		for i, t := range p.LossCooldown.Tiers {
			if t.Loss <= 0 {
				return fmt.Errorf("policies.lossCooldown.tiers[%d].loss must be > 0", i)
			}
			if t.CooldownSeconds <= 0 {
				return fmt.Errorf("policies.lossCooldown.tiers[%d].cooldownSeconds must be > 0", i)
			}
		}
	}
	if p.TradeFrequency.Enabled {
		if p.TradeFrequency.MaxTrades <= 0 {
			return errors.New("policies.tradeFrequency.maxTrades must be > 0")
		}
		if p.TradeFrequency.WindowSeconds <= 0 {
			return errors.New("policies.tradeFrequency.windowSeconds must be > 0")
		}
		if p.TradeFrequency.CooldownSeconds <= 0 {
			return errors.New("policies.tradeFrequency.cooldownSeconds must be > 0")
		}
	}
	if p.PositionLimit.Enabled && p.PositionLimit.MaxSize <= 0 {
		return errors.New("policies.positionLimit.maxSize must be > 0")
	}
	return nil
}
