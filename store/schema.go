package store

// Schema 四张表：活动锁定、锁定历史（审计）、日聚合、
// 滚动成交时间日志、重置历史。锁定定时器不独立持久化，
// 重启时从 lockouts 行重建。
const Schema = `
CREATE TABLE IF NOT EXISTS lockouts (
	account_id TEXT PRIMARY KEY,
	reason TEXT NOT NULL,
	category TEXT NOT NULL,
	locked_at DATETIME NOT NULL,
	expires_at DATETIME
);

CREATE TABLE IF NOT EXISTS lockout_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	account_id TEXT NOT NULL,
	reason TEXT NOT NULL,
	category TEXT NOT NULL,
	locked_at DATETIME NOT NULL,
	expires_at DATETIME,
	cleared_by TEXT,
	cleared_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_lockout_history_account ON lockout_history(account_id);

CREATE TABLE IF NOT EXISTS daily_aggregates (
	account_id TEXT NOT NULL,
	business_date TEXT NOT NULL,
	realized_pnl REAL NOT NULL DEFAULT 0,
	trade_count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (account_id, business_date)
);

CREATE TABLE IF NOT EXISTS trade_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	account_id TEXT NOT NULL,
	executed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trade_log_account_time ON trade_log(account_id, executed_at);

CREATE TABLE IF NOT EXISTS reset_history (
	account_id TEXT NOT NULL,
	cadence TEXT NOT NULL,
	last_fired_at DATETIME NOT NULL,
	PRIMARY KEY (account_id, cadence)
);
`
