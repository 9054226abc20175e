package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store 嵌入式 SQLite 持久层，是全部耐久状态的唯一事实来源。
// 各表只由其所属组件写入：lockout 管理器写 lockouts，
// 聚合器写 daily_aggregates/trade_log，重置调度器写 reset_history。
type Store struct {
	db *sql.DB
}

// Open 打开（或创建）数据库并应用 schema。
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// 单写入者即可，避免 SQLITE_BUSY
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// LockoutRecord 账户锁定记录。ExpiresAt 为 nil 表示开放式锁定
// （直到重置边界或人工清除）。
type LockoutRecord struct {
	AccountID string
	Reason    string
	Category  string // "cooldown" | "hard"
	LockedAt  time.Time
	ExpiresAt *time.Time
}

// UpsertLockout 写入（替换）账户的活动锁定，并追加一条历史。
// 每账户至多一条活动锁定由主键保证。
func (s *Store) UpsertLockout(rec LockoutRecord) error {
	var expires sql.NullTime
	if rec.ExpiresAt != nil {
		expires = sql.NullTime{Time: rec.ExpiresAt.UTC(), Valid: true}
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO lockouts (account_id, reason, category, locked_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			reason = excluded.reason,
			category = excluded.category,
			locked_at = excluded.locked_at,
			expires_at = excluded.expires_at`,
		rec.AccountID, rec.Reason, rec.Category, rec.LockedAt.UTC(), expires,
	); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		INSERT INTO lockout_history (account_id, reason, category, locked_at, expires_at)
		VALUES (?, ?, ?, ?, ?)`,
		rec.AccountID, rec.Reason, rec.Category, rec.LockedAt.UTC(), expires,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteLockout 删除活动锁定并把清除方式写入历史。
// 账户未锁定时是无害的空操作。
func (s *Store) DeleteLockout(accountID, clearedBy string, clearedAt time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM lockouts WHERE account_id = ?`, accountID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		if _, err := tx.Exec(`
			UPDATE lockout_history SET cleared_by = ?, cleared_at = ?
			WHERE id = (SELECT MAX(id) FROM lockout_history WHERE account_id = ? AND cleared_by IS NULL)`,
			clearedBy, clearedAt.UTC(), accountID,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadLockouts 启动恢复用：读回全部活动锁定。
func (s *Store) LoadLockouts() ([]LockoutRecord, error) {
	rows, err := s.db.Query(`SELECT account_id, reason, category, locked_at, expires_at FROM lockouts`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []LockoutRecord
	for rows.Next() {
		var rec LockoutRecord
		var expires sql.NullTime
		if err := rows.Scan(&rec.AccountID, &rec.Reason, &rec.Category, &rec.LockedAt, &expires); err != nil {
			return nil, err
		}
		if expires.Valid {
			t := expires.Time
			rec.ExpiresAt = &t
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// DailyAggregate 单账户单营业日的累计值。
type DailyAggregate struct {
	AccountID    string
	BusinessDate string // YYYY-MM-DD（账户时区）
	RealizedPnL  float64
	TradeCount   int
}

// AddTrade 原子地累加当日已实现盈亏与成交计数，并记录成交时间。
// 调用方（引擎）在此返回之后才继续评估限额策略。
func (s *Store) AddTrade(accountID, businessDate string, pnlDelta float64, at time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO daily_aggregates (account_id, business_date, realized_pnl, trade_count)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(account_id, business_date) DO UPDATE SET
			realized_pnl = realized_pnl + excluded.realized_pnl,
			trade_count = trade_count + 1`,
		accountID, businessDate, pnlDelta,
	); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		INSERT INTO trade_log (account_id, executed_at) VALUES (?, ?)`,
		accountID, at.UTC(),
	); err != nil {
		return err
	}
	return tx.Commit()
}

// GetAggregate 读取某营业日的聚合，不存在时返回零值行。
func (s *Store) GetAggregate(accountID, businessDate string) (DailyAggregate, error) {
	agg := DailyAggregate{AccountID: accountID, BusinessDate: businessDate}
	err := s.db.QueryRow(`
		SELECT realized_pnl, trade_count FROM daily_aggregates
		WHERE account_id = ? AND business_date = ?`,
		accountID, businessDate,
	).Scan(&agg.RealizedPnL, &agg.TradeCount)
	if err == sql.ErrNoRows {
		return agg, nil
	}
	return agg, err
}

// CountTradesSince 窗口内成交笔数。
func (s *Store) CountTradesSince(accountID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM trade_log WHERE account_id = ? AND executed_at > ?`,
		accountID, since.UTC(),
	).Scan(&n)
	return n, err
}

// PruneTradeLog 裁剪滚动日志，重置边界时由聚合器调用。
func (s *Store) PruneTradeLog(accountID string, before time.Time) error {
	_, err := s.db.Exec(`
		DELETE FROM trade_log WHERE account_id = ? AND executed_at < ?`,
		accountID, before.UTC())
	return err
}

// LastFired 读取某账户某节奏的上次重置时间。
func (s *Store) LastFired(accountID, cadence string) (time.Time, bool, error) {
	var t time.Time
	err := s.db.QueryRow(`
		SELECT last_fired_at FROM reset_history WHERE account_id = ? AND cadence = ?`,
		accountID, cadence,
	).Scan(&t)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

// SetLastFired 记录重置完成时刻，保证重启后同一周期不重复触发。
func (s *Store) SetLastFired(accountID, cadence string, at time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO reset_history (account_id, cadence, last_fired_at)
		VALUES (?, ?, ?)
		ON CONFLICT(account_id, cadence) DO UPDATE SET last_fired_at = excluded.last_fired_at`,
		accountID, cadence, at.UTC())
	return err
}
