package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"account-guardian-go/store"
)

// 离线巡检工具：读取守护进程的 sqlite 库，打印账户当日聚合与在生效的锁定。
func main() {
	dbPath := flag.String("db", "guardian.db", "sqlite 数据库路径")
	account := flag.String("account", "", "账户 ID（必填）")
	date := flag.String("date", "", "业务日 YYYY-MM-DD，默认今天（UTC）")
	window := flag.Duration("window", time.Hour, "滚动窗口成交笔数的窗口长度")
	flag.Parse()

	if *account == "" {
		log.Fatal("需要 -account")
	}
	businessDate := *date
	if businessDate == "" {
		businessDate = time.Now().UTC().Format("2006-01-02")
	}

	st, err := store.Open(*dbPath)
	if err != nil {
		log.Fatalf("打开数据库失败: %v", err)
	}
	defer st.Close()

	agg, err := st.GetAggregate(*account, businessDate)
	if err != nil {
		log.Fatalf("查询聚合失败: %v", err)
	}
	fmt.Printf("account:     %s\n", *account)
	fmt.Printf("date:        %s\n", businessDate)
	fmt.Printf("realizedPnl: %.2f\n", agg.RealizedPnL)
	fmt.Printf("tradeCount:  %d\n", agg.TradeCount)

	n, err := st.CountTradesSince(*account, time.Now().UTC().Add(-*window))
	if err != nil {
		log.Fatalf("查询窗口成交失败: %v", err)
	}
	fmt.Printf("trades in last %s: %d\n", *window, n)

	lockouts, err := st.LoadLockouts()
	if err != nil {
		log.Fatalf("查询锁定失败: %v", err)
	}
	found := false
	for _, rec := range lockouts {
		if rec.AccountID != *account {
			continue
		}
		found = true
		expires := "never"
		if rec.ExpiresAt != nil {
			expires = rec.ExpiresAt.UTC().Format(time.RFC3339)
		}
		fmt.Printf("lockout:     %s since %s expires %s (%s)\n",
			rec.Category, rec.LockedAt.UTC().Format(time.RFC3339), expires, rec.Reason)
	}
	if !found {
		fmt.Println("lockout:     none")
	}
}
