package main

import (
	"flag"
	"fmt"
	"log"

	"account-guardian-go/lockout"
	"account-guardian-go/store"
	"account-guardian-go/timer"
)

// 人工解锁工具：守护进程停机时由风控人员手动清除锁定。
// 走锁定管理器而不是直改库表，清除同样记入 history（cleared_by=admin）。
func main() {
	dbPath := flag.String("db", "guardian.db", "sqlite 数据库路径")
	account := flag.String("account", "", "账户 ID（必填）")
	flag.Parse()

	if *account == "" {
		log.Fatal("需要 -account")
	}

	st, err := store.Open(*dbPath)
	if err != nil {
		log.Fatalf("打开数据库失败: %v", err)
	}
	defer st.Close()

	timers := timer.NewScheduler(nil)
	timers.Start()
	defer timers.Stop()

	mgr := lockout.NewManager(st, timers, nil, nil)
	if err := mgr.Recover(); err != nil {
		log.Fatalf("加载锁定失败: %v", err)
	}

	rec, ok := mgr.Active(*account)
	if !ok {
		fmt.Printf("账户 %s 当前没有锁定\n", *account)
		return
	}
	if err := mgr.Clear(*account, lockout.ClearedByAdmin); err != nil {
		log.Fatalf("清除失败: %v", err)
	}
	fmt.Printf("已清除 %s 的 %s 锁定（%s）\n", *account, rec.Category, rec.Reason)
}
