// Command loadgen hammers the admission path against a live Redis and
// checks the oversell invariant: with stock K and N > K concurrent
// users, exactly K admissions succeed.
package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"github.com/hmdp/seckill/internal/adapter/storage"
	"github.com/hmdp/seckill/internal/core/domain"
	"github.com/hmdp/seckill/internal/port"
)

const (
	redisAddr     = "localhost:6379"
	voucherID     = 9001
	initialStock  = 20
	totalRequests = 50
)

func main() {
	ctx := context.Background()

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr, PoolSize: 100})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("connect redis", "err", err)
	}
	defer rdb.Close()

	// Reset state from previous runs.
	rdb.Del(ctx,
		fmt.Sprintf("seckill:stock:%d", voucherID),
		fmt.Sprintf("seckill:order:%d", voucherID),
		fmt.Sprintf("seckill:begin:%d", voucherID),
		fmt.Sprintf("seckill:end:%d", voucherID),
	)

	admitter := storage.NewRedisAdmitter(rdb)
	idWorker := storage.NewRedisIDWorker(rdb)

	err := admitter.SeedVoucher(ctx, domain.SeckillVoucher{
		VoucherID: voucherID,
		Stock:     initialStock,
		BeginTime: time.Now().Add(-time.Minute),
		EndTime:   time.Now().Add(time.Hour),
	})
	if err != nil {
		log.Fatal("seed voucher", "err", err)
	}

	var accepted, rejected atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			code, err := admitter.Admit(ctx, voucherID, userID)
			if err != nil {
				log.Error("admit", "userId", userID, "err", err)
				rejected.Add(1)
				return
			}
			if code != port.AdmitAccepted {
				rejected.Add(1)
				return
			}
			if _, err := idWorker.NextID(ctx, "order"); err != nil {
				log.Error("mint order id", "userId", userID, "err", err)
			}
			accepted.Add(1)
		}(int64(i + 1))
	}

	wg.Wait()
	elapsed := time.Since(start)

	remaining, _ := rdb.Get(ctx, fmt.Sprintf("seckill:stock:%d", voucherID)).Int()

	fmt.Println("========== LOADGEN RESULTS ==========")
	fmt.Printf("Initial Stock:   %d\n", initialStock)
	fmt.Printf("Total Requests:  %d\n", totalRequests)
	fmt.Printf("Accepted:        %d\n", accepted.Load())
	fmt.Printf("Rejected:        %d\n", rejected.Load())
	fmt.Printf("Stock Remaining: %d\n", remaining)
	fmt.Printf("Duration:        %v\n", elapsed)
	fmt.Println("=====================================")

	if accepted.Load() == initialStock && remaining == 0 {
		fmt.Println("PASS: stock fully consumed, no oversell")
	} else {
		fmt.Printf("FAIL: expected %d accepted and 0 remaining, got %d/%d\n",
			initialStock, accepted.Load(), remaining)
	}
}
