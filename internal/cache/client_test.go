package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hmdp/seckill/internal/adapter/storage"
)

type testRecord struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func newTestClient(t *testing.T) (*Client, *redis.Client) {
	rdb := getRedisClient(t)
	c := NewClient(rdb, storage.NewRedisLock(rdb), 4, 16)
	t.Cleanup(func() {
		c.Close()
		rdb.Close()
	})
	return c, rdb
}

func testKeyPrefix(t *testing.T) string {
	return fmt.Sprintf("test:cache:%s:", t.Name())
}

func TestQueryPassthrough_LoadsAndCaches(t *testing.T) {
	c, rdb := newTestClient(t)
	ctx := context.Background()
	prefix := testKeyPrefix(t)
	rdb.Del(ctx, prefix+"1")

	var loads atomic.Int32
	loader := func(ctx context.Context, id string) (*testRecord, error) {
		loads.Add(1)
		return &testRecord{ID: 1, Name: "shop-1"}, nil
	}

	got, err := QueryPassthrough(ctx, c, prefix, "1", loader, time.Minute, time.Minute)
	if err != nil {
		t.Fatalf("first read failed: %v", err)
	}
	if got == nil || got.Name != "shop-1" {
		t.Fatalf("unexpected value: %+v", got)
	}

	got, err = QueryPassthrough(ctx, c, prefix, "1", loader, time.Minute, time.Minute)
	if err != nil {
		t.Fatalf("second read failed: %v", err)
	}
	if got == nil || got.Name != "shop-1" {
		t.Fatalf("unexpected cached value: %+v", got)
	}
	if loads.Load() != 1 {
		t.Errorf("expected 1 loader call, got %d", loads.Load())
	}
}

// A loader miss stores an empty marker; the next read returns absent
// without touching the loader again.
func TestQueryPassthrough_EmptyMarker(t *testing.T) {
	c, rdb := newTestClient(t)
	ctx := context.Background()
	prefix := testKeyPrefix(t)
	rdb.Del(ctx, prefix+"99")

	var loads atomic.Int32
	loader := func(ctx context.Context, id string) (*testRecord, error) {
		loads.Add(1)
		return nil, nil
	}

	got, err := QueryPassthrough(ctx, c, prefix, "99", loader, time.Minute, time.Minute)
	if err != nil {
		t.Fatalf("first read failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected absent, got %+v", got)
	}

	// Marker stored, not a real value.
	raw, err := rdb.Get(ctx, prefix+"99").Result()
	if err != nil || raw != "" {
		t.Fatalf("expected empty marker, got %q, %v", raw, err)
	}

	got, err = QueryPassthrough(ctx, c, prefix, "99", loader, time.Minute, time.Minute)
	if err != nil || got != nil {
		t.Fatalf("expected absent without error, got %+v, %v", got, err)
	}
	if loads.Load() != 1 {
		t.Errorf("penetration guard failed: %d loader calls", loads.Load())
	}
}

func TestQueryPassthrough_LoaderErrorPropagates(t *testing.T) {
	c, rdb := newTestClient(t)
	ctx := context.Background()
	prefix := testKeyPrefix(t)
	rdb.Del(ctx, prefix+"1")

	boom := errors.New("backing store down")
	loader := func(ctx context.Context, id string) (*testRecord, error) {
		return nil, boom
	}

	_, err := QueryPassthrough(ctx, c, prefix, "1", loader, time.Minute, time.Minute)
	if !errors.Is(err, boom) {
		t.Errorf("expected loader error to propagate, got: %v", err)
	}
}

// A true miss returns absent immediately: this strategy never loads
// synchronously.
func TestQueryLogicalExpire_MissReturnsAbsent(t *testing.T) {
	c, rdb := newTestClient(t)
	ctx := context.Background()
	prefix := testKeyPrefix(t)
	rdb.Del(ctx, prefix+"1")

	var loads atomic.Int32
	loader := func(ctx context.Context, id string) (*testRecord, error) {
		loads.Add(1)
		return &testRecord{ID: 1}, nil
	}

	got, err := QueryLogicalExpire(ctx, c, prefix, "1", loader, time.Minute)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected absent on unwarmed key, got %+v", got)
	}
	if loads.Load() != 0 {
		t.Errorf("loader must not run on a true miss, ran %d times", loads.Load())
	}
}

func TestQueryLogicalExpire_FreshValue(t *testing.T) {
	c, rdb := newTestClient(t)
	ctx := context.Background()
	prefix := testKeyPrefix(t)
	rdb.Del(ctx, prefix+"1")

	if err := c.SetLogicalExpire(ctx, prefix+"1", &testRecord{ID: 1, Name: "fresh"}, time.Minute); err != nil {
		t.Fatalf("warm-up failed: %v", err)
	}

	loader := func(ctx context.Context, id string) (*testRecord, error) {
		t.Error("loader must not run for a fresh entry")
		return nil, nil
	}

	got, err := QueryLogicalExpire(ctx, c, prefix, "1", loader, time.Minute)
	if err != nil || got == nil || got.Name != "fresh" {
		t.Fatalf("unexpected result: %+v, %v", got, err)
	}
}

// 50 concurrent reads of an expired entry all observe the stale value
// and trigger exactly one rebuild; afterwards reads see the new value.
func TestQueryLogicalExpire_StaleWhileRevalidate(t *testing.T) {
	c, rdb := newTestClient(t)
	ctx := context.Background()
	prefix := testKeyPrefix(t)
	key := prefix + "1"
	rdb.Del(ctx, key, "lock:cache:"+key)

	// Warm up with an already-expired entry.
	if err := c.SetLogicalExpire(ctx, key, &testRecord{ID: 1, Name: "stale"}, -time.Second); err != nil {
		t.Fatalf("warm-up failed: %v", err)
	}

	var loads atomic.Int32
	loader := func(ctx context.Context, id string) (*testRecord, error) {
		loads.Add(1)
		time.Sleep(50 * time.Millisecond)
		return &testRecord{ID: 1, Name: "rebuilt"}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := QueryLogicalExpire(ctx, c, prefix, "1", loader, time.Minute)
			if err != nil {
				t.Errorf("read failed: %v", err)
				return
			}
			if got == nil || got.Name != "stale" {
				t.Errorf("expected stale value during rebuild, got %+v", got)
			}
		}()
	}
	wg.Wait()

	// Wait out the rebuild.
	deadline := time.After(2 * time.Second)
	for {
		got, err := QueryLogicalExpire(ctx, c, prefix, "1", loader, time.Minute)
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		if got != nil && got.Name == "rebuilt" {
			break
		}
		select {
		case <-deadline:
			t.Fatal("rebuild never landed")
		case <-time.After(20 * time.Millisecond):
		}
	}

	if loads.Load() != 1 {
		t.Errorf("expected exactly 1 rebuild, got %d", loads.Load())
	}
}

func TestQueryWithMutex_SingleLoadUnderContention(t *testing.T) {
	c, rdb := newTestClient(t)
	ctx := context.Background()
	prefix := testKeyPrefix(t)
	key := prefix + "1"
	rdb.Del(ctx, key, "lock:cache:"+key)

	var loads atomic.Int32
	loader := func(ctx context.Context, id string) (*testRecord, error) {
		loads.Add(1)
		time.Sleep(50 * time.Millisecond)
		return &testRecord{ID: 1, Name: "shop-1"}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := QueryWithMutex(ctx, c, prefix, "1", loader, time.Minute, time.Minute)
			if err != nil {
				t.Errorf("read failed: %v", err)
				return
			}
			if got == nil || got.Name != "shop-1" {
				t.Errorf("unexpected value: %+v", got)
			}
		}()
	}
	wg.Wait()

	if loads.Load() != 1 {
		t.Errorf("expected exactly 1 loader call, got %d", loads.Load())
	}
}

func TestQueryWithMutex_EmptyMarker(t *testing.T) {
	c, rdb := newTestClient(t)
	ctx := context.Background()
	prefix := testKeyPrefix(t)
	key := prefix + "404"
	rdb.Del(ctx, key, "lock:cache:"+key)

	var loads atomic.Int32
	loader := func(ctx context.Context, id string) (*testRecord, error) {
		loads.Add(1)
		return nil, nil
	}

	got, err := QueryWithMutex(ctx, c, prefix, "404", loader, time.Minute, time.Minute)
	if err != nil || got != nil {
		t.Fatalf("expected absent without error, got %+v, %v", got, err)
	}
	got, err = QueryWithMutex(ctx, c, prefix, "404", loader, time.Minute, time.Minute)
	if err != nil || got != nil {
		t.Fatalf("expected absent without error, got %+v, %v", got, err)
	}
	if loads.Load() != 1 {
		t.Errorf("expected 1 loader call, got %d", loads.Load())
	}
}

func TestSetThenDelete(t *testing.T) {
	c, rdb := newTestClient(t)
	ctx := context.Background()
	key := testKeyPrefix(t) + "1"

	if err := c.Set(ctx, key, &testRecord{ID: 1}, time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := c.Delete(ctx, key); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := rdb.Get(ctx, key).Err(); !errors.Is(err, redis.Nil) {
		t.Errorf("expected key gone, got: %v", err)
	}
}
