// Package cache implements a cache-aside engine over Redis hardened
// against penetration (negative caching of absent records) and
// avalanche (logical expiry with stale-while-revalidate, or a blocking
// mutex rebuild).
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"github.com/hmdp/seckill/internal/port"
)

// ErrLockTimeout is returned by QueryWithMutex when the rebuild lock
// could not be acquired within the retry budget.
var ErrLockTimeout = errors.New("cache: lock wait timed out")

const (
	rebuildLockPrefix = "lock:cache:"
	rebuildLockTTL    = 10 * time.Second
	rebuildTimeout    = 10 * time.Second

	mutexMaxAttempts = 40
	mutexRetryDelay  = 50 * time.Millisecond
)

// Loader fetches the authoritative record. A nil result without error
// means the record does not exist.
type Loader[T any] func(ctx context.Context, id string) (*T, error)

// envelope wraps a value stored with a logical expiry. The entry carries
// no physical TTL; readers compare ExpireAt themselves.
type envelope struct {
	Data     json.RawMessage `json:"data"`
	ExpireAt time.Time       `json:"expireAt"`
}

// Client is constructed once at startup; the rebuild worker pool and
// lock handle live on it rather than in package globals.
type Client struct {
	rdb    *redis.Client
	locker port.Locker

	jobs      chan func()
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewClient(rdb *redis.Client, locker port.Locker, rebuildWorkers, rebuildQueueDepth int) *Client {
	c := &Client{
		rdb:    rdb,
		locker: locker,
		jobs:   make(chan func(), rebuildQueueDepth),
		done:   make(chan struct{}),
	}
	for i := 0; i < rebuildWorkers; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			for {
				select {
				case <-c.done:
					return
				case job := <-c.jobs:
					job()
				}
			}
		}()
	}
	return c
}

// Close stops the rebuild workers. Queued rebuilds are abandoned; their
// locks expire by TTL.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
	c.wg.Wait()
}

func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	buf, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache value %s: %w", key, err)
	}
	return c.rdb.Set(ctx, key, buf, ttl).Err()
}

// SetLogicalExpire stores value wrapped with a logical expiry and no
// physical TTL. Used for warm-up of hot keys read by QueryLogicalExpire.
func (c *Client) SetLogicalExpire(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache value %s: %w", key, err)
	}
	buf, err := json.Marshal(envelope{Data: data, ExpireAt: time.Now().Add(ttl)})
	if err != nil {
		return fmt.Errorf("encode cache envelope %s: %w", key, err)
	}
	return c.rdb.Set(ctx, key, buf, 0).Err()
}

func (c *Client) Delete(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

// QueryPassthrough reads prefix+id, falling back to the loader on a
// miss. A loader miss stores an empty marker for emptyTTL, so repeated
// lookups of a nonexistent id stop at Redis instead of hammering the
// backing store.
func QueryPassthrough[T any](ctx context.Context, c *Client, prefix, id string, loader Loader[T], emptyTTL, ttl time.Duration) (*T, error) {
	key := prefix + id
	raw, err := c.rdb.Get(ctx, key).Result()
	switch {
	case err == nil && raw != "":
		return decode[T](key, raw)
	case err == nil:
		// empty marker: known-absent, do not touch the loader
		return nil, nil
	case !errors.Is(err, redis.Nil):
		return nil, fmt.Errorf("read cache %s: %w", key, err)
	}

	value, err := loader(ctx, id)
	if err != nil {
		return nil, err
	}
	if value == nil {
		if err := c.rdb.Set(ctx, key, "", emptyTTL).Err(); err != nil {
			return nil, fmt.Errorf("store empty marker %s: %w", key, err)
		}
		return nil, nil
	}
	if err := c.Set(ctx, key, value, ttl); err != nil {
		return nil, err
	}
	return value, nil
}

// QueryLogicalExpire reads a pre-warmed key and serves it even past its
// logical expiry, scheduling at most one background rebuild per key.
// A true miss returns absent without calling the loader: this strategy
// assumes warm-up and trades that gap for a read path that never blocks
// on the backing store.
func QueryLogicalExpire[T any](ctx context.Context, c *Client, prefix, id string, loader Loader[T], ttl time.Duration) (*T, error) {
	key := prefix + id
	raw, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) || (err == nil && raw == "") {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache %s: %w", key, err)
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("decode cache envelope %s: %w", key, err)
	}
	value, err := decode[T](key, string(env.Data))
	if err != nil {
		return nil, err
	}
	if time.Now().Before(env.ExpireAt) {
		return value, nil
	}

	// Expired: hand the rebuild to the worker pool if no one else holds
	// the key's lock, then return the stale value either way. The
	// non-blocking TryLock is what caps rebuilds at one per key.
	lockKey := rebuildLockPrefix + key
	token, ok, lockErr := c.locker.TryLock(ctx, lockKey, rebuildLockTTL)
	if lockErr != nil {
		log.Warn("acquire rebuild lock", "key", key, "err", lockErr)
		return value, nil
	}
	if ok {
		c.enqueueRebuild(ctx, key, token, rebuildJob(c, key, id, token, loader, ttl))
	}
	return value, nil
}

func rebuildJob[T any](c *Client, key, id, token string, loader Loader[T], ttl time.Duration) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), rebuildTimeout)
		defer cancel()
		defer func() {
			if err := c.locker.Unlock(ctx, rebuildLockPrefix+key, token); err != nil {
				log.Warn("release rebuild lock", "key", key, "err", err)
			}
		}()

		fresh, err := loader(ctx, id)
		if err != nil {
			log.Warn("cache rebuild failed", "key", key, "err", err)
			return
		}
		if fresh == nil {
			log.Warn("cache rebuild found no source record", "key", key)
			return
		}
		if err := c.SetLogicalExpire(ctx, key, fresh, ttl); err != nil {
			log.Warn("cache rebuild write failed", "key", key, "err", err)
		}
	}
}

// enqueueRebuild hands a job to the bounded pool. When the pool is
// saturated or shut down, the lock is handed back so a later reader can
// retry the rebuild instead of waiting out the lock TTL.
func (c *Client) enqueueRebuild(ctx context.Context, key, token string, job func()) {
	select {
	case <-c.done:
	case c.jobs <- job:
		return
	default:
	}
	if err := c.locker.Unlock(ctx, rebuildLockPrefix+key, token); err != nil {
		log.Warn("release rebuild lock", "key", key, "err", err)
	}
}

// QueryWithMutex rebuilds a missing entry under a blocking mutex:
// contenders retry with backoff up to a fixed budget, and the winner
// double-checks the cache before loading so only one loader call
// happens per expiry. Loader errors propagate to the caller.
func QueryWithMutex[T any](ctx context.Context, c *Client, prefix, id string, loader Loader[T], emptyTTL, ttl time.Duration) (*T, error) {
	key := prefix + id
	lockKey := rebuildLockPrefix + key

	for attempt := 0; attempt < mutexMaxAttempts; attempt++ {
		raw, err := c.rdb.Get(ctx, key).Result()
		switch {
		case err == nil && raw != "":
			return decode[T](key, raw)
		case err == nil:
			return nil, nil
		case !errors.Is(err, redis.Nil):
			return nil, fmt.Errorf("read cache %s: %w", key, err)
		}

		token, ok, err := c.locker.TryLock(ctx, lockKey, rebuildLockTTL)
		if err != nil {
			return nil, err
		}
		if !ok {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(mutexRetryDelay * time.Duration(attempt+1)):
			}
			continue
		}

		return rebuildUnderLock(ctx, c, key, lockKey, token, id, loader, emptyTTL, ttl)
	}
	return nil, ErrLockTimeout
}

func rebuildUnderLock[T any](ctx context.Context, c *Client, key, lockKey, token, id string, loader Loader[T], emptyTTL, ttl time.Duration) (*T, error) {
	defer func() {
		if err := c.locker.Unlock(ctx, lockKey, token); err != nil {
			log.Warn("release cache mutex", "key", key, "err", err)
		}
	}()

	// Another holder may have populated the entry while we waited.
	raw, err := c.rdb.Get(ctx, key).Result()
	switch {
	case err == nil && raw != "":
		return decode[T](key, raw)
	case err == nil:
		return nil, nil
	case !errors.Is(err, redis.Nil):
		return nil, fmt.Errorf("read cache %s: %w", key, err)
	}

	value, err := loader(ctx, id)
	if err != nil {
		return nil, err
	}
	if value == nil {
		if err := c.rdb.Set(ctx, key, "", emptyTTL).Err(); err != nil {
			return nil, fmt.Errorf("store empty marker %s: %w", key, err)
		}
		return nil, nil
	}
	if err := c.Set(ctx, key, value, ttl); err != nil {
		return nil, err
	}
	return value, nil
}

func decode[T any](key, raw string) (*T, error) {
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("decode cache value %s: %w", key, err)
	}
	return &v, nil
}
