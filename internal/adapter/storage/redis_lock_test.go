package storage

import (
	"context"
	"testing"
	"time"
)

func TestTryLock_Exclusive(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()
	ctx := context.Background()

	const key = "test:lock:exclusive"
	client.Del(ctx, key)

	lock := NewRedisLock(client)

	token, ok, err := lock.TryLock(ctx, key, 10*time.Second)
	if err != nil || !ok {
		t.Fatalf("first acquisition failed: ok=%v err=%v", ok, err)
	}

	_, ok, err = lock.TryLock(ctx, key, 10*time.Second)
	if err != nil {
		t.Fatalf("second acquisition errored: %v", err)
	}
	if ok {
		t.Error("lock acquired twice")
	}

	if err := lock.Unlock(ctx, key, token); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}

	_, ok, err = lock.TryLock(ctx, key, 10*time.Second)
	if err != nil || !ok {
		t.Errorf("reacquisition after release failed: ok=%v err=%v", ok, err)
	}
}

// A stale holder must not release a lock reacquired by someone else.
func TestUnlock_TokenMismatchKeepsLock(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()
	ctx := context.Background()

	const key = "test:lock:token"
	client.Del(ctx, key)

	lock := NewRedisLock(client)

	if _, ok, err := lock.TryLock(ctx, key, 10*time.Second); err != nil || !ok {
		t.Fatalf("acquisition failed: ok=%v err=%v", ok, err)
	}

	if err := lock.Unlock(ctx, key, "not-the-token"); err != nil {
		t.Fatalf("unlock errored: %v", err)
	}

	// Still held by the real token.
	if _, ok, _ := lock.TryLock(ctx, key, 10*time.Second); ok {
		t.Error("mismatched token released the lock")
	}
}

func TestTryLock_ExpiresByTTL(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()
	ctx := context.Background()

	const key = "test:lock:ttl"
	client.Del(ctx, key)

	lock := NewRedisLock(client)

	if _, ok, err := lock.TryLock(ctx, key, 100*time.Millisecond); err != nil || !ok {
		t.Fatalf("acquisition failed: ok=%v err=%v", ok, err)
	}

	time.Sleep(200 * time.Millisecond)

	if _, ok, err := lock.TryLock(ctx, key, time.Second); err != nil || !ok {
		t.Errorf("lock did not expire: ok=%v err=%v", ok, err)
	}
}
