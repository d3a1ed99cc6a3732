package port

import (
	"context"
	"time"
)

type Locker interface {
	// TryLock attempts a single non-blocking acquisition and returns the
	// holder token on success. The TTL guards against a crashed holder
	// leaking the lock forever.
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)

	// Unlock releases the lock only if token still identifies the live
	// holder, so a stale holder cannot release a reacquired lock.
	Unlock(ctx context.Context, key, token string) error
}
