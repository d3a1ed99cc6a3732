package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Seconds since the Unix epoch at 2022-01-01T00:00:00Z.
	idEpoch int64 = 1640995200

	// Low bits carry the per-day sequence, high bits the elapsed seconds.
	idSequenceBits = 32
)

// RedisIDWorker mints globally unique, time-ordered identifiers. The
// sequence lives in Redis under a per-business-key, per-day counter, so
// uniqueness holds across processes and the daily rollover keeps the
// counter from ever overflowing its bits.
type RedisIDWorker struct {
	client *redis.Client
}

func NewRedisIDWorker(client *redis.Client) *RedisIDWorker {
	return &RedisIDWorker{client: client}
}

func (w *RedisIDWorker) NextID(ctx context.Context, businessKey string) (int64, error) {
	now := time.Now().UTC()
	timestamp := now.Unix() - idEpoch

	day := now.Format("2006:01:02")
	seq, err := w.client.Incr(ctx, "icr:"+businessKey+":"+day).Result()
	if err != nil {
		return 0, fmt.Errorf("increment id sequence for %s: %w", businessKey, err)
	}

	return timestamp<<idSequenceBits | seq, nil
}
