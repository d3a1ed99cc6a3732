package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hmdp/seckill/internal/core/domain"
	"github.com/hmdp/seckill/internal/port"
)

// Key layout mirrors the admission script below; keys are derived from
// the voucher id inside the script so the whole check-and-reserve step
// runs as one atomic operation.
const (
	seckillStockKeyPrefix = "seckill:stock:"
	seckillOrderKeyPrefix = "seckill:order:"
	seckillBeginKeyPrefix = "seckill:begin:"
	seckillEndKeyPrefix   = "seckill:end:"
)

// Status codes: 0 accepted, 1 insufficient stock, 2 duplicate order,
// 3 sale not started, 4 sale ended.
var admitScript = redis.NewScript(`
local voucherId = ARGV[1]
local userId = ARGV[2]
local now = tonumber(ARGV[3])

local stockKey = 'seckill:stock:' .. voucherId
local orderKey = 'seckill:order:' .. voucherId

local beginTime = tonumber(redis.call('get', 'seckill:begin:' .. voucherId))
if beginTime and now < beginTime then
	return 3
end

local endTime = tonumber(redis.call('get', 'seckill:end:' .. voucherId))
if endTime and now >= endTime then
	return 4
end

local stock = tonumber(redis.call('get', stockKey))
if not stock or stock <= 0 then
	return 1
end

if redis.call('sismember', orderKey, userId) == 1 then
	return 2
end

redis.call('incrby', stockKey, -1)
redis.call('sadd', orderKey, userId)
return 0
`)

type RedisAdmitter struct {
	client *redis.Client
}

func NewRedisAdmitter(client *redis.Client) *RedisAdmitter {
	return &RedisAdmitter{client: client}
}

func (r *RedisAdmitter) Admit(ctx context.Context, voucherID, userID int64) (port.AdmitCode, error) {
	result, err := admitScript.Run(ctx, r.client, []string{},
		voucherID, userID, time.Now().Unix()).Int()
	if err != nil {
		return 0, fmt.Errorf("run admission script: %w", err)
	}
	return port.AdmitCode(result), nil
}

func (r *RedisAdmitter) SeedVoucher(ctx context.Context, voucher domain.SeckillVoucher) error {
	id := fmt.Sprintf("%d", voucher.VoucherID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, seckillStockKeyPrefix+id, voucher.Stock, 0)
		pipe.Set(ctx, seckillBeginKeyPrefix+id, voucher.BeginTime.Unix(), 0)
		pipe.Set(ctx, seckillEndKeyPrefix+id, voucher.EndTime.Unix(), 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("seed voucher %d: %w", voucher.VoucherID, err)
	}
	return nil
}
