package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hmdp/seckill/internal/core/domain"
	"github.com/hmdp/seckill/internal/port"
)

const (
	orderStream      = "seckill:orders:stream"
	deadLetterStream = "seckill:orders:dead"
	orderGroup       = "order-consumers"
	deadLetterGroup  = "dead-letter-consumers"

	readBatchSize = 16
	readBlock     = 2 * time.Second
)

// RedisOrderQueue is the durable channel for accepted reservations,
// built on Redis Streams with consumer groups. Unacknowledged entries
// idle beyond messageTTL are reclaimed and redelivered; entries whose
// delivery count exceeds maxDeliveries are routed to the dead-letter
// stream and acknowledged on the primary.
type RedisOrderQueue struct {
	client        *redis.Client
	messageTTL    time.Duration
	maxDeliveries int64
}

func NewRedisOrderQueue(client *redis.Client, messageTTL time.Duration, maxDeliveries int64) *RedisOrderQueue {
	return &RedisOrderQueue{
		client:        client,
		messageTTL:    messageTTL,
		maxDeliveries: maxDeliveries,
	}
}

// Init creates the consumer groups. Safe to call repeatedly.
func (q *RedisOrderQueue) Init(ctx context.Context) error {
	groups := []struct{ stream, group string }{
		{orderStream, orderGroup},
		{deadLetterStream, deadLetterGroup},
	}
	for _, g := range groups {
		err := q.client.XGroupCreateMkStream(ctx, g.stream, g.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("create group %s on %s: %w", g.group, g.stream, err)
		}
	}
	return nil
}

func (q *RedisOrderQueue) Publish(ctx context.Context, order domain.VoucherOrder) error {
	payload, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("encode order %d: %w", order.ID, err)
	}
	err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: orderStream,
		Values: map[string]interface{}{"order": payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("publish order %d: %w", order.ID, err)
	}
	return nil
}

func (q *RedisOrderQueue) Consume(ctx context.Context, h port.Handler) error {
	consumer := "consumer-" + uuid.NewString()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := q.claimExpired(ctx, consumer, h); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("reclaim expired deliveries", "err", err)
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    orderGroup,
			Consumer: consumer,
			Streams:  []string{orderStream, ">"},
			Count:    readBatchSize,
			Block:    readBlock,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("read order stream", "err", err)
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.deliver(ctx, orderStream, orderGroup, msg, 1, h)
			}
		}
	}
}

// claimExpired takes over pending entries idle beyond the message TTL.
// Entries past the redelivery limit go to the dead-letter stream.
func (q *RedisOrderQueue) claimExpired(ctx context.Context, consumer string, h port.Handler) error {
	msgs, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   orderStream,
		Group:    orderGroup,
		Consumer: consumer,
		MinIdle:  q.messageTTL,
		Start:    "0-0",
		Count:    readBatchSize,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}

	for _, msg := range msgs {
		deliveries := q.deliveryCount(ctx, msg.ID)
		if deliveries > q.maxDeliveries {
			q.moveToDeadLetter(ctx, msg, deliveries)
			continue
		}
		q.deliver(ctx, orderStream, orderGroup, msg, deliveries, h)
	}
	return nil
}

func (q *RedisOrderQueue) deliveryCount(ctx context.Context, id string) int64 {
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: orderStream,
		Group:  orderGroup,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil || len(pending) == 0 {
		return 1
	}
	return pending[0].RetryCount
}

func (q *RedisOrderQueue) moveToDeadLetter(ctx context.Context, msg redis.XMessage, deliveries int64) {
	values := map[string]interface{}{"deliveries": deliveries}
	if order, ok := msg.Values["order"]; ok {
		values["order"] = order
	}
	if err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: deadLetterStream,
		Values: values,
	}).Err(); err != nil {
		log.Error("route message to dead letter", "id", msg.ID, "err", err)
		return
	}
	if err := q.client.XAck(ctx, orderStream, orderGroup, msg.ID).Err(); err != nil {
		log.Error("ack dead-lettered message", "id", msg.ID, "err", err)
	}
	log.Warn("message moved to dead letter", "id", msg.ID, "deliveries", deliveries)
}

func (q *RedisOrderQueue) ConsumeDeadLetters(ctx context.Context, h port.Handler) error {
	consumer := "dlq-" + uuid.NewString()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    deadLetterGroup,
			Consumer: consumer,
			Streams:  []string{deadLetterStream, ">"},
			Count:    readBatchSize,
			Block:    readBlock,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("read dead-letter stream", "err", err)
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				deliveries := int64(0)
				if raw, ok := msg.Values["deliveries"].(string); ok {
					deliveries, _ = strconv.ParseInt(raw, 10, 64)
				}
				q.deliver(ctx, deadLetterStream, deadLetterGroup, msg, deliveries, h)
			}
		}
	}
}

// deliver decodes one entry and hands it to h, acknowledging on success.
// Undecodable entries are acknowledged and dropped so they cannot wedge
// the group.
func (q *RedisOrderQueue) deliver(ctx context.Context, stream, group string, msg redis.XMessage, deliveries int64, h port.Handler) {
	raw, ok := msg.Values["order"].(string)
	if !ok {
		log.Error("malformed queue message, dropping", "stream", stream, "id", msg.ID)
		q.ack(ctx, stream, group, msg.ID)
		return
	}

	var order domain.VoucherOrder
	if err := json.Unmarshal([]byte(raw), &order); err != nil {
		log.Error("undecodable queue message, dropping", "stream", stream, "id", msg.ID, "err", err)
		q.ack(ctx, stream, group, msg.ID)
		return
	}

	err := h(ctx, port.QueueMessage{ID: msg.ID, Order: order, DeliveryCount: deliveries})
	if err != nil {
		log.Warn("message left pending for redelivery", "stream", stream, "id", msg.ID, "err", err)
		return
	}
	q.ack(ctx, stream, group, msg.ID)
}

func (q *RedisOrderQueue) ack(ctx context.Context, stream, group, id string) {
	if err := q.client.XAck(ctx, stream, group, id).Err(); err != nil {
		log.Error("ack message", "stream", stream, "id", id, "err", err)
	}
}
