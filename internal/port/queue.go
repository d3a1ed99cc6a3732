package port

import (
	"context"

	"github.com/hmdp/seckill/internal/core/domain"
)

// QueueMessage wraps a reservation in flight through the durable channel.
type QueueMessage struct {
	ID            string
	Order         domain.VoucherOrder
	DeliveryCount int64
}

// Handler processes one delivery. A nil return acknowledges the message;
// any error leaves it pending for redelivery. Delivery is at-least-once.
type Handler func(ctx context.Context, msg QueueMessage) error

type OrderQueue interface {
	Publish(ctx context.Context, order domain.VoucherOrder) error

	// Consume blocks, delivering primary-queue messages to h until ctx is
	// done. Messages left unacknowledged beyond the per-message TTL are
	// redelivered; messages exceeding the redelivery limit are moved to
	// the dead-letter queue by the channel infrastructure.
	Consume(ctx context.Context, h Handler) error

	// ConsumeDeadLetters blocks, delivering dead-letter messages to h
	// until ctx is done.
	ConsumeDeadLetters(ctx context.Context, h Handler) error
}

// DeadLetterSink durably records messages that aged out of the primary
// queue, for alerting and manual reprocessing.
type DeadLetterSink interface {
	Archive(ctx context.Context, msg QueueMessage) error
}
