package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/hmdp/seckill/internal/core/domain"
	"github.com/hmdp/seckill/internal/port"
)

const (
	orderLockKeyPrefix = "lock:order:"
	orderLockTTL       = 10 * time.Second
)

// errUserLockHeld keeps a message pending when another worker is already
// persisting for the same user; the redelivery machinery retries it.
var errUserLockHeld = errors.New("user order lock held")

// ErrQueueFull is returned by the in-process pipeline when its bounded
// queue cannot take another reservation.
var ErrQueueFull = errors.New("order queue full")

// orderWriter is the persistence step shared by both pipeline designs:
// per-user exclusive lock, authoritative uniqueness recheck, then the
// transactional insert with the guarded stock decrement.
type orderWriter struct {
	orders port.OrderRepository
	locker port.Locker
}

func (w *orderWriter) write(ctx context.Context, order domain.VoucherOrder) error {
	lockKey := fmt.Sprintf("%s%d", orderLockKeyPrefix, order.UserID)
	token, ok, err := w.locker.TryLock(ctx, lockKey, orderLockTTL)
	if err != nil {
		return fmt.Errorf("acquire user lock: %w", err)
	}
	if !ok {
		return errUserLockHeld
	}
	defer func() {
		if err := w.locker.Unlock(ctx, lockKey, token); err != nil {
			log.Warn("release user lock", "key", lockKey, "err", err)
		}
	}()

	return w.persist(ctx, order)
}

// persist is idempotent under redelivery: the uniqueness recheck and the
// guarded decrement both turn a repeated delivery into a logged no-op.
func (w *orderWriter) persist(ctx context.Context, order domain.VoucherOrder) error {
	count, err := w.orders.CountOrders(ctx, order.UserID, order.VoucherID)
	if err != nil {
		return fmt.Errorf("recheck order uniqueness: %w", err)
	}
	if count > 0 {
		log.Warn("duplicate order rejected at persistence",
			"orderId", order.ID, "userId", order.UserID, "voucherId", order.VoucherID)
		return nil
	}

	if err := w.orders.CreateOrder(ctx, order); err != nil {
		if errors.Is(err, port.ErrStockDepleted) {
			log.Warn("stock depleted at persistence, order dropped",
				"orderId", order.ID, "voucherId", order.VoucherID)
			return nil
		}
		return fmt.Errorf("persist order %d: %w", order.ID, err)
	}

	log.Info("order persisted", "orderId", order.ID, "userId", order.UserID, "voucherId", order.VoucherID)
	return nil
}

// OrderPipeline consumes the durable channel and records reservations as
// orders. Delivery is at-least-once; stuck messages age out to the
// dead-letter queue where they are logged and archived.
type OrderPipeline struct {
	orderWriter
	queue   port.OrderQueue
	archive port.DeadLetterSink
	workers int
}

// NewOrderPipeline builds the durable-channel consumer. archive may be
// nil, in which case dead letters are only logged.
func NewOrderPipeline(queue port.OrderQueue, orders port.OrderRepository, locker port.Locker, archive port.DeadLetterSink, workers int) *OrderPipeline {
	return &OrderPipeline{
		orderWriter: orderWriter{orders: orders, locker: locker},
		queue:       queue,
		archive:     archive,
		workers:     workers,
	}
}

// Run blocks until ctx is done, consuming the primary and dead-letter
// queues with the configured number of workers.
func (p *OrderPipeline) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			err := p.queue.Consume(ctx, p.handleMessage)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error("order consumer stopped", "worker", id, "err", err)
			}
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		err := p.queue.ConsumeDeadLetters(ctx, p.handleDeadLetter)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("dead-letter consumer stopped", "err", err)
		}
	}()

	wg.Wait()
}

func (p *OrderPipeline) handleMessage(ctx context.Context, msg port.QueueMessage) error {
	return p.write(ctx, msg.Order)
}

func (p *OrderPipeline) handleDeadLetter(ctx context.Context, msg port.QueueMessage) error {
	log.Error("reservation aged out of primary queue",
		"messageId", msg.ID, "orderId", msg.Order.ID,
		"userId", msg.Order.UserID, "deliveries", msg.DeliveryCount)
	if p.archive == nil {
		return nil
	}
	if err := p.archive.Archive(ctx, msg); err != nil {
		return fmt.Errorf("archive dead letter: %w", err)
	}
	return nil
}

// InProcessPipeline is the fallback design: a bounded in-memory queue
// drained by one dedicated worker. Reservations are lost on crash and
// there is no dead-letter path.
type InProcessPipeline struct {
	orderWriter
	tasks chan domain.VoucherOrder
}

func NewInProcessPipeline(orders port.OrderRepository, locker port.Locker, queueSize int) *InProcessPipeline {
	return &InProcessPipeline{
		orderWriter: orderWriter{orders: orders, locker: locker},
		tasks:       make(chan domain.VoucherOrder, queueSize),
	}
}

// Publish enqueues without blocking the admission caller.
func (p *InProcessPipeline) Publish(ctx context.Context, order domain.VoucherOrder) error {
	select {
	case p.tasks <- order:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run drains the queue until ctx is done. Failed writes are logged and
// dropped; with no durable channel there is nothing to redeliver from.
func (p *InProcessPipeline) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case order := <-p.tasks:
			if err := p.write(ctx, order); err != nil {
				log.Error("in-process order write failed", "orderId", order.ID, "err", err)
			}
		}
	}
}
