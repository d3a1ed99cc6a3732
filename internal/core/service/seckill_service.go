package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/hmdp/seckill/internal/cache"
	"github.com/hmdp/seckill/internal/core/domain"
	"github.com/hmdp/seckill/internal/port"
)

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrDuplicateOrder    = errors.New("duplicate order")
	ErrSaleNotStarted    = errors.New("sale not started")
	ErrSaleEnded         = errors.New("sale ended")
	ErrVoucherNotFound   = errors.New("voucher not found")
)

const (
	orderIDKey = "order"

	voucherCacheKeyPrefix = "cache:voucher:"
	voucherCacheTTL       = 30 * time.Minute
	voucherNullTTL        = 2 * time.Minute
)

type SeckillService struct {
	admitter port.SeckillAdmitter
	idGen    port.IDGenerator
	queue    port.OrderQueue
	vouchers port.VoucherRepository
	cache    *cache.Client
}

func NewSeckillService(admitter port.SeckillAdmitter, idGen port.IDGenerator, queue port.OrderQueue, vouchers port.VoucherRepository, cacheClient *cache.Client) *SeckillService {
	return &SeckillService{
		admitter: admitter,
		idGen:    idGen,
		queue:    queue,
		vouchers: vouchers,
		cache:    cacheClient,
	}
}

// Seckill runs the atomic admission step and, on acceptance, mints an
// order id and enqueues the reservation for asynchronous persistence.
// The caller gets the order id back before the order row exists.
func (s *SeckillService) Seckill(ctx context.Context, voucherID, userID int64) (int64, error) {
	code, err := s.admitter.Admit(ctx, voucherID, userID)
	if err != nil {
		return 0, fmt.Errorf("admission check: %w", err)
	}
	switch code {
	case port.AdmitAccepted:
	case port.AdmitInsufficientStock:
		return 0, ErrInsufficientStock
	case port.AdmitDuplicateOrder:
		return 0, ErrDuplicateOrder
	case port.AdmitNotStarted:
		return 0, ErrSaleNotStarted
	case port.AdmitEnded:
		return 0, ErrSaleEnded
	default:
		return 0, fmt.Errorf("unexpected admission code %d", code)
	}

	orderID, err := s.idGen.NextID(ctx, orderIDKey)
	if err != nil {
		return 0, fmt.Errorf("mint order id: %w", err)
	}

	order := domain.VoucherOrder{
		ID:        orderID,
		UserID:    userID,
		VoucherID: voucherID,
		CreatedAt: time.Now(),
	}
	if err := s.queue.Publish(ctx, order); err != nil {
		return 0, fmt.Errorf("enqueue reservation: %w", err)
	}
	return orderID, nil
}

// PublishVoucher creates the voucher row and seeds the fast store so
// the admission script can run against it.
func (s *SeckillService) PublishVoucher(ctx context.Context, voucher domain.SeckillVoucher) error {
	if voucher.Stock < 0 {
		return fmt.Errorf("negative stock %d", voucher.Stock)
	}
	if !voucher.EndTime.After(voucher.BeginTime) {
		return fmt.Errorf("sale window ends before it begins")
	}
	if err := s.vouchers.CreateVoucher(ctx, voucher); err != nil {
		return fmt.Errorf("create voucher: %w", err)
	}
	if err := s.admitter.SeedVoucher(ctx, voucher); err != nil {
		return fmt.Errorf("seed voucher: %w", err)
	}
	return nil
}

// GetVoucher serves voucher reads through the penetration-guarded cache.
func (s *SeckillService) GetVoucher(ctx context.Context, voucherID int64) (*domain.SeckillVoucher, error) {
	voucher, err := cache.QueryPassthrough(ctx, s.cache, voucherCacheKeyPrefix, strconv.FormatInt(voucherID, 10),
		s.loadVoucher, voucherNullTTL, voucherCacheTTL)
	if err != nil {
		return nil, err
	}
	if voucher == nil {
		return nil, ErrVoucherNotFound
	}
	return voucher, nil
}

func (s *SeckillService) loadVoucher(ctx context.Context, id string) (*domain.SeckillVoucher, error) {
	voucherID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad voucher id %q: %w", id, err)
	}
	return s.vouchers.GetVoucher(ctx, voucherID)
}
