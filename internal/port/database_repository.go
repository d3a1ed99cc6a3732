package port

import (
	"context"
	"errors"

	"github.com/hmdp/seckill/internal/core/domain"
)

// ErrStockDepleted is returned by CreateOrder when the guarded stock
// decrement matches zero rows, i.e. the authoritative stock is gone.
var ErrStockDepleted = errors.New("stock depleted")

type OrderRepository interface {
	// CreateOrder persists the order row and applies the authoritative
	// stock decrement conditioned on stock > 0 in one transaction.
	// Returns ErrStockDepleted if the conditional update matched nothing.
	CreateOrder(ctx context.Context, order domain.VoucherOrder) error

	// CountOrders reports how many orders exist for (userID, voucherID).
	CountOrders(ctx context.Context, userID, voucherID int64) (int64, error)
}

type VoucherRepository interface {
	CreateVoucher(ctx context.Context, voucher domain.SeckillVoucher) error

	// GetVoucher returns nil without error when the voucher is absent.
	GetVoucher(ctx context.Context, voucherID int64) (*domain.SeckillVoucher, error)
}

type ShopRepository interface {
	// GetShop returns nil without error when the shop is absent.
	GetShop(ctx context.Context, id int64) (*domain.Shop, error)

	UpdateShop(ctx context.Context, shop domain.Shop) error
}
