package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hmdp/seckill/internal/core/domain"
	"github.com/hmdp/seckill/internal/port"
)

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// CreateOrder inserts the order row and decrements the authoritative
// stock in one transaction. The decrement is conditioned on stock > 0;
// zero rows affected means the stock is gone and the whole transaction
// rolls back, which is the oversell guard at persistence time.
func (m *MySQLAdapter) CreateOrder(ctx context.Context, order domain.VoucherOrder) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO voucher_orders (id, user_id, voucher_id, created_at)
		VALUES (?, ?, ?, ?)`,
		order.ID, order.UserID, order.VoucherID, order.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE seckill_vouchers
		SET stock = stock - 1, updated_at = NOW()
		WHERE voucher_id = ? AND stock > 0`,
		order.VoucherID,
	)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return port.ErrStockDepleted
	}

	return tx.Commit()
}

func (m *MySQLAdapter) CountOrders(ctx context.Context, userID, voucherID int64) (int64, error) {
	var count int64
	err := m.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM voucher_orders
		WHERE user_id = ? AND voucher_id = ?`,
		userID, voucherID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return count, nil
}

func (m *MySQLAdapter) CreateVoucher(ctx context.Context, voucher domain.SeckillVoucher) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO seckill_vouchers (voucher_id, stock, begin_time, end_time, created_at, updated_at)
		VALUES (?, ?, ?, ?, NOW(), NOW())`,
		voucher.VoucherID, voucher.Stock, voucher.BeginTime, voucher.EndTime,
	)
	if err != nil {
		return fmt.Errorf("insert voucher: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) GetVoucher(ctx context.Context, voucherID int64) (*domain.SeckillVoucher, error) {
	var v domain.SeckillVoucher
	err := m.db.QueryRowContext(ctx, `
		SELECT voucher_id, stock, begin_time, end_time, created_at, updated_at
		FROM seckill_vouchers WHERE voucher_id = ?`, voucherID,
	).Scan(&v.VoucherID, &v.Stock, &v.BeginTime, &v.EndTime, &v.CreatedAt, &v.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query voucher: %w", err)
	}
	return &v, nil
}

func (m *MySQLAdapter) GetShop(ctx context.Context, id int64) (*domain.Shop, error) {
	var s domain.Shop
	err := m.db.QueryRowContext(ctx, `
		SELECT id, name, address, avg_price, sold, score, created_at, updated_at
		FROM shops WHERE id = ?`, id,
	).Scan(&s.ID, &s.Name, &s.Address, &s.AvgPrice, &s.Sold, &s.Score, &s.CreatedAt, &s.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query shop: %w", err)
	}
	return &s, nil
}

func (m *MySQLAdapter) UpdateShop(ctx context.Context, shop domain.Shop) error {
	_, err := m.db.ExecContext(ctx, `
		UPDATE shops
		SET name = ?, address = ?, avg_price = ?, sold = ?, score = ?, updated_at = NOW()
		WHERE id = ?`,
		shop.Name, shop.Address, shop.AvgPrice, shop.Sold, shop.Score, shop.ID,
	)
	if err != nil {
		return fmt.Errorf("update shop: %w", err)
	}
	return nil
}
