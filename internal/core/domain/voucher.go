package domain

import "time"

// SeckillVoucher is a limited-stock promotional voucher sold within a
// fixed time window. Stock is never allowed to go negative.
type SeckillVoucher struct {
	VoucherID int64     `json:"voucherId"`
	Stock     int       `json:"stock"`
	BeginTime time.Time `json:"beginTime"`
	EndTime   time.Time `json:"endTime"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
