package domain

import "time"

// VoucherOrder is a reservation accepted by the admission controller.
// The ID is minted by the distributed ID generator and is globally
// unique and time-ordered.
type VoucherOrder struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	VoucherID int64     `json:"voucherId"`
	CreatedAt time.Time `json:"createdAt"`
}
