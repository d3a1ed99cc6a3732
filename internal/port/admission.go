package port

import (
	"context"

	"github.com/hmdp/seckill/internal/core/domain"
)

// AdmitCode is the status returned by the atomic admission step.
type AdmitCode int

const (
	AdmitAccepted          AdmitCode = 0
	AdmitInsufficientStock AdmitCode = 1
	AdmitDuplicateOrder    AdmitCode = 2
	AdmitNotStarted        AdmitCode = 3
	AdmitEnded             AdmitCode = 4
)

type SeckillAdmitter interface {
	// Admit atomically checks the sale window, remaining stock and the
	// per-voucher dedup set, and on acceptance decrements stock and
	// records the user in a single step. No read-then-write race is
	// possible between concurrent callers.
	Admit(ctx context.Context, voucherID, userID int64) (AdmitCode, error)

	// SeedVoucher writes the stock counter and sale-window bounds the
	// admission script reads. Must run before the sale opens.
	SeedVoucher(ctx context.Context, voucher domain.SeckillVoucher) error
}
