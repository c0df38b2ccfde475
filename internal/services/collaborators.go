package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PriceFeed resolves the current cross rate for an asset symbol ("BTC",
// equity tickers). The engine freezes whatever rate it obtains at the moment
// of use; it never retries internally and never recomputes afterward.
type PriceFeed interface {
	GetRate(ctx context.Context, asset string) (decimal.Decimal, time.Time, error)
}

// NotificationSink receives fire-and-forget events. A sink failure must
// never roll back a completed money movement; callers log and move on.
type NotificationSink interface {
	Emit(ctx context.Context, eventType, accountID string, payload map[string]any) error
}

// RoutingLookup validates a bank routing number. Pure validation, no ledger
// side effects.
type RoutingLookup interface {
	ValidateRoutingNumber(number string) bool
}

// DepositScanResult carries the advisory OCR annotations for a check image
// pair. Never authoritative for approval.
type DepositScanResult struct {
	Amount     decimal.Decimal
	Confidence decimal.Decimal
}

// DepositScanChecker inspects check images. Errors are logged and ignored;
// the deposit proceeds without annotations.
type DepositScanChecker interface {
	Inspect(ctx context.Context, frontImage, backImage string) (*DepositScanResult, error)
}

// ABARoutingLookup validates US routing numbers with the standard 3-7-1
// checksum.
type ABARoutingLookup struct{}

func (ABARoutingLookup) ValidateRoutingNumber(number string) bool {
	if len(number) != 9 {
		return false
	}
	sum := 0
	for i, weight := range []int{3, 7, 1, 3, 7, 1, 3, 7, 1} {
		digit := int(number[i] - '0')
		if digit < 0 || digit > 9 {
			return false
		}
		sum += digit * weight
	}
	return sum%10 == 0
}

// NoScanChecker is the default when no OCR collaborator is configured.
type NoScanChecker struct{}

func (NoScanChecker) Inspect(context.Context, string, string) (*DepositScanResult, error) {
	return nil, nil
}
