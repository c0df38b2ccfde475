package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type DepositStatus string

const (
	DepositPending    DepositStatus = "pending"
	DepositProcessing DepositStatus = "processing"
	DepositApproved   DepositStatus = "approved"
	DepositCompleted  DepositStatus = "completed"
	DepositRejected   DepositStatus = "rejected"
)

// CheckDeposit is a two-image check deposit. Funds are credited only when
// the deposit completes, after the hold window has elapsed. The OCR fields
// are advisory annotations from the scan checker and never drive approval.
type CheckDeposit struct {
	ID              int64            `json:"id" db:"id"`
	Reference       string           `json:"reference" db:"reference"`
	AccountID       string           `json:"account_id" db:"account_id"`
	Amount          decimal.Decimal  `json:"amount" db:"amount"`
	FrontImage      string           `json:"front_image" db:"front_image"`
	BackImage       string           `json:"back_image" db:"back_image"`
	OCRAmount       *decimal.Decimal `json:"ocr_amount,omitempty" db:"ocr_amount"`
	OCRConfidence   *decimal.Decimal `json:"ocr_confidence,omitempty" db:"ocr_confidence"`
	Status          DepositStatus    `json:"status" db:"status"`
	HoldUntil       *time.Time       `json:"hold_until,omitempty" db:"hold_until"`
	ApprovedBy      *string          `json:"approved_by,omitempty" db:"approved_by"`
	RejectionReason string           `json:"rejection_reason,omitempty" db:"rejection_reason"`
	TransactionID   int64            `json:"transaction_id" db:"transaction_id"`
	CreatedAt       time.Time        `json:"created_at" db:"created_at"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty" db:"completed_at"`
}

// HoldElapsed reports whether the mandatory hold window has passed.
func (d *CheckDeposit) HoldElapsed(now time.Time) bool {
	return d.HoldUntil != nil && !now.Before(*d.HoldUntil)
}
