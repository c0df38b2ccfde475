package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianbank/corebank/internal/money"
)

type TransferType string

const (
	TransferInternal          TransferType = "internal"
	TransferACH               TransferType = "ach"
	TransferWireDomestic      TransferType = "wire_domestic"
	TransferWireInternational TransferType = "wire_international"
	TransferExternal          TransferType = "external"
	TransferInstant           TransferType = "instant"
)

type TransferStatus string

const (
	TransferPending    TransferStatus = "pending"
	TransferProcessing TransferStatus = "processing"
	TransferCompleted  TransferStatus = "completed"
	TransferFailed     TransferStatus = "failed"
	TransferCancelled  TransferStatus = "cancelled"
)

// Transfer is a money movement between a sender and a recipient. The sender
// is debited amount+fee when the transfer is created, so every terminal
// state other than completed must refund. Recipient is only set for
// internal transfers; external targets live on the linked beneficiary.
type Transfer struct {
	ID                    int64           `json:"id" db:"id"`
	Reference             string          `json:"reference" db:"reference"`
	SenderID              string          `json:"sender_id" db:"sender_id"`
	RecipientID           *string         `json:"recipient_id,omitempty" db:"recipient_id"`
	BeneficiaryID         *int64          `json:"beneficiary_id,omitempty" db:"beneficiary_id"`
	Type                  TransferType    `json:"type" db:"type"`
	Status                TransferStatus  `json:"status" db:"status"`
	Amount                decimal.Decimal `json:"amount" db:"amount"`
	Fee                   decimal.Decimal `json:"fee" db:"fee"`
	Currency              money.Currency  `json:"currency" db:"currency"`
	Description           string          `json:"description" db:"description"`
	RequiresAdminApproval bool            `json:"requires_admin_approval" db:"requires_admin_approval"`
	AdminApproved         bool            `json:"admin_approved" db:"admin_approved"`
	ApprovedBy            *string         `json:"approved_by,omitempty" db:"approved_by"`
	ApprovedAt            *time.Time      `json:"approved_at,omitempty" db:"approved_at"`
	RejectionReason       string          `json:"rejection_reason,omitempty" db:"rejection_reason"`
	ScheduledAt           time.Time       `json:"scheduled_at" db:"scheduled_at"`
	CompletedAt           *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt             time.Time       `json:"created_at" db:"created_at"`
}

// Cancellable reports whether the sender may still back out.
func (t *Transfer) Cancellable() bool {
	return t.Status == TransferPending || t.Status == TransferProcessing
}

// Total is the amount plus the fee fixed at creation time.
func (t *Transfer) Total() decimal.Decimal {
	return t.Amount.Add(t.Fee)
}
