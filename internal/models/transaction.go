package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianbank/corebank/internal/money"
)

type TransactionType string

const (
	TxDeposit    TransactionType = "deposit"
	TxWithdrawal TransactionType = "withdrawal"
	TxPayment    TransactionType = "payment"
	TxTransfer   TransactionType = "transfer"
	TxInvestment TransactionType = "investment"
	TxLoan       TransactionType = "loan"
	TxFee        TransactionType = "fee"
	TxRefund     TransactionType = "refund"
	TxAdjustment TransactionType = "adjustment"
)

type TransactionStatus string

const (
	TxPending   TransactionStatus = "pending"
	TxCompleted TransactionStatus = "completed"
	TxFailed    TransactionStatus = "failed"
	TxCancelled TransactionStatus = "cancelled"
	TxReversed  TransactionStatus = "reversed"
)

// Transaction is an append-mostly log entry for every balance-affecting
// event. Amount is always positive; direction is carried by the
// before/after snapshots. Completed records are never edited in place;
// undo happens through a new compensating record (see TransactionStore.Reverse).
type Transaction struct {
	ID            int64             `json:"id" db:"id"`
	Reference     string            `json:"reference" db:"reference"`
	AccountID     string            `json:"account_id" db:"account_id"`
	Type          TransactionType   `json:"type" db:"type"`
	Amount        decimal.Decimal   `json:"amount" db:"amount"`
	Currency      money.Currency    `json:"currency" db:"currency"`
	Status        TransactionStatus `json:"status" db:"status"`
	BalanceBefore decimal.Decimal   `json:"balance_before" db:"balance_before"`
	BalanceAfter  decimal.Decimal   `json:"balance_after" db:"balance_after"`
	TransferID    *int64            `json:"transfer_id,omitempty" db:"transfer_id"`
	ReversalOf    *int64            `json:"reversal_of,omitempty" db:"reversal_of"`
	Description   string            `json:"description" db:"description"`
	CreatedAt     time.Time         `json:"created_at" db:"created_at"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty" db:"completed_at"`
}
