package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account holds a customer's two balances. Balance rows carry a version
// column for optimistic locking; every mutation also takes a row-level
// FOR UPDATE lock so concurrent writers against the same account serialize.
type Account struct {
	ID                 string          `json:"id" db:"id"`
	Balance            decimal.Decimal `json:"balance" db:"balance"`                 // fiat, 2 fractional digits
	BitcoinBalance     decimal.Decimal `json:"bitcoin_balance" db:"bitcoin_balance"` // 8 fractional digits
	DailyTransferTotal decimal.Decimal `json:"daily_transfer_total" db:"daily_transfer_total"`
	DailyTransferDate  time.Time       `json:"daily_transfer_date" db:"daily_transfer_date"`
	Version            int             `json:"version" db:"version"`
	UpdatedAt          time.Time       `json:"updated_at" db:"updated_at"`
}
