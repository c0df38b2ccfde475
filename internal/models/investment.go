package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type InvestmentStatus string

// Positions are active from purchase and move to sold once fully exited.
const (
	InvestmentActive InvestmentStatus = "active"
	InvestmentSold   InvestmentStatus = "sold"
)

// Investment is a position purchased with fiat or bitcoin. AmountInvested is
// the fiat cost basis; partial sells reduce it proportionally so remaining
// profit/loss stays meaningful.
type Investment struct {
	ID                  int64            `json:"id" db:"id"`
	AccountID           string           `json:"account_id" db:"account_id"`
	Type                string           `json:"type" db:"type"`
	Symbol              string           `json:"symbol" db:"symbol"`
	Quantity            decimal.Decimal  `json:"quantity" db:"quantity"`
	PricePerUnit        decimal.Decimal  `json:"price_per_unit" db:"price_per_unit"`
	AmountInvested      decimal.Decimal  `json:"amount_invested" db:"amount_invested"`
	CurrentPricePerUnit decimal.Decimal  `json:"current_price_per_unit" db:"current_price_per_unit"`
	FundingSource       BalanceSource    `json:"funding_source" db:"funding_source"`
	Status              InvestmentStatus `json:"status" db:"status"`
	CreatedAt           time.Time        `json:"created_at" db:"created_at"`
	SoldAt              *time.Time       `json:"sold_at,omitempty" db:"sold_at"`
}

// CurrentValue is quantity times the latest refreshed quote.
func (i *Investment) CurrentValue() decimal.Decimal {
	return i.Quantity.Mul(i.CurrentPricePerUnit).Round(2)
}

// ProfitLoss is current value minus the remaining cost basis.
func (i *Investment) ProfitLoss() decimal.Decimal {
	return i.CurrentValue().Sub(i.AmountInvested)
}

// ProfitLossPercentage is profit/loss over cost basis, to four decimal
// places. Zero basis yields zero rather than dividing.
func (i *Investment) ProfitLossPercentage() decimal.Decimal {
	if i.AmountInvested.IsZero() {
		return decimal.Zero
	}
	return i.ProfitLoss().Div(i.AmountInvested).Mul(decimal.NewFromInt(100)).Round(4)
}
