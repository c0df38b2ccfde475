package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BalanceSource names which of an account's two balances funds an outgoing
// movement.
type BalanceSource string

const (
	SourceFiat    BalanceSource = "fiat"
	SourceBitcoin BalanceSource = "bitcoin"
)

// BitcoinSend is an outgoing bitcoin transaction. The BTC/USD cross rate is
// frozen at creation (PriceAtTime) and never recomputed; exactly one balance
// is debited, per BalanceSource.
type BitcoinSend struct {
	ID               int64             `json:"id" db:"id"`
	Reference        string            `json:"reference" db:"reference"`
	AccountID        string            `json:"account_id" db:"account_id"`
	BalanceSource    BalanceSource     `json:"balance_source" db:"balance_source"`
	AmountBTC        decimal.Decimal   `json:"amount_btc" db:"amount_btc"`
	AmountUSD        decimal.Decimal   `json:"amount_usd" db:"amount_usd"`
	PriceAtTime      decimal.Decimal   `json:"bitcoin_price_at_time" db:"bitcoin_price_at_time"`
	NetworkFeeBTC    decimal.Decimal   `json:"network_fee_btc" db:"network_fee_btc"`
	RecipientAddress string            `json:"recipient_address" db:"recipient_address"`
	Status           TransactionStatus `json:"status" db:"status"`
	CreatedAt        time.Time         `json:"created_at" db:"created_at"`
}
