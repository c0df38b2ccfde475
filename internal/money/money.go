package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Currency identifies the unit a monetary amount is denominated in.
type Currency string

const (
	USD Currency = "USD"
	BTC Currency = "BTC"
)

// Exponent returns the number of fractional digits carried by the currency.
// Fiat amounts are kept to cents, bitcoin to satoshis.
func (c Currency) Exponent() int32 {
	if c == BTC {
		return 8
	}
	return 2
}

// Money is an exact decimal amount tagged with its currency. All arithmetic
// goes through shopspring/decimal; amounts are rounded to the currency
// exponent at construction so repeated add/subtract never drifts.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency Currency        `json:"currency"`
}

// New builds a Money rounded to the currency's fractional-digit count.
func New(amount decimal.Decimal, currency Currency) Money {
	return Money{Amount: amount.Round(currency.Exponent()), Currency: currency}
}

// FromString parses a decimal string into a Money.
func FromString(s string, currency Currency) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return New(d, currency), nil
}

// Zero returns a zero amount in the given currency.
func Zero(currency Currency) Money {
	return Money{Amount: decimal.Zero, Currency: currency}
}

func (m Money) checkCurrency(other Money) error {
	if m.Currency != other.Currency {
		return fmt.Errorf("currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	return nil
}

// Add returns m + other. Both operands must share a currency.
func (m Money) Add(other Money) (Money, error) {
	if err := m.checkCurrency(other); err != nil {
		return Money{}, err
	}
	return New(m.Amount.Add(other.Amount), m.Currency), nil
}

// Sub returns m - other. Both operands must share a currency.
func (m Money) Sub(other Money) (Money, error) {
	if err := m.checkCurrency(other); err != nil {
		return Money{}, err
	}
	return New(m.Amount.Sub(other.Amount), m.Currency), nil
}

// Neg returns the amount with its sign flipped.
func (m Money) Neg() Money {
	return Money{Amount: m.Amount.Neg(), Currency: m.Currency}
}

// Abs returns the amount with any negative sign dropped.
func (m Money) Abs() Money {
	return Money{Amount: m.Amount.Abs(), Currency: m.Currency}
}

// Mul scales the amount by a rate, rounded to the currency exponent.
func (m Money) Mul(rate decimal.Decimal) Money {
	return New(m.Amount.Mul(rate), m.Currency)
}

// Convert divides the amount by a cross rate and re-tags it with the target
// currency, rounded to the target's fractional-digit count. A USD amount
// divided by the BTC/USD price yields BTC.
func (m Money) Convert(rate decimal.Decimal, target Currency) (Money, error) {
	if rate.IsZero() {
		return Money{}, fmt.Errorf("conversion rate is zero")
	}
	return New(m.Amount.DivRound(rate, target.Exponent()), target), nil
}

// Cmp compares two amounts of the same currency: -1 if m < other, 0 if
// equal, +1 if m > other.
func (m Money) Cmp(other Money) (int, error) {
	if err := m.checkCurrency(other); err != nil {
		return 0, err
	}
	return m.Amount.Cmp(other.Amount), nil
}

// LessThan reports whether m < other, assuming matching currencies.
func (m Money) LessThan(other Money) bool {
	return m.Amount.Cmp(other.Amount) < 0
}

func (m Money) IsZero() bool     { return m.Amount.IsZero() }
func (m Money) IsNegative() bool { return m.Amount.IsNegative() }
func (m Money) IsPositive() bool { return m.Amount.IsPositive() }

// Equal reports whether both amount and currency match.
func (m Money) Equal(other Money) bool {
	return m.Currency == other.Currency && m.Amount.Equal(other.Amount)
}

func (m Money) String() string {
	return m.Amount.StringFixed(m.Currency.Exponent()) + " " + string(m.Currency)
}
