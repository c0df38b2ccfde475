package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	t.Run("rounds fiat to cents", func(t *testing.T) {
		m := New(decimal.RequireFromString("10.005"), USD)
		assert.Equal(t, "10.01 USD", m.String())
	})

	t.Run("rounds bitcoin to satoshis", func(t *testing.T) {
		m := New(decimal.RequireFromString("0.123456789"), BTC)
		assert.Equal(t, "0.12345679 BTC", m.String())
	})
}

func TestFromString(t *testing.T) {
	m, err := FromString("499.50", USD)
	assert.NoError(t, err)
	assert.Equal(t, "499.50 USD", m.String())

	_, err = FromString("not-a-number", USD)
	assert.Error(t, err)
}

func TestAddSub(t *testing.T) {
	a, _ := FromString("1000.00", USD)
	b, _ := FromString("500.50", USD)

	sum, err := a.Add(b)
	assert.NoError(t, err)
	assert.Equal(t, "1500.50 USD", sum.String())

	diff, err := a.Sub(b)
	assert.NoError(t, err)
	assert.Equal(t, "499.50 USD", diff.String())

	t.Run("currency mismatch", func(t *testing.T) {
		c, _ := FromString("0.5", BTC)
		_, err := a.Add(c)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "currency mismatch")
	})

	t.Run("no drift over repeated operations", func(t *testing.T) {
		total := Zero(USD)
		step, _ := FromString("0.10", USD)
		for i := 0; i < 10000; i++ {
			total, _ = total.Add(step)
		}
		assert.Equal(t, "1000.00 USD", total.String())
	})
}

func TestMul(t *testing.T) {
	amount, _ := FromString("9000.00", USD)
	fee := amount.Mul(decimal.RequireFromString("0.005"))
	assert.Equal(t, "45.00 USD", fee.String())
}

func TestConvert(t *testing.T) {
	t.Run("usd to btc rounds to eight digits", func(t *testing.T) {
		usd, _ := FromString("100.00", USD)
		btc, err := usd.Convert(decimal.RequireFromString("43650.27"), BTC)
		assert.NoError(t, err)
		assert.Equal(t, BTC, btc.Currency)
		assert.Equal(t, "0.00229094", btc.Amount.StringFixed(8))
	})

	t.Run("zero rate rejected", func(t *testing.T) {
		usd, _ := FromString("100.00", USD)
		_, err := usd.Convert(decimal.Zero, BTC)
		assert.Error(t, err)
	})
}

func TestCmp(t *testing.T) {
	a, _ := FromString("0.01", BTC)
	b, _ := FromString("0.02", BTC)

	cmp, err := a.Cmp(b)
	assert.NoError(t, err)
	assert.Equal(t, -1, cmp)
	assert.True(t, a.LessThan(b))
	assert.False(t, b.LessThan(a))

	neg := a.Neg()
	assert.True(t, neg.IsNegative())
	assert.True(t, neg.Abs().IsPositive())
	assert.True(t, Zero(USD).IsZero())
}
