package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"regexp"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/meridianbank/corebank/internal/models"
	"github.com/meridianbank/corebank/internal/money"
)

// Legacy base58 (P2PKH/P2SH) and bech32 address shapes. Format check only;
// the chain-side validity of the target is the broadcast collaborator's
// concern.
var (
	btcLegacyAddress = regexp.MustCompile(`^[13][1-9A-HJ-NP-Za-km-z]{25,34}$`)
	btcBech32Address = regexp.MustCompile(`^bc1[02-9ac-hj-np-z]{11,87}$`)
)

// BitcoinService sends bitcoin out of either of the account's balances. The
// BTC/USD rate is resolved once, frozen on the row, and never recomputed;
// if no rate is obtainable the send fails closed before any debit.
type BitcoinService struct {
	db       *sql.DB
	ledger   *LedgerService
	records  *TransactionStore
	prices   PriceFeed
	notifier NotificationSink

	networkFeeBTC decimal.Decimal
	now           func() time.Time
}

func NewBitcoinService(db *sql.DB, ledger *LedgerService, records *TransactionStore, prices PriceFeed, notifier NotificationSink) *BitcoinService {
	viper.SetDefault("bitcoin.network_fee_btc", "0.0001")
	return &BitcoinService{
		db:            db,
		ledger:        ledger,
		records:       records,
		prices:        prices,
		notifier:      notifier,
		networkFeeBTC: decimal.RequireFromString(viper.GetString("bitcoin.network_fee_btc")),
		now:           time.Now,
	}
}

// SendBitcoinParams takes exactly one of AmountBTC/AmountUSD; the other side
// is computed at the frozen rate.
type SendBitcoinParams struct {
	AccountID        string
	BalanceSource    models.BalanceSource
	AmountBTC        *decimal.Decimal
	AmountUSD        *decimal.Decimal
	RecipientAddress string
}

// Send validates, prices, and debits in that order: address format and
// amounts are rejected before the price feed is consulted, and the rate is
// resolved before any ledger interaction so a feed failure leaves nothing
// to roll back.
func (s *BitcoinService) Send(p SendBitcoinParams) (*models.BitcoinSend, error) {
	if !ValidBitcoinAddress(p.RecipientAddress) {
		return nil, fmt.Errorf("%q: %w", p.RecipientAddress, ErrInvalidAddress)
	}
	if p.BalanceSource != models.SourceFiat && p.BalanceSource != models.SourceBitcoin {
		return nil, fmt.Errorf("unknown balance source %q: %w", p.BalanceSource, ErrInvalidState)
	}
	if (p.AmountBTC == nil) == (p.AmountUSD == nil) {
		return nil, fmt.Errorf("exactly one of amount_btc or amount_usd required: %w", ErrInvalidState)
	}

	rate, asOf, err := s.prices.GetRate(context.Background(), "BTC")
	if err != nil {
		return nil, err
	}

	var amountBTC, amountUSD money.Money
	if p.AmountBTC != nil {
		if !p.AmountBTC.IsPositive() {
			return nil, fmt.Errorf("amount must be positive: %w", ErrInvalidState)
		}
		amountBTC = money.New(*p.AmountBTC, money.BTC)
		amountUSD = amountBTC.Mul(rate)
		amountUSD = money.New(amountUSD.Amount, money.USD)
	} else {
		if !p.AmountUSD.IsPositive() {
			return nil, fmt.Errorf("amount must be positive: %w", ErrInvalidState)
		}
		amountUSD = money.New(*p.AmountUSD, money.USD)
		amountBTC, err = amountUSD.Convert(rate, money.BTC)
		if err != nil {
			return nil, err
		}
	}

	networkFee := money.New(s.networkFeeBTC, money.BTC)

	// debit whichever balance the caller declared, fee included
	var delta money.Money
	if p.BalanceSource == models.SourceBitcoin {
		total, err := amountBTC.Add(networkFee)
		if err != nil {
			return nil, err
		}
		delta = total.Neg()
	} else {
		feeUSD := money.New(networkFee.Mul(rate).Amount, money.USD)
		total, err := amountUSD.Add(feeUSD)
		if err != nil {
			return nil, err
		}
		delta = total.Neg()
	}

	send := &models.BitcoinSend{
		AccountID:        p.AccountID,
		BalanceSource:    p.BalanceSource,
		AmountBTC:        amountBTC.Amount,
		AmountUSD:        amountUSD.Amount,
		PriceAtTime:      rate,
		NetworkFeeBTC:    networkFee.Amount,
		RecipientAddress: p.RecipientAddress,
		Status:           models.TxCompleted,
		CreatedAt:        s.now(),
	}

	err = runInTx(s.db, func(tx *sql.Tx) error {
		snap, err := s.ledger.Apply(tx, p.AccountID, delta)
		if err != nil {
			return err
		}

		if err := s.insertSend(tx, send); err != nil {
			return err
		}

		_, err = s.records.Create(tx, CreateTransactionParams{
			AccountID:   p.AccountID,
			Type:        models.TxWithdrawal,
			Amount:      delta.Abs(),
			Status:      models.TxCompleted,
			Snapshot:    snap,
			Description: fmt.Sprintf("bitcoin send %s to %s (rate %s as of %s)", send.Reference, p.RecipientAddress, rate.String(), asOf.Format(time.RFC3339)),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	emitEvent(context.Background(), s.notifier, "bitcoin.sent", p.AccountID, map[string]any{
		"reference":  send.Reference,
		"amount_btc": send.AmountBTC.String(),
		"amount_usd": send.AmountUSD.String(),
		"address":    p.RecipientAddress,
	})
	return send, nil
}

func (s *BitcoinService) insertSend(tx *sql.Tx, b *models.BitcoinSend) error {
	b.Reference = generateReference(refPrefixBitcoin)
	err := tx.QueryRow(`
		INSERT INTO bitcoin_sends
		(reference, account_id, balance_source, amount_btc, amount_usd, bitcoin_price_at_time, network_fee_btc, recipient_address, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		b.Reference, b.AccountID, b.BalanceSource, b.AmountBTC, b.AmountUSD,
		b.PriceAtTime, b.NetworkFeeBTC, b.RecipientAddress, b.Status, b.CreatedAt,
	).Scan(&b.ID)
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		log.Printf("[BITCOIN] reference collision on %s", b.Reference)
		return fmt.Errorf("reference %s taken: %w", b.Reference, ErrPersistenceConflict)
	}
	return fmt.Errorf("create bitcoin send: %w", err)
}

// ValidBitcoinAddress checks the recipient address shape.
func ValidBitcoinAddress(address string) bool {
	return btcLegacyAddress.MatchString(address) || btcBech32Address.MatchString(address)
}
