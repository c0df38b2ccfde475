package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianbank/corebank/internal/models"
	"github.com/meridianbank/corebank/internal/money"
)

// InvestmentService buys and sells positions against the fiat or bitcoin
// balance. Purchases debit exactly one balance; sells always credit fiat at
// the current quote, whatever funded the purchase. Partial sells reduce the
// cost basis proportionally.
type InvestmentService struct {
	db       *sql.DB
	ledger   *LedgerService
	records  *TransactionStore
	prices   PriceFeed
	notifier NotificationSink

	now func() time.Time
}

func NewInvestmentService(db *sql.DB, ledger *LedgerService, records *TransactionStore, prices PriceFeed, notifier NotificationSink) *InvestmentService {
	return &InvestmentService{
		db:       db,
		ledger:   ledger,
		records:  records,
		prices:   prices,
		notifier: notifier,
		now:      time.Now,
	}
}

type PurchaseParams struct {
	AccountID string
	Type      string // stock, etf, crypto, bond
	Symbol    string
	Amount    money.Money // fiat cost
	Source    models.BalanceSource
}

// Purchase resolves the quote, debits the declared balance, and opens the
// position. All pricing happens before any ledger interaction so a feed
// failure leaves nothing to roll back.
func (s *InvestmentService) Purchase(p PurchaseParams) (*models.Investment, error) {
	if !p.Amount.IsPositive() {
		return nil, fmt.Errorf("investment amount must be positive: %w", ErrInvalidState)
	}
	if p.Source != models.SourceFiat && p.Source != models.SourceBitcoin {
		return nil, fmt.Errorf("unknown balance source %q: %w", p.Source, ErrInvalidState)
	}

	quote, _, err := s.prices.GetRate(context.Background(), p.Symbol)
	if err != nil {
		return nil, err
	}
	if !quote.IsPositive() {
		return nil, fmt.Errorf("quote for %s is not positive: %w", p.Symbol, ErrRateUnavailable)
	}
	quantity := p.Amount.Amount.DivRound(quote, 8)

	// a bitcoin-funded purchase debits the BTC equivalent at the current price
	delta := p.Amount.Neg()
	if p.Source == models.SourceBitcoin {
		btcRate, _, err := s.prices.GetRate(context.Background(), "BTC")
		if err != nil {
			return nil, err
		}
		btcCost, err := p.Amount.Convert(btcRate, money.BTC)
		if err != nil {
			return nil, err
		}
		delta = btcCost.Neg()
	}

	investment := &models.Investment{
		AccountID:           p.AccountID,
		Type:                p.Type,
		Symbol:              p.Symbol,
		Quantity:            quantity,
		PricePerUnit:        quote,
		AmountInvested:      p.Amount.Amount,
		CurrentPricePerUnit: quote,
		FundingSource:       p.Source,
		Status:              models.InvestmentActive,
		CreatedAt:           s.now(),
	}

	err = runInTx(s.db, func(tx *sql.Tx) error {
		snap, err := s.ledger.Apply(tx, p.AccountID, delta)
		if err != nil {
			return err
		}

		if err := tx.QueryRow(`
			INSERT INTO investments
			(account_id, type, symbol, quantity, price_per_unit, amount_invested, current_price_per_unit, funding_source, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING id`,
			investment.AccountID, investment.Type, investment.Symbol, investment.Quantity,
			investment.PricePerUnit, investment.AmountInvested, investment.CurrentPricePerUnit,
			investment.FundingSource, investment.Status, investment.CreatedAt,
		).Scan(&investment.ID); err != nil {
			return fmt.Errorf("create investment: %w", err)
		}

		_, err = s.records.Create(tx, CreateTransactionParams{
			AccountID:   p.AccountID,
			Type:        models.TxInvestment,
			Amount:      delta.Abs(),
			Status:      models.TxCompleted,
			Snapshot:    snap,
			Description: fmt.Sprintf("purchase %s %s at %s/unit", quantity.String(), p.Symbol, quote.StringFixed(2)),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	emitEvent(context.Background(), s.notifier, "investment.purchased", p.AccountID, map[string]any{
		"investment_id": investment.ID,
		"symbol":        p.Symbol,
		"quantity":      quantity.String(),
	})
	return investment, nil
}

// Sell liquidates all or part of a position at the current quote and
// credits fiat. A partial sell keeps the position active with
// new_basis = old_basis * remaining/original.
func (s *InvestmentService) Sell(investmentID int64, quantity *decimal.Decimal) (money.Money, error) {
	var proceeds money.Money
	var accountID string
	err := runInTx(s.db, func(tx *sql.Tx) error {
		inv, err := s.lockInvestment(tx, investmentID)
		if err != nil {
			return err
		}
		if inv.Status != models.InvestmentActive {
			return fmt.Errorf("investment %d is %s: %w", investmentID, inv.Status, ErrInvalidState)
		}

		sellQty := inv.Quantity
		if quantity != nil {
			if !quantity.IsPositive() || quantity.GreaterThan(inv.Quantity) {
				return fmt.Errorf("sell quantity %s out of range: %w", quantity.String(), ErrInvalidState)
			}
			sellQty = *quantity
		}

		quote, _, err := s.prices.GetRate(context.Background(), inv.Symbol)
		if err != nil {
			return err
		}

		proceeds = money.New(sellQty.Mul(quote), money.USD)
		snap, err := s.ledger.Apply(tx, inv.AccountID, proceeds)
		if err != nil {
			return err
		}

		remaining := inv.Quantity.Sub(sellQty)
		newBasis := decimal.Zero
		status := models.InvestmentSold
		var soldAt *time.Time
		if remaining.IsPositive() {
			newBasis = inv.AmountInvested.Mul(remaining.DivRound(inv.Quantity, 16)).Round(2)
			status = models.InvestmentActive
		} else {
			now := s.now()
			soldAt = &now
		}

		result, err := tx.Exec(`
			UPDATE investments
			SET quantity = $1, amount_invested = $2, current_price_per_unit = $3, status = $4, sold_at = $5
			WHERE id = $6 AND status = $7`,
			remaining, newBasis, quote, status, soldAt, inv.ID, models.InvestmentActive)
		if err != nil {
			return err
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("investment %d changed state: %w", investmentID, ErrInvalidState)
		}

		_, err = s.records.Create(tx, CreateTransactionParams{
			AccountID:   inv.AccountID,
			Type:        models.TxInvestment,
			Amount:      proceeds,
			Status:      models.TxCompleted,
			Snapshot:    snap,
			Description: fmt.Sprintf("sell %s %s at %s/unit", sellQty.String(), inv.Symbol, quote.StringFixed(2)),
		})
		if err != nil {
			return err
		}
		log.Printf("[INVEST] sold %s %s for %s (position %d now %s)",
			sellQty.String(), inv.Symbol, proceeds.String(), inv.ID, status)
		accountID = inv.AccountID
		return nil
	})
	if err != nil {
		return money.Money{}, err
	}

	emitEvent(context.Background(), s.notifier, "investment.sold", accountID, map[string]any{
		"investment_id": investmentID,
		"proceeds":      proceeds.Amount.String(),
	})
	return proceeds, nil
}

// RefreshQuote updates the stored current price so derived value and P&L
// reflect the latest market data.
func (s *InvestmentService) RefreshQuote(investmentID int64) (*models.Investment, error) {
	var investment *models.Investment
	err := runInTx(s.db, func(tx *sql.Tx) error {
		inv, err := s.lockInvestment(tx, investmentID)
		if err != nil {
			return err
		}
		if inv.Status != models.InvestmentActive {
			return fmt.Errorf("investment %d is %s: %w", investmentID, inv.Status, ErrInvalidState)
		}

		quote, _, err := s.prices.GetRate(context.Background(), inv.Symbol)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`
			UPDATE investments SET current_price_per_unit = $1 WHERE id = $2`,
			quote, inv.ID); err != nil {
			return err
		}
		inv.CurrentPricePerUnit = quote
		investment = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return investment, nil
}

// Get fetches an investment without locking.
func (s *InvestmentService) Get(investmentID int64) (*models.Investment, error) {
	return scanInvestment(s.db.QueryRow(`
		SELECT id, account_id, type, symbol, quantity, price_per_unit, amount_invested, current_price_per_unit, funding_source, status, created_at, sold_at
		FROM investments
		WHERE id = $1`, investmentID), investmentID)
}

func (s *InvestmentService) lockInvestment(tx *sql.Tx, investmentID int64) (*models.Investment, error) {
	return scanInvestment(tx.QueryRow(`
		SELECT id, account_id, type, symbol, quantity, price_per_unit, amount_invested, current_price_per_unit, funding_source, status, created_at, sold_at
		FROM investments
		WHERE id = $1
		FOR UPDATE`, investmentID), investmentID)
}

func scanInvestment(row *sql.Row, investmentID int64) (*models.Investment, error) {
	inv := &models.Investment{}
	err := row.Scan(
		&inv.ID, &inv.AccountID, &inv.Type, &inv.Symbol, &inv.Quantity,
		&inv.PricePerUnit, &inv.AmountInvested, &inv.CurrentPricePerUnit,
		&inv.FundingSource, &inv.Status, &inv.CreatedAt, &inv.SoldAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("investment %d: %w", investmentID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return inv, nil
}
