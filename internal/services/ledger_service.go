package services

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianbank/corebank/internal/models"
	"github.com/meridianbank/corebank/internal/money"
)

// LedgerService is the only component allowed to change an account balance.
// Every mutation runs inside the caller's *sql.Tx: the account row is locked
// FOR UPDATE, the precondition is checked against the locked value, and the
// write carries a version CAS so a racing writer surfaces as
// ErrPersistenceConflict instead of a lost update.
type LedgerService struct {
	db *sql.DB
}

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{db: db}
}

// BalanceSnapshot is the before/after pair recorded alongside every applied
// mutation.
type BalanceSnapshot struct {
	Before money.Money
	After  money.Money
}

func balanceColumn(c money.Currency) string {
	if c == money.BTC {
		return "bitcoin_balance"
	}
	return "balance"
}

// Apply adjusts one of the account's balances by delta inside tx. A negative
// delta that would take the balance below zero fails with
// ErrInsufficientFunds before anything is written. The caller commits the
// new balance together with its transaction record, or neither.
func (s *LedgerService) Apply(tx *sql.Tx, accountID string, delta money.Money) (*BalanceSnapshot, error) {
	account, err := s.LockAccount(tx, accountID)
	if err != nil {
		return nil, err
	}

	column := balanceColumn(delta.Currency)
	before := money.New(account.Balance, money.USD)
	if delta.Currency == money.BTC {
		before = money.New(account.BitcoinBalance, money.BTC)
	}

	after, err := before.Add(delta)
	if err != nil {
		return nil, err
	}
	if after.IsNegative() {
		return nil, fmt.Errorf("account %s: %s %s available, %s requested: %w",
			accountID, before.String(), column, delta.Abs().String(), ErrInsufficientFunds)
	}

	result, err := tx.Exec(fmt.Sprintf(`
		UPDATE accounts
		SET %s = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4`, column),
		after.Amount, time.Now(), accountID, account.Version)
	if err != nil {
		return nil, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("account %s version %d: %w", accountID, account.Version, ErrPersistenceConflict)
	}

	return &BalanceSnapshot{Before: before, After: after}, nil
}

// LockAccount fetches the account row under a row-level lock. Mutations for
// the same account serialize here; different accounts proceed in parallel.
func (s *LedgerService) LockAccount(tx *sql.Tx, accountID string) (*models.Account, error) {
	var account models.Account
	err := tx.QueryRow(`
		SELECT id, balance, bitcoin_balance, daily_transfer_total, daily_transfer_date, version, updated_at
		FROM accounts
		WHERE id = $1
		FOR UPDATE`, accountID).Scan(
		&account.ID, &account.Balance, &account.BitcoinBalance,
		&account.DailyTransferTotal, &account.DailyTransferDate,
		&account.Version, &account.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("account %s: %w", accountID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// Balance reads an account balance without locking, for enquiries only.
func (s *LedgerService) Balance(accountID string, currency money.Currency) (money.Money, error) {
	var amount decimal.Decimal
	err := s.db.QueryRow(fmt.Sprintf(
		`SELECT %s FROM accounts WHERE id = $1`, balanceColumn(currency)),
		accountID).Scan(&amount)
	if err == sql.ErrNoRows {
		return money.Money{}, fmt.Errorf("account %s: %w", accountID, ErrNotFound)
	}
	if err != nil {
		return money.Money{}, err
	}
	return money.New(amount, currency), nil
}

// AddDailyTransferTotal bumps the sender's daily accumulator inside the same
// transaction (and under the same lock) as the debit it accounts for. The
// accumulator resets when the stored date rolls over.
func (s *LedgerService) AddDailyTransferTotal(tx *sql.Tx, account *models.Account, amount money.Money, now time.Time) error {
	total := account.DailyTransferTotal
	if account.DailyTransferDate.Format("2006-01-02") != now.Format("2006-01-02") {
		total = decimal.Zero
	}
	_, err := tx.Exec(`
		UPDATE accounts
		SET daily_transfer_total = $1, daily_transfer_date = $2
		WHERE id = $3`,
		total.Add(amount.Amount), now, account.ID)
	return err
}
