package services

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianbank/corebank/internal/models"
	"github.com/meridianbank/corebank/internal/money"
)

// TransactionStore is the append-mostly log of balance-affecting events.
// Completed records are immutable; the only way to undo one is Reverse,
// which writes a new compensating record.
type TransactionStore struct {
	db     *sql.DB
	ledger *LedgerService
}

func NewTransactionStore(db *sql.DB, ledger *LedgerService) *TransactionStore {
	return &TransactionStore{db: db, ledger: ledger}
}

// CreateTransactionParams describes one log entry. Snapshot comes from the
// LedgerService call made in the same tx; a nil Snapshot means the event has
// not touched the balance yet (check deposits before completion), and the
// current balance is recorded on both sides.
type CreateTransactionParams struct {
	AccountID   string
	Type        models.TransactionType
	Amount      money.Money
	Status      models.TransactionStatus
	Snapshot    *BalanceSnapshot
	TransferID  *int64
	ReversalOf  *int64
	Description string
}

// Create persists a new record with a fresh reference number, retrying on
// the unique-index collision.
func (s *TransactionStore) Create(tx *sql.Tx, p CreateTransactionParams) (*models.Transaction, error) {
	record := &models.Transaction{
		AccountID:   p.AccountID,
		Type:        p.Type,
		Amount:      p.Amount.Abs().Amount,
		Currency:    p.Amount.Currency,
		Status:      p.Status,
		TransferID:  p.TransferID,
		ReversalOf:  p.ReversalOf,
		Description: p.Description,
		CreatedAt:   time.Now(),
	}

	if p.Snapshot != nil {
		record.BalanceBefore = p.Snapshot.Before.Amount
		record.BalanceAfter = p.Snapshot.After.Amount
	} else {
		current, err := currentBalance(tx, p.AccountID, p.Amount.Currency)
		if err != nil {
			return nil, err
		}
		record.BalanceBefore = current
		record.BalanceAfter = current
	}

	if p.Status == models.TxCompleted {
		now := record.CreatedAt
		record.CompletedAt = &now
	}

	record.Reference = generateReference(refPrefixTransaction)
	err := tx.QueryRow(`
		INSERT INTO transactions
		(reference, account_id, type, amount, currency, status, balance_before, balance_after, transfer_id, reversal_of, description, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`,
		record.Reference, record.AccountID, record.Type, record.Amount, record.Currency,
		record.Status, record.BalanceBefore, record.BalanceAfter, record.TransferID,
		record.ReversalOf, record.Description, record.CreatedAt, record.CompletedAt,
	).Scan(&record.ID)
	if err == nil {
		return record, nil
	}
	if isUniqueViolation(err) {
		log.Printf("[TXSTORE] reference collision on %s", record.Reference)
		return nil, fmt.Errorf("reference %s taken: %w", record.Reference, ErrPersistenceConflict)
	}
	return nil, fmt.Errorf("create transaction record: %w", err)
}

func currentBalance(tx *sql.Tx, accountID string, currency money.Currency) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := tx.QueryRow(fmt.Sprintf(
		`SELECT %s FROM accounts WHERE id = $1`, balanceColumn(currency)),
		accountID).Scan(&balance)
	if err == sql.ErrNoRows {
		err = fmt.Errorf("account %s: %w", accountID, ErrNotFound)
	}
	return balance, err
}

// MarkCompleted moves a pending record to completed, filling in the
// snapshots from the mutation that settled it. The transition is
// one-directional: a record in any other state is left alone.
func (s *TransactionStore) MarkCompleted(tx *sql.Tx, id int64, snap *BalanceSnapshot) error {
	result, err := tx.Exec(`
		UPDATE transactions
		SET status = $1, balance_before = $2, balance_after = $3, completed_at = $4
		WHERE id = $5 AND status = $6`,
		models.TxCompleted, snap.Before.Amount, snap.After.Amount, time.Now(), id, models.TxPending)
	if err != nil {
		return err
	}
	return requireTransition(result, id)
}

// MarkFailed moves a pending record to failed. No balance was ever applied
// for a record that fails, so the snapshots stay as written at creation.
func (s *TransactionStore) MarkFailed(tx *sql.Tx, id int64) error {
	result, err := tx.Exec(`
		UPDATE transactions
		SET status = $1, completed_at = $2
		WHERE id = $3 AND status = $4`,
		models.TxFailed, time.Now(), id, models.TxPending)
	if err != nil {
		return err
	}
	return requireTransition(result, id)
}

func requireTransition(result sql.Result, id int64) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("transaction %d is not pending: %w", id, ErrInvalidState)
	}
	return nil
}

// Reverse undoes a completed record by applying a compensating mutation and
// writing a new record for it. The original is marked reversed only after
// the compensating entry durably applied, and its amount/type are never
// touched.
func (s *TransactionStore) Reverse(record *models.Transaction, description string) (*models.Transaction, error) {
	if record.Status != models.TxCompleted {
		return nil, fmt.Errorf("only completed transactions can be reversed: %w", ErrInvalidState)
	}

	applied := money.New(record.BalanceAfter.Sub(record.BalanceBefore), record.Currency)
	var reversal *models.Transaction
	err := runInTx(s.db, func(tx *sql.Tx) error {
		snap, err := s.ledger.Apply(tx, record.AccountID, applied.Neg())
		if err != nil {
			return err
		}

		reversal, err = s.Create(tx, CreateTransactionParams{
			AccountID:   record.AccountID,
			Type:        reversalType(record.Type),
			Amount:      applied.Abs(),
			Status:      models.TxCompleted,
			Snapshot:    snap,
			ReversalOf:  &record.ID,
			Description: description,
		})
		if err != nil {
			return err
		}

		result, err := tx.Exec(`
			UPDATE transactions SET status = $1 WHERE id = $2 AND status = $3`,
			models.TxReversed, record.ID, models.TxCompleted)
		if err != nil {
			return err
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rowsAffected == 0 {
			return fmt.Errorf("transaction %d no longer completed: %w", record.ID, ErrInvalidState)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reversal, nil
}

func reversalType(t models.TransactionType) models.TransactionType {
	switch t {
	case models.TxDeposit:
		return models.TxWithdrawal
	case models.TxWithdrawal:
		return models.TxDeposit
	case models.TxTransfer, models.TxPayment, models.TxFee, models.TxInvestment:
		return models.TxRefund
	default:
		return models.TxAdjustment
	}
}

// GetByReference fetches a record by its externally shown reference number.
func (s *TransactionStore) GetByReference(reference string) (*models.Transaction, error) {
	record := &models.Transaction{}
	err := s.db.QueryRow(`
		SELECT id, reference, account_id, type, amount, currency, status, balance_before, balance_after, transfer_id, reversal_of, description, created_at, completed_at
		FROM transactions
		WHERE reference = $1`, reference).Scan(
		&record.ID, &record.Reference, &record.AccountID, &record.Type, &record.Amount,
		&record.Currency, &record.Status, &record.BalanceBefore, &record.BalanceAfter,
		&record.TransferID, &record.ReversalOf, &record.Description, &record.CreatedAt, &record.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("transaction %s: %w", reference, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}
