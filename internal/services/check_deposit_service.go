package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/spf13/viper"

	"github.com/meridianbank/corebank/internal/models"
	"github.com/meridianbank/corebank/internal/money"
)

// CheckDepositService handles the check deposit lifecycle:
//
//	pending -> processing -> approved -> completed
//	                      \-> rejected
//
// The account is credited exactly once, at completion, and only after the
// hold window set at approval has elapsed (or an explicit bypass). The
// linked transaction record exists from creation in pending.
type CheckDepositService struct {
	db       *sql.DB
	ledger   *LedgerService
	records  *TransactionStore
	scanner  DepositScanChecker
	notifier NotificationSink

	defaultHoldDays int
	now             func() time.Time
}

func NewCheckDepositService(db *sql.DB, ledger *LedgerService, records *TransactionStore, scanner DepositScanChecker, notifier NotificationSink) *CheckDepositService {
	viper.SetDefault("deposit.default_hold_days", 2)
	if scanner == nil {
		scanner = NoScanChecker{}
	}
	return &CheckDepositService{
		db:              db,
		ledger:          ledger,
		records:         records,
		scanner:         scanner,
		notifier:        notifier,
		defaultHoldDays: viper.GetInt("deposit.default_hold_days"),
		now:             time.Now,
	}
}

type CreateDepositParams struct {
	AccountID  string `validate:"required"`
	Amount     string `validate:"required"`
	FrontImage string `validate:"required"`
	BackImage  string `validate:"required"`
}

// Create records the deposit and its pending transaction record. No balance
// changes here. The scan checker's annotations are stored when available
// but a checker failure never blocks the deposit.
func (s *CheckDepositService) Create(p CreateDepositParams) (*models.CheckDeposit, error) {
	amount, err := money.FromString(p.Amount, money.USD)
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("deposit amount must be positive: %w", ErrInvalidState)
	}

	deposit := &models.CheckDeposit{
		AccountID:  p.AccountID,
		Amount:     amount.Amount,
		FrontImage: p.FrontImage,
		BackImage:  p.BackImage,
		Status:     models.DepositPending,
		CreatedAt:  s.now(),
	}

	if scan, err := s.scanner.Inspect(context.Background(), p.FrontImage, p.BackImage); err != nil {
		log.Printf("[DEPOSIT] scan checker failed for account %s: %v", p.AccountID, err)
	} else if scan != nil {
		deposit.OCRAmount = &scan.Amount
		deposit.OCRConfidence = &scan.Confidence
		if !scan.Amount.Equal(amount.Amount) {
			log.Printf("[DEPOSIT] OCR amount %s differs from claimed %s (confidence %s)",
				scan.Amount.StringFixed(2), amount.String(), scan.Confidence.String())
		}
	}

	err = runInTx(s.db, func(tx *sql.Tx) error {
		record, err := s.records.Create(tx, CreateTransactionParams{
			AccountID:   p.AccountID,
			Type:        models.TxDeposit,
			Amount:      amount,
			Status:      models.TxPending,
			Description: "check deposit awaiting review",
		})
		if err != nil {
			return err
		}
		deposit.TransactionID = record.ID

		return s.insertDeposit(tx, deposit)
	})
	if err != nil {
		return nil, err
	}

	emitEvent(context.Background(), s.notifier, "deposit.created", p.AccountID, map[string]any{
		"reference": deposit.Reference,
		"amount":    deposit.Amount.String(),
	})
	return deposit, nil
}

func (s *CheckDepositService) insertDeposit(tx *sql.Tx, d *models.CheckDeposit) error {
	d.Reference = generateReference(refPrefixDeposit)
	err := tx.QueryRow(`
		INSERT INTO check_deposits
		(reference, account_id, amount, front_image, back_image, ocr_amount, ocr_confidence, status, transaction_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		d.Reference, d.AccountID, d.Amount, d.FrontImage, d.BackImage,
		d.OCRAmount, d.OCRConfidence, d.Status, d.TransactionID, d.CreatedAt,
	).Scan(&d.ID)
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		log.Printf("[DEPOSIT] reference collision on %s", d.Reference)
		return fmt.Errorf("reference %s taken: %w", d.Reference, ErrPersistenceConflict)
	}
	return fmt.Errorf("create check deposit: %w", err)
}

// Approve sets the hold window. Still no balance change; the scheduler (or
// an explicit complete call) credits the funds once the hold elapses.
func (s *CheckDepositService) Approve(reference, admin string, holdDays int) (*models.CheckDeposit, error) {
	if holdDays <= 0 {
		holdDays = s.defaultHoldDays
	}

	var deposit *models.CheckDeposit
	err := runInTx(s.db, func(tx *sql.Tx) error {
		d, err := s.lockDeposit(tx, reference)
		if err != nil {
			return err
		}
		if d.Status != models.DepositPending && d.Status != models.DepositProcessing {
			return fmt.Errorf("deposit %s is %s: %w", reference, d.Status, ErrInvalidState)
		}

		holdUntil := s.now().Add(time.Duration(holdDays) * 24 * time.Hour)
		result, err := tx.Exec(`
			UPDATE check_deposits
			SET status = $1, hold_until = $2, approved_by = $3
			WHERE id = $4 AND status IN ($5, $6)`,
			models.DepositApproved, holdUntil, admin, d.ID,
			models.DepositPending, models.DepositProcessing)
		if err != nil {
			return err
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("deposit %s changed state: %w", reference, ErrInvalidState)
		}
		d.Status = models.DepositApproved
		d.HoldUntil = &holdUntil
		d.ApprovedBy = &admin
		log.Printf("[DEPOSIT] %s approved by %s, funds held until %s", reference, admin, holdUntil.Format(time.RFC3339))
		deposit = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	emitEvent(context.Background(), s.notifier, "deposit.approved", deposit.AccountID, map[string]any{
		"reference":  reference,
		"hold_until": deposit.HoldUntil,
	})
	return deposit, nil
}

// Reject marks the deposit rejected and fails its transaction record. No
// balance is ever applied for a rejected deposit.
func (s *CheckDepositService) Reject(reference, admin, reason string) error {
	var accountID string
	err := runInTx(s.db, func(tx *sql.Tx) error {
		d, err := s.lockDeposit(tx, reference)
		if err != nil {
			return err
		}
		if d.Status == models.DepositCompleted || d.Status == models.DepositRejected {
			return fmt.Errorf("deposit %s is %s: %w", reference, d.Status, ErrInvalidState)
		}

		result, err := tx.Exec(`
			UPDATE check_deposits
			SET status = $1, rejection_reason = $2, approved_by = $3
			WHERE id = $4 AND status NOT IN ($1, $5)`,
			models.DepositRejected, reason, admin, d.ID, models.DepositCompleted)
		if err != nil {
			return err
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("deposit %s changed state: %w", reference, ErrInvalidState)
		}
		if err := s.records.MarkFailed(tx, d.TransactionID); err != nil {
			return err
		}
		log.Printf("[DEPOSIT] %s rejected by %s: %s", reference, admin, reason)
		accountID = d.AccountID
		return nil
	})
	if err != nil {
		return err
	}

	emitEvent(context.Background(), s.notifier, "deposit.rejected", accountID, map[string]any{
		"reference": reference,
		"reason":    reason,
	})
	return nil
}

// Complete credits the account and completes the transaction record, as one
// unit. Only legal from approved, and only once the hold has elapsed unless
// bypassHold is set.
func (s *CheckDepositService) Complete(reference string, bypassHold bool) error {
	var accountID string
	err := runInTx(s.db, func(tx *sql.Tx) error {
		d, err := s.lockDeposit(tx, reference)
		if err != nil {
			return err
		}
		if d.Status != models.DepositApproved {
			return fmt.Errorf("deposit %s is %s: %w", reference, d.Status, ErrInvalidState)
		}
		if !bypassHold && !d.HoldElapsed(s.now()) {
			return fmt.Errorf("deposit %s still on hold until %s: %w",
				reference, d.HoldUntil.Format(time.RFC3339), ErrInvalidState)
		}

		amount := money.New(d.Amount, money.USD)
		snap, err := s.ledger.Apply(tx, d.AccountID, amount)
		if err != nil {
			return err
		}
		if err := s.records.MarkCompleted(tx, d.TransactionID, snap); err != nil {
			return err
		}

		now := s.now()
		result, err := tx.Exec(`
			UPDATE check_deposits
			SET status = $1, completed_at = $2
			WHERE id = $3 AND status = $4`,
			models.DepositCompleted, now, d.ID, models.DepositApproved)
		if err != nil {
			return err
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("deposit %s changed state: %w", reference, ErrInvalidState)
		}
		log.Printf("[DEPOSIT] %s completed, %s credited to %s", reference, amount.String(), d.AccountID)
		accountID = d.AccountID
		return nil
	})
	if err != nil {
		return err
	}

	emitEvent(context.Background(), s.notifier, "deposit.completed", accountID, map[string]any{
		"reference": reference,
	})
	return nil
}

func (s *CheckDepositService) lockDeposit(tx *sql.Tx, reference string) (*models.CheckDeposit, error) {
	d := &models.CheckDeposit{}
	err := tx.QueryRow(`
		SELECT id, reference, account_id, amount, front_image, back_image, ocr_amount, ocr_confidence, status, hold_until, approved_by, rejection_reason, transaction_id, created_at, completed_at
		FROM check_deposits
		WHERE reference = $1
		FOR UPDATE`, reference).Scan(
		&d.ID, &d.Reference, &d.AccountID, &d.Amount, &d.FrontImage, &d.BackImage,
		&d.OCRAmount, &d.OCRConfidence, &d.Status, &d.HoldUntil, &d.ApprovedBy,
		&d.RejectionReason, &d.TransactionID, &d.CreatedAt, &d.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("deposit %s: %w", reference, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// ReadyForCompletion lists approved deposits whose hold has elapsed, for
// the settlement sweep.
func (s *CheckDepositService) ReadyForCompletion() ([]string, error) {
	rows, err := s.db.Query(`
		SELECT reference FROM check_deposits
		WHERE status = $1 AND hold_until <= $2
		ORDER BY hold_until`,
		models.DepositApproved, s.now())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// GetByReference is an unlocked read for API lookups.
func (s *CheckDepositService) GetByReference(reference string) (*models.CheckDeposit, error) {
	d := &models.CheckDeposit{}
	err := s.db.QueryRow(`
		SELECT id, reference, account_id, amount, front_image, back_image, ocr_amount, ocr_confidence, status, hold_until, approved_by, rejection_reason, transaction_id, created_at, completed_at
		FROM check_deposits
		WHERE reference = $1`, reference).Scan(
		&d.ID, &d.Reference, &d.AccountID, &d.Amount, &d.FrontImage, &d.BackImage,
		&d.OCRAmount, &d.OCRConfidence, &d.Status, &d.HoldUntil, &d.ApprovedBy,
		&d.RejectionReason, &d.TransactionID, &d.CreatedAt, &d.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("deposit %s: %w", reference, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}
