package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/meridianbank/corebank/internal/models"
	"github.com/meridianbank/corebank/internal/money"
)

// feeRule is one row of the static fee table. Fees are computed once at
// creation and never recomputed on settlement.
type feeRule struct {
	Flat    decimal.Decimal
	Percent decimal.Decimal // fraction of the amount, e.g. 0.005
}

var feeTable = map[models.TransferType]feeRule{
	models.TransferInternal:          {Flat: decimal.Zero, Percent: decimal.Zero},
	models.TransferACH:               {Flat: decimal.RequireFromString("0.50"), Percent: decimal.Zero},
	models.TransferWireDomestic:      {Flat: decimal.RequireFromString("25"), Percent: decimal.Zero},
	models.TransferWireInternational: {Flat: decimal.RequireFromString("45"), Percent: decimal.RequireFromString("0.005")},
	models.TransferExternal:          {Flat: decimal.RequireFromString("0.50"), Percent: decimal.Zero},
	models.TransferInstant:           {Flat: decimal.Zero, Percent: decimal.Zero},
}

// TransferConfig carries the deployment tunables around the state machine.
type TransferConfig struct {
	SettleDelayMin  time.Duration
	SettleDelayMax  time.Duration
	DailyLimit      decimal.Decimal
	RequireApproval bool
	FeeAccount      string
	MaxAmounts      map[models.TransferType]decimal.Decimal
}

// LoadTransferConfig reads the transfer tunables with defaults.
func LoadTransferConfig() TransferConfig {
	viper.SetDefault("transfer.settle_delay_min", 3*time.Minute)
	viper.SetDefault("transfer.settle_delay_max", 5*time.Minute)
	viper.SetDefault("transfer.daily_limit", "25000")
	viper.SetDefault("transfer.require_admin_approval", true)
	viper.SetDefault("transfer.fee_account", "SYS-FEE-REVENUE")
	viper.SetDefault("transfer.ach_max", "10000")
	viper.SetDefault("transfer.wire_domestic_max", "100000")
	viper.SetDefault("transfer.wire_international_max", "50000")

	return TransferConfig{
		SettleDelayMin:  viper.GetDuration("transfer.settle_delay_min"),
		SettleDelayMax:  viper.GetDuration("transfer.settle_delay_max"),
		DailyLimit:      decimal.RequireFromString(viper.GetString("transfer.daily_limit")),
		RequireApproval: viper.GetBool("transfer.require_admin_approval"),
		FeeAccount:      viper.GetString("transfer.fee_account"),
		MaxAmounts: map[models.TransferType]decimal.Decimal{
			models.TransferACH:               decimal.RequireFromString(viper.GetString("transfer.ach_max")),
			models.TransferExternal:          decimal.RequireFromString(viper.GetString("transfer.ach_max")),
			models.TransferWireDomestic:      decimal.RequireFromString(viper.GetString("transfer.wire_domestic_max")),
			models.TransferWireInternational: decimal.RequireFromString(viper.GetString("transfer.wire_international_max")),
		},
	}
}

// TransferService drives the transfer lifecycle:
//
//	pending -> processing -> {completed, failed, cancelled}
//
// Funds are debited from the sender at creation, so every terminal state
// other than completed refunds amount+fee. The scheduler and admin actions
// both go through the status guards here, so whichever acts first wins and
// the other observes a no-op.
type TransferService struct {
	db       *sql.DB
	ledger   *LedgerService
	records  *TransactionStore
	notifier NotificationSink
	cfg      TransferConfig

	now func() time.Time
}

func NewTransferService(db *sql.DB, ledger *LedgerService, records *TransactionStore, notifier NotificationSink, cfg TransferConfig) *TransferService {
	return &TransferService{
		db:       db,
		ledger:   ledger,
		records:  records,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
	}
}

// FeeFor computes the fee fixed at creation time for a transfer type.
func (s *TransferService) FeeFor(transferType models.TransferType, amount money.Money) money.Money {
	rule, ok := feeTable[transferType]
	if !ok {
		return money.Zero(amount.Currency)
	}
	fee := money.New(rule.Flat, amount.Currency)
	if !rule.Percent.IsZero() {
		fee, _ = fee.Add(amount.Mul(rule.Percent))
	}
	return fee
}

type CreateTransferParams struct {
	SenderID      string
	RecipientID   *string
	BeneficiaryID *int64
	Type          models.TransferType
	Amount        money.Money
	Description   string
}

// Create validates the request, debits the sender immediately, and persists
// the transfer in pending with a randomized settlement window. The debit,
// the fee credit, the transaction record, and the transfer row commit as one
// unit.
func (s *TransferService) Create(p CreateTransferParams) (*models.Transfer, error) {
	if _, ok := feeTable[p.Type]; !ok {
		return nil, fmt.Errorf("unknown transfer type %q: %w", p.Type, ErrInvalidState)
	}
	if !p.Amount.IsPositive() {
		return nil, fmt.Errorf("transfer amount must be positive: %w", ErrInvalidState)
	}
	if p.Type == models.TransferInternal && p.RecipientID == nil {
		return nil, fmt.Errorf("internal transfer needs a recipient: %w", ErrInvalidState)
	}
	if max, ok := s.cfg.MaxAmounts[p.Type]; ok && p.Amount.Amount.GreaterThan(max) {
		return nil, fmt.Errorf("%s transfers are capped at %s: %w", p.Type, max.StringFixed(2), ErrLimitExceeded)
	}

	fee := s.FeeFor(p.Type, p.Amount)
	total, err := p.Amount.Add(fee)
	if err != nil {
		return nil, err
	}

	var transfer *models.Transfer
	err = runInTx(s.db, func(tx *sql.Tx) error {
		now := s.now()

		sender, err := s.ledger.LockAccount(tx, p.SenderID)
		if err != nil {
			return err
		}
		dailyTotal := sender.DailyTransferTotal
		if sender.DailyTransferDate.Format("2006-01-02") != now.Format("2006-01-02") {
			dailyTotal = decimal.Zero
		}
		if dailyTotal.Add(p.Amount.Amount).GreaterThan(s.cfg.DailyLimit) {
			return fmt.Errorf("daily transfer limit %s reached: %w", s.cfg.DailyLimit.StringFixed(2), ErrLimitExceeded)
		}

		snap, err := s.ledger.Apply(tx, p.SenderID, total.Neg())
		if err != nil {
			return err
		}
		if fee.IsPositive() {
			if _, err := s.ledger.Apply(tx, s.cfg.FeeAccount, fee); err != nil {
				return fmt.Errorf("credit fee account: %w", err)
			}
		}

		transfer = &models.Transfer{
			SenderID:              p.SenderID,
			RecipientID:           p.RecipientID,
			BeneficiaryID:         p.BeneficiaryID,
			Type:                  p.Type,
			Status:                models.TransferPending,
			Amount:                p.Amount.Amount,
			Fee:                   fee.Amount,
			Currency:              p.Amount.Currency,
			Description:           p.Description,
			RequiresAdminApproval: s.cfg.RequireApproval,
			ScheduledAt:           now.Add(s.settleDelay(p.Type)),
			CreatedAt:             now,
		}
		if err := s.insertTransfer(tx, transfer); err != nil {
			return err
		}

		record, err := s.records.Create(tx, CreateTransactionParams{
			AccountID:   p.SenderID,
			Type:        models.TxTransfer,
			Amount:      total,
			Status:      models.TxCompleted,
			Snapshot:    snap,
			TransferID:  &transfer.ID,
			Description: fmt.Sprintf("%s transfer %s (fee %s)", p.Type, transfer.Reference, fee.String()),
		})
		if err != nil {
			return err
		}
		log.Printf("[TRANSFER] created %s: %s debited %s, scheduled for %s (record %s)",
			transfer.Reference, p.SenderID, total.String(),
			transfer.ScheduledAt.Format(time.RFC3339), record.Reference)

		return s.ledger.AddDailyTransferTotal(tx, sender, p.Amount, now)
	})
	if err != nil {
		return nil, err
	}

	emitEvent(context.Background(), s.notifier, "transfer.created", p.SenderID, map[string]any{
		"reference": transfer.Reference,
		"amount":    transfer.Amount.String(),
		"fee":       transfer.Fee.String(),
		"type":      string(transfer.Type),
	})
	return transfer, nil
}

// settleDelay is the randomized window between creation and auto-settlement.
// Instant transfers skip the window.
func (s *TransferService) settleDelay(transferType models.TransferType) time.Duration {
	if transferType == models.TransferInstant {
		return 0
	}
	spread := s.cfg.SettleDelayMax - s.cfg.SettleDelayMin
	if spread <= 0 {
		return s.cfg.SettleDelayMin
	}
	return s.cfg.SettleDelayMin + time.Duration(rand.Int63n(int64(spread)))
}

func (s *TransferService) insertTransfer(tx *sql.Tx, t *models.Transfer) error {
	t.Reference = generateReference(refPrefixTransfer)
	err := tx.QueryRow(`
		INSERT INTO transfers
		(reference, sender_id, recipient_id, beneficiary_id, type, status, amount, fee, currency, description, requires_admin_approval, scheduled_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`,
		t.Reference, t.SenderID, t.RecipientID, t.BeneficiaryID, t.Type, t.Status,
		t.Amount, t.Fee, t.Currency, t.Description, t.RequiresAdminApproval,
		t.ScheduledAt, t.CreatedAt,
	).Scan(&t.ID)
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		log.Printf("[TRANSFER] reference collision on %s", t.Reference)
		return fmt.Errorf("reference %s taken: %w", t.Reference, ErrPersistenceConflict)
	}
	return fmt.Errorf("create transfer: %w", err)
}

// Cancel backs a transfer out of pending/processing and refunds amount+fee
// to the sender. Refund on any cancellation prior to completed is a hard
// invariant here, including after the scheduler has already advanced the
// transfer to processing.
func (s *TransferService) Cancel(reference, actor string) error {
	var transfer *models.Transfer
	err := runInTx(s.db, func(tx *sql.Tx) error {
		t, err := s.lockTransfer(tx, reference)
		if err != nil {
			return err
		}
		if !t.Cancellable() {
			return fmt.Errorf("transfer %s is %s: %w", reference, t.Status, ErrInvalidState)
		}

		if err := s.refund(tx, t, fmt.Sprintf("refund for cancelled transfer %s", t.Reference)); err != nil {
			return err
		}
		if err := s.transition(tx, t, models.TransferCancelled); err != nil {
			return err
		}
		log.Printf("[TRANSFER] %s cancelled by %s, %s refunded", reference, actor, t.Total().StringFixed(2))
		transfer = t
		return nil
	})
	if err != nil {
		return err
	}

	emitEvent(context.Background(), s.notifier, "transfer.cancelled", transfer.SenderID, map[string]any{
		"reference": reference,
		"actor":     actor,
	})
	return nil
}

// AdminApprove records the approval and settles immediately. A transfer the
// scheduler already moved to processing is forced back through pending so
// both paths share one settlement step.
func (s *TransferService) AdminApprove(reference, admin, notes string) error {
	var transfer *models.Transfer
	err := runInTx(s.db, func(tx *sql.Tx) error {
		t, err := s.lockTransfer(tx, reference)
		if err != nil {
			return err
		}
		if t.Status != models.TransferPending && t.Status != models.TransferProcessing {
			return fmt.Errorf("transfer %s is %s: %w", reference, t.Status, ErrInvalidState)
		}

		now := s.now()
		result, err := tx.Exec(`
			UPDATE transfers
			SET admin_approved = TRUE, approved_by = $1, approved_at = $2, status = $3
			WHERE id = $4 AND status IN ($3, $5)`,
			admin, now, models.TransferPending, t.ID, models.TransferProcessing)
		if err != nil {
			return err
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("transfer %s changed state: %w", reference, ErrInvalidState)
		}
		t.AdminApproved = true
		t.ApprovedBy = &admin
		t.ApprovedAt = &now
		t.Status = models.TransferPending

		if err := s.settle(tx, t); err != nil {
			return err
		}
		log.Printf("[TRANSFER] %s approved by %s: %s", reference, admin, notes)
		transfer = t
		return nil
	})
	if err != nil {
		return err
	}

	emitEvent(context.Background(), s.notifier, "transfer.completed", transfer.SenderID, map[string]any{
		"reference":   reference,
		"approved_by": admin,
	})
	return nil
}

// AdminReject refunds the sender and marks the transfer failed with the
// rejection reason.
func (s *TransferService) AdminReject(reference, admin, notes string) error {
	var transfer *models.Transfer
	err := runInTx(s.db, func(tx *sql.Tx) error {
		t, err := s.lockTransfer(tx, reference)
		if err != nil {
			return err
		}
		if t.Status != models.TransferPending && t.Status != models.TransferProcessing {
			return fmt.Errorf("transfer %s is %s: %w", reference, t.Status, ErrInvalidState)
		}

		if err := s.refund(tx, t, fmt.Sprintf("refund for rejected transfer %s", t.Reference)); err != nil {
			return err
		}
		result, err := tx.Exec(`
			UPDATE transfers
			SET status = $1, rejection_reason = $2, approved_by = $3, approved_at = $4
			WHERE id = $5 AND status IN ($6, $7)`,
			models.TransferFailed, notes, admin, s.now(), t.ID,
			models.TransferPending, models.TransferProcessing)
		if err != nil {
			return err
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("transfer %s changed state: %w", reference, ErrInvalidState)
		}
		log.Printf("[TRANSFER] %s rejected by %s: %s", reference, admin, notes)
		transfer = t
		return nil
	})
	if err != nil {
		return err
	}

	emitEvent(context.Background(), s.notifier, "transfer.rejected", transfer.SenderID, map[string]any{
		"reference": reference,
		"reason":    notes,
	})
	return nil
}

// AutoProcessIfReady is the scheduler entry point. It is a safe no-op
// unless the transfer is pending, its scheduled time has passed, and no
// admin approval is outstanding. Returns whether this call settled it.
func (s *TransferService) AutoProcessIfReady(reference string) (bool, error) {
	settled := false
	var senderID string
	err := runInTx(s.db, func(tx *sql.Tx) error {
		t, err := s.lockTransfer(tx, reference)
		if err != nil {
			return err
		}
		if t.Status != models.TransferPending {
			return nil // already handled elsewhere
		}
		if s.now().Before(t.ScheduledAt) {
			return nil
		}
		if t.RequiresAdminApproval && !t.AdminApproved {
			return nil // waiting for an admin
		}

		if err := s.transition(tx, t, models.TransferProcessing); err != nil {
			return err
		}
		if err := s.settle(tx, t); err != nil {
			return err
		}
		settled = true
		senderID = t.SenderID
		return nil
	})
	if err != nil {
		return false, err
	}

	if settled {
		emitEvent(context.Background(), s.notifier, "transfer.completed", senderID, map[string]any{
			"reference": reference,
		})
	}
	return settled, nil
}

// settle credits the recipient (internal transfers only) and marks the
// transfer completed. External movements were already handed to the
// settlement gateway at creation; their local side is just the debit.
func (s *TransferService) settle(tx *sql.Tx, t *models.Transfer) error {
	if t.Status != models.TransferPending && t.Status != models.TransferProcessing {
		return fmt.Errorf("transfer %s is %s: %w", t.Reference, t.Status, ErrInvalidState)
	}

	if t.Type == models.TransferInternal && t.RecipientID != nil {
		amount := money.New(t.Amount, t.Currency)
		snap, err := s.ledger.Apply(tx, *t.RecipientID, amount)
		if err != nil {
			return fmt.Errorf("credit recipient: %w", err)
		}
		if _, err := s.records.Create(tx, CreateTransactionParams{
			AccountID:   *t.RecipientID,
			Type:        models.TxDeposit,
			Amount:      amount,
			Status:      models.TxCompleted,
			Snapshot:    snap,
			TransferID:  &t.ID,
			Description: fmt.Sprintf("incoming transfer %s from %s", t.Reference, t.SenderID),
		}); err != nil {
			return err
		}
	}

	now := s.now()
	result, err := tx.Exec(`
		UPDATE transfers
		SET status = $1, completed_at = $2
		WHERE id = $3 AND status IN ($4, $5)`,
		models.TransferCompleted, now, t.ID,
		models.TransferPending, models.TransferProcessing)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("transfer %s changed state: %w", t.Reference, ErrInvalidState)
	}
	t.Status = models.TransferCompleted
	t.CompletedAt = &now
	log.Printf("[TRANSFER] %s settled", t.Reference)
	return nil
}

// refund returns amount+fee to the sender and claws the fee back from the
// fee account, recording a compensating entry.
func (s *TransferService) refund(tx *sql.Tx, t *models.Transfer, description string) error {
	total := money.New(t.Total(), t.Currency)
	snap, err := s.ledger.Apply(tx, t.SenderID, total)
	if err != nil {
		return fmt.Errorf("refund sender: %w", err)
	}
	if t.Fee.IsPositive() {
		fee := money.New(t.Fee, t.Currency)
		if _, err := s.ledger.Apply(tx, s.cfg.FeeAccount, fee.Neg()); err != nil {
			return fmt.Errorf("reclaim fee: %w", err)
		}
	}
	_, err = s.records.Create(tx, CreateTransactionParams{
		AccountID:   t.SenderID,
		Type:        models.TxRefund,
		Amount:      total,
		Status:      models.TxCompleted,
		Snapshot:    snap,
		TransferID:  &t.ID,
		Description: description,
	})
	return err
}

// transition moves the transfer's status with a guard on its current value,
// so a racing actor observes zero rows instead of double-applying.
func (s *TransferService) transition(tx *sql.Tx, t *models.Transfer, to models.TransferStatus) error {
	result, err := tx.Exec(`
		UPDATE transfers SET status = $1 WHERE id = $2 AND status IN ($3, $4)`,
		to, t.ID, models.TransferPending, models.TransferProcessing)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("transfer %s changed state: %w", t.Reference, ErrInvalidState)
	}
	t.Status = to
	return nil
}

func (s *TransferService) lockTransfer(tx *sql.Tx, reference string) (*models.Transfer, error) {
	t := &models.Transfer{}
	err := tx.QueryRow(`
		SELECT id, reference, sender_id, recipient_id, beneficiary_id, type, status, amount, fee, currency, description, requires_admin_approval, admin_approved, approved_by, approved_at, rejection_reason, scheduled_at, completed_at, created_at
		FROM transfers
		WHERE reference = $1
		FOR UPDATE`, reference).Scan(
		&t.ID, &t.Reference, &t.SenderID, &t.RecipientID, &t.BeneficiaryID, &t.Type,
		&t.Status, &t.Amount, &t.Fee, &t.Currency, &t.Description,
		&t.RequiresAdminApproval, &t.AdminApproved, &t.ApprovedBy, &t.ApprovedAt,
		&t.RejectionReason, &t.ScheduledAt, &t.CompletedAt, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("transfer %s: %w", reference, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// GetByReference fetches a transfer without locking, for enquiries.
func (s *TransferService) GetByReference(reference string) (*models.Transfer, error) {
	t := &models.Transfer{}
	err := s.db.QueryRow(`
		SELECT id, reference, sender_id, recipient_id, beneficiary_id, type, status, amount, fee, currency, description, requires_admin_approval, admin_approved, approved_by, approved_at, rejection_reason, scheduled_at, completed_at, created_at
		FROM transfers
		WHERE reference = $1`, reference).Scan(
		&t.ID, &t.Reference, &t.SenderID, &t.RecipientID, &t.BeneficiaryID, &t.Type,
		&t.Status, &t.Amount, &t.Fee, &t.Currency, &t.Description,
		&t.RequiresAdminApproval, &t.AdminApproved, &t.ApprovedBy, &t.ApprovedAt,
		&t.RejectionReason, &t.ScheduledAt, &t.CompletedAt, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("transfer %s: %w", reference, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// DueForSettlement lists references of pending transfers whose scheduled
// time has passed, for the settlement sweep.
func (s *TransferService) DueForSettlement() ([]string, error) {
	rows, err := s.db.Query(`
		SELECT reference FROM transfers
		WHERE status = $1 AND scheduled_at <= $2
		ORDER BY scheduled_at`,
		models.TransferPending, s.now())
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
