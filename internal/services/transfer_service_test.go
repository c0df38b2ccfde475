package services

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/meridianbank/corebank/internal/models"
	"github.com/meridianbank/corebank/internal/money"
)

func testTransferConfig() TransferConfig {
	return TransferConfig{
		SettleDelayMin:  3 * time.Minute,
		SettleDelayMax:  5 * time.Minute,
		DailyLimit:      decimal.RequireFromString("25000"),
		RequireApproval: true,
		FeeAccount:      "SYS-FEE-REVENUE",
		MaxAmounts: map[models.TransferType]decimal.Decimal{
			models.TransferACH:          decimal.RequireFromString("10000"),
			models.TransferWireDomestic: decimal.RequireFromString("100000"),
		},
	}
}

func newTransferServiceForTest(t *testing.T) (*TransferService, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)

	ledger := NewLedgerService(db)
	records := NewTransactionStore(db, ledger)
	service := NewTransferService(db, ledger, records, LogNotificationSink{}, testTransferConfig())
	return service, mock, func() { db.Close() }
}

func transferRowColumns() []string {
	return []string{
		"id", "reference", "sender_id", "recipient_id", "beneficiary_id", "type", "status",
		"amount", "fee", "currency", "description", "requires_admin_approval", "admin_approved",
		"approved_by", "approved_at", "rejection_reason", "scheduled_at", "completed_at", "created_at",
	}
}

func TestTransferService_FeeFor(t *testing.T) {
	service, _, closeFn := newTransferServiceForTest(t)
	defer closeFn()

	usd := func(s string) money.Money { return money.New(decimal.RequireFromString(s), money.USD) }

	assert.Equal(t, "0.00 USD", service.FeeFor(models.TransferInternal, usd("100")).String())
	assert.Equal(t, "0.00 USD", service.FeeFor(models.TransferInstant, usd("100")).String())
	assert.Equal(t, "0.50 USD", service.FeeFor(models.TransferACH, usd("100")).String())
	assert.Equal(t, "25.00 USD", service.FeeFor(models.TransferWireDomestic, usd("100")).String())
	// 45 flat plus 0.5 percent of 9000
	assert.Equal(t, "90.00 USD", service.FeeFor(models.TransferWireInternational, usd("9000")).String())
}

func TestTransferService_Create(t *testing.T) {
	recipient := "ACC-2"

	t.Run("debit happens at creation, before settlement", func(t *testing.T) {
		service, mock, closeFn := newTransferServiceForTest(t)
		defer closeFn()
		now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
		service.now = func() time.Time { return now }

		mock.ExpectBegin()
		// daily limit check reads the sender under lock
		mock.ExpectQuery("SELECT id, balance, bitcoin_balance, daily_transfer_total, daily_transfer_date, version, updated_at FROM accounts").
			WithArgs("ACC-1").
			WillReturnRows(accountRows().AddRow("ACC-1", "1000.00", "0", "0", now, 1, now))
		// the debit re-locks and writes
		mock.ExpectQuery("SELECT id, balance, bitcoin_balance, daily_transfer_total, daily_transfer_date, version, updated_at FROM accounts").
			WithArgs("ACC-1").
			WillReturnRows(accountRows().AddRow("ACC-1", "1000.00", "0", "0", now, 1, now))
		mock.ExpectExec("UPDATE accounts").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("INSERT INTO transfers").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))
		mock.ExpectQuery("INSERT INTO transactions").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(101)))
		mock.ExpectExec("UPDATE accounts SET daily_transfer_total").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		transfer, err := service.Create(CreateTransferParams{
			SenderID:    "ACC-1",
			RecipientID: &recipient,
			Type:        models.TransferInternal,
			Amount:      money.New(decimal.RequireFromString("250"), money.USD),
		})
		assert.NoError(t, err)
		assert.Equal(t, models.TransferPending, transfer.Status)
		assert.True(t, transfer.RequiresAdminApproval)
		assert.Regexp(t, `^TRF\d{12}$`, transfer.Reference)
		assert.True(t, transfer.Fee.IsZero())
		assert.NoError(t, mock.ExpectationsWereMet())

		// settlement window is randomized inside [min, max)
		delay := transfer.ScheduledAt.Sub(now)
		assert.GreaterOrEqual(t, delay, 3*time.Minute)
		assert.Less(t, delay, 5*time.Minute)
	})

	t.Run("fee is debited with the amount and credited to the fee account", func(t *testing.T) {
		service, mock, closeFn := newTransferServiceForTest(t)
		defer closeFn()
		now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
		service.now = func() time.Time { return now }

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, balance, bitcoin_balance, daily_transfer_total, daily_transfer_date, version, updated_at FROM accounts").
			WithArgs("ACC-1").
			WillReturnRows(accountRows().AddRow("ACC-1", "1000.00", "0", "0", now, 1, now))
		mock.ExpectQuery("SELECT id, balance, bitcoin_balance, daily_transfer_total, daily_transfer_date, version, updated_at FROM accounts").
			WithArgs("ACC-1").
			WillReturnRows(accountRows().AddRow("ACC-1", "1000.00", "0", "0", now, 1, now))
		mock.ExpectExec("UPDATE accounts").
			WillReturnResult(sqlmock.NewResult(0, 1))
		// fee credit to the system revenue account
		mock.ExpectQuery("SELECT id, balance, bitcoin_balance, daily_transfer_total, daily_transfer_date, version, updated_at FROM accounts").
			WithArgs("SYS-FEE-REVENUE").
			WillReturnRows(accountRows().AddRow("SYS-FEE-REVENUE", "0", "0", "0", now, 1, now))
		mock.ExpectExec("UPDATE accounts").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("INSERT INTO transfers").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(12)))
		mock.ExpectQuery("INSERT INTO transactions").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(102)))
		mock.ExpectExec("UPDATE accounts SET daily_transfer_total").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		transfer, err := service.Create(CreateTransferParams{
			SenderID: "ACC-1",
			Type:     models.TransferACH,
			Amount:   money.New(decimal.RequireFromString("100"), money.USD),
		})
		assert.NoError(t, err)
		assert.Equal(t, "0.50", transfer.Fee.StringFixed(2))
		assert.Equal(t, "100.50", transfer.Total().StringFixed(2))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient funds covers amount plus fee", func(t *testing.T) {
		service, mock, closeFn := newTransferServiceForTest(t)
		defer closeFn()
		now := time.Now()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, balance, bitcoin_balance, daily_transfer_total, daily_transfer_date, version, updated_at FROM accounts").
			WithArgs("ACC-1").
			WillReturnRows(accountRows().AddRow("ACC-1", "100.00", "0", "0", now, 1, now))
		// balance covers the amount but not amount+fee
		mock.ExpectQuery("SELECT id, balance, bitcoin_balance, daily_transfer_total, daily_transfer_date, version, updated_at FROM accounts").
			WithArgs("ACC-1").
			WillReturnRows(accountRows().AddRow("ACC-1", "100.00", "0", "0", now, 1, now))
		mock.ExpectRollback()

		_, err := service.Create(CreateTransferParams{
			SenderID: "ACC-1",
			Type:     models.TransferACH,
			Amount:   money.New(decimal.RequireFromString("100"), money.USD),
		})
		assert.ErrorIs(t, err, ErrInsufficientFunds)
	})

	t.Run("daily limit", func(t *testing.T) {
		service, mock, closeFn := newTransferServiceForTest(t)
		defer closeFn()
		now := time.Now()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, balance, bitcoin_balance, daily_transfer_total, daily_transfer_date, version, updated_at FROM accounts").
			WithArgs("ACC-1").
			WillReturnRows(accountRows().AddRow("ACC-1", "50000.00", "0", "24950.00", now, 1, now))
		mock.ExpectRollback()

		_, err := service.Create(CreateTransferParams{
			SenderID:    "ACC-1",
			RecipientID: &recipient,
			Type:        models.TransferInternal,
			Amount:      money.New(decimal.RequireFromString("100"), money.USD),
		})
		assert.ErrorIs(t, err, ErrLimitExceeded)
	})

	t.Run("per-type maximum", func(t *testing.T) {
		service, _, closeFn := newTransferServiceForTest(t)
		defer closeFn()

		_, err := service.Create(CreateTransferParams{
			SenderID: "ACC-1",
			Type:     models.TransferACH,
			Amount:   money.New(decimal.RequireFromString("10000.01"), money.USD),
		})
		assert.ErrorIs(t, err, ErrLimitExceeded)
	})

	t.Run("internal transfer requires a recipient", func(t *testing.T) {
		service, _, closeFn := newTransferServiceForTest(t)
		defer closeFn()

		_, err := service.Create(CreateTransferParams{
			SenderID: "ACC-1",
			Type:     models.TransferInternal,
			Amount:   money.New(decimal.RequireFromString("10"), money.USD),
		})
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("non-positive amount", func(t *testing.T) {
		service, _, closeFn := newTransferServiceForTest(t)
		defer closeFn()

		_, err := service.Create(CreateTransferParams{
			SenderID:    "ACC-1",
			RecipientID: &recipient,
			Type:        models.TransferInternal,
			Amount:      money.New(decimal.Zero, money.USD),
		})
		assert.ErrorIs(t, err, ErrInvalidState)
	})
}

func TestTransferService_Cancel(t *testing.T) {
	t.Run("pending transfer refunds amount plus fee", func(t *testing.T) {
		service, mock, closeFn := newTransferServiceForTest(t)
		defer closeFn()
		now := time.Now()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM transfers").
			WithArgs("TRF000000000001").
			WillReturnRows(sqlmock.NewRows(transferRowColumns()).
				AddRow(int64(11), "TRF000000000001", "ACC-1", nil, nil, "ach", "pending",
					"100.00", "0.50", "USD", "", true, false, nil, nil, "", now, nil, now))
		// refund of 100.50 to the sender
		mock.ExpectQuery("SELECT id, balance, bitcoin_balance, daily_transfer_total, daily_transfer_date, version, updated_at FROM accounts").
			WithArgs("ACC-1").
			WillReturnRows(accountRows().AddRow("ACC-1", "899.50", "0", "0", now, 2, now))
		mock.ExpectExec("UPDATE accounts").
			WillReturnResult(sqlmock.NewResult(0, 1))
		// fee clawed back from the revenue account
		mock.ExpectQuery("SELECT id, balance, bitcoin_balance, daily_transfer_total, daily_transfer_date, version, updated_at FROM accounts").
			WithArgs("SYS-FEE-REVENUE").
			WillReturnRows(accountRows().AddRow("SYS-FEE-REVENUE", "0.50", "0", "0", now, 1, now))
		mock.ExpectExec("UPDATE accounts").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("INSERT INTO transactions").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(103)))
		mock.ExpectExec("UPDATE transfers").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := service.Cancel("TRF000000000001", "customer")
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("completed transfer cannot be cancelled", func(t *testing.T) {
		service, mock, closeFn := newTransferServiceForTest(t)
		defer closeFn()
		now := time.Now()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM transfers").
			WithArgs("TRF000000000002").
			WillReturnRows(sqlmock.NewRows(transferRowColumns()).
				AddRow(int64(12), "TRF000000000002", "ACC-1", nil, nil, "ach", "completed",
					"100.00", "0.50", "USD", "", true, true, nil, nil, "", now, now, now))
		mock.ExpectRollback()

		err := service.Cancel("TRF000000000002", "customer")
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("unknown reference", func(t *testing.T) {
		service, mock, closeFn := newTransferServiceForTest(t)
		defer closeFn()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM transfers").
			WithArgs("TRF404404404404").
			WillReturnRows(sqlmock.NewRows(transferRowColumns()))
		mock.ExpectRollback()

		err := service.Cancel("TRF404404404404", "customer")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestTransferService_AutoProcessIfReady(t *testing.T) {
	t.Run("not due yet is a no-op", func(t *testing.T) {
		service, mock, closeFn := newTransferServiceForTest(t)
		defer closeFn()
		now := time.Now()
		scheduled := now.Add(2 * time.Minute)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM transfers").
			WithArgs("TRF000000000003").
			WillReturnRows(sqlmock.NewRows(transferRowColumns()).
				AddRow(int64(13), "TRF000000000003", "ACC-1", nil, nil, "internal", "pending",
					"100.00", "0", "USD", "", false, false, nil, nil, "", scheduled, nil, now))
		mock.ExpectCommit()

		settled, err := service.AutoProcessIfReady("TRF000000000003")
		assert.NoError(t, err)
		assert.False(t, settled)
	})

	t.Run("due but awaiting admin approval is a no-op", func(t *testing.T) {
		service, mock, closeFn := newTransferServiceForTest(t)
		defer closeFn()
		now := time.Now()
		scheduled := now.Add(-time.Minute)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM transfers").
			WithArgs("TRF000000000004").
			WillReturnRows(sqlmock.NewRows(transferRowColumns()).
				AddRow(int64(14), "TRF000000000004", "ACC-1", nil, nil, "internal", "pending",
					"100.00", "0", "USD", "", true, false, nil, nil, "", scheduled, nil, now))
		mock.ExpectCommit()

		settled, err := service.AutoProcessIfReady("TRF000000000004")
		assert.NoError(t, err)
		assert.False(t, settled)
	})

	t.Run("already settled transfer is a no-op, not an error", func(t *testing.T) {
		service, mock, closeFn := newTransferServiceForTest(t)
		defer closeFn()
		now := time.Now()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM transfers").
			WithArgs("TRF000000000005").
			WillReturnRows(sqlmock.NewRows(transferRowColumns()).
				AddRow(int64(15), "TRF000000000005", "ACC-1", nil, nil, "internal", "completed",
					"100.00", "0", "USD", "", false, false, nil, nil, "", now, now, now))
		mock.ExpectCommit()

		settled, err := service.AutoProcessIfReady("TRF000000000005")
		assert.NoError(t, err)
		assert.False(t, settled)
	})

	t.Run("due internal transfer settles and credits the recipient", func(t *testing.T) {
		service, mock, closeFn := newTransferServiceForTest(t)
		defer closeFn()
		now := time.Now()
		scheduled := now.Add(-time.Minute)
		recipient := "ACC-2"

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM transfers").
			WithArgs("TRF000000000006").
			WillReturnRows(sqlmock.NewRows(transferRowColumns()).
				AddRow(int64(16), "TRF000000000006", "ACC-1", recipient, nil, "internal", "pending",
					"100.00", "0", "USD", "", false, false, nil, nil, "", scheduled, nil, now))
		// pending -> processing
		mock.ExpectExec("UPDATE transfers").
			WillReturnResult(sqlmock.NewResult(0, 1))
		// recipient credit
		mock.ExpectQuery("SELECT id, balance, bitcoin_balance, daily_transfer_total, daily_transfer_date, version, updated_at FROM accounts").
			WithArgs("ACC-2").
			WillReturnRows(accountRows().AddRow("ACC-2", "50.00", "0", "0", now, 1, now))
		mock.ExpectExec("UPDATE accounts").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("INSERT INTO transactions").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(104)))
		// processing -> completed
		mock.ExpectExec("UPDATE transfers").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		settled, err := service.AutoProcessIfReady("TRF000000000006")
		assert.NoError(t, err)
		assert.True(t, settled)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTransferService_SettleDelay(t *testing.T) {
	service, _, closeFn := newTransferServiceForTest(t)
	defer closeFn()

	assert.Equal(t, time.Duration(0), service.settleDelay(models.TransferInstant))

	for i := 0; i < 100; i++ {
		d := service.settleDelay(models.TransferInternal)
		assert.GreaterOrEqual(t, d, 3*time.Minute)
		assert.Less(t, d, 5*time.Minute)
	}
}

func TestTransferService_AdminApprove(t *testing.T) {
	t.Run("pending external transfer settles without touching accounts", func(t *testing.T) {
		service, mock, closeFn := newTransferServiceForTest(t)
		defer closeFn()
		now := time.Now()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM transfers").
			WithArgs("TRF000000000008").
			WillReturnRows(sqlmock.NewRows(transferRowColumns()).
				AddRow(int64(18), "TRF000000000008", "ACC-1", nil, nil, "ach", "pending",
					"500.00", "0.50", "USD", "", true, false, nil, nil, "", now, nil, now))
		mock.ExpectExec("UPDATE transfers").
			WillReturnResult(sqlmock.NewResult(0, 1))
		// settlement: external funds already left the sender, so only the
		// status moves
		mock.ExpectExec("UPDATE transfers").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := service.AdminApprove("TRF000000000008", "admin-1", "documents verified")
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("internal transfer credits the recipient on approval", func(t *testing.T) {
		service, mock, closeFn := newTransferServiceForTest(t)
		defer closeFn()
		now := time.Now()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM transfers").
			WithArgs("TRF000000000009").
			WillReturnRows(sqlmock.NewRows(transferRowColumns()).
				AddRow(int64(19), "TRF000000000009", "ACC-1", "ACC-2", nil, "internal", "pending",
					"500.00", "0.00", "USD", "", true, false, nil, nil, "", now, nil, now))
		mock.ExpectExec("UPDATE transfers").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT id, balance, bitcoin_balance, daily_transfer_total, daily_transfer_date, version, updated_at FROM accounts").
			WithArgs("ACC-2").
			WillReturnRows(accountRows().AddRow("ACC-2", "100.00", "0", "0", now, 2, now))
		mock.ExpectExec("UPDATE accounts").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("INSERT INTO transactions").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(106)))
		mock.ExpectExec("UPDATE transfers").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := service.AdminApprove("TRF000000000009", "admin-1", "ok")
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already completed transfer cannot be approved", func(t *testing.T) {
		service, mock, closeFn := newTransferServiceForTest(t)
		defer closeFn()
		now := time.Now()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM transfers").
			WithArgs("TRF000000000010").
			WillReturnRows(sqlmock.NewRows(transferRowColumns()).
				AddRow(int64(20), "TRF000000000010", "ACC-1", nil, nil, "ach", "completed",
					"500.00", "0.50", "USD", "", true, true, "admin-1", now, "", now, now, now))
		mock.ExpectRollback()

		err := service.AdminApprove("TRF000000000010", "admin-2", "double click")
		assert.ErrorIs(t, err, ErrInvalidState)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTransferService_AdminReject(t *testing.T) {
	service, mock, closeFn := newTransferServiceForTest(t)
	defer closeFn()
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM transfers").
		WithArgs("TRF000000000007").
		WillReturnRows(sqlmock.NewRows(transferRowColumns()).
			AddRow(int64(17), "TRF000000000007", "ACC-1", nil, nil, "wire_domestic", "pending",
				"500.00", "25.00", "USD", "", true, false, nil, nil, "", now, nil, now))
	// refund 525 to the sender
	mock.ExpectQuery("SELECT id, balance, bitcoin_balance, daily_transfer_total, daily_transfer_date, version, updated_at FROM accounts").
		WithArgs("ACC-1").
		WillReturnRows(accountRows().AddRow("ACC-1", "475.00", "0", "0", now, 3, now))
	mock.ExpectExec("UPDATE accounts").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// fee claw-back
	mock.ExpectQuery("SELECT id, balance, bitcoin_balance, daily_transfer_total, daily_transfer_date, version, updated_at FROM accounts").
		WithArgs("SYS-FEE-REVENUE").
		WillReturnRows(accountRows().AddRow("SYS-FEE-REVENUE", "25.00", "0", "0", now, 1, now))
	mock.ExpectExec("UPDATE accounts").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO transactions").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(105)))
	mock.ExpectExec("UPDATE transfers").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := service.AdminReject("TRF000000000007", "admin-1", "document mismatch")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
