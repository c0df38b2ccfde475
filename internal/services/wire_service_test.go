package services

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/meridianbank/corebank/internal/models"
)

func newWireServiceForTest(t *testing.T) (*WireService, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)

	ledger := NewLedgerService(db)
	records := NewTransactionStore(db, ledger)
	transfers := NewTransferService(db, ledger, records, LogNotificationSink{}, testTransferConfig())
	service := NewWireService(db, transfers, nil, NewISO20022Gateway(""))
	return service, mock, func() { db.Close() }
}

func beneficiaryRowColumns() []string {
	return []string{
		"id", "account_id", "name", "account_number", "routing_number",
		"bank_name", "swift_code", "iban", "type", "created_at",
	}
}

func TestWireService_SendExternal(t *testing.T) {
	t.Run("bad routing number never reaches the ledger", func(t *testing.T) {
		service, mock, closeFn := newWireServiceForTest(t)
		defer closeFn()

		_, err := service.SendExternal(SendExternalParams{
			SenderID:        "ACC-1",
			Type:            models.TransferACH,
			Amount:          "100.00",
			BeneficiaryName: "Jane Doe",
			AccountNumber:   "000123456789",
			RoutingNumber:   "123456789",
		})
		assert.ErrorIs(t, err, ErrInvalidState)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("international wire needs SWIFT or IBAN", func(t *testing.T) {
		service, _, closeFn := newWireServiceForTest(t)
		defer closeFn()

		_, err := service.SendExternal(SendExternalParams{
			SenderID:        "ACC-1",
			Type:            models.TransferWireInternational,
			Amount:          "5000.00",
			BeneficiaryName: "Overseas Vendor Ltd",
			AccountNumber:   "000123456789",
		})
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("internal transfers do not go through the wire adapter", func(t *testing.T) {
		service, _, closeFn := newWireServiceForTest(t)
		defer closeFn()

		_, err := service.SendExternal(SendExternalParams{
			SenderID:        "ACC-1",
			Type:            models.TransferInternal,
			Amount:          "100.00",
			BeneficiaryName: "Jane Doe",
			AccountNumber:   "000123456789",
			RoutingNumber:   "011401533",
		})
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("missing destination fails validation", func(t *testing.T) {
		service, _, closeFn := newWireServiceForTest(t)
		defer closeFn()

		_, err := service.SendExternal(SendExternalParams{
			SenderID: "ACC-1",
			Type:     models.TransferACH,
			Amount:   "100.00",
		})
		assert.Error(t, err)
	})

	t.Run("ach transfer books the debit and stores a one-time beneficiary", func(t *testing.T) {
		service, mock, closeFn := newWireServiceForTest(t)
		defer closeFn()
		now := time.Now()

		mock.ExpectQuery("INSERT INTO beneficiaries").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, balance, bitcoin_balance, daily_transfer_total, daily_transfer_date, version, updated_at FROM accounts").
			WithArgs("ACC-1").
			WillReturnRows(accountRows().AddRow("ACC-1", "1000.00", "0", "0", now, 1, now))
		mock.ExpectQuery("SELECT id, balance, bitcoin_balance, daily_transfer_total, daily_transfer_date, version, updated_at FROM accounts").
			WithArgs("ACC-1").
			WillReturnRows(accountRows().AddRow("ACC-1", "1000.00", "0", "0", now, 1, now))
		mock.ExpectExec("UPDATE accounts").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT id, balance, bitcoin_balance, daily_transfer_total, daily_transfer_date, version, updated_at FROM accounts").
			WithArgs("SYS-FEE-REVENUE").
			WillReturnRows(accountRows().AddRow("SYS-FEE-REVENUE", "0", "0", "0", now, 1, now))
		mock.ExpectExec("UPDATE accounts").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("INSERT INTO transfers").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(31)))
		mock.ExpectQuery("INSERT INTO transactions").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(501)))
		mock.ExpectExec("UPDATE accounts SET daily_transfer_total").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		transfer, err := service.SendExternal(SendExternalParams{
			SenderID:        "ACC-1",
			Type:            models.TransferACH,
			Amount:          "100.00",
			BeneficiaryName: "Jane Doe",
			AccountNumber:   "000123456789",
			RoutingNumber:   "011401533",
			BankName:        "First Example Bank",
		})
		assert.NoError(t, err)
		assert.Equal(t, models.TransferPending, transfer.Status)
		assert.Equal(t, "0.50", transfer.Fee.StringFixed(2))
		if assert.NotNil(t, transfer.BeneficiaryID) {
			assert.Equal(t, int64(3), *transfer.BeneficiaryID)
		}
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("saved beneficiary is reused by id", func(t *testing.T) {
		service, mock, closeFn := newWireServiceForTest(t)
		defer closeFn()
		now := time.Now()

		mock.ExpectQuery("SELECT (.+) FROM beneficiaries").
			WithArgs(int64(3), "ACC-1").
			WillReturnRows(sqlmock.NewRows(beneficiaryRowColumns()).
				AddRow(int64(3), "ACC-1", "Jane Doe", "000123456789", "011401533",
					"First Example Bank", "", "", "ach", now))
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, balance, bitcoin_balance, daily_transfer_total, daily_transfer_date, version, updated_at FROM accounts").
			WithArgs("ACC-1").
			WillReturnRows(accountRows().AddRow("ACC-1", "1000.00", "0", "0", now, 1, now))
		mock.ExpectQuery("SELECT id, balance, bitcoin_balance, daily_transfer_total, daily_transfer_date, version, updated_at FROM accounts").
			WithArgs("ACC-1").
			WillReturnRows(accountRows().AddRow("ACC-1", "1000.00", "0", "0", now, 1, now))
		mock.ExpectExec("UPDATE accounts").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT id, balance, bitcoin_balance, daily_transfer_total, daily_transfer_date, version, updated_at FROM accounts").
			WithArgs("SYS-FEE-REVENUE").
			WillReturnRows(accountRows().AddRow("SYS-FEE-REVENUE", "0", "0", "0", now, 1, now))
		mock.ExpectExec("UPDATE accounts").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("INSERT INTO transfers").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(32)))
		mock.ExpectQuery("INSERT INTO transactions").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(502)))
		mock.ExpectExec("UPDATE accounts SET daily_transfer_total").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		beneficiaryID := int64(3)
		transfer, err := service.SendExternal(SendExternalParams{
			SenderID:      "ACC-1",
			Type:          models.TransferACH,
			Amount:        "100.00",
			BeneficiaryID: &beneficiaryID,
		})
		assert.NoError(t, err)
		assert.Equal(t, models.TransferPending, transfer.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown beneficiary id", func(t *testing.T) {
		service, mock, closeFn := newWireServiceForTest(t)
		defer closeFn()

		mock.ExpectQuery("SELECT (.+) FROM beneficiaries").
			WithArgs(int64(99), "ACC-1").
			WillReturnRows(sqlmock.NewRows(beneficiaryRowColumns()))

		beneficiaryID := int64(99)
		_, err := service.SendExternal(SendExternalParams{
			SenderID:      "ACC-1",
			Type:          models.TransferACH,
			Amount:        "100.00",
			BeneficiaryID: &beneficiaryID,
		})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestWireService_ListBeneficiaries(t *testing.T) {
	service, mock, closeFn := newWireServiceForTest(t)
	defer closeFn()
	now := time.Now()

	mock.ExpectQuery("SELECT (.+) FROM beneficiaries").
		WithArgs("ACC-1").
		WillReturnRows(sqlmock.NewRows(beneficiaryRowColumns()).
			AddRow(int64(2), "ACC-1", "Overseas Vendor Ltd", "000987654321", "",
				"Global Bank", "DEUTDEFF", "DE89370400440532013000", "wire_international", now).
			AddRow(int64(1), "ACC-1", "Jane Doe", "000123456789", "011401533",
				"First Example Bank", "", "", "ach", now.Add(-time.Hour)))

	list, err := service.ListBeneficiaries("ACC-1")
	assert.NoError(t, err)
	assert.Len(t, list, 2)
	assert.Equal(t, "Overseas Vendor Ltd", list[0].Name)
	assert.Equal(t, "DEUTDEFF", list[0].SwiftCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}
