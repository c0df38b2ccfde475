package services

import (
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/meridianbank/corebank/internal/models"
	"github.com/meridianbank/corebank/internal/money"
)

// WireService is the entry point for ACH and wire transfers. It validates
// the external banking details, persists reusable beneficiaries, and hands
// the actual money movement to the transfer state machine. ISO 20022
// messaging to the clearing network is best effort and never blocks the
// ledger.
type WireService struct {
	db        *sql.DB
	transfers *TransferService
	routing   RoutingLookup
	gateway   *ISO20022Gateway
	validator *ValidationHelper
}

func NewWireService(db *sql.DB, transfers *TransferService, routing RoutingLookup, gateway *ISO20022Gateway) *WireService {
	if routing == nil {
		routing = ABARoutingLookup{}
	}
	return &WireService{
		db:        db,
		transfers: transfers,
		routing:   routing,
		gateway:   gateway,
		validator: NewValidationHelper(),
	}
}

type SendExternalParams struct {
	SenderID        string              `validate:"required"`
	Type            models.TransferType `validate:"required"`
	Amount          string              `validate:"required"`
	Description     string              `validate:"max=255"`
	BeneficiaryID   *int64
	BeneficiaryName string `validate:"required_without=BeneficiaryID,omitempty,min=2,max=140"`
	AccountNumber   string `validate:"required_without=BeneficiaryID,omitempty,min=4,max=34"`
	RoutingNumber   string
	BankName        string `validate:"max=140"`
	SwiftCode       string `validate:"omitempty,len=8|len=11"`
	IBAN            string `validate:"omitempty,min=15,max=34"`
	SaveBeneficiary bool
}

// SendExternal validates the destination, resolves or stores the
// beneficiary, and creates the transfer. The debit and the pending transfer
// commit before any settlement messaging happens.
func (s *WireService) SendExternal(p SendExternalParams) (*models.Transfer, error) {
	if err := s.validator.ValidateStruct(&p); err != nil {
		return nil, err
	}
	switch p.Type {
	case models.TransferACH, models.TransferWireDomestic, models.TransferWireInternational, models.TransferExternal:
	default:
		return nil, fmt.Errorf("%s transfers do not go through the wire adapter: %w", p.Type, ErrInvalidState)
	}

	amount, err := money.FromString(p.Amount, money.USD)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", p.Amount, ErrInvalidState)
	}

	beneficiary, err := s.resolveBeneficiary(&p)
	if err != nil {
		return nil, err
	}

	transfer, err := s.transfers.Create(CreateTransferParams{
		SenderID:      p.SenderID,
		BeneficiaryID: &beneficiary.ID,
		Type:          p.Type,
		Amount:        amount,
		Description:   p.Description,
	})
	if err != nil {
		return nil, err
	}

	// settlement messaging is advisory; the transfer is already booked
	if s.gateway != nil {
		if doc, err := s.gateway.CreatePacs008(transfer, beneficiary); err != nil {
			log.Printf("[WIRE] pacs.008 build failed for %s: %v", transfer.Reference, err)
		} else if err := s.gateway.SendToSettlement(doc); err != nil {
			log.Printf("[WIRE] settlement handoff failed for %s: %v", transfer.Reference, err)
		}
	}

	return transfer, nil
}

func (s *WireService) resolveBeneficiary(p *SendExternalParams) (*models.Beneficiary, error) {
	if p.BeneficiaryID != nil {
		return s.GetBeneficiary(*p.BeneficiaryID, p.SenderID)
	}

	international := p.Type == models.TransferWireInternational
	if international {
		if p.SwiftCode == "" && p.IBAN == "" {
			return nil, fmt.Errorf("international wire needs a SWIFT code or IBAN: %w", ErrInvalidState)
		}
	} else if !s.routing.ValidateRoutingNumber(p.RoutingNumber) {
		return nil, fmt.Errorf("routing number %q failed validation: %w", p.RoutingNumber, ErrInvalidState)
	}

	b := &models.Beneficiary{
		AccountID:     p.SenderID,
		Name:          strings.TrimSpace(p.BeneficiaryName),
		AccountNumber: p.AccountNumber,
		RoutingNumber: p.RoutingNumber,
		BankName:      p.BankName,
		SwiftCode:     strings.ToUpper(p.SwiftCode),
		IBAN:          strings.ToUpper(strings.ReplaceAll(p.IBAN, " ", "")),
		Type:          p.Type,
		CreatedAt:     time.Now(),
	}
	if !p.SaveBeneficiary {
		// one-off destinations are stored too so the transfer row can
		// reference them, they are just not listed back to the customer
		b.Name = b.Name + " (one-time)"
	}

	err := s.db.QueryRow(`
		INSERT INTO beneficiaries
		(account_id, name, account_number, routing_number, bank_name, swift_code, iban, type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		b.AccountID, b.Name, b.AccountNumber, b.RoutingNumber, b.BankName,
		b.SwiftCode, b.IBAN, b.Type, b.CreatedAt,
	).Scan(&b.ID)
	if err != nil {
		return nil, fmt.Errorf("save beneficiary: %w", err)
	}
	return b, nil
}

// GetBeneficiary loads a saved beneficiary, scoped to its owner.
func (s *WireService) GetBeneficiary(id int64, accountID string) (*models.Beneficiary, error) {
	b := &models.Beneficiary{}
	err := s.db.QueryRow(`
		SELECT id, account_id, name, account_number, routing_number, bank_name, swift_code, iban, type, created_at
		FROM beneficiaries
		WHERE id = $1 AND account_id = $2`, id, accountID).Scan(
		&b.ID, &b.AccountID, &b.Name, &b.AccountNumber, &b.RoutingNumber,
		&b.BankName, &b.SwiftCode, &b.IBAN, &b.Type, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("beneficiary %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// ListBeneficiaries returns the customer's saved beneficiaries, newest
// first.
func (s *WireService) ListBeneficiaries(accountID string) ([]models.Beneficiary, error) {
	rows, err := s.db.Query(`
		SELECT id, account_id, name, account_number, routing_number, bank_name, swift_code, iban, type, created_at
		FROM beneficiaries
		WHERE account_id = $1 AND name NOT LIKE '%(one-time)'
		ORDER BY created_at DESC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Beneficiary
	for rows.Next() {
		var b models.Beneficiary
		if err := rows.Scan(&b.ID, &b.AccountID, &b.Name, &b.AccountNumber, &b.RoutingNumber,
			&b.BankName, &b.SwiftCode, &b.IBAN, &b.Type, &b.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
