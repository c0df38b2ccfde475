package models

import "time"

// Beneficiary is a reusable external transfer target saved by the ACH/wire
// adapters.
type Beneficiary struct {
	ID            int64        `json:"id" db:"id"`
	AccountID     string       `json:"account_id" db:"account_id"`
	Name          string       `json:"name" db:"name"`
	AccountNumber string       `json:"account_number" db:"account_number"`
	RoutingNumber string       `json:"routing_number" db:"routing_number"`
	BankName      string       `json:"bank_name" db:"bank_name"`
	SwiftCode     string       `json:"swift_code,omitempty" db:"swift_code"`
	IBAN          string       `json:"iban,omitempty" db:"iban"`
	Type          TransferType `json:"type" db:"type"`
	CreatedAt     time.Time    `json:"created_at" db:"created_at"`
}
