package services

import (
	"encoding/xml"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"

	"github.com/meridianbank/corebank/internal/models"
)

// ISO20022Gateway renders outbound ACH and wire transfers as pacs.008
// credit transfer messages for the settlement network. Message delivery is
// strictly advisory for the ledger; the transfer state machine never waits
// on it.
type ISO20022Gateway struct {
	bic string
}

func NewISO20022Gateway(bic string) *ISO20022Gateway {
	if bic == "" {
		bic = "MERIDIAN"
	}
	return &ISO20022Gateway{bic: bic}
}

// CreatePacs008 builds a FIToFICustomerCreditTransfer for an outbound
// transfer and its beneficiary.
func (g *ISO20022Gateway) CreatePacs008(t *models.Transfer, b *models.Beneficiary) (*pacs_v08.FIToFICustomerCreditTransferV08, error) {
	if b == nil {
		return nil, fmt.Errorf("transfer %s has no beneficiary: %w", t.Reference, ErrInvalidState)
	}

	msgId := uuid.New().String()
	creDtTm := time.Now()
	settlementDate := t.ScheduledAt
	amount := t.Amount.InexactFloat64()

	doc := &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(msgId),
			CreDtTm: common.ISODateTime(creDtTm),
			NbOfTxs: "1",
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode(t.Currency),
				Value: amount,
			},
			IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG",
			},
		},
		CdtTrfTxInf: []pacs_v08.CreditTransferTransaction39{
			{
				PmtId: pacs_v08.PaymentIdentification7{
					InstrId:    &[]common.Max35Text{common.Max35Text(t.Reference)}[0],
					EndToEndId: common.Max35Text(t.Reference),
					TxId:       &[]common.Max35Text{common.Max35Text(t.Reference)}[0],
				},
				IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
					Ccy:   common.ActiveCurrencyCode(t.Currency),
					Value: amount,
				},
				IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
				ChrgBr:        "SLEV",
				DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier(g.bic)}[0],
					},
				},
				Dbtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(t.SenderID)}[0],
				},
				CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						ClrSysMmbId: &pacs_v08.ClearingSystemMemberIdentification2{
							MmbId: common.Max35Text(b.RoutingNumber),
						},
					},
				},
				Cdtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(b.Name)}[0],
				},
			},
		},
	}

	return doc, nil
}

// CreatePacs002 builds a payment status report for a settled or rejected
// transfer. Status codes follow the external payment transaction status set
// (ACCP, ACSC, RJCT).
func (g *ISO20022Gateway) CreatePacs002(t *models.Transfer, status string) (*pacs_v08.FIToFIPaymentStatusReportV08, error) {
	msgId := uuid.New().String()
	creDtTm := time.Now()

	doc := &pacs_v08.FIToFIPaymentStatusReportV08{
		GrpHdr: pacs_v08.GroupHeader53{
			MsgId:   common.Max35Text(msgId),
			CreDtTm: common.ISODateTime(creDtTm),
		},
		TxInfAndSts: []pacs_v08.PaymentTransaction80{
			{
				OrgnlInstrId:    &[]common.Max35Text{common.Max35Text(t.Reference)}[0],
				OrgnlEndToEndId: &[]common.Max35Text{common.Max35Text(t.Reference)}[0],
				OrgnlTxId:       &[]common.Max35Text{common.Max35Text(t.Reference)}[0],
				TxSts:           &[]pacs_v08.ExternalPaymentTransactionStatus1Code{pacs_v08.ExternalPaymentTransactionStatus1Code(status)}[0],
			},
		},
	}

	return doc, nil
}

// SendToSettlement serializes and hands the message off. Failures are
// reported to the caller who logs and continues.
func (g *ISO20022Gateway) SendToSettlement(doc interface{}) error {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal XML: %w", err)
	}

	// TODO: wire to the clearing partner's SFTP drop once credentials land
	log.Printf("[ISO20022] outbound message, %d bytes", len(xmlData))
	return nil
}

// ConvertToXML renders an ISO 20022 document as an XML string with header.
func (g *ISO20022Gateway) ConvertToXML(doc interface{}) (string, error) {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal XML: %w", err)
	}
	return xml.Header + string(xmlData), nil
}
