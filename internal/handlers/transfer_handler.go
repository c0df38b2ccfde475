package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meridianbank/corebank/internal/models"
	"github.com/meridianbank/corebank/internal/money"
	"github.com/meridianbank/corebank/internal/services"
)

type TransferHandler struct {
	transfers *services.TransferService
	wires     *services.WireService
	validator *services.ValidationHelper
}

func NewTransferHandler(transfers *services.TransferService, wires *services.WireService) *TransferHandler {
	return &TransferHandler{
		transfers: transfers,
		wires:     wires,
		validator: services.NewValidationHelper(),
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// CreateTransfer creates an internal or instant transfer. The sender is
// debited immediately; settlement follows on the scheduled window.
func (h *TransferHandler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SenderID    string  `json:"senderId" validate:"required"`
		RecipientID *string `json:"recipientId"`
		Type        string  `json:"type" validate:"required,oneof=internal instant"`
		Amount      string  `json:"amount" validate:"required"`
		Description string  `json:"description" validate:"max=255"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	amount, err := money.FromString(req.Amount, money.USD)
	if err != nil {
		services.SendErrorResponse(w, "Invalid amount", http.StatusBadRequest, nil)
		return
	}

	transfer, err := h.transfers.Create(services.CreateTransferParams{
		SenderID:    req.SenderID,
		RecipientID: req.RecipientID,
		Type:        models.TransferType(req.Type),
		Amount:      amount,
		Description: req.Description,
	})
	if err != nil {
		services.SendErrorResponse(w, err.Error(), services.StatusFromError(err), nil)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success":  true,
		"transfer": transfer,
	})
}

// CreateExternalTransfer routes ACH and wire requests through the movement
// adapter, which owns beneficiary validation and ISO 20022 messaging.
func (h *TransferHandler) CreateExternalTransfer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SenderID        string `json:"senderId" validate:"required"`
		Type            string `json:"type" validate:"required,oneof=ach wire_domestic wire_international external"`
		Amount          string `json:"amount" validate:"required"`
		Description     string `json:"description" validate:"max=255"`
		BeneficiaryID   *int64 `json:"beneficiaryId"`
		BeneficiaryName string `json:"beneficiaryName"`
		AccountNumber   string `json:"accountNumber"`
		RoutingNumber   string `json:"routingNumber"`
		BankName        string `json:"bankName"`
		SwiftCode       string `json:"swiftCode"`
		IBAN            string `json:"iban"`
		SaveBeneficiary bool   `json:"saveBeneficiary"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	transfer, err := h.wires.SendExternal(services.SendExternalParams{
		SenderID:        req.SenderID,
		Type:            models.TransferType(req.Type),
		Amount:          req.Amount,
		Description:     req.Description,
		BeneficiaryID:   req.BeneficiaryID,
		BeneficiaryName: req.BeneficiaryName,
		AccountNumber:   req.AccountNumber,
		RoutingNumber:   req.RoutingNumber,
		BankName:        req.BankName,
		SwiftCode:       req.SwiftCode,
		IBAN:            req.IBAN,
		SaveBeneficiary: req.SaveBeneficiary,
	})
	if err != nil {
		services.SendErrorResponse(w, err.Error(), services.StatusFromError(err), nil)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success":  true,
		"transfer": transfer,
	})
}

// GetTransfer returns a transfer by reference number.
func (h *TransferHandler) GetTransfer(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")
	transfer, err := h.transfers.GetByReference(reference)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), services.StatusFromError(err), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"transfer": transfer,
	})
}

// CancelTransfer refunds and cancels a transfer that has not completed.
func (h *TransferHandler) CancelTransfer(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")
	var req struct {
		Actor string `json:"actor" validate:"required"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if err := h.transfers.Cancel(reference, req.Actor); err != nil {
		services.SendErrorResponse(w, err.Error(), services.StatusFromError(err), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"reference": reference,
		"status":    models.TransferCancelled,
	})
}

// ApproveTransfer records an admin approval so the scheduler can settle the
// transfer when its window elapses.
func (h *TransferHandler) ApproveTransfer(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")
	var req struct {
		Admin string `json:"admin" validate:"required"`
		Notes string `json:"notes" validate:"max=255"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if err := h.transfers.AdminApprove(reference, req.Admin, req.Notes); err != nil {
		services.SendErrorResponse(w, err.Error(), services.StatusFromError(err), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"reference": reference,
	})
}

// RejectTransfer fails the transfer and refunds the sender in full.
func (h *TransferHandler) RejectTransfer(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")
	var req struct {
		Admin  string `json:"admin" validate:"required"`
		Reason string `json:"reason" validate:"required,max=255"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if err := h.transfers.AdminReject(reference, req.Admin, req.Reason); err != nil {
		services.SendErrorResponse(w, err.Error(), services.StatusFromError(err), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"reference": reference,
		"status":    models.TransferFailed,
	})
}

// ListBeneficiaries returns the account's saved external destinations.
func (h *TransferHandler) ListBeneficiaries(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	beneficiaries, err := h.wires.ListBeneficiaries(accountID)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), services.StatusFromError(err), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"beneficiaries": beneficiaries,
	})
}
