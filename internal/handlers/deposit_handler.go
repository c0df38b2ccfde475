package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meridianbank/corebank/internal/services"
)

type DepositHandler struct {
	deposits  *services.CheckDepositService
	validator *services.ValidationHelper
}

func NewDepositHandler(deposits *services.CheckDepositService) *DepositHandler {
	return &DepositHandler{
		deposits:  deposits,
		validator: services.NewValidationHelper(),
	}
}

// CreateDeposit records a check deposit in pending. No balance moves until
// the deposit is approved and its hold elapses.
func (h *DepositHandler) CreateDeposit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID  string `json:"accountId" validate:"required"`
		Amount     string `json:"amount" validate:"required"`
		FrontImage string `json:"frontImage" validate:"required"`
		BackImage  string `json:"backImage" validate:"required"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	deposit, err := h.deposits.Create(services.CreateDepositParams{
		AccountID:  req.AccountID,
		Amount:     req.Amount,
		FrontImage: req.FrontImage,
		BackImage:  req.BackImage,
	})
	if err != nil {
		services.SendErrorResponse(w, err.Error(), services.StatusFromError(err), nil)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"deposit": deposit,
	})
}

// GetDeposit returns a deposit by reference number.
func (h *DepositHandler) GetDeposit(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")
	deposit, err := h.deposits.GetByReference(reference)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), services.StatusFromError(err), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"deposit": deposit,
	})
}

// ApproveDeposit starts the hold clock. The scheduler credits the account
// once the hold elapses.
func (h *DepositHandler) ApproveDeposit(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")
	var req struct {
		Admin    string `json:"admin" validate:"required"`
		HoldDays int    `json:"holdDays" validate:"min=0,max=10"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	deposit, err := h.deposits.Approve(reference, req.Admin, req.HoldDays)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), services.StatusFromError(err), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"deposit": deposit,
	})
}

// RejectDeposit fails the deposit. Nothing to refund since nothing was
// credited.
func (h *DepositHandler) RejectDeposit(w http.ResponseWriter, r *http.Request) {
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

	if err := h.deposits.Reject(reference, req.Admin, req.Reason); err != nil {
		services.SendErrorResponse(w, err.Error(), services.StatusFromError(err), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"reference": reference,
	})
}

// CompleteDeposit force-credits an approved deposit, optionally bypassing
// the remaining hold. Admin surface; the scheduler handles the normal path.
func (h *DepositHandler) CompleteDeposit(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")
	var req struct {
		BypassHold bool `json:"bypassHold"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.deposits.Complete(reference, req.BypassHold); err != nil {
		services.SendErrorResponse(w, err.Error(), services.StatusFromError(err), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"reference": reference,
	})
}
