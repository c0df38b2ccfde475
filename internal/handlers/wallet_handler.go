package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/meridianbank/corebank/internal/models"
	"github.com/meridianbank/corebank/internal/money"
	"github.com/meridianbank/corebank/internal/services"
)

// WalletHandler exposes balances, bitcoin sends, investments, and record
// reversals.
type WalletHandler struct {
	ledger      *services.LedgerService
	records     *services.TransactionStore
	bitcoin     *services.BitcoinService
	investments *services.InvestmentService
	validator   *services.ValidationHelper
}

func NewWalletHandler(ledger *services.LedgerService, records *services.TransactionStore, bitcoin *services.BitcoinService, investments *services.InvestmentService) *WalletHandler {
	return &WalletHandler{
		ledger:      ledger,
		records:     records,
		bitcoin:     bitcoin,
		investments: investments,
		validator:   services.NewValidationHelper(),
	}
}

// GetBalances returns the fiat and bitcoin balances for an account.
func (h *WalletHandler) GetBalances(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	fiat, err := h.ledger.Balance(accountID, money.USD)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), services.StatusFromError(err), nil)
		return
	}
	btc, err := h.ledger.Balance(accountID, money.BTC)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), services.StatusFromError(err), nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"accountId":      accountID,
		"balance":        fiat.Amount,
		"bitcoinBalance": btc.Amount,
	})
}

// GetTransaction returns a ledger record by reference number.
func (h *WalletHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")
	record, err := h.records.GetByReference(reference)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), services.StatusFromError(err), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"transaction": record,
	})
}

// ReverseTransaction books a compensating record against a completed one.
func (h *WalletHandler) ReverseTransaction(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")
	var req struct {
		Reason string `json:"reason" validate:"required,max=255"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	record, err := h.records.GetByReference(reference)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), services.StatusFromError(err), nil)
		return
	}
	reversal, err := h.records.Reverse(record, req.Reason)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), services.StatusFromError(err), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"reversal": reversal,
	})
}

// SendBitcoin sends BTC to an external address, debiting either the bitcoin
// or fiat balance at the current frozen rate.
func (h *WalletHandler) SendBitcoin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID        string `json:"accountId" validate:"required"`
		BalanceSource    string `json:"balanceSource" validate:"required,oneof=fiat bitcoin"`
		AmountBTC        string `json:"amountBtc"`
		AmountUSD        string `json:"amountUsd"`
		RecipientAddress string `json:"recipientAddress" validate:"required"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	params := services.SendBitcoinParams{
		AccountID:        req.AccountID,
		BalanceSource:    models.BalanceSource(req.BalanceSource),
		RecipientAddress: req.RecipientAddress,
	}
	if req.AmountBTC != "" {
		amt, err := decimal.NewFromString(req.AmountBTC)
		if err != nil {
			services.SendErrorResponse(w, "Invalid amountBtc", http.StatusBadRequest, nil)
			return
		}
		params.AmountBTC = &amt
	}
	if req.AmountUSD != "" {
		amt, err := decimal.NewFromString(req.AmountUSD)
		if err != nil {
			services.SendErrorResponse(w, "Invalid amountUsd", http.StatusBadRequest, nil)
			return
		}
		params.AmountUSD = &amt
	}

	send, err := h.bitcoin.Send(params)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), services.StatusFromError(err), nil)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"send":    send,
	})
}

// PurchaseInvestment opens a position funded from the fiat or bitcoin
// balance.
func (h *WalletHandler) PurchaseInvestment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID string `json:"accountId" validate:"required"`
		Type      string `json:"type" validate:"required,oneof=stock etf crypto bond"`
		Symbol    string `json:"symbol" validate:"required,min=1,max=10"`
		Amount    string `json:"amount" validate:"required"`
		Source    string `json:"source" validate:"required,oneof=fiat bitcoin"`
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

	investment, err := h.investments.Purchase(services.PurchaseParams{
		AccountID: req.AccountID,
		Type:      req.Type,
		Symbol:    req.Symbol,
		Amount:    amount,
		Source:    models.BalanceSource(req.Source),
	})
	if err != nil {
		services.SendErrorResponse(w, err.Error(), services.StatusFromError(err), nil)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success":    true,
		"investment": investment,
	})
}

// SellInvestment sells all or part of a position. Proceeds always land in
// the fiat balance.
func (h *WalletHandler) SellInvestment(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "investmentID"), 10, 64)
	if err != nil {
		services.SendErrorResponse(w, "Invalid investment id", http.StatusBadRequest, nil)
		return
	}
	var req struct {
		Quantity string `json:"quantity"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	var quantity *decimal.Decimal
	if req.Quantity != "" {
		q, err := decimal.NewFromString(req.Quantity)
		if err != nil {
			services.SendErrorResponse(w, "Invalid quantity", http.StatusBadRequest, nil)
			return
		}
		quantity = &q
	}

	proceeds, err := h.investments.Sell(id, quantity)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), services.StatusFromError(err), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"proceeds": proceeds.Amount,
	})
}

// GetInvestment refreshes the quote and returns the position with derived
// value and profit/loss.
func (h *WalletHandler) GetInvestment(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "investmentID"), 10, 64)
	if err != nil {
		services.SendErrorResponse(w, "Invalid investment id", http.StatusBadRequest, nil)
		return
	}

	investment, err := h.investments.RefreshQuote(id)
	if err != nil {
		// sold positions still resolve, just without a quote refresh
		investment, err = h.investments.Get(id)
		if err != nil {
			services.SendErrorResponse(w, err.Error(), services.StatusFromError(err), nil)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":              true,
		"investment":           investment,
		"currentValue":         investment.CurrentValue(),
		"profitLoss":           investment.ProfitLoss(),
		"profitLossPercentage": investment.ProfitLossPercentage(),
	})
}
