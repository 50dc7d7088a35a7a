package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lucidbank/backend/internal/bankerrors"
	"github.com/lucidbank/backend/internal/ledger"
	"github.com/lucidbank/backend/internal/middleware"
	"github.com/lucidbank/backend/internal/models"
	"github.com/lucidbank/backend/internal/validation"
)

// Handler exposes the ledger over plain HTTP for tooling and integrations
// that do not hold a websocket. The websocket gateway remains the primary
// surface; these routes perform no fan-out.
type Handler struct {
	ledger    *ledger.Service
	validator *validation.Helper
	tenantID  string
	logger    *zap.Logger
}

func NewHandler(ledgerService *ledger.Service, tenantID string, logger *zap.Logger) *Handler {
	return &Handler{
		ledger:    ledgerService,
		validator: validation.NewHelper(),
		tenantID:  tenantID,
		logger:    logger,
	}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/users", h.UpsertUser)
	r.Post("/accounts", h.CreateAccount)
	r.Get("/accounts", h.ListAccounts)
	r.Patch("/accounts/{accountId}/state", h.SetAccountState)
	r.Delete("/accounts/{accountId}", h.DeleteAccount)
	r.Get("/accounts/{accountId}/balance", h.GetBalance)
	r.Get("/accounts/{accountId}/transactions", h.ListTransactions)
	r.Post("/transactions/deposit", h.Deposit)
	r.Post("/transactions/withdraw", h.Withdraw)
	r.Post("/transactions/transfer", h.Transfer)
}

func (h *Handler) UpsertUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   string `json:"userId" validate:"required"`
		UserName string `json:"userName" validate:"required"`
		Email    string `json:"email" validate:"omitempty,email"`
	}
	if !h.decodeBody(w, r, &req) {
		return
	}

	err := h.ledger.UpsertUser(r.Context(), models.User{
		UserID:   req.UserID,
		UserName: req.UserName,
		Email:    req.Email,
		TenantID: h.tenantID,
	})
	if err != nil {
		h.sendBusinessError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true})
}

func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID string          `json:"accountId" validate:"required"`
		UserID    string          `json:"userId"`
		Balance   decimal.Decimal `json:"balance"`
	}
	if !h.decodeBody(w, r, &req) {
		return
	}
	userID := req.UserID
	if userID == "" {
		userID = middleware.UserID(r.Context())
	}

	account, err := h.ledger.CreateAccount(r.Context(), h.tenantID, req.AccountID, userID, req.Balance)
	if err != nil {
		h.sendBusinessError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	var (
		accounts []models.Account
		err      error
	)
	if middleware.IsAdmin(r.Context()) {
		accounts, err = h.ledger.AllAccounts(r.Context(), h.tenantID)
	} else {
		accounts, err = h.ledger.AccountsByUser(r.Context(), middleware.UserID(r.Context()))
	}
	if err != nil {
		h.sendBusinessError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

func (h *Handler) SetAccountState(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Disabled *bool `json:"disabled" validate:"required"`
	}
	if !h.decodeBody(w, r, &req) {
		return
	}

	account, err := h.ledger.SetAccountState(r.Context(), h.tenantID, chi.URLParam(r, "accountId"), *req.Disabled)
	if err != nil {
		h.sendBusinessError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.ledger.DeleteAccount(r.Context(), h.tenantID, chi.URLParam(r, "accountId"))
	if err != nil {
		h.sendBusinessError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.ledger.Balance(r.Context(), h.tenantID, chi.URLParam(r, "accountId"))
	if err != nil {
		h.sendBusinessError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accountId": chi.URLParam(r, "accountId"),
		"balance":   balance,
	})
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	transactions, err := h.ledger.AccountTransactions(r.Context(), h.tenantID, chi.URLParam(r, "accountId"))
	if err != nil {
		h.sendBusinessError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": transactions})
}

type movementRequest struct {
	AccountID string          `json:"accountId" validate:"required"`
	Amount    decimal.Decimal `json:"amount" validate:"required"`
}

func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	account, err := h.ledger.Deposit(r.Context(), h.tenantID, req.AccountID, req.Amount)
	if err != nil {
		h.sendBusinessError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	account, err := h.ledger.Withdraw(r.Context(), h.tenantID, req.AccountID, req.Amount)
	if err != nil {
		h.sendBusinessError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FromAccountID string          `json:"fromAccountId" validate:"required"`
		ToAccountID   string          `json:"toAccountId" validate:"required"`
		Amount        decimal.Decimal `json:"amount" validate:"required"`
	}
	if !h.decodeBody(w, r, &req) {
		return
	}
	fromAccount, toAccount, err := h.ledger.Transfer(r.Context(), h.tenantID, req.FromAccountID, req.ToAccountID, req.Amount)
	if err != nil {
		h.sendBusinessError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"fromAccount": fromAccount,
		"toAccount":   toAccount,
	})
}

// decodeBody reads one strict JSON object and validates it. A false return
// means the response has already been written.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		validation.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		validation.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	if err := h.validator.ValidateStruct(dst); err != nil {
		validation.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return false
	}
	return true
}

func (h *Handler) sendBusinessError(w http.ResponseWriter, err error) {
	switch {
	case bankerrors.IsNotFound(err), errors.Is(err, bankerrors.ErrUserNotFound):
		validation.SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
	case bankerrors.IsAlreadyExists(err):
		validation.SendErrorResponse(w, err.Error(), http.StatusConflict, nil)
	case bankerrors.IsInsufficientFunds(err), errors.Is(err, bankerrors.ErrAccountDisabled):
		validation.SendErrorResponse(w, err.Error(), http.StatusUnprocessableEntity, nil)
	case bankerrors.IsValidationError(err):
		validation.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
	default:
		h.logger.Error("request failed", zap.Error(err))
		validation.SendErrorResponse(w, "Internal server error", http.StatusInternalServerError, nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
