package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"pokerhall/internal/auth"
)

type HTTPHandler struct {
	auth   auth.Service
	ledger Service
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type balanceResponse struct {
	UserID  uint64 `json:"user_id"`
	Balance int64  `json:"balance"`
}

type depositRequest struct {
	UserID uint64 `json:"user_id"`
	Amount int64  `json:"amount"`
}

func NewHTTPHandler(authService auth.Service, ledgerService Service) *HTTPHandler {
	return &HTTPHandler{auth: authService, ledger: ledgerService}
}

func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/ledger/balance", h.handleBalance)
	mux.HandleFunc("/api/ledger/deposit", h.handleDeposit)
}

func (h *HTTPHandler) handleBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	account, ok := auth.Authenticate(h.auth, r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session token")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	balance, err := h.ledger.Balance(ctx, account.ID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "ledger_unavailable", "query balance failed")
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{UserID: account.ID, Balance: balance})
}

// handleDeposit credits chips to an arbitrary account. Admin only.
func (h *HTTPHandler) handleDeposit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	account, ok := auth.Authenticate(h.auth, r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session token")
		return
	}
	if account.Role != auth.RoleAdmin {
		writeError(w, http.StatusForbidden, "permission_denied", "admin role required")
		return
	}

	var req depositRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil || req.UserID == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := h.ledger.Credit(ctx, req.UserID, req.Amount); err != nil {
		if errors.Is(err, ErrInvalidAmount) {
			writeError(w, http.StatusBadRequest, "invalid_amount", err.Error())
			return
		}
		writeError(w, http.StatusServiceUnavailable, "ledger_unavailable", "deposit failed")
		return
	}

	balance, err := h.ledger.Balance(ctx, req.UserID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "ledger_unavailable", "query balance failed")
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{UserID: req.UserID, Balance: balance})
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
