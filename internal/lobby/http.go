package lobby

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pokerhall/internal/auth"
	"pokerhall/internal/ledger"
	"pokerhall/internal/table"
)

type HTTPHandler struct {
	auth  auth.Service
	lobby *Lobby
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type createTableRequest struct {
	Name         string `json:"name"`
	Variant      string `json:"variant"`
	SeatLimit    int    `json:"seat_limit"`
	SmallBlind   int64  `json:"small_blind"`
	BigBlind     int64  `json:"big_blind"`
	MinBuyIn     int64  `json:"min_buy_in"`
	MaxBuyIn     int64  `json:"max_buy_in"`
	Private      bool   `json:"private"`
	AccessSecret string `json:"access_secret"`
}

type joinTableRequest struct {
	BuyIn  int64  `json:"buy_in"`
	Secret string `json:"secret"`
}

type actionRequest struct {
	Action string `json:"action"`
	Amount int64  `json:"amount"`
}

type chatRequest struct {
	Text string `json:"text"`
}

type listResponse struct {
	Tables     []table.Summary `json:"tables"`
	Pagination Pagination      `json:"pagination"`
}

func NewHTTPHandler(authService auth.Service, l *Lobby) *HTTPHandler {
	return &HTTPHandler{auth: authService, lobby: l}
}

func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/tables", h.handleTables)
	mux.HandleFunc("/api/tables/", h.handleTableSubtree)
	mux.HandleFunc("/api/lobby/stats", h.handleStats)
}

func (h *HTTPHandler) handleTables(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleList(w, r)
	case http.MethodPost:
		h.handleCreate(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (h *HTTPHandler) handleTableSubtree(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/tables/")
	if path == "" {
		writeError(w, http.StatusNotFound, "not_found", "not found")
		return
	}

	parts := strings.Split(path, "/")
	tableID := strings.TrimSpace(parts[0])
	if tableID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing table id")
		return
	}

	if tableID == "mine" && len(parts) == 1 {
		h.handleMine(w, r)
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			h.handleSnapshot(w, r, tableID)
		case http.MethodDelete:
			h.handleDelete(w, r, tableID)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		}
		return
	}

	if len(parts) == 2 {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
			return
		}
		switch parts[1] {
		case "join":
			h.handleJoin(w, r, tableID)
		case "leave":
			h.handleLeave(w, r, tableID)
		case "action":
			h.handleAction(w, r, tableID)
		case "chat":
			h.handleChat(w, r, tableID)
		default:
			writeError(w, http.StatusNotFound, "not_found", "not found")
		}
		return
	}

	writeError(w, http.StatusNotFound, "not_found", "not found")
}

func (h *HTTPHandler) handleList(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.Authenticate(h.auth, r); !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session token")
		return
	}

	query := r.URL.Query()
	filter := Filter{
		Variant:        table.Variant(query.Get("variant")),
		Phase:          table.Phase(query.Get("phase")),
		MinBuyIn:       parseInt64(query.Get("min_buy_in")),
		MaxBuyIn:       parseInt64(query.Get("max_buy_in")),
		MaxSeatLimit:   int(parseInt64(query.Get("max_seats"))),
		IncludePrivate: query.Get("include_private") == "true",
		Query:          strings.TrimSpace(query.Get("q")),
	}
	page := int(parseInt64(query.Get("page")))
	limit := int(parseInt64(query.Get("limit")))

	tables, pagination := h.lobby.List(filter, page, limit)
	writeJSON(w, http.StatusOK, listResponse{Tables: tables, Pagination: pagination})
}

func (h *HTTPHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	account, ok := auth.Authenticate(h.auth, r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session token")
		return
	}

	var req createTableRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}

	cfg := table.Config{
		Name:         strings.TrimSpace(req.Name),
		Variant:      table.Variant(req.Variant),
		SeatLimit:    req.SeatLimit,
		Blinds:       table.Blinds{Small: req.SmallBlind, Big: req.BigBlind},
		BuyIn:        table.BuyInRange{Min: req.MinBuyIn, Max: req.MaxBuyIn},
		Private:      req.Private,
		AccessSecret: req.AccessSecret,
	}
	summary, err := h.lobby.Create(identity(account), cfg)
	if err != nil {
		if errors.Is(err, table.ErrInvalidConfig) {
			writeError(w, http.StatusBadRequest, "invalid_config", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", "create table failed")
		return
	}
	writeJSON(w, http.StatusCreated, summary)
}

func (h *HTTPHandler) handleMine(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	account, ok := auth.Authenticate(h.auth, r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tables": h.lobby.TablesFor(account.ID),
	})
}

func (h *HTTPHandler) handleSnapshot(w http.ResponseWriter, r *http.Request, tableID string) {
	if _, ok := auth.Authenticate(h.auth, r); !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session token")
		return
	}
	t, err := h.lobby.Get(tableID)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "table not found")
		return
	}
	writeJSON(w, http.StatusOK, t.Snapshot())
}

func (h *HTTPHandler) handleJoin(w http.ResponseWriter, r *http.Request, tableID string) {
	account, ok := auth.Authenticate(h.auth, r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session token")
		return
	}
	var req joinTableRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	assignment, err := h.lobby.Join(ctx, tableID, identity(account), req.BuyIn, req.Secret)
	if err != nil {
		writeLobbyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assignment)
}

func (h *HTTPHandler) handleLeave(w http.ResponseWriter, r *http.Request, tableID string) {
	account, ok := auth.Authenticate(h.auth, r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session token")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	chips, err := h.lobby.Leave(ctx, tableID, identity(account))
	if err != nil {
		writeLobbyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"table_id": tableID,
		"refunded": chips,
	})
}

func (h *HTTPHandler) handleDelete(w http.ResponseWriter, r *http.Request, tableID string) {
	account, ok := auth.Authenticate(h.auth, r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session token")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	refunds, err := h.lobby.Delete(ctx, tableID, identity(account))
	if err != nil {
		writeLobbyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"table_id": tableID,
		"refunds":  refunds,
	})
}

func (h *HTTPHandler) handleAction(w http.ResponseWriter, r *http.Request, tableID string) {
	account, ok := auth.Authenticate(h.auth, r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session token")
		return
	}
	var req actionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if err := h.lobby.RecordAction(tableID, identity(account), req.Action, req.Amount); err != nil {
		writeLobbyError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) handleChat(w http.ResponseWriter, r *http.Request, tableID string) {
	account, ok := auth.Authenticate(h.auth, r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session token")
		return
	}
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if err := h.lobby.Chat(tableID, identity(account), req.Text); err != nil {
		writeLobbyError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if _, ok := auth.Authenticate(h.auth, r); !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session token")
		return
	}
	writeJSON(w, http.StatusOK, h.lobby.Stats())
}

func identity(account auth.Account) table.Identity {
	return table.Identity{ID: account.ID, Name: account.Username, Role: account.Role}
}

// writeLobbyError maps domain sentinels onto HTTP statuses with stable
// machine codes.
func writeLobbyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "table not found")
	case errors.Is(err, ErrPermissionDenied):
		writeError(w, http.StatusForbidden, "permission_denied", "only the owner or an admin may do that")
	case errors.Is(err, table.ErrTableFull):
		writeError(w, http.StatusConflict, "table_full", err.Error())
	case errors.Is(err, table.ErrAlreadySeated):
		writeError(w, http.StatusConflict, "already_seated", err.Error())
	case errors.Is(err, table.ErrNotSeated):
		writeError(w, http.StatusConflict, "not_seated", err.Error())
	case errors.Is(err, table.ErrWrongSecret):
		writeError(w, http.StatusForbidden, "wrong_secret", err.Error())
	case errors.Is(err, table.ErrBuyInOutOfRange):
		writeError(w, http.StatusBadRequest, "buy_in_out_of_range", err.Error())
	case errors.Is(err, table.ErrTableClosed):
		writeError(w, http.StatusNotFound, "not_found", "table not found")
	case errors.Is(err, ledger.ErrInsufficientBalance):
		writeError(w, http.StatusPaymentRequired, "insufficient_balance", err.Error())
	case errors.Is(err, ledger.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "ledger_unavailable", "ledger unavailable, try again")
	default:
		writeError(w, http.StatusInternalServerError, "internal", "operation failed")
	}
}

func parseInt64(raw string) int64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
