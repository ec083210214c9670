package reaper

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"pokerhall/internal/auth"
	"pokerhall/internal/lobby"
)

// HTTPHandler exposes the admin cleanup surface. Callers authorize with an
// admin session or the static API key.
type HTTPHandler struct {
	auth   auth.Service
	lobby  *lobby.Lobby
	reaper *Reaper
	apiKey string
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func NewHTTPHandler(authService auth.Service, l *lobby.Lobby, r *Reaper, apiKey string) *HTTPHandler {
	return &HTTPHandler{auth: authService, lobby: l, reaper: r, apiKey: apiKey}
}

func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/admin/cleanup-stats", h.handleStats)
	mux.HandleFunc("/api/admin/cleanup-status", h.handleStatus)
	mux.HandleFunc("/api/admin/cleanup-tables", h.handleTrigger)
}

func (h *HTTPHandler) authorize(r *http.Request) bool {
	if h.apiKey != "" {
		key := r.Header.Get("X-Api-Key")
		if key != "" && subtle.ConstantTimeCompare([]byte(key), []byte(h.apiKey)) == 1 {
			return true
		}
	}
	account, ok := auth.Authenticate(h.auth, r)
	return ok && account.Role == auth.RoleAdmin
}

func (h *HTTPHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if !h.authorize(r) {
		writeError(w, http.StatusForbidden, "permission_denied", "admin access required")
		return
	}
	writeJSON(w, http.StatusOK, h.lobby.CleanupStats())
}

func (h *HTTPHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if !h.authorize(r) {
		writeError(w, http.StatusForbidden, "permission_denied", "admin access required")
		return
	}

	status := h.reaper.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"running":          status.Running,
		"interval_seconds": int(status.Interval.Seconds()),
		"idle_timeout_sec": int(status.IdleTimeout.Seconds()),
		"uptime_seconds":   int(status.Uptime.Seconds()),
		"last_run":         status.LastRun,
		"next_run_in_sec":  int(status.NextRunIn.Seconds()),
		"sweeps":           status.Sweeps,
		"last_deleted":     status.LastDeleted,
		"total_deleted":    status.TotalDeleted,
	})
}

func (h *HTTPHandler) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if !h.authorize(r) {
		writeError(w, http.StatusForbidden, "permission_denied", "admin access required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	result := h.reaper.ManualTrigger(ctx)
	writeJSON(w, http.StatusOK, result)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
