package lobby

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pokerhall/internal/auth"
	"pokerhall/internal/broadcast"
	"pokerhall/internal/ledger"
	"pokerhall/internal/table"
)

type httpFixture struct {
	server *httptest.Server
	auth   auth.Service
	ledger ledger.Service
	lobby  *Lobby
}

func newHTTPFixture(t *testing.T) *httpFixture {
	t.Helper()
	lg := ledger.NewMemoryService()
	hub := broadcast.NewHub()
	t.Cleanup(hub.Close)
	authService := auth.NewManager(time.Hour)
	l := New(lg, hub, 5*time.Minute)

	mux := http.NewServeMux()
	NewHTTPHandler(authService, l).RegisterRoutes(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &httpFixture{server: server, auth: authService, ledger: lg, lobby: l}
}

func (f *httpFixture) registerUser(t *testing.T, username string, balance int64) (auth.Account, string) {
	t.Helper()
	account, token, err := f.auth.Register(username, "hunter22")
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	if balance > 0 {
		if err := f.ledger.Credit(context.Background(), account.ID, balance); err != nil {
			t.Fatalf("fund %s: %v", username, err)
		}
	}
	return account, token
}

func (f *httpFixture) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func createBody(name string) createTableRequest {
	return createTableRequest{
		Name:       name,
		Variant:    "texas-holdem",
		SeatLimit:  4,
		SmallBlind: 5,
		BigBlind:   10,
		MinBuyIn:   100,
		MaxBuyIn:   500,
	}
}

func TestHTTPCreateListJoinLeave(t *testing.T) {
	f := newHTTPFixture(t)
	_, ownerToken := f.registerUser(t, "owner", 0)
	player, playerToken := f.registerUser(t, "player", 1000)

	resp := f.do(t, http.MethodPost, "/api/tables", ownerToken, createBody("river rats"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d", resp.StatusCode)
	}
	created := decodeBody[table.Summary](t, resp)
	if created.ID == "" || created.Name != "river rats" {
		t.Fatalf("unexpected summary %+v", created)
	}

	resp = f.do(t, http.MethodGet, "/api/tables", playerToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status %d", resp.StatusCode)
	}
	listing := decodeBody[listResponse](t, resp)
	if len(listing.Tables) != 1 || listing.Pagination.TotalCount != 1 {
		t.Fatalf("unexpected listing %+v", listing)
	}

	resp = f.do(t, http.MethodPost, fmt.Sprintf("/api/tables/%s/join", created.ID), playerToken, joinTableRequest{BuyIn: 200})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("join status %d", resp.StatusCode)
	}
	assignment := decodeBody[table.SeatAssignment](t, resp)
	if assignment.Position != 0 || assignment.Chips != 200 {
		t.Fatalf("unexpected assignment %+v", assignment)
	}
	if balance, _ := f.ledger.Balance(context.Background(), player.ID); balance != 800 {
		t.Fatalf("balance %d after join, want 800", balance)
	}

	resp = f.do(t, http.MethodGet, "/api/tables/mine", playerToken, nil)
	mine := decodeBody[struct {
		Tables []table.Summary `json:"tables"`
	}](t, resp)
	if len(mine.Tables) != 1 || mine.Tables[0].ID != created.ID {
		t.Fatalf("unexpected mine %+v", mine)
	}

	resp = f.do(t, http.MethodPost, fmt.Sprintf("/api/tables/%s/leave", created.ID), playerToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("leave status %d", resp.StatusCode)
	}
	resp.Body.Close()
	if balance, _ := f.ledger.Balance(context.Background(), player.ID); balance != 1000 {
		t.Fatalf("balance %d after leave, want 1000", balance)
	}
}

func TestHTTPErrorMapping(t *testing.T) {
	f := newHTTPFixture(t)
	_, ownerToken := f.registerUser(t, "owner", 0)
	_, brokeToken := f.registerUser(t, "broke", 10)
	_, richToken := f.registerUser(t, "rich", 10000)

	resp := f.do(t, http.MethodGet, "/api/tables", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous list status %d", resp.StatusCode)
	}
	resp.Body.Close()

	bad := createBody("bad")
	bad.BigBlind = 5
	resp = f.do(t, http.MethodPost, "/api/tables", ownerToken, bad)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid config status %d", resp.StatusCode)
	}
	if body := decodeBody[errorResponse](t, resp); body.Code != "invalid_config" {
		t.Fatalf("unexpected error body %+v", body)
	}

	resp = f.do(t, http.MethodPost, "/api/tables", ownerToken, createBody("live"))
	created := decodeBody[table.Summary](t, resp)

	resp = f.do(t, http.MethodPost, fmt.Sprintf("/api/tables/%s/join", created.ID), brokeToken, joinTableRequest{BuyIn: 200})
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("broke join status %d", resp.StatusCode)
	}
	if body := decodeBody[errorResponse](t, resp); body.Code != "insufficient_balance" {
		t.Fatalf("unexpected error body %+v", body)
	}

	resp = f.do(t, http.MethodPost, fmt.Sprintf("/api/tables/%s/join", created.ID), richToken, joinTableRequest{BuyIn: 99999})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("out-of-range join status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = f.do(t, http.MethodPost, "/api/tables/table_missing/join", richToken, joinTableRequest{BuyIn: 200})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing table join status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = f.do(t, http.MethodDelete, "/api/tables/"+created.ID, richToken, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-owner delete status %d", resp.StatusCode)
	}
	if body := decodeBody[errorResponse](t, resp); body.Code != "permission_denied" {
		t.Fatalf("unexpected error body %+v", body)
	}

	resp = f.do(t, http.MethodDelete, "/api/tables/"+created.ID, ownerToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("owner delete status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestHTTPStats(t *testing.T) {
	f := newHTTPFixture(t)
	_, token := f.registerUser(t, "watcher", 1000)

	resp := f.do(t, http.MethodPost, "/api/tables", token, createBody("counted"))
	created := decodeBody[table.Summary](t, resp)
	resp = f.do(t, http.MethodPost, fmt.Sprintf("/api/tables/%s/join", created.ID), token, joinTableRequest{BuyIn: 250})
	resp.Body.Close()

	resp = f.do(t, http.MethodGet, "/api/lobby/stats", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats status %d", resp.StatusCode)
	}
	stats := decodeBody[Stats](t, resp)
	if stats.Tables != 1 || stats.SeatedPlayers != 1 || stats.ChipsInPlay != 250 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}
