package lobby

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"pokerhall/internal/broadcast"
	"pokerhall/internal/ledger"
	"pokerhall/internal/table"
)

func newTestLobby(t *testing.T, idle time.Duration) (*Lobby, ledger.Service, *broadcast.Hub) {
	t.Helper()
	lg := ledger.NewMemoryService()
	hub := broadcast.NewHub()
	t.Cleanup(hub.Close)
	return New(lg, hub, idle), lg, hub
}

func fund(t *testing.T, lg ledger.Service, userID uint64, amount int64) {
	t.Helper()
	if err := lg.Credit(context.Background(), userID, amount); err != nil {
		t.Fatalf("fund user %d: %v", userID, err)
	}
}

func validConfig(name string) table.Config {
	return table.Config{
		Name:      name,
		Variant:   table.VariantTexasHoldem,
		SeatLimit: 4,
		Blinds:    table.Blinds{Small: 5, Big: 10},
		BuyIn:     table.BuyInRange{Min: 100, Max: 500},
	}
}

var alice = table.Identity{ID: 1, Name: "alice"}
var bob = table.Identity{ID: 2, Name: "bob"}
var admin = table.Identity{ID: 99, Name: "root", Role: "admin"}

func TestCreateAssignsUniqueIDs(t *testing.T) {
	lobby, _, _ := newTestLobby(t, 5*time.Minute)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		summary, err := lobby.Create(alice, validConfig(fmt.Sprintf("table %d", i)))
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if seen[summary.ID] {
			t.Fatalf("duplicate id %s", summary.ID)
		}
		seen[summary.ID] = true
		if summary.Phase != table.PhaseWaiting {
			t.Fatalf("new table phase %s, want waiting", summary.Phase)
		}
	}
}

func TestCreateRejectsInvalidConfig(t *testing.T) {
	lobby, _, _ := newTestLobby(t, 5*time.Minute)
	cfg := validConfig("bad blinds")
	cfg.Blinds = table.Blinds{Small: 10, Big: 10}
	if _, err := lobby.Create(alice, cfg); !errors.Is(err, table.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if stats := lobby.Stats(); stats.Tables != 0 {
		t.Fatalf("rejected create must not register a table, have %d", stats.Tables)
	}
}

func TestGetUnknownTable(t *testing.T) {
	lobby, _, _ := newTestLobby(t, 5*time.Minute)
	if _, err := lobby.Get("table_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestJoinPublishesEvent(t *testing.T) {
	lobby, lg, hub := newTestLobby(t, 5*time.Minute)
	fund(t, lg, alice.ID, 1000)

	summary, err := lobby.Create(bob, validConfig("event table"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	sub := hub.Subscribe(summary.ID, 4)
	defer hub.Unsubscribe(sub)

	assignment, err := lobby.Join(context.Background(), summary.ID, alice, 200, "")
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	select {
	case event := <-sub.C:
		if event.Type != broadcast.EventPlayerJoined || event.UserID != alice.ID {
			t.Fatalf("unexpected event %+v", event)
		}
		if event.Position != assignment.Position || event.Amount != assignment.Chips {
			t.Fatalf("event does not match assignment: %+v vs %+v", event, assignment)
		}
	case <-time.After(time.Second):
		t.Fatal("no playerJoined event")
	}
}

func TestFailedJoinPublishesNothing(t *testing.T) {
	lobby, _, hub := newTestLobby(t, 5*time.Minute)

	summary, _ := lobby.Create(bob, validConfig("broke table"))
	sub := hub.Subscribe(summary.ID, 4)
	defer hub.Unsubscribe(sub)

	if _, err := lobby.Join(context.Background(), summary.ID, alice, 200, ""); !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	select {
	case event := <-sub.C:
		t.Fatalf("failed join must not publish, got %+v", event)
	default:
	}
}

func TestLeaveRefundsAndPublishes(t *testing.T) {
	lobby, lg, hub := newTestLobby(t, 5*time.Minute)
	fund(t, lg, alice.ID, 1000)
	ctx := context.Background()

	summary, _ := lobby.Create(bob, validConfig("leave table"))
	if _, err := lobby.Join(ctx, summary.ID, alice, 300, ""); err != nil {
		t.Fatalf("join: %v", err)
	}
	sub := hub.Subscribe(summary.ID, 4)
	defer hub.Unsubscribe(sub)

	chips, err := lobby.Leave(ctx, summary.ID, alice)
	if err != nil {
		t.Fatalf("leave: %v", err)
	}
	if chips != 300 {
		t.Fatalf("refund %d, want 300", chips)
	}
	if balance, _ := lg.Balance(ctx, alice.ID); balance != 1000 {
		t.Fatalf("balance %d, want 1000", balance)
	}
	event := <-sub.C
	if event.Type != broadcast.EventPlayerLeft || event.Amount != 300 {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestDeletePermissions(t *testing.T) {
	lobby, lg, _ := newTestLobby(t, 5*time.Minute)
	fund(t, lg, bob.ID, 1000)
	ctx := context.Background()

	summary, _ := lobby.Create(alice, validConfig("owned table"))
	if _, err := lobby.Join(ctx, summary.ID, bob, 200, ""); err != nil {
		t.Fatalf("join: %v", err)
	}

	if _, err := lobby.Delete(ctx, summary.ID, bob); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}

	refunds, err := lobby.Delete(ctx, summary.ID, alice)
	if err != nil {
		t.Fatalf("owner delete: %v", err)
	}
	if len(refunds) != 1 || refunds[0].UserID != bob.ID {
		t.Fatalf("unexpected refunds %+v", refunds)
	}
	if balance, _ := lg.Balance(ctx, bob.ID); balance != 1000 {
		t.Fatalf("bob balance %d, want 1000", balance)
	}
	if _, err := lobby.Get(summary.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted table still visible: %v", err)
	}

	other, _ := lobby.Create(alice, validConfig("admin target"))
	if _, err := lobby.Delete(ctx, other.ID, admin); err != nil {
		t.Fatalf("admin delete: %v", err)
	}
}

func TestChatRequiresSeat(t *testing.T) {
	lobby, lg, hub := newTestLobby(t, 5*time.Minute)
	fund(t, lg, alice.ID, 1000)
	ctx := context.Background()

	summary, _ := lobby.Create(bob, validConfig("chatty"))
	if err := lobby.Chat(summary.ID, alice, "hello"); !errors.Is(err, table.ErrNotSeated) {
		t.Fatalf("expected ErrNotSeated, got %v", err)
	}

	lobby.Join(ctx, summary.ID, alice, 200, "")
	sub := hub.Subscribe(summary.ID, 4)
	defer hub.Unsubscribe(sub)

	if err := lobby.Chat(summary.ID, alice, "hello"); err != nil {
		t.Fatalf("chat: %v", err)
	}
	event := <-sub.C
	if event.Type != broadcast.EventChatMessage || event.Text != "hello" {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestReapIdleSweep(t *testing.T) {
	lobby, lg, hub := newTestLobby(t, 5*time.Minute)
	fund(t, lg, alice.ID, 1000)
	fund(t, lg, bob.ID, 1000)
	ctx := context.Background()

	empty, _ := lobby.Create(alice, validConfig("empty idle"))
	single, _ := lobby.Create(alice, validConfig("single idle"))
	full, _ := lobby.Create(alice, validConfig("busy"))

	lobby.Join(ctx, single.ID, alice, 200, "")
	lobby.Join(ctx, full.ID, alice, 200, "")
	lobby.Join(ctx, full.ID, bob, 200, "")

	sub := hub.Subscribe(empty.ID, 4)
	defer hub.Unsubscribe(sub)

	// Before the timeout nothing is eligible.
	if deleted := lobby.ReapIdle(ctx, time.Now()); len(deleted) != 0 {
		t.Fatalf("premature reap: %+v", deleted)
	}

	later := time.Now().Add(6 * time.Minute)
	deleted := lobby.ReapIdle(ctx, later)
	if len(deleted) != 2 {
		t.Fatalf("expected 2 reaped tables, got %+v", deleted)
	}
	for _, d := range deleted {
		if d.ID == full.ID {
			t.Fatal("table at the player floor was reaped")
		}
	}
	if balance, _ := lg.Balance(ctx, alice.ID); balance != 1000-200 {
		t.Fatalf("alice balance %d after reap refund, want 800", balance)
	}
	if _, err := lobby.Get(empty.ID); !errors.Is(err, ErrNotFound) {
		t.Fatal("reaped table still registered")
	}
	if _, err := lobby.Get(full.ID); err != nil {
		t.Fatalf("busy table vanished: %v", err)
	}

	event := <-sub.C
	if event.Type != broadcast.EventTableClosed || event.Reason != "idle" {
		t.Fatalf("unexpected event %+v", event)
	}

	stats := lobby.CleanupStats()
	if stats.Reaped != 2 || stats.Live != 1 {
		t.Fatalf("unexpected cleanup stats %+v", stats)
	}
}

func TestReapLosesRaceToJoin(t *testing.T) {
	lobby, lg, _ := newTestLobby(t, 5*time.Minute)
	fund(t, lg, alice.ID, 1000)
	fund(t, lg, bob.ID, 1000)
	ctx := context.Background()

	summary, _ := lobby.Create(alice, validConfig("contested"))
	lobby.Join(ctx, summary.ID, alice, 200, "")

	later := time.Now().Add(6 * time.Minute)

	// Joins racing the sweep: whatever interleaving occurs, a table that
	// reached the player floor must survive with both seats intact.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		lobby.Join(ctx, summary.ID, bob, 200, "")
	}()
	go func() {
		defer wg.Done()
		lobby.ReapIdle(ctx, later)
	}()
	wg.Wait()

	t2, err := lobby.Get(summary.ID)
	if err == nil {
		snap := t2.Snapshot()
		if len(snap.Seats) != 2 {
			t.Fatalf("surviving table has %d seats, want 2", len(snap.Seats))
		}
	} else {
		// Reap won: bob's join must have failed cleanly with a full refund.
		balance, _ := lg.Balance(ctx, bob.ID)
		if balance != 1000 {
			t.Fatalf("bob lost chips to a reaped table: balance %d", balance)
		}
	}
	// Chip conservation holds either way.
	var total int64
	for _, id := range []uint64{alice.ID, bob.ID} {
		balance, _ := lg.Balance(ctx, id)
		total += balance
	}
	if t2 != nil {
		for _, seat := range t2.Snapshot().Seats {
			total += seat.Chips
		}
	}
	if total != 2000 {
		t.Fatalf("chips not conserved: %d", total)
	}
}

func TestListFiltersAndPaginates(t *testing.T) {
	lobby, _, _ := newTestLobby(t, 5*time.Minute)

	for i := 0; i < 5; i++ {
		cfg := validConfig(fmt.Sprintf("holdem %d", i))
		if _, err := lobby.Create(alice, cfg); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	omaha := validConfig("omaha night")
	omaha.Variant = table.VariantOmaha
	lobby.Create(alice, omaha)

	private := validConfig("secret club")
	private.Private = true
	private.AccessSecret = "hush"
	lobby.Create(alice, private)

	// Private tables are hidden by default.
	all, pagination := lobby.List(Filter{}, 1, 10)
	if len(all) != 6 || pagination.TotalCount != 6 {
		t.Fatalf("expected 6 public tables, got %d (%+v)", len(all), pagination)
	}

	withPrivate, _ := lobby.List(Filter{IncludePrivate: true}, 1, 10)
	if len(withPrivate) != 7 {
		t.Fatalf("expected 7 tables with private, got %d", len(withPrivate))
	}

	omahaOnly, _ := lobby.List(Filter{Variant: table.VariantOmaha}, 1, 10)
	if len(omahaOnly) != 1 || omahaOnly[0].Name != "omaha night" {
		t.Fatalf("variant filter failed: %+v", omahaOnly)
	}

	named, _ := lobby.List(Filter{Query: "HOLDEM"}, 1, 10)
	if len(named) != 5 {
		t.Fatalf("query filter failed: %d", len(named))
	}

	// The query also matches table ids, so a table with an unrelated name
	// is still found by its id.
	byID, _ := lobby.List(Filter{Query: omahaOnly[0].ID}, 1, 10)
	if len(byID) != 1 || byID[0].ID != omahaOnly[0].ID {
		t.Fatalf("id query failed: %+v", byID)
	}

	pageOne, pagination := lobby.List(Filter{}, 1, 4)
	if len(pageOne) != 4 || !pagination.HasNext || pagination.HasPrev {
		t.Fatalf("page 1 wrong: %d items, %+v", len(pageOne), pagination)
	}
	pageTwo, pagination := lobby.List(Filter{}, 2, 4)
	if len(pageTwo) != 2 || pagination.HasNext || !pagination.HasPrev {
		t.Fatalf("page 2 wrong: %d items, %+v", len(pageTwo), pagination)
	}
	// Out-of-range pages clamp to the last page.
	clamped, pagination := lobby.List(Filter{}, 99, 4)
	if pagination.CurrentPage != 2 || len(clamped) != 2 {
		t.Fatalf("page clamp failed: %+v", pagination)
	}
}

func TestTablesForAndStats(t *testing.T) {
	lobby, lg, _ := newTestLobby(t, 5*time.Minute)
	fund(t, lg, alice.ID, 1000)
	fund(t, lg, bob.ID, 1000)
	ctx := context.Background()

	first, _ := lobby.Create(alice, validConfig("first"))
	second, _ := lobby.Create(alice, validConfig("second"))
	lobby.Join(ctx, first.ID, alice, 200, "")
	lobby.Join(ctx, second.ID, alice, 100, "")
	lobby.Join(ctx, second.ID, bob, 150, "")

	mine := lobby.TablesFor(alice.ID)
	if len(mine) != 2 {
		t.Fatalf("alice should appear at 2 tables, got %d", len(mine))
	}
	his := lobby.TablesFor(bob.ID)
	if len(his) != 1 || his[0].ID != second.ID {
		t.Fatalf("bob tables wrong: %+v", his)
	}

	stats := lobby.Stats()
	if stats.Tables != 2 || stats.SeatedPlayers != 3 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.ChipsInPlay != 450 {
		t.Fatalf("chips in play %d, want 450", stats.ChipsInPlay)
	}
	if stats.ByVariant[table.VariantTexasHoldem] != 2 {
		t.Fatalf("variant counts wrong: %+v", stats.ByVariant)
	}
}
