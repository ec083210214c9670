// Package lobby is the table registry and session manager: it owns the set
// of live tables, routes seat operations to them and publishes lifecycle
// events once the table's own lock is released.
package lobby

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"pokerhall/internal/broadcast"
	"pokerhall/internal/ledger"
	"pokerhall/internal/table"
)

const MinPlayersRequired = 2

var (
	ErrNotFound         = errors.New("table not found")
	ErrPermissionDenied = errors.New("permission denied")
)

// Lobby manages all tables. The registry lock covers only the map; seat and
// chip mutations run under each table's own lock so one busy table never
// blocks the rest.
type Lobby struct {
	mu     sync.RWMutex
	tables map[string]*table.Table

	ledger      ledger.Service
	hub         *broadcast.Hub
	idleTimeout time.Duration

	created uint64
	deleted uint64
	reaped  uint64
}

func New(ledgerService ledger.Service, hub *broadcast.Hub, idleTimeout time.Duration) *Lobby {
	return &Lobby{
		tables:      make(map[string]*table.Table),
		ledger:      ledgerService,
		hub:         hub,
		idleTimeout: idleTimeout,
	}
}

// newTableID builds ids like table_1714513200123_a3f09c. The random suffix
// keeps same-millisecond creations distinct; the map check below catches the
// remaining collisions.
func newTableID(now time.Time) string {
	suffix := make([]byte, 3)
	if _, err := rand.Read(suffix); err != nil {
		// Timestamp alone still works, collisions are caught by the registry.
		return fmt.Sprintf("table_%d", now.UnixMilli())
	}
	return fmt.Sprintf("table_%d_%s", now.UnixMilli(), hex.EncodeToString(suffix))
}

// Create validates the config, registers a fresh table and returns its
// summary. The creator is not seated automatically.
func (l *Lobby) Create(owner table.Identity, cfg table.Config) (table.Summary, error) {
	if err := cfg.Validate(); err != nil {
		return table.Summary{}, err
	}

	l.mu.Lock()
	now := time.Now()
	id := newTableID(now)
	for l.tables[id] != nil {
		id = newTableID(now)
	}
	t := table.New(id, owner, cfg, l.ledger, now)
	l.tables[id] = t
	l.created++
	l.mu.Unlock()

	log.Printf("[Lobby] user %d (%s) created table %s: %s", owner.ID, owner.Name, id, cfg.Name)
	return t.Summary(), nil
}

// Get returns a live table. Closed tables linger in the map only until the
// operation that closed them finishes removal, and are reported as missing.
func (l *Lobby) Get(tableID string) (*table.Table, error) {
	l.mu.RLock()
	t := l.tables[tableID]
	l.mu.RUnlock()
	if t == nil || t.IsClosed() {
		return nil, ErrNotFound
	}
	return t, nil
}

// Join seats who at a table and announces the seat once the table lock is
// released.
func (l *Lobby) Join(ctx context.Context, tableID string, who table.Identity, buyIn int64, secret string) (table.SeatAssignment, error) {
	t, err := l.Get(tableID)
	if err != nil {
		return table.SeatAssignment{}, err
	}
	assignment, err := t.Join(ctx, who, buyIn, secret)
	if err != nil {
		return table.SeatAssignment{}, err
	}

	l.hub.Publish(broadcast.Event{
		Type:        broadcast.EventPlayerJoined,
		TableID:     tableID,
		UserID:      who.ID,
		DisplayName: who.Name,
		Position:    assignment.Position,
		Amount:      assignment.Chips,
	})
	return assignment, nil
}

// Leave refunds the seat's stack and announces the departure.
func (l *Lobby) Leave(ctx context.Context, tableID string, who table.Identity) (int64, error) {
	t, err := l.Get(tableID)
	if err != nil {
		return 0, err
	}
	chips, err := t.Leave(ctx, who.ID)
	if err != nil {
		return 0, err
	}

	l.hub.Publish(broadcast.Event{
		Type:        broadcast.EventPlayerLeft,
		TableID:     tableID,
		UserID:      who.ID,
		DisplayName: who.Name,
		Amount:      chips,
	})
	return chips, nil
}

// Delete closes a table, refunding every occupant. Only the owner or an
// admin may delete. On a mid-refund ledger failure the table survives with
// the unrefunded seats intact and the error is surfaced.
func (l *Lobby) Delete(ctx context.Context, tableID string, who table.Identity) ([]table.Refund, error) {
	t, err := l.Get(tableID)
	if err != nil {
		return nil, err
	}
	if t.OwnerID() != who.ID && who.Role != "admin" {
		return nil, ErrPermissionDenied
	}

	refunds, err := t.Close(ctx)
	if err != nil {
		return refunds, err
	}
	l.remove(tableID)
	l.mu.Lock()
	l.deleted++
	l.mu.Unlock()

	log.Printf("[Lobby] user %d deleted table %s, %d seats refunded", who.ID, tableID, len(refunds))
	l.hub.Publish(broadcast.Event{
		Type:    broadcast.EventTableClosed,
		TableID: tableID,
		UserID:  who.ID,
		Reason:  "deleted",
	})
	return refunds, nil
}

// RecordAction books a player action onto the table and announces it.
func (l *Lobby) RecordAction(tableID string, who table.Identity, action string, amount int64) error {
	t, err := l.Get(tableID)
	if err != nil {
		return err
	}
	if err := t.RecordAction(who.ID, action, amount); err != nil {
		return err
	}
	l.hub.Publish(broadcast.Event{
		Type:        broadcast.EventActionTaken,
		TableID:     tableID,
		UserID:      who.ID,
		DisplayName: who.Name,
		Action:      action,
		Amount:      amount,
	})
	return nil
}

// Chat relays a chat line to a table's subscribers. Only occupants may chat.
func (l *Lobby) Chat(tableID string, who table.Identity, text string) error {
	t, err := l.Get(tableID)
	if err != nil {
		return err
	}
	if !t.Occupies(who.ID) {
		return table.ErrNotSeated
	}
	t.Touch(time.Now())
	l.hub.Publish(broadcast.Event{
		Type:        broadcast.EventChatMessage,
		TableID:     tableID,
		UserID:      who.ID,
		DisplayName: who.Name,
		Text:        text,
	})
	return nil
}

// DeletedTable describes one table removed by an idle sweep.
type DeletedTable struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Seats int    `json:"seats"`
}

// ReapIdle deletes every table that has sat in the waiting phase below the
// player floor for longer than the idle timeout. The predicate is evaluated
// twice: once against a snapshot of the registry, then again under each
// table's lock, so a join racing the sweep always wins.
func (l *Lobby) ReapIdle(ctx context.Context, now time.Time) []DeletedTable {
	l.mu.RLock()
	candidates := make([]*table.Table, 0)
	for _, t := range l.tables {
		if t.IsReapable(now, MinPlayersRequired, l.idleTimeout) {
			candidates = append(candidates, t)
		}
	}
	l.mu.RUnlock()

	deleted := make([]DeletedTable, 0, len(candidates))
	for _, t := range candidates {
		summary := t.Summary()
		refunds, err := t.Reap(ctx, now, MinPlayersRequired, l.idleTimeout)
		if err != nil {
			if !errors.Is(err, table.ErrNotIdle) && !errors.Is(err, table.ErrTableClosed) {
				log.Printf("[Lobby] reap of table %s failed: %v", t.ID(), err)
			}
			continue
		}
		l.remove(t.ID())
		l.mu.Lock()
		l.reaped++
		l.mu.Unlock()
		deleted = append(deleted, DeletedTable{ID: t.ID(), Name: summary.Name, Seats: len(refunds)})

		log.Printf("[Lobby] reaped idle table %s (%s), %d seats refunded", t.ID(), summary.Name, len(refunds))
		l.hub.Publish(broadcast.Event{
			Type:    broadcast.EventTableClosed,
			TableID: t.ID(),
			Reason:  "idle",
		})
	}
	return deleted
}

func (l *Lobby) remove(tableID string) {
	l.mu.Lock()
	delete(l.tables, tableID)
	l.mu.Unlock()
}

// TablesFor lists summaries of every table where userID holds a seat.
func (l *Lobby) TablesFor(userID uint64) []table.Summary {
	l.mu.RLock()
	tables := make([]*table.Table, 0, len(l.tables))
	for _, t := range l.tables {
		tables = append(tables, t)
	}
	l.mu.RUnlock()

	mine := make([]table.Summary, 0)
	for _, t := range tables {
		if t.Occupies(userID) {
			mine = append(mine, t.Summary())
		}
	}
	sort.Slice(mine, func(i, j int) bool { return mine[i].CreatedAt.After(mine[j].CreatedAt) })
	return mine
}

// Stats is the lobby-wide activity snapshot.
type Stats struct {
	Tables        int                   `json:"tables"`
	SeatedPlayers int                   `json:"seated_players"`
	ChipsInPlay   int64                 `json:"chips_in_play"`
	WaitingTables int                   `json:"waiting_tables"`
	ByVariant     map[table.Variant]int `json:"by_variant"`
}

func (l *Lobby) Stats() Stats {
	l.mu.RLock()
	tables := make([]*table.Table, 0, len(l.tables))
	for _, t := range l.tables {
		tables = append(tables, t)
	}
	l.mu.RUnlock()

	stats := Stats{ByVariant: make(map[table.Variant]int)}
	for _, t := range tables {
		snap := t.Snapshot()
		stats.Tables++
		stats.SeatedPlayers += len(snap.Seats)
		for _, seat := range snap.Seats {
			stats.ChipsInPlay += seat.Chips
		}
		if snap.Phase == table.PhaseWaiting {
			stats.WaitingTables++
		}
		stats.ByVariant[snap.Variant]++
	}
	return stats
}

// CleanupStats reports lifetime registry counters for the admin surface.
// Reapable is a point-in-time count of tables the next sweep would remove.
type CleanupStats struct {
	Created  uint64 `json:"created"`
	Deleted  uint64 `json:"deleted"`
	Reaped   uint64 `json:"reaped"`
	Live     int    `json:"live"`
	Reapable int    `json:"reapable"`
}

func (l *Lobby) CleanupStats() CleanupStats {
	l.mu.RLock()
	tables := make([]*table.Table, 0, len(l.tables))
	for _, t := range l.tables {
		tables = append(tables, t)
	}
	stats := CleanupStats{
		Created: l.created,
		Deleted: l.deleted,
		Reaped:  l.reaped,
		Live:    len(l.tables),
	}
	l.mu.RUnlock()

	now := time.Now()
	for _, t := range tables {
		if t.IsReapable(now, MinPlayersRequired, l.idleTimeout) {
			stats.Reapable++
		}
	}
	return stats
}

// IdleTimeout exposes the reap threshold for status reporting.
func (l *Lobby) IdleTimeout() time.Duration { return l.idleTimeout }

// Filter narrows List results. Zero values mean "no constraint".
type Filter struct {
	Variant        table.Variant
	Phase          table.Phase
	MinBuyIn       int64
	MaxBuyIn       int64
	MaxSeatLimit   int
	IncludePrivate bool
	Query          string
}

func (f Filter) matches(s table.Summary) bool {
	if f.Variant != "" && s.Variant != f.Variant {
		return false
	}
	if f.Phase != "" && s.Phase != f.Phase {
		return false
	}
	if f.MinBuyIn > 0 && s.BuyIn.Min < f.MinBuyIn {
		return false
	}
	if f.MaxBuyIn > 0 && s.BuyIn.Max > f.MaxBuyIn {
		return false
	}
	if f.MaxSeatLimit > 0 && s.SeatLimit > f.MaxSeatLimit {
		return false
	}
	if !f.IncludePrivate && s.Private {
		return false
	}
	if f.Query != "" {
		q := strings.ToLower(f.Query)
		if !strings.Contains(strings.ToLower(s.Name), q) && !strings.Contains(strings.ToLower(s.ID), q) {
			return false
		}
	}
	return true
}

// Pagination describes one page of List results.
type Pagination struct {
	CurrentPage int  `json:"current_page"`
	TotalPages  int  `json:"total_pages"`
	TotalCount  int  `json:"total_count"`
	HasNext     bool `json:"has_next"`
	HasPrev     bool `json:"has_prev"`
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// List returns a filtered, newest-first page of table summaries.
func (l *Lobby) List(filter Filter, page, limit int) ([]table.Summary, Pagination) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	l.mu.RLock()
	tables := make([]*table.Table, 0, len(l.tables))
	for _, t := range l.tables {
		tables = append(tables, t)
	}
	l.mu.RUnlock()

	matched := make([]table.Summary, 0, len(tables))
	for _, t := range tables {
		summary := t.Summary()
		if filter.matches(summary) {
			matched = append(matched, summary)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := len(matched)
	totalPages := (total + limit - 1) / limit
	if totalPages == 0 {
		totalPages = 1
	}
	if page > totalPages {
		page = totalPages
	}
	start := (page - 1) * limit
	end := start + limit
	if end > total {
		end = total
	}

	return matched[start:end], Pagination{
		CurrentPage: page,
		TotalPages:  totalPages,
		TotalCount:  total,
		HasNext:     page < totalPages,
		HasPrev:     page > 1,
	}
}
