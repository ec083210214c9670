package table

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"pokerhall/internal/ledger"
)

// Table is a shared game room: bounded seats, escrowed chip stacks and an
// access secret for private rooms. Every mutating operation runs under the
// table's own mutex so concurrent joins, leaves and reap deletions serialize
// per table without any registry-wide lock.
type Table struct {
	id        string
	ownerID   uint64
	ownerName string
	createdAt time.Time

	mu           sync.Mutex
	cfg          Config
	seats        []Seat
	pot          int64
	phase        Phase
	lastActivity time.Time
	closed       bool

	ledger ledger.Service
}

type Variant string

const (
	VariantTexasHoldem   Variant = "texas-holdem"
	VariantOmaha         Variant = "omaha"
	VariantSevenCardStud Variant = "seven-card-stud"
)

func KnownVariant(v Variant) bool {
	switch v {
	case VariantTexasHoldem, VariantOmaha, VariantSevenCardStud:
		return true
	}
	return false
}

type Phase string

const (
	PhaseWaiting  Phase = "waiting"
	PhasePreFlop  Phase = "pre-flop"
	PhaseFlop     Phase = "flop"
	PhaseTurn     Phase = "turn"
	PhaseRiver    Phase = "river"
	PhaseShowdown Phase = "showdown"
	PhaseFinished Phase = "finished"
)

func KnownPhase(p Phase) bool {
	switch p {
	case PhaseWaiting, PhasePreFlop, PhaseFlop, PhaseTurn, PhaseRiver, PhaseShowdown, PhaseFinished:
		return true
	}
	return false
}

const (
	MinSeatLimit = 2
	MaxSeatLimit = 10
)

type Blinds struct {
	Small int64 `json:"small"`
	Big   int64 `json:"big"`
}

type BuyInRange struct {
	Min int64 `json:"min"`
	Max int64 `json:"max"`
}

// Config is the immutable shape of a table, fixed at creation.
type Config struct {
	Name         string
	Variant      Variant
	SeatLimit    int
	Blinds       Blinds
	BuyIn        BuyInRange
	Private      bool
	AccessSecret string
}

func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: table name is required", ErrInvalidConfig)
	}
	if !KnownVariant(c.Variant) {
		return fmt.Errorf("%w: unknown variant %q", ErrInvalidConfig, c.Variant)
	}
	if c.SeatLimit < MinSeatLimit || c.SeatLimit > MaxSeatLimit {
		return fmt.Errorf("%w: seat limit %d outside [%d,%d]", ErrInvalidConfig, c.SeatLimit, MinSeatLimit, MaxSeatLimit)
	}
	if c.Blinds.Small <= 0 || c.Blinds.Small >= c.Blinds.Big {
		return fmt.Errorf("%w: blinds must satisfy 0 < small < big, got %d/%d", ErrInvalidConfig, c.Blinds.Small, c.Blinds.Big)
	}
	if c.BuyIn.Min <= 0 || c.BuyIn.Min > c.BuyIn.Max {
		return fmt.Errorf("%w: buy-in range must satisfy 0 < min <= max, got %d..%d", ErrInvalidConfig, c.BuyIn.Min, c.BuyIn.Max)
	}
	if c.Private && c.AccessSecret == "" {
		return fmt.Errorf("%w: private table requires an access secret", ErrInvalidConfig)
	}
	return nil
}

// Seat is one occupant's position and escrowed chip stack within a table.
type Seat struct {
	UserID      uint64 `json:"user_id"`
	DisplayName string `json:"display_name"`
	Chips       int64  `json:"chips"`
	Position    int    `json:"position"`
	IsActive    bool   `json:"is_active"`
	LastAction  string `json:"last_action,omitempty"`
}

// Identity is a verified caller: credential checks happen outside the core.
type Identity struct {
	ID   uint64
	Name string
	Role string
}

// SeatAssignment is returned to a successful joiner.
type SeatAssignment struct {
	TableID  string `json:"table_id"`
	Position int    `json:"position"`
	Chips    int64  `json:"chips"`
}

// Refund records chips returned to one occupant when a table is torn down.
type Refund struct {
	UserID      uint64 `json:"user_id"`
	DisplayName string `json:"display_name"`
	Chips       int64  `json:"chips"`
}

var (
	ErrInvalidConfig   = errors.New("invalid table config")
	ErrTableClosed     = errors.New("table closed")
	ErrTableFull       = errors.New("table is full")
	ErrAlreadySeated   = errors.New("already seated at this table")
	ErrNotSeated       = errors.New("not seated at this table")
	ErrWrongSecret     = errors.New("wrong access secret")
	ErrBuyInOutOfRange = errors.New("buy-in amount outside table range")
	ErrNotIdle         = errors.New("table is not idle")
	ErrInternalState   = errors.New("internal table state inconsistency")
)

func New(id string, owner Identity, cfg Config, ledgerService ledger.Service, now time.Time) *Table {
	return &Table{
		id:           id,
		ownerID:      owner.ID,
		ownerName:    owner.Name,
		createdAt:    now,
		cfg:          cfg,
		phase:        PhaseWaiting,
		lastActivity: now,
		ledger:       ledgerService,
	}
}

func (t *Table) ID() string           { return t.id }
func (t *Table) OwnerID() uint64      { return t.ownerID }
func (t *Table) OwnerName() string    { return t.ownerName }
func (t *Table) CreatedAt() time.Time { return t.createdAt }

// Join seats an identity after the full precondition chain, all under the
// table lock: capacity, duplicate seat, access secret, buy-in range, then the
// ledger debit. The debit and the seat append form one logical transaction;
// a failed debit leaves the table untouched.
func (t *Table) Join(ctx context.Context, who Identity, buyIn int64, secret string) (SeatAssignment, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return SeatAssignment{}, ErrTableClosed
	}
	if len(t.seats) >= t.cfg.SeatLimit {
		return SeatAssignment{}, ErrTableFull
	}
	for _, seat := range t.seats {
		if seat.UserID == who.ID {
			return SeatAssignment{}, ErrAlreadySeated
		}
	}
	if t.cfg.Private && secret != t.cfg.AccessSecret {
		return SeatAssignment{}, ErrWrongSecret
	}
	if buyIn < t.cfg.BuyIn.Min || buyIn > t.cfg.BuyIn.Max {
		return SeatAssignment{}, fmt.Errorf("%w: %d not in %d..%d", ErrBuyInOutOfRange, buyIn, t.cfg.BuyIn.Min, t.cfg.BuyIn.Max)
	}

	if err := t.ledger.Debit(ctx, who.ID, buyIn); err != nil {
		return SeatAssignment{}, err
	}

	position := len(t.seats)
	t.seats = append(t.seats, Seat{
		UserID:      who.ID,
		DisplayName: who.Name,
		Chips:       buyIn,
		Position:    position,
		IsActive:    true,
	})
	t.lastActivity = time.Now()

	if err := t.verifySeatsLocked(); err != nil {
		log.Printf("[Table %s] seat invariant violated after join user=%d: %v", t.id, who.ID, err)
		return SeatAssignment{}, err
	}

	return SeatAssignment{TableID: t.id, Position: position, Chips: buyIn}, nil
}

// Leave credits the seat's escrowed chips back to the ledger, removes the
// seat and renumbers the remaining positions densely. A failed credit leaves
// the seat in place.
func (t *Table) Leave(ctx context.Context, userID uint64) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, ErrTableClosed
	}
	index := -1
	for i, seat := range t.seats {
		if seat.UserID == userID {
			index = i
			break
		}
	}
	if index == -1 {
		return 0, ErrNotSeated
	}

	chips := t.seats[index].Chips
	if chips > 0 {
		if err := t.ledger.Credit(ctx, userID, chips); err != nil {
			return 0, err
		}
	}

	t.seats = append(t.seats[:index], t.seats[index+1:]...)
	t.renumberSeatsLocked()
	t.lastActivity = time.Now()

	if err := t.verifySeatsLocked(); err != nil {
		log.Printf("[Table %s] seat invariant violated after leave user=%d: %v", t.id, userID, err)
		return 0, err
	}
	return chips, nil
}

// Close refunds every seated occupant and marks the table closed. If a credit
// fails midway, the seats refunded so far are removed (their chips are back in
// the ledger, keeping escrow conserved), the table stays open and the error
// surfaces to the caller.
func (t *Table) Close(ctx context.Context) ([]Refund, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeLocked(ctx)
}

func (t *Table) closeLocked(ctx context.Context) ([]Refund, error) {
	if t.closed {
		return nil, ErrTableClosed
	}

	refunds := make([]Refund, 0, len(t.seats))
	for len(t.seats) > 0 {
		seat := t.seats[0]
		if seat.Chips > 0 {
			if err := t.ledger.Credit(ctx, seat.UserID, seat.Chips); err != nil {
				t.renumberSeatsLocked()
				t.lastActivity = time.Now()
				log.Printf("[Table %s] refund failed user=%d chips=%d, table kept: %v", t.id, seat.UserID, seat.Chips, err)
				return refunds, err
			}
		}
		refunds = append(refunds, Refund{UserID: seat.UserID, DisplayName: seat.DisplayName, Chips: seat.Chips})
		t.seats = t.seats[1:]
	}

	t.closed = true
	t.lastActivity = time.Now()
	return refunds, nil
}

// Reap re-evaluates the idle predicate under the table lock and, only if it
// still holds, performs the same refund-then-close as Close. A join landing
// between the registry scan and this call flips the predicate and the table
// is skipped with ErrNotIdle.
func (t *Table) Reap(ctx context.Context, now time.Time, minPlayers int, idleAfter time.Duration) ([]Refund, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrTableClosed
	}
	if !t.reapableLocked(now, minPlayers, idleAfter) {
		return nil, ErrNotIdle
	}
	return t.closeLocked(ctx)
}

func (t *Table) reapableLocked(now time.Time, minPlayers int, idleAfter time.Duration) bool {
	if t.phase != PhaseWaiting {
		return false
	}
	if len(t.seats) >= minPlayers {
		return false
	}
	return now.Sub(t.createdAt) > idleAfter
}

// IsReapable is the scan-time check; the reaper re-checks via Reap before
// deleting.
func (t *Table) IsReapable(now time.Time, minPlayers int, idleAfter time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	return t.reapableLocked(now, minPlayers, idleAfter)
}

func (t *Table) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// RecordAction stores a seated occupant's last action and bumps activity.
// Betting semantics live in the external game engine; this is bookkeeping
// plus idle tracking only.
func (t *Table) RecordAction(userID uint64, action string, amount int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrTableClosed
	}
	for i := range t.seats {
		if t.seats[i].UserID == userID {
			t.seats[i].LastAction = action
			t.seats[i].IsActive = true
			if amount > 0 {
				t.pot += amount
			}
			t.lastActivity = time.Now()
			return nil
		}
	}
	return ErrNotSeated
}

// Occupies reports whether userID currently holds a seat.
func (t *Table) Occupies(userID uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, seat := range t.seats {
		if seat.UserID == userID {
			return true
		}
	}
	return false
}

// SeatOf returns the seat held by userID, if any.
func (t *Table) SeatOf(userID uint64) (Seat, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, seat := range t.seats {
		if seat.UserID == userID {
			return seat, true
		}
	}
	return Seat{}, false
}

// SetPhase is the hook for the external game-rule engine driving the state
// machine. The core only stores the phase and bumps activity.
func (t *Table) SetPhase(p Phase) error {
	if !KnownPhase(p) {
		return fmt.Errorf("%w: unknown phase %q", ErrInvalidConfig, p)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTableClosed
	}
	t.phase = p
	t.lastActivity = time.Now()
	return nil
}

// Touch updates lastActivity without other mutation.
func (t *Table) Touch(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.lastActivity = now
	}
}

func (t *Table) renumberSeatsLocked() {
	for i := range t.seats {
		t.seats[i].Position = i
	}
}

// verifySeatsLocked is the fail-loud invariant guard: positions must be the
// dense permutation [0,n), occupants unique, stacks non-negative and the seat
// count within the limit. Violations are never silently repaired.
func (t *Table) verifySeatsLocked() error {
	if len(t.seats) > t.cfg.SeatLimit {
		return fmt.Errorf("%w: %d seats exceed limit %d", ErrInternalState, len(t.seats), t.cfg.SeatLimit)
	}
	seen := make(map[uint64]bool, len(t.seats))
	for i, seat := range t.seats {
		if seat.Position != i {
			return fmt.Errorf("%w: seat %d has position %d", ErrInternalState, i, seat.Position)
		}
		if seen[seat.UserID] {
			return fmt.Errorf("%w: user %d seated twice", ErrInternalState, seat.UserID)
		}
		seen[seat.UserID] = true
		if seat.Chips < 0 {
			return fmt.Errorf("%w: negative stack %d for user %d", ErrInternalState, seat.Chips, seat.UserID)
		}
	}
	return nil
}
