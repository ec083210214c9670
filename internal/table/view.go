package table

import "time"

// Summary is the lobby-listing projection: no seat details beyond the count
// and never the access secret.
type Summary struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Variant    Variant    `json:"variant"`
	OwnerID    uint64     `json:"owner_id"`
	OwnerName  string     `json:"owner_name"`
	SeatLimit  int        `json:"seat_limit"`
	SeatCount  int        `json:"seat_count"`
	Blinds     Blinds     `json:"blinds"`
	BuyIn      BuyInRange `json:"buy_in"`
	Private    bool       `json:"private"`
	Phase      Phase      `json:"phase"`
	Pot        int64      `json:"pot"`
	CreatedAt  time.Time  `json:"created_at"`
	LastActive time.Time  `json:"last_active"`
}

// Snapshot is the full detail projection handed to occupants and spectators.
type Snapshot struct {
	Summary
	Seats []Seat `json:"seats"`
}

func (t *Table) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.summaryLocked()
}

func (t *Table) summaryLocked() Summary {
	return Summary{
		ID:         t.id,
		Name:       t.cfg.Name,
		Variant:    t.cfg.Variant,
		OwnerID:    t.ownerID,
		OwnerName:  t.ownerName,
		SeatLimit:  t.cfg.SeatLimit,
		SeatCount:  len(t.seats),
		Blinds:     t.cfg.Blinds,
		BuyIn:      t.cfg.BuyIn,
		Private:    t.cfg.Private,
		Phase:      t.phase,
		Pot:        t.pot,
		CreatedAt:  t.createdAt,
		LastActive: t.lastActivity,
	}
}

func (t *Table) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	seats := make([]Seat, len(t.seats))
	copy(seats, t.seats)
	return Snapshot{Summary: t.summaryLocked(), Seats: seats}
}
