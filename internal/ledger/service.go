package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrUnavailable         = errors.New("ledger unavailable")
	ErrInvalidAmount       = errors.New("invalid amount")
)

// Service is the balance-of-record contract consumed by tables and HTTP
// handlers. Debit and Credit are the only mutations the table core performs;
// both must either fully apply or fail with no balance change.
type Service interface {
	Debit(ctx context.Context, userID uint64, amount int64) error
	Credit(ctx context.Context, userID uint64, amount int64) error
	Balance(ctx context.Context, userID uint64) (int64, error)
	Close() error
}

const (
	ModeMemory   = "memory"
	ModeSQLite   = "sqlite"
	ModePostgres = "postgres"
)

// Config carries the knobs the factory needs. DBPath backs the sqlite mode,
// DSN the postgres mode.
type Config struct {
	Mode   string
	DBPath string
	DSN    string
}

func NewService(cfg Config) (Service, string, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	switch mode {
	case "", ModeMemory, "mem":
		return NewMemoryService(), ModeMemory, nil
	case ModeSQLite, "local":
		service, err := NewSQLiteService(cfg.DBPath)
		if err != nil {
			return nil, "", err
		}
		return service, ModeSQLite, nil
	case ModePostgres, "db", "postgresql":
		service, err := NewPostgresService(cfg.DSN)
		if err != nil {
			return nil, "", err
		}
		return service, ModePostgres, nil
	default:
		return nil, "", fmt.Errorf("invalid ledger mode %q (supported: %s, %s, %s)",
			mode, ModeMemory, ModeSQLite, ModePostgres)
	}
}

// MemoryService keeps balances in a map. Used for single-binary deployments
// and tests; it can be swapped for persistent storage without changing table
// contracts.
type MemoryService struct {
	mu       sync.Mutex
	balances map[uint64]int64
}

func NewMemoryService() *MemoryService {
	return &MemoryService{balances: make(map[uint64]int64)}
}

func (m *MemoryService) Debit(_ context.Context, userID uint64, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balances[userID] < amount {
		return ErrInsufficientBalance
	}
	m.balances[userID] -= amount
	return nil
}

func (m *MemoryService) Credit(_ context.Context, userID uint64, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[userID] += amount
	return nil
}

func (m *MemoryService) Balance(_ context.Context, userID uint64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[userID], nil
}

func (m *MemoryService) Close() error { return nil }
