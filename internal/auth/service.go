package auth

import (
	"fmt"
	"strings"
	"time"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Account is the resolved identity behind a session token.
type Account struct {
	ID       uint64
	Username string
	Role     string
}

// Service is the account/session contract consumed by the gateway and HTTP
// handlers.
type Service interface {
	Register(username, password string) (Account, string, error)
	Login(username, password string) (Account, string, error)
	ResolveSession(token string) (Account, bool)
	Logout(token string)

	// EnsureAdmin creates or promotes the bootstrap admin account.
	EnsureAdmin(username, password string) (Account, error)

	Close() error
}

const (
	ModeMemory = "memory"
	ModeSQLite = "sqlite"
)

type Config struct {
	Mode       string
	DBPath     string
	SessionTTL time.Duration
}

func NewService(cfg Config) (Service, string, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	switch mode {
	case ModeSQLite, "db", "":
		manager, err := NewSQLiteManager(cfg.DBPath, cfg.SessionTTL)
		if err != nil {
			return nil, ModeSQLite, err
		}
		return manager, ModeSQLite, nil
	case ModeMemory, "mem":
		return NewManager(cfg.SessionTTL), ModeMemory, nil
	default:
		return nil, mode, fmt.Errorf("invalid auth mode %q (supported: %s, %s)", cfg.Mode, ModeMemory, ModeSQLite)
	}
}
