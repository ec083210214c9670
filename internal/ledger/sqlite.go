package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const defaultLocalDBName = "pokerhall_local.db"

type SQLiteService struct {
	db *sql.DB
}

func NewSQLiteService(dbPath string) (*SQLiteService, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		resolved, err := localDatabasePath()
		if err != nil {
			return nil, err
		}
		dbPath = resolved
	}
	if dbPath != ":memory:" {
		parent := filepath.Dir(dbPath)
		if parent != "" && parent != "." {
			if err := os.MkdirAll(parent, 0o755); err != nil {
				return nil, err
			}
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, pragma := range []string{
		`PRAGMA busy_timeout = 5000;`,
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA foreign_keys = ON;`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := ensureSQLiteLedgerSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteService{db: db}, nil
}

func (s *SQLiteService) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteService) Debit(ctx context.Context, userID uint64, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	nowMs := time.Now().UTC().UnixMilli()

	res, err := s.db.ExecContext(ctx, `
UPDATE ledger_accounts
SET balance = balance - ?,
    updated_at_ms = ?
WHERE user_id = ?
  AND balance >= ?
`, amount, nowMs, userID, amount)
	if err != nil {
		return fmt.Errorf("debit user %d: %w", userID, ErrUnavailable)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("debit user %d: %w", userID, ErrUnavailable)
	}
	if affected == 0 {
		return ErrInsufficientBalance
	}
	return nil
}

func (s *SQLiteService) Credit(ctx context.Context, userID uint64, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	nowMs := time.Now().UTC().UnixMilli()

	_, err := s.db.ExecContext(ctx, `
INSERT INTO ledger_accounts (user_id, balance, created_at_ms, updated_at_ms)
VALUES (?, ?, ?, ?)
ON CONFLICT (user_id) DO UPDATE
SET balance = ledger_accounts.balance + excluded.balance,
    updated_at_ms = excluded.updated_at_ms
`, userID, amount, nowMs, nowMs)
	if err != nil {
		return fmt.Errorf("credit user %d: %w", userID, ErrUnavailable)
	}
	return nil
}

func (s *SQLiteService) Balance(ctx context.Context, userID uint64) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx, `
SELECT balance
FROM ledger_accounts
WHERE user_id = ?
`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("balance user %d: %w", userID, ErrUnavailable)
	}
	return balance, nil
}

func ensureSQLiteLedgerSchema(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`
CREATE TABLE IF NOT EXISTS ledger_accounts (
    user_id INTEGER PRIMARY KEY,
    balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
    created_at_ms INTEGER NOT NULL,
    updated_at_ms INTEGER NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_accounts_updated ON ledger_accounts(updated_at_ms)`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func localDatabasePath() (string, error) {
	candidates := []string{
		strings.TrimSpace(os.Getenv("LEDGER_LOCAL_DATABASE_PATH")),
		strings.TrimSpace(os.Getenv("LOCAL_DATABASE_PATH")),
	}
	for _, candidate := range candidates {
		if candidate != "" {
			return filepath.Clean(candidate), nil
		}
	}

	userConfigDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(userConfigDir, "pokerhall", defaultLocalDBName), nil
}
