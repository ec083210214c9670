package auth

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

	"golang.org/x/crypto/bcrypt"
)

const defaultLocalDBName = "pokerhall_local.db"

type SQLiteManager struct {
	db         *sql.DB
	sessionTTL time.Duration
}

func NewSQLiteManager(dbPath string, sessionTTL time.Duration) (*SQLiteManager, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		fallback, err := defaultDatabasePath()
		if err != nil {
			return nil, err
		}
		dbPath = fallback
	}
	if sessionTTL <= 0 {
		sessionTTL = defaultSessionTTL
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
	if err := ensureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteManager{db: db, sessionTTL: sessionTTL}, nil
}

func (m *SQLiteManager) Close() error {
	if m == nil || m.db == nil {
		return nil
	}
	return m.db.Close()
}

func (m *SQLiteManager) Register(username, password string) (Account, string, error) {
	if err := validateUsername(username); err != nil {
		return Account{}, "", err
	}
	if err := validatePassword(password); err != nil {
		return Account{}, "", err
	}

	normalized := normalizeUsername(username)
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Account{}, "", err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return Account{}, "", err
	}
	defer tx.Rollback()

	nowMs := time.Now().UTC().UnixMilli()
	res, err := tx.ExecContext(ctx, `
INSERT INTO accounts (username, role, password_hash, created_at_ms, last_login_at_ms)
VALUES (?, ?, ?, ?, ?)
`, normalized, RoleUser, string(passwordHash), nowMs, nowMs)
	if err != nil {
		if isUniqueViolation(err) {
			return Account{}, "", ErrUsernameTaken
		}
		return Account{}, "", err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Account{}, "", err
	}

	account := Account{ID: uint64(id), Username: normalized, Role: RoleUser}
	token, err := m.issueSessionTx(ctx, tx, account.ID, nowMs)
	if err != nil {
		return Account{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return Account{}, "", err
	}
	return account, token, nil
}

func (m *SQLiteManager) Login(username, password string) (Account, string, error) {
	normalized := normalizeUsername(username)
	if normalized == "" || password == "" {
		return Account{}, "", ErrInvalidCredentials
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var account Account
	var passwordHash string
	err := m.db.QueryRowContext(ctx, `
SELECT id, username, role, password_hash
FROM accounts
WHERE username = ?
`, normalized).Scan(&account.ID, &account.Username, &account.Role, &passwordHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, "", ErrInvalidCredentials
		}
		return Account{}, "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)) != nil {
		return Account{}, "", ErrInvalidCredentials
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return Account{}, "", err
	}
	defer tx.Rollback()

	nowMs := time.Now().UTC().UnixMilli()
	if _, err := tx.ExecContext(ctx, `
UPDATE accounts SET last_login_at_ms = ? WHERE id = ?
`, nowMs, account.ID); err != nil {
		return Account{}, "", err
	}

	token, err := m.issueSessionTx(ctx, tx, account.ID, nowMs)
	if err != nil {
		return Account{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return Account{}, "", err
	}
	return account, token, nil
}

func (m *SQLiteManager) ResolveSession(token string) (Account, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Account{}, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	nowMs := time.Now().UTC().UnixMilli()
	expiresAtMs := nowMs + m.sessionTTL.Milliseconds()

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return Account{}, false
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
UPDATE sessions
SET expires_at_ms = ?
WHERE token = ?
  AND expires_at_ms > ?
`, expiresAtMs, token, nowMs)
	if err != nil {
		return Account{}, false
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil || rowsAffected == 0 {
		return Account{}, false
	}

	var account Account
	err = tx.QueryRowContext(ctx, `
SELECT a.id, a.username, a.role
FROM sessions AS s
JOIN accounts AS a ON a.id = s.account_id
WHERE s.token = ?
`, token).Scan(&account.ID, &account.Username, &account.Role)
	if err != nil {
		return Account{}, false
	}
	if err := tx.Commit(); err != nil {
		return Account{}, false
	}
	return account, true
}

func (m *SQLiteManager) Logout(token string) {
	token = strings.TrimSpace(token)
	if token == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _ = m.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token)
}

func (m *SQLiteManager) EnsureAdmin(username, password string) (Account, error) {
	if err := validateUsername(username); err != nil {
		return Account{}, err
	}
	if err := validatePassword(password); err != nil {
		return Account{}, err
	}

	normalized := normalizeUsername(username)
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Account{}, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	nowMs := time.Now().UTC().UnixMilli()
	if _, err := m.db.ExecContext(ctx, `
INSERT INTO accounts (username, role, password_hash, created_at_ms, last_login_at_ms)
VALUES (?, ?, ?, ?, NULL)
ON CONFLICT(username) DO UPDATE SET
    role = excluded.role,
    password_hash = excluded.password_hash
`, normalized, RoleAdmin, string(passwordHash), nowMs); err != nil {
		return Account{}, err
	}

	var account Account
	err = m.db.QueryRowContext(ctx, `
SELECT id, username, role FROM accounts WHERE username = ?
`, normalized).Scan(&account.ID, &account.Username, &account.Role)
	if err != nil {
		return Account{}, err
	}
	return account, nil
}

func (m *SQLiteManager) issueSessionTx(ctx context.Context, tx *sql.Tx, accountID uint64, nowMs int64) (string, error) {
	expiresAtMs := nowMs + m.sessionTTL.Milliseconds()
	for i := 0; i < 5; i++ {
		token := mustToken()
		if _, err := tx.ExecContext(ctx, `
INSERT INTO sessions (token, account_id, issued_at_ms, expires_at_ms)
VALUES (?, ?, ?, ?)
`, token, accountID, nowMs, expiresAtMs); err != nil {
			if isUniqueViolation(err) {
				continue
			}
			return "", err
		}
		return token, nil
	}
	return "", fmt.Errorf("failed to generate unique session token")
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`
CREATE TABLE IF NOT EXISTS accounts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    username TEXT NOT NULL UNIQUE,
    role TEXT NOT NULL DEFAULT 'user',
    password_hash TEXT NOT NULL,
    created_at_ms INTEGER NOT NULL,
    last_login_at_ms INTEGER
)`,
		`
CREATE TABLE IF NOT EXISTS sessions (
    token TEXT PRIMARY KEY,
    account_id INTEGER NOT NULL,
    issued_at_ms INTEGER NOT NULL,
    expires_at_ms INTEGER NOT NULL,
    FOREIGN KEY(account_id) REFERENCES accounts(id) ON DELETE CASCADE
)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_account ON sessions(account_id, expires_at_ms DESC)`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func defaultDatabasePath() (string, error) {
	candidates := []string{
		strings.TrimSpace(os.Getenv("AUTH_LOCAL_DATABASE_PATH")),
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

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
