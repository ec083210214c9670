package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	defaultSessionTTL = 30 * 24 * time.Hour
	tokenBytes        = 32
)

var (
	ErrInvalidUsername    = errors.New("invalid username")
	ErrInvalidPassword    = errors.New("invalid password")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9_.-]{2,31}$`)

// Manager provides in-memory account/session management for single-binary
// deployment and tests.
type Manager struct {
	mu sync.Mutex

	nextAccountID uint64
	sessionTTL    time.Duration
	sessions      map[string]sessionRecord
	accountsByID  map[uint64]accountRecord
	accountsByKey map[string]uint64
}

type sessionRecord struct {
	AccountID uint64
	ExpiresAt time.Time
}

type accountRecord struct {
	AccountID    uint64
	Username     string
	Role         string
	PasswordHash []byte
	LastLoginAt  time.Time
}

func NewManager(sessionTTL time.Duration) *Manager {
	if sessionTTL <= 0 {
		sessionTTL = defaultSessionTTL
	}
	return &Manager{
		nextAccountID: 100000, // start from a readable non-trivial range
		sessionTTL:    sessionTTL,
		sessions:      make(map[string]sessionRecord),
		accountsByID:  make(map[uint64]accountRecord),
		accountsByKey: make(map[string]uint64),
	}
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func validateUsername(username string) error {
	if !usernamePattern.MatchString(strings.TrimSpace(username)) {
		return ErrInvalidUsername
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < 6 || len(password) > 72 {
		return ErrInvalidPassword
	}
	return nil
}

func (m *Manager) issueSessionLocked(accountID uint64, now time.Time) string {
	token := mustToken()
	m.sessions[token] = sessionRecord{
		AccountID: accountID,
		ExpiresAt: now.Add(m.sessionTTL),
	}
	return token
}

func (rec accountRecord) account() Account {
	return Account{ID: rec.AccountID, Username: rec.Username, Role: rec.Role}
}

// Register creates a new account with the user role and an authenticated
// session.
func (m *Manager) Register(username, password string) (Account, string, error) {
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

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.accountsByKey[normalized]; exists {
		return Account{}, "", ErrUsernameTaken
	}

	m.nextAccountID++
	now := time.Now()
	rec := accountRecord{
		AccountID:    m.nextAccountID,
		Username:     normalized,
		Role:         RoleUser,
		PasswordHash: passwordHash,
		LastLoginAt:  now,
	}
	m.accountsByID[rec.AccountID] = rec
	m.accountsByKey[normalized] = rec.AccountID

	token := m.issueSessionLocked(rec.AccountID, now)
	return rec.account(), token, nil
}

// Login validates credentials and returns a fresh session.
func (m *Manager) Login(username, password string) (Account, string, error) {
	normalized := normalizeUsername(username)
	if normalized == "" || password == "" {
		return Account{}, "", ErrInvalidCredentials
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	accountID, exists := m.accountsByKey[normalized]
	if !exists {
		return Account{}, "", ErrInvalidCredentials
	}
	rec := m.accountsByID[accountID]
	if len(rec.PasswordHash) == 0 {
		return Account{}, "", ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword(rec.PasswordHash, []byte(password)) != nil {
		return Account{}, "", ErrInvalidCredentials
	}

	now := time.Now()
	rec.LastLoginAt = now
	m.accountsByID[accountID] = rec
	token := m.issueSessionLocked(accountID, now)
	return rec.account(), token, nil
}

// ResolveSession validates a token and slides its expiry forward.
func (m *Manager) ResolveSession(token string) (Account, bool) {
	if token == "" {
		return Account{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	rec, exists := m.sessions[token]
	if !exists {
		return Account{}, false
	}
	if !now.Before(rec.ExpiresAt) {
		delete(m.sessions, token)
		return Account{}, false
	}
	rec.ExpiresAt = now.Add(m.sessionTTL)
	m.sessions[token] = rec

	return m.accountsByID[rec.AccountID].account(), true
}

// Logout invalidates a session token.
func (m *Manager) Logout(token string) {
	if token == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
}

// EnsureAdmin creates the bootstrap admin if absent, or promotes an existing
// account of the same name and resets its password.
func (m *Manager) EnsureAdmin(username, password string) (Account, error) {
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

	m.mu.Lock()
	defer m.mu.Unlock()

	if accountID, exists := m.accountsByKey[normalized]; exists {
		rec := m.accountsByID[accountID]
		rec.Role = RoleAdmin
		rec.PasswordHash = passwordHash
		m.accountsByID[accountID] = rec
		return rec.account(), nil
	}

	m.nextAccountID++
	rec := accountRecord{
		AccountID:    m.nextAccountID,
		Username:     normalized,
		Role:         RoleAdmin,
		PasswordHash: passwordHash,
	}
	m.accountsByID[rec.AccountID] = rec
	m.accountsByKey[normalized] = rec.AccountID
	return rec.account(), nil
}

func (m *Manager) Close() error { return nil }

func mustToken() string {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
