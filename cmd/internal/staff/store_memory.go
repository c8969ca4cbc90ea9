package staff

import (
	"context"
	"strings"
	"sync"
	"time"
)

// InMemoryStore is a map-backed Store for tests and DB-less dev mode.
type InMemoryStore struct {
	mu         sync.Mutex
	accounts   map[string]Account // by id
	byUsername map[string]string  // username_norm -> id
	tokens     map[string]DeviceToken
	byHash     map[string]string // token_hash -> token id
}

// NewInMemoryStore constructs an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		accounts:   make(map[string]Account),
		byUsername: make(map[string]string),
		tokens:     make(map[string]DeviceToken),
		byHash:     make(map[string]string),
	}
}

func (s *InMemoryStore) CreateAccount(ctx context.Context, in CreateAccountRecord) (Account, error) {
	if s == nil {
		return Account{}, ErrInvalidInput
	}
	username := strings.TrimSpace(in.Username)
	if strings.TrimSpace(in.ID) == "" || username == "" || strings.TrimSpace(in.PasswordHash) == "" {
		return Account{}, ErrInvalidInput
	}
	createdAt := in.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	norm := normalizeUsername(username)
	if _, taken := s.byUsername[norm]; taken {
		return Account{}, ErrUsernameTaken
	}
	acct := Account{
		ID:           in.ID,
		Username:     username,
		PasswordHash: in.PasswordHash,
		Roles:        append([]string(nil), in.Roles...),
		CreatedAt:    createdAt,
	}
	s.accounts[acct.ID] = acct
	s.byUsername[norm] = acct.ID
	return acct, nil
}

func (s *InMemoryStore) GetAccountByID(ctx context.Context, staffID string) (Account, error) {
	if s == nil {
		return Account{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[staffID]
	if !ok {
		return Account{}, ErrNotFound
	}
	return acct, nil
}

func (s *InMemoryStore) GetAccountByUsername(ctx context.Context, username string) (Account, error) {
	if s == nil {
		return Account{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byUsername[normalizeUsername(username)]
	if !ok {
		return Account{}, ErrNotFound
	}
	return s.accounts[id], nil
}

func (s *InMemoryStore) CreateDeviceToken(ctx context.Context, in CreateTokenRecord) (DeviceToken, error) {
	if s == nil {
		return DeviceToken{}, ErrInvalidInput
	}
	if strings.TrimSpace(in.ID) == "" ||
		strings.TrimSpace(in.StaffID) == "" ||
		strings.TrimSpace(in.TokenHash) == "" ||
		!in.ExpiresAt.After(in.CreatedAt) {
		return DeviceToken{}, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := DeviceToken{
		ID:        in.ID,
		StaffID:   in.StaffID,
		TokenHash: in.TokenHash,
		DeviceID:  in.DeviceID,
		CreatedAt: in.CreatedAt,
		ExpiresAt: in.ExpiresAt,
	}
	s.tokens[t.ID] = t
	s.byHash[t.TokenHash] = t.ID
	return t, nil
}

func (s *InMemoryStore) GetDeviceTokenByHash(ctx context.Context, tokenHash string) (DeviceToken, error) {
	if s == nil {
		return DeviceToken{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byHash[tokenHash]
	if !ok {
		return DeviceToken{}, ErrNotFound
	}
	return s.tokens[id], nil
}

func (s *InMemoryStore) RevokeDeviceToken(ctx context.Context, tokenID string, now time.Time) error {
	if s == nil {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[tokenID]
	if !ok || t.RevokedAt != nil {
		return nil
	}
	revoked := now
	t.RevokedAt = &revoked
	s.tokens[tokenID] = t
	return nil
}

func (s *InMemoryStore) RevokeAllDeviceTokens(ctx context.Context, staffID string, now time.Time) error {
	if s == nil {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, t := range s.tokens {
		if t.StaffID == staffID && t.RevokedAt == nil {
			revoked := now
			t.RevokedAt = &revoked
			s.tokens[id] = t
		}
	}
	return nil
}
