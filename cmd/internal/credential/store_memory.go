package credential

import (
	"context"
	"strings"
	"sync"
)

// InMemoryStore is a dev/test fallback when DB is not configured.
type InMemoryStore struct {
	mu      sync.Mutex
	byID    map[string]Credential
	byOwner map[string]string // owner_user_id -> credential id
}

// NewInMemoryStore constructs an in-memory Store implementation.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:    make(map[string]Credential),
		byOwner: make(map[string]string),
	}
}

// Create inserts a credential, enforcing one per owner.
func (s *InMemoryStore) Create(ctx context.Context, in CreateRecord) (Credential, error) {
	if err := ctx.Err(); err != nil {
		return Credential{}, err
	}
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.OwnerUserID) == "" || strings.TrimSpace(in.PassTokenHash) == "" {
		return Credential{}, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byOwner[in.OwnerUserID]; ok {
		return Credential{}, ErrAlreadyIssued
	}
	if _, ok := s.byID[in.ID]; ok {
		return Credential{}, ErrAlreadyIssued
	}

	c := Credential{
		ID:            in.ID,
		OwnerUserID:   in.OwnerUserID,
		PassTokenHash: in.PassTokenHash,
		IssuedAt:      in.IssuedAt,
	}
	s.byID[c.ID] = c
	s.byOwner[c.OwnerUserID] = c.ID
	return c, nil
}

// GetByID loads a credential by ID.
func (s *InMemoryStore) GetByID(ctx context.Context, credentialID string) (Credential, error) {
	if err := ctx.Err(); err != nil {
		return Credential{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[strings.TrimSpace(credentialID)]
	if !ok {
		return Credential{}, ErrNotFound
	}
	return c, nil
}

// GetByOwner loads a credential by owning user.
func (s *InMemoryStore) GetByOwner(ctx context.Context, ownerUserID string) (Credential, error) {
	if err := ctx.Err(); err != nil {
		return Credential{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byOwner[strings.TrimSpace(ownerUserID)]
	if !ok {
		return Credential{}, ErrNotFound
	}
	return s.byID[id], nil
}
