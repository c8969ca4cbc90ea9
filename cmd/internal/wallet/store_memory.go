package wallet

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// InMemoryStore is a map-backed Store for tests and DB-less dev mode.
type InMemoryStore struct {
	mu   sync.Mutex
	regs map[string]Registration // key: dlid|ptid|credID
}

// NewInMemoryStore constructs an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{regs: make(map[string]Registration)}
}

func regKey(dlid, ptid, credID string) string {
	return dlid + "|" + ptid + "|" + credID
}

func (s *InMemoryStore) Register(ctx context.Context, in RegisterInput) (bool, error) {
	if s == nil {
		return false, ErrInvalidInput
	}
	if strings.TrimSpace(in.DeviceLibraryID) == "" ||
		strings.TrimSpace(in.PassTypeID) == "" ||
		strings.TrimSpace(in.CredentialID) == "" ||
		strings.TrimSpace(in.PushToken) == "" {
		return false, ErrInvalidInput
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := regKey(in.DeviceLibraryID, in.PassTypeID, in.CredentialID)
	if existing, ok := s.regs[key]; ok {
		existing.PushToken = in.PushToken
		s.regs[key] = existing
		return false, nil
	}
	s.regs[key] = Registration{
		DeviceLibraryID: in.DeviceLibraryID,
		PassTypeID:      in.PassTypeID,
		CredentialID:    in.CredentialID,
		PushToken:       in.PushToken,
		RegisteredAt:    now,
	}
	return true, nil
}

func (s *InMemoryStore) Unregister(ctx context.Context, deviceLibraryID, passTypeID, credentialID string) (bool, error) {
	if s == nil {
		return false, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := regKey(deviceLibraryID, passTypeID, credentialID)
	if _, ok := s.regs[key]; !ok {
		return false, nil
	}
	delete(s.regs, key)
	return true, nil
}

func (s *InMemoryStore) UnregisterToken(ctx context.Context, pushToken string) (int, error) {
	if s == nil {
		return 0, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, reg := range s.regs {
		if reg.PushToken == pushToken {
			delete(s.regs, key)
			removed++
		}
	}
	return removed, nil
}

func (s *InMemoryStore) ListByCredential(ctx context.Context, credentialID string) ([]Registration, error) {
	if s == nil {
		return nil, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Registration
	for _, reg := range s.regs {
		if reg.CredentialID == credentialID {
			out = append(out, reg)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].RegisteredAt.Before(out[j].RegisteredAt)
		}
		return out[i].DeviceLibraryID < out[j].DeviceLibraryID
	})
	return out, nil
}

func (s *InMemoryStore) ListCredentialsForDevice(ctx context.Context, deviceLibraryID, passTypeID string) ([]string, error) {
	if s == nil {
		return nil, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var regs []Registration
	for _, reg := range s.regs {
		if reg.DeviceLibraryID == deviceLibraryID && reg.PassTypeID == passTypeID {
			regs = append(regs, reg)
		}
	}
	sort.Slice(regs, func(i, j int) bool {
		if !regs[i].RegisteredAt.Equal(regs[j].RegisteredAt) {
			return regs[i].RegisteredAt.Before(regs[j].RegisteredAt)
		}
		return regs[i].CredentialID < regs[j].CredentialID
	})

	out := make([]string, 0, len(regs))
	for _, reg := range regs {
		out = append(out, reg.CredentialID)
	}
	return out, nil
}
