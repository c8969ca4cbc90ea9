package redemption

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// InMemoryStore is a dev/test fallback when DB is not configured.
// The single mutex plays the role of the per-credential row lock: the
// count-then-insert decision is atomic with respect to other callers.
type InMemoryStore struct {
	mu          sync.Mutex
	windows     map[string]Window
	events      []Event
	byKey       map[string]Event // credential|window|key -> event
	credentials map[string]bool
}

// NewInMemoryStore constructs an in-memory Store implementation.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		windows:     make(map[string]Window),
		byKey:       make(map[string]Event),
		credentials: make(map[string]bool),
	}
}

// AddCredential registers a credential id so RecordEvent can resolve it.
// The Postgres store reads the credentials table instead.
func (s *InMemoryStore) AddCredential(credentialID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[credentialID] = true
}

func eventKey(credentialID, windowID, idempotencyKey string) string {
	return credentialID + "|" + windowID + "|" + idempotencyKey
}

// CreateWindow inserts a redemption window.
func (s *InMemoryStore) CreateWindow(ctx context.Context, w Window) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(w.ID) == "" || w.MaxPerCredential < 1 || !w.ClosesAt.After(w.OpensAt) {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows[w.ID] = w
	return nil
}

// GetWindow loads one window by ID.
func (s *InMemoryStore) GetWindow(ctx context.Context, windowID string) (Window, error) {
	if err := ctx.Err(); err != nil {
		return Window{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[strings.TrimSpace(windowID)]
	if !ok {
		return Window{}, ErrWindowNotFound
	}
	return w, nil
}

// ListWindows returns all windows ordered by opening time.
func (s *InMemoryStore) ListWindows(ctx context.Context) ([]Window, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Window, 0, len(s.windows))
	for _, w := range s.windows {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpensAt.Equal(out[j].OpensAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OpensAt.Before(out[j].OpensAt)
	})
	return out, nil
}

// FindEventByKey looks up an event by its client idempotency key.
func (s *InMemoryStore) FindEventByKey(ctx context.Context, credentialID, windowID, idempotencyKey string) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byKey[eventKey(credentialID, windowID, idempotencyKey)]
	if !ok {
		return Event{}, ErrEventNotFound
	}
	return e, nil
}

// RecordEvent runs the atomic count-then-insert decision.
func (s *InMemoryStore) RecordEvent(ctx context.Context, in RecordInput) (RecordResult, error) {
	if err := ctx.Err(); err != nil {
		return RecordResult{}, err
	}
	if strings.TrimSpace(in.EventID) == "" ||
		strings.TrimSpace(in.CredentialID) == "" ||
		strings.TrimSpace(in.WindowID) == "" ||
		strings.TrimSpace(in.IdempotencyKey) == "" ||
		in.MaxPerCredential < 1 {
		return RecordResult{}, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.credentials[in.CredentialID] {
		return RecordResult{}, ErrUnknownCredential
	}

	if e, ok := s.byKey[eventKey(in.CredentialID, in.WindowID, in.IdempotencyKey)]; ok {
		return RecordResult{Status: RecordReplayed, Event: e}, nil
	}

	count := 0
	for _, e := range s.events {
		if e.CredentialID == in.CredentialID && e.WindowID == in.WindowID {
			count++
		}
	}
	if count >= in.MaxPerCredential {
		return RecordResult{Status: RecordLimitReached}, nil
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	e := Event{
		ID:             in.EventID,
		CredentialID:   in.CredentialID,
		WindowID:       in.WindowID,
		RedeemedAt:     now,
		DeviceID:       in.DeviceID,
		IdempotencyKey: in.IdempotencyKey,
	}
	s.events = append(s.events, e)
	s.byKey[eventKey(in.CredentialID, in.WindowID, in.IdempotencyKey)] = e

	return RecordResult{Status: RecordInserted, Event: e}, nil
}

// CountEvents counts accepted events for a credential+window pair.
func (s *InMemoryStore) CountEvents(ctx context.Context, credentialID, windowID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.CredentialID == credentialID && e.WindowID == windowID {
			n++
		}
	}
	return n, nil
}

// LatestEventTime returns the most recent redeemed_at for a credential.
func (s *InMemoryStore) LatestEventTime(ctx context.Context, credentialID string) (time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest time.Time
	found := false
	for _, e := range s.events {
		if e.CredentialID == credentialID && (!found || e.RedeemedAt.After(latest)) {
			latest = e.RedeemedAt
			found = true
		}
	}
	return latest, found, nil
}
