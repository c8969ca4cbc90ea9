package redemption

import (
	"context"
	"time"
)

// Event is one accepted redemption. Events are append-only: never mutated,
// never deleted, so the table doubles as the audit trail.
type Event struct {
	ID             string
	CredentialID   string
	WindowID       string
	RedeemedAt     time.Time
	DeviceID       string
	IdempotencyKey string
}

// RecordInput describes one attempt to append a redemption event.
type RecordInput struct {
	EventID          string
	CredentialID     string
	WindowID         string
	DeviceID         string
	IdempotencyKey   string
	Now              time.Time
	MaxPerCredential int
}

// RecordStatus is the result class of a RecordEvent call.
type RecordStatus int

const (
	// RecordInserted means a new event was appended (the scan won).
	RecordInserted RecordStatus = iota
	// RecordReplayed means an event with this idempotency key already
	// existed for the credential+window; no new row was created.
	RecordReplayed
	// RecordLimitReached means the per-credential limit was already met;
	// no row was created.
	RecordLimitReached
)

// RecordResult carries the event backing an inserted or replayed record.
type RecordResult struct {
	Status RecordStatus
	Event  Event
}

// Store is the persistence boundary for windows and redemption events.
//
// RecordEvent must be atomic: the count-per-(credential,window) check and
// the insert execute as one serialized unit per credential, so the count
// of events never exceeds MaxPerCredential even with concurrent callers.
// Implementations return ErrUnknownCredential when the credential does not
// exist at record time.
type Store interface {
	CreateWindow(ctx context.Context, w Window) error
	GetWindow(ctx context.Context, windowID string) (Window, error)
	ListWindows(ctx context.Context) ([]Window, error)

	FindEventByKey(ctx context.Context, credentialID, windowID, idempotencyKey string) (Event, error)
	RecordEvent(ctx context.Context, in RecordInput) (RecordResult, error)

	// CountEvents returns the number of accepted events for one
	// credential+window pair.
	CountEvents(ctx context.Context, credentialID, windowID string) (int, error)

	// LatestEventTime returns the redeemed_at of the credential's most
	// recent event across all windows, for pass version computation.
	// ok is false when the credential has no events yet.
	LatestEventTime(ctx context.Context, credentialID string) (t time.Time, ok bool, err error)
}
