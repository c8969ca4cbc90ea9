package credential

import (
	"context"
	"time"
)

// Credential is one attendee's scannable credential.
type Credential struct {
	ID            string
	OwnerUserID   string
	PassTokenHash string
	IssuedAt      time.Time
}

// CreateRecord is a normalized credential insert payload.
type CreateRecord struct {
	ID            string
	OwnerUserID   string
	PassTokenHash string
	IssuedAt      time.Time
}

// Store is the persistence boundary for credentials.
//
// Implementations must enforce at most one credential per owner:
// Create for an owner that already has a credential returns
// ErrAlreadyIssued without side effects.
type Store interface {
	Create(ctx context.Context, in CreateRecord) (Credential, error)
	GetByID(ctx context.Context, credentialID string) (Credential, error)
	GetByOwner(ctx context.Context, ownerUserID string) (Credential, error)
}
