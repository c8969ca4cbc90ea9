package wallet

import (
	"context"
	"time"
)

// Registration is one device holding one installed pass.
//
// The (device, pass type, credential) triple is unique. Re-registering an
// existing triple refreshes the push token and is not an error.
type Registration struct {
	DeviceLibraryID string
	PassTypeID      string
	CredentialID    string
	PushToken       string
	RegisteredAt    time.Time
}

// RegisterInput is a normalized registration upsert payload.
type RegisterInput struct {
	DeviceLibraryID string
	PassTypeID      string
	CredentialID    string
	PushToken       string
	Now             time.Time
}

// Store is the persistence boundary for wallet registrations.
type Store interface {
	// Register upserts the triple. Created reports whether the triple was
	// new; false means an existing registration had its token refreshed.
	Register(ctx context.Context, in RegisterInput) (created bool, err error)

	// Unregister removes the triple. Removing an absent triple is not an
	// error; removed reports whether a row existed.
	Unregister(ctx context.Context, deviceLibraryID, passTypeID, credentialID string) (removed bool, err error)

	// UnregisterToken removes every registration carrying the push token.
	// Used when the push transport reports the token permanently invalid.
	UnregisterToken(ctx context.Context, pushToken string) (removed int, err error)

	// ListByCredential returns all registrations for one credential.
	ListByCredential(ctx context.Context, credentialID string) ([]Registration, error)

	// ListCredentialsForDevice returns the credential ids registered by a
	// device under a pass type, in registration order.
	ListCredentialsForDevice(ctx context.Context, deviceLibraryID, passTypeID string) ([]string, error)
}
