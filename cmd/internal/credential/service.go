package credential

import (
	"context"
	"crypto/rand"
	"errors"
	"strings"
	"time"

	"lanyard/cmd/security/token"

	"github.com/oklog/ulid/v2"
)

const passTokenBytes = 32

// IssueInput describes a credential issuance request.
type IssueInput struct {
	OwnerUserID string
	Now         time.Time
}

// Issued is the result of issuing a credential.
//
// PassToken is the plaintext pass-scoped bearer token. It is returned
// exactly once, at creation time; only its hash is stored. On an
// idempotent re-issue (Created=false) PassToken is empty, because the
// original plaintext cannot be recovered.
type Issued struct {
	Credential Credential
	PassToken  string
	Created    bool
}

// Service implements credential issuance and lookup.
type Service struct {
	store Store
}

// NewService constructs a Service.
func NewService(store Store) (*Service, error) {
	if store == nil {
		return nil, ErrInvalidInput
	}
	return &Service{store: store}, nil
}

// Issue creates the credential for a user, or returns the existing one.
//
// Issuance is idempotent per owner: the credential ID is stable for the
// lifetime of the user because wallet passes cache it.
func (s *Service) Issue(ctx context.Context, in IssueInput) (Issued, error) {
	if s == nil || s.store == nil {
		return Issued{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Issued{}, err
	}
	owner := strings.TrimSpace(in.OwnerUserID)
	if owner == "" {
		return Issued{}, ErrInvalidInput
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	passToken, err := token.NewOpaque(passTokenBytes)
	if err != nil {
		return Issued{}, err
	}

	id, err := newULID(now)
	if err != nil {
		return Issued{}, err
	}

	c, err := s.store.Create(ctx, CreateRecord{
		ID:            id,
		OwnerUserID:   owner,
		PassTokenHash: token.HashBearerTokenHex(passToken),
		IssuedAt:      now,
	})
	if err == nil {
		return Issued{Credential: c, PassToken: passToken, Created: true}, nil
	}
	if !errors.Is(err, ErrAlreadyIssued) {
		return Issued{}, err
	}

	existing, err := s.store.GetByOwner(ctx, owner)
	if err != nil {
		return Issued{}, err
	}
	return Issued{Credential: existing, Created: false}, nil
}

// Resolve loads a credential by ID.
func (s *Service) Resolve(ctx context.Context, credentialID string) (Credential, error) {
	if s == nil || s.store == nil {
		return Credential{}, ErrInvalidInput
	}
	return s.store.GetByID(ctx, credentialID)
}

// VerifyPassToken checks an ApplePass bearer token against the stored hash.
func (s *Service) VerifyPassToken(ctx context.Context, credentialID, passToken string) (bool, error) {
	c, err := s.Resolve(ctx, credentialID)
	if err != nil {
		return false, err
	}
	return token.EqualHex(c.PassTokenHash, token.HashBearerTokenHex(passToken)), nil
}

func newULID(now time.Time) (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(now), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
