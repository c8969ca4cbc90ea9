package credential

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists credentials in PostgreSQL.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// StoreOption configures PostgresStore.
type StoreOption func(*PostgresStore) error

// WithSchema sets the DB schema used by the store (default: "lanyard").
func WithSchema(schema string) StoreOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return ErrInvalidInput
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...StoreOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "lanyard"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, ErrInvalidInput
	}
	return st, nil
}

func (s *PostgresStore) table() string {
	return pgx.Identifier{s.schema, "credentials"}.Sanitize()
}

// Create inserts a new credential row.
// The unique index on owner_user_id enforces the one-credential-per-user
// invariant; a duplicate owner maps to ErrAlreadyIssued.
func (s *PostgresStore) Create(ctx context.Context, in CreateRecord) (Credential, error) {
	if s == nil || s.pool == nil {
		return Credential{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Credential{}, err
	}
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.OwnerUserID) == "" || strings.TrimSpace(in.PassTokenHash) == "" {
		return Credential{}, ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table()+` (id, owner_user_id, pass_token_hash, issued_at)
		 VALUES ($1, $2, $3, $4)`,
		in.ID, in.OwnerUserID, in.PassTokenHash, in.IssuedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Credential{}, ErrAlreadyIssued
		}
		return Credential{}, err
	}

	return Credential{
		ID:            in.ID,
		OwnerUserID:   in.OwnerUserID,
		PassTokenHash: in.PassTokenHash,
		IssuedAt:      in.IssuedAt,
	}, nil
}

// GetByID loads a credential by its ID.
func (s *PostgresStore) GetByID(ctx context.Context, credentialID string) (Credential, error) {
	if s == nil || s.pool == nil {
		return Credential{}, ErrInvalidInput
	}
	credentialID = strings.TrimSpace(credentialID)
	if credentialID == "" {
		return Credential{}, ErrInvalidInput
	}

	var out Credential
	err := s.pool.QueryRow(ctx,
		`SELECT id, owner_user_id, pass_token_hash, issued_at
		   FROM `+s.table()+`
		  WHERE id = $1`,
		credentialID,
	).Scan(&out.ID, &out.OwnerUserID, &out.PassTokenHash, &out.IssuedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Credential{}, ErrNotFound
	}
	if err != nil {
		return Credential{}, err
	}
	return out, nil
}

// GetByOwner loads a credential by owning user.
func (s *PostgresStore) GetByOwner(ctx context.Context, ownerUserID string) (Credential, error) {
	if s == nil || s.pool == nil {
		return Credential{}, ErrInvalidInput
	}
	ownerUserID = strings.TrimSpace(ownerUserID)
	if ownerUserID == "" {
		return Credential{}, ErrInvalidInput
	}

	var out Credential
	err := s.pool.QueryRow(ctx,
		`SELECT id, owner_user_id, pass_token_hash, issued_at
		   FROM `+s.table()+`
		  WHERE owner_user_id = $1`,
		ownerUserID,
	).Scan(&out.ID, &out.OwnerUserID, &out.PassTokenHash, &out.IssuedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Credential{}, ErrNotFound
	}
	if err != nil {
		return Credential{}, err
	}
	return out, nil
}
