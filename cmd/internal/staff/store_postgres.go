package staff

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists staff accounts and device tokens in PostgreSQL.
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

func (s *PostgresStore) ident(table string) string {
	return pgx.Identifier{s.schema, table}.Sanitize()
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func (s *PostgresStore) CreateAccount(ctx context.Context, in CreateAccountRecord) (Account, error) {
	if s == nil || s.pool == nil {
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

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.ident("staff_accounts")+` (
		     id, username, username_norm, password_hash, roles, created_at
		   ) VALUES ($1, $2, $3, $4, $5, $6)`,
		in.ID, username, normalizeUsername(username), in.PasswordHash, in.Roles, createdAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Account{}, ErrUsernameTaken
		}
		return Account{}, err
	}

	return Account{
		ID:           in.ID,
		Username:     username,
		PasswordHash: in.PasswordHash,
		Roles:        in.Roles,
		CreatedAt:    createdAt,
	}, nil
}

func (s *PostgresStore) GetAccountByID(ctx context.Context, staffID string) (Account, error) {
	if s == nil || s.pool == nil {
		return Account{}, ErrInvalidInput
	}
	return s.getAccount(ctx, `WHERE id = $1`, staffID)
}

func (s *PostgresStore) GetAccountByUsername(ctx context.Context, username string) (Account, error) {
	if s == nil || s.pool == nil {
		return Account{}, ErrInvalidInput
	}
	return s.getAccount(ctx, `WHERE username_norm = $1`, normalizeUsername(username))
}

func (s *PostgresStore) getAccount(ctx context.Context, where string, arg any) (Account, error) {
	var a Account
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, password_hash, roles, created_at
		   FROM `+s.ident("staff_accounts")+` `+where,
		arg,
	).Scan(&a.ID, &a.Username, &a.PasswordHash, &a.Roles, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, err
	}
	return a, nil
}

func (s *PostgresStore) CreateDeviceToken(ctx context.Context, in CreateTokenRecord) (DeviceToken, error) {
	if s == nil || s.pool == nil {
		return DeviceToken{}, ErrInvalidInput
	}
	if strings.TrimSpace(in.ID) == "" ||
		strings.TrimSpace(in.StaffID) == "" ||
		strings.TrimSpace(in.TokenHash) == "" ||
		!in.ExpiresAt.After(in.CreatedAt) {
		return DeviceToken{}, ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.ident("staff_device_tokens")+` (
		     id, staff_id, token_hash, device_id, created_at, expires_at
		   ) VALUES ($1, $2, $3, $4, $5, $6)`,
		in.ID, in.StaffID, in.TokenHash, in.DeviceID, in.CreatedAt, in.ExpiresAt,
	)
	if err != nil {
		return DeviceToken{}, err
	}

	return DeviceToken{
		ID:        in.ID,
		StaffID:   in.StaffID,
		TokenHash: in.TokenHash,
		DeviceID:  in.DeviceID,
		CreatedAt: in.CreatedAt,
		ExpiresAt: in.ExpiresAt,
	}, nil
}

func (s *PostgresStore) GetDeviceTokenByHash(ctx context.Context, tokenHash string) (DeviceToken, error) {
	if s == nil || s.pool == nil {
		return DeviceToken{}, ErrInvalidInput
	}
	var t DeviceToken
	err := s.pool.QueryRow(ctx,
		`SELECT id, staff_id, token_hash, device_id, created_at, expires_at, revoked_at
		   FROM `+s.ident("staff_device_tokens")+`
		  WHERE token_hash = $1`,
		tokenHash,
	).Scan(&t.ID, &t.StaffID, &t.TokenHash, &t.DeviceID, &t.CreatedAt, &t.ExpiresAt, &t.RevokedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return DeviceToken{}, ErrNotFound
	}
	if err != nil {
		return DeviceToken{}, err
	}
	return t, nil
}

func (s *PostgresStore) RevokeDeviceToken(ctx context.Context, tokenID string, now time.Time) error {
	if s == nil || s.pool == nil {
		return ErrInvalidInput
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE `+s.ident("staff_device_tokens")+`
		    SET revoked_at = $2
		  WHERE id = $1 AND revoked_at IS NULL`,
		tokenID, now,
	)
	return err
}

func (s *PostgresStore) RevokeAllDeviceTokens(ctx context.Context, staffID string, now time.Time) error {
	if s == nil || s.pool == nil {
		return ErrInvalidInput
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE `+s.ident("staff_device_tokens")+`
		    SET revoked_at = $2
		  WHERE staff_id = $1 AND revoked_at IS NULL`,
		staffID, now,
	)
	return err
}
