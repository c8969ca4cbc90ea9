package wallet

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists wallet registrations in PostgreSQL.
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

func (s *PostgresStore) Register(ctx context.Context, in RegisterInput) (bool, error) {
	if s == nil || s.pool == nil {
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

	// xmax = 0 only for freshly inserted rows, so one round trip tells
	// apart insert from token refresh.
	var created bool
	err := s.pool.QueryRow(ctx,
		`INSERT INTO `+s.ident("wallet_registrations")+` (
		     device_library_id, pass_type_id, credential_id, push_token, registered_at
		   ) VALUES ($1, $2, $3, $4, $5)
		   ON CONFLICT (device_library_id, pass_type_id, credential_id)
		   DO UPDATE SET push_token = EXCLUDED.push_token
		   RETURNING (xmax = 0)`,
		in.DeviceLibraryID, in.PassTypeID, in.CredentialID, in.PushToken, now,
	).Scan(&created)
	if err != nil {
		return false, err
	}
	return created, nil
}

func (s *PostgresStore) Unregister(ctx context.Context, deviceLibraryID, passTypeID, credentialID string) (bool, error) {
	if s == nil || s.pool == nil {
		return false, ErrInvalidInput
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM `+s.ident("wallet_registrations")+`
		  WHERE device_library_id = $1 AND pass_type_id = $2 AND credential_id = $3`,
		deviceLibraryID, passTypeID, credentialID,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) UnregisterToken(ctx context.Context, pushToken string) (int, error) {
	if s == nil || s.pool == nil {
		return 0, ErrInvalidInput
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM `+s.ident("wallet_registrations")+` WHERE push_token = $1`,
		pushToken,
	)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) ListByCredential(ctx context.Context, credentialID string) ([]Registration, error) {
	if s == nil || s.pool == nil {
		return nil, ErrInvalidInput
	}
	rows, err := s.pool.Query(ctx,
		`SELECT device_library_id, pass_type_id, credential_id, push_token, registered_at
		   FROM `+s.ident("wallet_registrations")+`
		  WHERE credential_id = $1
		  ORDER BY registered_at ASC, device_library_id ASC`,
		credentialID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Registration
	for rows.Next() {
		var reg Registration
		if err := rows.Scan(&reg.DeviceLibraryID, &reg.PassTypeID, &reg.CredentialID, &reg.PushToken, &reg.RegisteredAt); err != nil {
			return nil, err
		}
		out = append(out, reg)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListCredentialsForDevice(ctx context.Context, deviceLibraryID, passTypeID string) ([]string, error) {
	if s == nil || s.pool == nil {
		return nil, ErrInvalidInput
	}
	rows, err := s.pool.Query(ctx,
		`SELECT credential_id
		   FROM `+s.ident("wallet_registrations")+`
		  WHERE device_library_id = $1 AND pass_type_id = $2
		  ORDER BY registered_at ASC, credential_id ASC`,
		deviceLibraryID, passTypeID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
