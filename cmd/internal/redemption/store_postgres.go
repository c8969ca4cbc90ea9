package redemption

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists windows and events in PostgreSQL.
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

// CreateWindow inserts a redemption window.
func (s *PostgresStore) CreateWindow(ctx context.Context, w Window) error {
	if s == nil || s.pool == nil {
		return ErrInvalidInput
	}
	if strings.TrimSpace(w.ID) == "" || w.MaxPerCredential < 1 || !w.ClosesAt.After(w.OpensAt) {
		return ErrInvalidInput
	}
	if _, ok := ParseAction(string(w.Action)); !ok {
		return ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.ident("redemption_windows")+` (id, action, opens_at, closes_at, max_per_credential)
		 VALUES ($1, $2, $3, $4, $5)`,
		w.ID, string(w.Action), w.OpensAt, w.ClosesAt, w.MaxPerCredential,
	)
	return err
}

// GetWindow loads one window by ID.
func (s *PostgresStore) GetWindow(ctx context.Context, windowID string) (Window, error) {
	if s == nil || s.pool == nil {
		return Window{}, ErrInvalidInput
	}
	windowID = strings.TrimSpace(windowID)
	if windowID == "" {
		return Window{}, ErrInvalidInput
	}

	var w Window
	var action string
	err := s.pool.QueryRow(ctx,
		`SELECT id, action, opens_at, closes_at, max_per_credential
		   FROM `+s.ident("redemption_windows")+`
		  WHERE id = $1`,
		windowID,
	).Scan(&w.ID, &action, &w.OpensAt, &w.ClosesAt, &w.MaxPerCredential)
	if errors.Is(err, pgx.ErrNoRows) {
		return Window{}, ErrWindowNotFound
	}
	if err != nil {
		return Window{}, err
	}
	w.Action = Action(action)
	return w, nil
}

// ListWindows returns all windows ordered by opening time.
func (s *PostgresStore) ListWindows(ctx context.Context) ([]Window, error) {
	if s == nil || s.pool == nil {
		return nil, ErrInvalidInput
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, action, opens_at, closes_at, max_per_credential
		   FROM `+s.ident("redemption_windows")+`
		  ORDER BY opens_at ASC, id ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Window
	for rows.Next() {
		var w Window
		var action string
		if err := rows.Scan(&w.ID, &action, &w.OpensAt, &w.ClosesAt, &w.MaxPerCredential); err != nil {
			return nil, err
		}
		w.Action = Action(action)
		out = append(out, w)
	}
	return out, rows.Err()
}

// FindEventByKey looks up an event by its client idempotency key.
func (s *PostgresStore) FindEventByKey(ctx context.Context, credentialID, windowID, idempotencyKey string) (Event, error) {
	if s == nil || s.pool == nil {
		return Event{}, ErrInvalidInput
	}
	var e Event
	err := s.pool.QueryRow(ctx,
		`SELECT id, credential_id, window_id, redeemed_at, device_id, idempotency_key
		   FROM `+s.ident("redemption_events")+`
		  WHERE credential_id = $1 AND window_id = $2 AND idempotency_key = $3`,
		credentialID, windowID, idempotencyKey,
	).Scan(&e.ID, &e.CredentialID, &e.WindowID, &e.RedeemedAt, &e.DeviceID, &e.IdempotencyKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return Event{}, ErrEventNotFound
	}
	if err != nil {
		return Event{}, err
	}
	return e, nil
}

// RecordEvent runs the count-then-insert decision in one transaction.
//
// The credential row is locked FOR UPDATE first, which serializes
// concurrent scans of the same credential: exactly one transaction
// observes count < max and inserts; the rest observe the fresh row.
// The unique index on (credential_id, idempotency_key) is the final
// guard against duplicate-key races slipping past the in-tx check.
func (s *PostgresStore) RecordEvent(ctx context.Context, in RecordInput) (RecordResult, error) {
	if s == nil || s.pool == nil {
		return RecordResult{}, ErrInvalidInput
	}
	if strings.TrimSpace(in.EventID) == "" ||
		strings.TrimSpace(in.CredentialID) == "" ||
		strings.TrimSpace(in.WindowID) == "" ||
		strings.TrimSpace(in.IdempotencyKey) == "" ||
		in.MaxPerCredential < 1 {
		return RecordResult{}, ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return RecordResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Serialize per credential.
	var lockedID string
	err = tx.QueryRow(ctx,
		`SELECT id FROM `+s.ident("credentials")+` WHERE id = $1 FOR UPDATE`,
		in.CredentialID,
	).Scan(&lockedID)
	if errors.Is(err, pgx.ErrNoRows) {
		return RecordResult{}, ErrUnknownCredential
	}
	if err != nil {
		return RecordResult{}, err
	}

	// Idempotent replay: the same physical scan submitted again.
	var existing Event
	err = tx.QueryRow(ctx,
		`SELECT id, credential_id, window_id, redeemed_at, device_id, idempotency_key
		   FROM `+s.ident("redemption_events")+`
		  WHERE credential_id = $1 AND window_id = $2 AND idempotency_key = $3`,
		in.CredentialID, in.WindowID, in.IdempotencyKey,
	).Scan(&existing.ID, &existing.CredentialID, &existing.WindowID, &existing.RedeemedAt, &existing.DeviceID, &existing.IdempotencyKey)
	if err == nil {
		if err := tx.Commit(ctx); err != nil {
			return RecordResult{}, err
		}
		return RecordResult{Status: RecordReplayed, Event: existing}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return RecordResult{}, err
	}

	var count int
	err = tx.QueryRow(ctx,
		`SELECT count(*) FROM `+s.ident("redemption_events")+`
		  WHERE credential_id = $1 AND window_id = $2`,
		in.CredentialID, in.WindowID,
	).Scan(&count)
	if err != nil {
		return RecordResult{}, err
	}
	if count >= in.MaxPerCredential {
		if err := tx.Commit(ctx); err != nil {
			return RecordResult{}, err
		}
		return RecordResult{Status: RecordLimitReached}, nil
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO `+s.ident("redemption_events")+` (
		     id, credential_id, window_id, redeemed_at, device_id, idempotency_key
		   ) VALUES ($1, $2, $3, $4, $5, $6)`,
		in.EventID, in.CredentialID, in.WindowID, now, in.DeviceID, in.IdempotencyKey,
	)
	if err != nil {
		return RecordResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return RecordResult{}, err
	}

	return RecordResult{
		Status: RecordInserted,
		Event: Event{
			ID:             in.EventID,
			CredentialID:   in.CredentialID,
			WindowID:       in.WindowID,
			RedeemedAt:     now,
			DeviceID:       in.DeviceID,
			IdempotencyKey: in.IdempotencyKey,
		},
	}, nil
}

// CountEvents counts accepted events for a credential+window pair.
func (s *PostgresStore) CountEvents(ctx context.Context, credentialID, windowID string) (int, error) {
	if s == nil || s.pool == nil {
		return 0, ErrInvalidInput
	}
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM `+s.ident("redemption_events")+`
		  WHERE credential_id = $1 AND window_id = $2`,
		credentialID, windowID,
	).Scan(&n)
	return n, err
}

// LatestEventTime returns the most recent redeemed_at for a credential.
func (s *PostgresStore) LatestEventTime(ctx context.Context, credentialID string) (time.Time, bool, error) {
	if s == nil || s.pool == nil {
		return time.Time{}, false, ErrInvalidInput
	}
	var t time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT redeemed_at FROM `+s.ident("redemption_events")+`
		  WHERE credential_id = $1
		  ORDER BY redeemed_at DESC
		  LIMIT 1`,
		credentialID,
	).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}
