package scanqueue

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotPending is returned when the scan id does not name a queued scan.
var ErrNotPending = errors.New("scan is not pending")

// ErrAlreadySubmitted is returned when a scan's delivery has started.
// Once a submission left the device the server's outcome is
// authoritative; the scan can no longer be revoked locally.
var ErrAlreadySubmitted = errors.New("scan already submitted")

// PendingScan is one queued, not-yet-resolved scan.
//
// SubmittedAt is set the moment the first delivery attempt starts, even
// if that attempt later times out: the request may have reached the
// server, so the scan's fate belongs to the drain from then on.
type PendingScan struct {
	ID             int64
	CredentialID   string
	WindowID       string
	IdempotencyKey string
	EnqueuedAt     time.Time
	SubmittedAt    *time.Time
	Attempts       int
	LastError      string
}

// ResolvedScan is a drained scan with its server-assigned outcome.
type ResolvedScan struct {
	ID             int64
	CredentialID   string
	WindowID       string
	IdempotencyKey string
	Outcome        string
	ResolvedAt     time.Time
}

// Store is the SQLite-backed scan outbox.
// WAL mode keeps the UI readable while the drain is writing.
type Store struct {
	db *sql.DB
}

// Open creates or opens the queue database at path. Idempotent.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open scan queue: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open scan queue: %w", err)
	}

	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply scan queue schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Enqueue appends one scan. The idempotency key is minted here, exactly
// once, and never regenerated on retry.
func (s *Store) Enqueue(ctx context.Context, credentialID, windowID string, now time.Time) (PendingScan, error) {
	credentialID = strings.TrimSpace(credentialID)
	windowID = strings.TrimSpace(windowID)
	if credentialID == "" || windowID == "" {
		return PendingScan{}, errors.New("credential id and window id are required")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	scan := PendingScan{
		CredentialID:   credentialID,
		WindowID:       windowID,
		IdempotencyKey: uuid.NewString(),
		EnqueuedAt:     now.UTC(),
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_scans (credential_id, window_id, idempotency_key, enqueued_at)
		VALUES (?, ?, ?, ?)
	`, scan.CredentialID, scan.WindowID, scan.IdempotencyKey, scan.EnqueuedAt.Format(time.RFC3339Nano))
	if err != nil {
		return PendingScan{}, fmt.Errorf("enqueue scan: %w", err)
	}
	scan.ID, err = res.LastInsertId()
	if err != nil {
		return PendingScan{}, fmt.Errorf("enqueue scan: %w", err)
	}
	return scan, nil
}

// NextPending returns the oldest queued scan, FIFO by insertion order.
func (s *Store) NextPending(ctx context.Context) (PendingScan, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, credential_id, window_id, idempotency_key, enqueued_at, submitted_at, attempts, last_error
		FROM pending_scans
		ORDER BY id
		LIMIT 1
	`)
	scan, err := scanPending(row)
	if errors.Is(err, sql.ErrNoRows) {
		return PendingScan{}, false, nil
	}
	if err != nil {
		return PendingScan{}, false, err
	}
	return scan, true, nil
}

// ListPending returns all queued scans in submission order.
func (s *Store) ListPending(ctx context.Context) ([]PendingScan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, credential_id, window_id, idempotency_key, enqueued_at, submitted_at, attempts, last_error
		FROM pending_scans
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list pending scans: %w", err)
	}
	defer rows.Close()

	var out []PendingScan
	for rows.Next() {
		scan, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, scan)
	}
	return out, rows.Err()
}

// MarkAttempt records one failed submission attempt.
func (s *Store) MarkAttempt(ctx context.Context, id int64, lastError string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_scans SET attempts = attempts + 1, last_error = ? WHERE id = ?
	`, lastError, id)
	if err != nil {
		return fmt.Errorf("mark attempt: %w", err)
	}
	return requireOneRow(res)
}

// MarkSubmitted stamps the moment a scan's first delivery attempt starts.
// The stamp is written before the request goes out, so even a timed-out
// attempt leaves the scan marked: the server may have seen it.
func (s *Store) MarkSubmitted(ctx context.Context, id int64, now time.Time) error {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_scans
		SET submitted_at = COALESCE(submitted_at, ?)
		WHERE id = ?
	`, now.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("mark submitted: %w", err)
	}
	return requireOneRow(res)
}

// Resolve moves a pending scan into the resolved log with its outcome.
func (s *Store) Resolve(ctx context.Context, id int64, outcome string, now time.Time) error {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("resolve scan: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO resolved_scans (id, credential_id, window_id, idempotency_key, outcome, resolved_at)
		SELECT id, credential_id, window_id, idempotency_key, ?, ?
		FROM pending_scans WHERE id = ?
	`, outcome, now.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("resolve scan: %w", err)
	}
	if err := requireOneRow(res); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_scans WHERE id = ?`, id); err != nil {
		return fmt.Errorf("resolve scan: %w", err)
	}
	return tx.Commit()
}

// Cancel removes a queued scan, but only before any delivery attempt has
// started. Once a submission left the device the server's answer is
// authoritative and the scan cannot be revoked locally; scans already
// resolved cannot be cancelled either, the redemption happened.
func (s *Store) Cancel(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM pending_scans
		WHERE id = ? AND submitted_at IS NULL AND attempts = 0
	`, id)
	if err != nil {
		return fmt.Errorf("cancel scan: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM pending_scans WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotPending
	}
	if err != nil {
		return fmt.Errorf("cancel scan: %w", err)
	}
	return ErrAlreadySubmitted
}

// ListResolved returns drained scans, newest first, capped at limit.
func (s *Store) ListResolved(ctx context.Context, limit int) ([]ResolvedScan, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, credential_id, window_id, idempotency_key, outcome, resolved_at
		FROM resolved_scans
		ORDER BY resolved_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list resolved scans: %w", err)
	}
	defer rows.Close()

	var out []ResolvedScan
	for rows.Next() {
		var r ResolvedScan
		var resolvedAt string
		if err := rows.Scan(&r.ID, &r.CredentialID, &r.WindowID, &r.IdempotencyKey, &r.Outcome, &resolvedAt); err != nil {
			return nil, fmt.Errorf("scan resolved row: %w", err)
		}
		r.ResolvedAt, _ = time.Parse(time.RFC3339Nano, resolvedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPending(row rowScanner) (PendingScan, error) {
	var scan PendingScan
	var enqueuedAt string
	var submittedAt sql.NullString
	err := row.Scan(&scan.ID, &scan.CredentialID, &scan.WindowID, &scan.IdempotencyKey, &enqueuedAt, &submittedAt, &scan.Attempts, &scan.LastError)
	if err != nil {
		return PendingScan{}, err
	}
	scan.EnqueuedAt, err = time.Parse(time.RFC3339Nano, enqueuedAt)
	if err != nil {
		return PendingScan{}, fmt.Errorf("parse enqueued_at: %w", err)
	}
	if submittedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, submittedAt.String)
		if err != nil {
			return PendingScan{}, fmt.Errorf("parse submitted_at: %w", err)
		}
		scan.SubmittedAt = &t
	}
	return scan, nil
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotPending
	}
	return nil
}
