package redemption

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"strings"
	"time"

	"lanyard/cmd/internal/metrics"

	"github.com/oklog/ulid/v2"
)

// Outcome is the definitive result of one redeem call. Every call returns
// exactly one outcome; conflicts are outcomes, not failures.
type Outcome string

const (
	Accepted          Outcome = "accepted"
	AlreadyRedeemed   Outcome = "already_redeemed"
	WindowClosed      Outcome = "window_closed"
	UnknownCredential Outcome = "unknown_credential"
)

// RedeemInput describes one scan submission.
type RedeemInput struct {
	CredentialID   string
	WindowID       string
	DeviceID       string
	IdempotencyKey string
	Now            time.Time
}

// RedeemResult is the definitive answer for a scan.
type RedeemResult struct {
	Outcome Outcome
	// Event is set when Outcome is Accepted (fresh or replayed).
	Event Event
	// Action is the window's action kind; empty on idempotent replays,
	// which skip the window lookup.
	Action Action
	// Replayed reports that the outcome came from an idempotency-key
	// match rather than a fresh evaluation.
	Replayed bool
}

// ChangeNotifier consumes "this credential's state changed" signals.
// Notification is fire-and-forget: it must never block or fail the
// redeem call that triggered it.
type ChangeNotifier interface {
	OnCredentialChanged(credentialID string)
}

// Engine enforces at-most-max-per-window semantics for redeem calls.
type Engine struct {
	log       *slog.Logger
	store     Store
	notifiers []ChangeNotifier
}

// NewEngine constructs an Engine. Notifiers are optional.
func NewEngine(log *slog.Logger, store Store, notifiers ...ChangeNotifier) (*Engine, error) {
	if store == nil {
		return nil, ErrInvalidInput
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{log: log, store: store, notifiers: notifiers}, nil
}

// Redeem evaluates one scan and returns its definitive outcome.
//
// Check order matters:
//  1. Idempotency replay first, so a retried scan that was accepted keeps
//     returning Accepted even after its window has closed.
//  2. Window existence and open interval (opensAt <= now < closesAt).
//  3. The atomic count-then-insert against the store.
func (e *Engine) Redeem(ctx context.Context, in RedeemInput) (RedeemResult, error) {
	if e == nil || e.store == nil {
		return RedeemResult{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return RedeemResult{}, err
	}

	in.CredentialID = strings.TrimSpace(in.CredentialID)
	in.WindowID = strings.TrimSpace(in.WindowID)
	in.IdempotencyKey = strings.TrimSpace(in.IdempotencyKey)
	if in.CredentialID == "" || in.WindowID == "" || in.IdempotencyKey == "" {
		return RedeemResult{}, ErrInvalidInput
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	if ev, err := e.store.FindEventByKey(ctx, in.CredentialID, in.WindowID, in.IdempotencyKey); err == nil {
		metrics.RedeemReplays.Inc()
		metrics.RedeemOutcomes.WithLabelValues(string(Accepted)).Inc()
		return RedeemResult{Outcome: Accepted, Event: ev, Replayed: true}, nil
	} else if !errors.Is(err, ErrEventNotFound) {
		return RedeemResult{}, err
	}

	w, err := e.store.GetWindow(ctx, in.WindowID)
	if errors.Is(err, ErrWindowNotFound) {
		// An unknown window can never be open. Same surface as "too late"
		// so stale scanner configs degrade gracefully.
		return e.done(WindowClosed, RedeemResult{Outcome: WindowClosed}), nil
	}
	if err != nil {
		return RedeemResult{}, err
	}
	if !w.OpenAt(now) {
		return e.done(WindowClosed, RedeemResult{Outcome: WindowClosed}), nil
	}

	eventID, err := newEventID(now)
	if err != nil {
		return RedeemResult{}, err
	}

	res, err := e.store.RecordEvent(ctx, RecordInput{
		EventID:          eventID,
		CredentialID:     in.CredentialID,
		WindowID:         in.WindowID,
		DeviceID:         strings.TrimSpace(in.DeviceID),
		IdempotencyKey:   in.IdempotencyKey,
		Now:              now,
		MaxPerCredential: w.MaxPerCredential,
	})
	if errors.Is(err, ErrUnknownCredential) {
		return e.done(UnknownCredential, RedeemResult{Outcome: UnknownCredential}), nil
	}
	if err != nil {
		return RedeemResult{}, err
	}

	switch res.Status {
	case RecordReplayed:
		metrics.RedeemReplays.Inc()
		return e.done(Accepted, RedeemResult{Outcome: Accepted, Event: res.Event, Action: w.Action, Replayed: true}), nil
	case RecordLimitReached:
		return e.done(AlreadyRedeemed, RedeemResult{Outcome: AlreadyRedeemed, Action: w.Action}), nil
	case RecordInserted:
		e.log.Info("redeem.accept",
			"credential_id", res.Event.CredentialID,
			"window_id", res.Event.WindowID,
			"device_id", res.Event.DeviceID,
		)
		e.notifyChanged(res.Event.CredentialID)
		return e.done(Accepted, RedeemResult{Outcome: Accepted, Event: res.Event, Action: w.Action}), nil
	default:
		return RedeemResult{}, ErrInvalidInput
	}
}

func (e *Engine) done(o Outcome, r RedeemResult) RedeemResult {
	metrics.RedeemOutcomes.WithLabelValues(string(o)).Inc()
	return r
}

// notifyChanged fans the change signal out to all notifiers without
// blocking the redeem response.
func (e *Engine) notifyChanged(credentialID string) {
	for _, n := range e.notifiers {
		if n == nil {
			continue
		}
		go n.OnCredentialChanged(credentialID)
	}
}

func newEventID(now time.Time) (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(now), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
