package wallet

import (
	"context"
	"log/slog"
	"time"

	"lanyard/cmd/internal/credential"
)

// CredentialSource resolves credentials for version computation and auth.
type CredentialSource interface {
	GetByID(ctx context.Context, credentialID string) (credential.Credential, error)
}

// EventTimes reports the most recent accepted redemption per credential.
type EventTimes interface {
	LatestEventTime(ctx context.Context, credentialID string) (time.Time, bool, error)
}

// Coordinator turns credential state changes into wallet push wakeups and
// answers version questions for the pass web service.
//
// It never polls: the redemption engine notifies it on every accepted
// event, and issuing or re-signing a pass notifies it explicitly. Pushing
// for an unchanged credential is harmless, so notifications need no
// dedupe.
type Coordinator struct {
	log    *slog.Logger
	regs   Store
	creds  CredentialSource
	events EventTimes
	queue  *PushQueue

	notifyTimeout time.Duration
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(log *slog.Logger, regs Store, creds CredentialSource, events EventTimes, queue *PushQueue) (*Coordinator, error) {
	if regs == nil || creds == nil || events == nil || queue == nil {
		return nil, ErrInvalidInput
	}
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		log:           log,
		regs:          regs,
		creds:         creds,
		events:        events,
		queue:         queue,
		notifyTimeout: 10 * time.Second,
	}, nil
}

// CurrentVersionTag returns the credential's pass version: the later of
// its issue time and its most recent accepted redemption, truncated to
// whole seconds (HTTP dates and passesUpdatedSince both carry seconds).
func (c *Coordinator) CurrentVersionTag(ctx context.Context, credentialID string) (time.Time, error) {
	cred, err := c.creds.GetByID(ctx, credentialID)
	if err != nil {
		return time.Time{}, err
	}
	tag := cred.IssuedAt
	latest, ok, err := c.events.LatestEventTime(ctx, credentialID)
	if err != nil {
		return time.Time{}, err
	}
	if ok && latest.After(tag) {
		tag = latest
	}
	return tag.UTC().Truncate(time.Second), nil
}

// OnCredentialChanged enqueues a wakeup for every device holding the
// credential's pass. Fire-and-forget: failures are logged, never
// propagated to the caller.
func (c *Coordinator) OnCredentialChanged(credentialID string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.notifyTimeout)
	defer cancel()

	regs, err := c.regs.ListByCredential(ctx, credentialID)
	if err != nil {
		c.log.Error("wallet.notify.list_registrations.fail",
			"credential_id", credentialID, "err", err)
		return
	}
	for _, reg := range regs {
		c.queue.Enqueue(reg.PushToken)
	}
	if len(regs) > 0 {
		c.log.Info("wallet.notify.enqueued",
			"credential_id", credentialID, "registrations", len(regs))
	}
}
