package scanqueue

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Resolution is the server's answer for one submitted scan.
type Resolution struct {
	Outcome  string
	Replayed bool
}

// Submitter delivers one queued scan to the gate API.
//
// A (Resolution, nil) return means the server resolved the scan, whatever
// the outcome; the scan leaves the queue. An error means delivery itself
// failed and the scan stays queued for retry.
type Submitter interface {
	Submit(ctx context.Context, scan PendingScan) (Resolution, error)
}

// ErrSubmitRejected marks a scan the server will never accept, e.g. a
// malformed payload. The drain resolves it as rejected instead of
// retrying forever.
var ErrSubmitRejected = errors.New("submission rejected")

// ErrUnauthorized marks an expired or revoked device token. The drain
// stops immediately instead of retrying; the operator must log in again.
// Queued scans stay queued.
var ErrUnauthorized = errors.New("device token rejected")

// DrainConfig bounds retry behavior.
type DrainConfig struct {
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	PollInterval time.Duration
}

func (c DrainConfig) withDefaults() DrainConfig {
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 2 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	return c
}

// Drainer submits queued scans strictly in order, one in flight.
type Drainer struct {
	log       *slog.Logger
	cfg       DrainConfig
	store     *Store
	submitter Submitter
}

// NewDrainer constructs a Drainer.
func NewDrainer(log *slog.Logger, cfg DrainConfig, store *Store, submitter Submitter) (*Drainer, error) {
	if store == nil || submitter == nil {
		return nil, errors.New("scanqueue: missing store or submitter")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Drainer{log: log, cfg: cfg.withDefaults(), store: store, submitter: submitter}, nil
}

// Drain submits until the queue is empty or ctx is done. Delivery
// failures back off exponentially but never reorder or skip: the head
// scan blocks the queue until the server resolves it.
func (d *Drainer) Drain(ctx context.Context) error {
	backoff := d.cfg.BaseBackoff
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		scan, ok, err := d.store.NextPending(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		// Stamp the scan before the request goes out. From this point a
		// local undo is refused: the server may already have seen it.
		if err := d.store.MarkSubmitted(ctx, scan.ID, time.Now().UTC()); err != nil {
			return err
		}

		res, err := d.submitter.Submit(ctx, scan)
		switch {
		case err == nil:
			if err := d.store.Resolve(ctx, scan.ID, res.Outcome, time.Now().UTC()); err != nil {
				return err
			}
			d.log.Info("scanqueue.drain.resolved",
				"scan_id", scan.ID, "outcome", res.Outcome, "replayed", res.Replayed)
			backoff = d.cfg.BaseBackoff

		case errors.Is(err, ErrUnauthorized):
			d.log.Warn("scanqueue.drain.unauthorized", "scan_id", scan.ID)
			return err

		case errors.Is(err, ErrSubmitRejected):
			if err := d.store.Resolve(ctx, scan.ID, "rejected", time.Now().UTC()); err != nil {
				return err
			}
			d.log.Warn("scanqueue.drain.rejected", "scan_id", scan.ID)
			backoff = d.cfg.BaseBackoff

		default:
			if markErr := d.store.MarkAttempt(ctx, scan.ID, err.Error()); markErr != nil {
				return markErr
			}
			d.log.Warn("scanqueue.drain.retry",
				"scan_id", scan.ID, "attempts", scan.Attempts+1, "backoff", backoff, "err", err)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff *= 2
			if backoff > d.cfg.MaxBackoff {
				backoff = d.cfg.MaxBackoff
			}
		}
	}
}

// Run drains continuously, re-polling after idle periods, until ctx
// is cancelled.
func (d *Drainer) Run(ctx context.Context) error {
	for {
		err := d.Drain(ctx)
		if errors.Is(err, ErrUnauthorized) {
			return err
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			d.log.Error("scanqueue.drain.error", "err", err)
		}
		if !sleep(ctx, d.cfg.PollInterval) {
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
