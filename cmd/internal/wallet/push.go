package wallet

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"lanyard/cmd/internal/metrics"
)

// Pusher delivers a content-free wakeup to one device push token.
//
// Returning ErrInvalidPushToken marks the token permanently dead; the
// queue unregisters it and never retries. Any other error is treated as
// transient and retried with backoff.
type Pusher interface {
	Push(ctx context.Context, pushToken string) error
}

// LogPusher writes push intents to the log instead of a real transport.
// Default in dev mode, where no APNs credentials exist.
type LogPusher struct {
	Log *slog.Logger
}

func (p LogPusher) Push(ctx context.Context, pushToken string) error {
	log := p.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("wallet.push.log_only", "push_token_prefix", tokenPrefix(pushToken))
	return nil
}

func tokenPrefix(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8]
}

// PushQueueConfig tunes the push delivery worker.
type PushQueueConfig struct {
	QueueSize   int
	MaxAttempts int
	BaseBackoff time.Duration
	PushTimeout time.Duration
}

// DefaultPushQueueConfig returns production defaults.
func DefaultPushQueueConfig() PushQueueConfig {
	return PushQueueConfig{
		QueueSize:   1024,
		MaxAttempts: 5,
		BaseBackoff: 500 * time.Millisecond,
		PushTimeout: 10 * time.Second,
	}
}

func (c PushQueueConfig) withDefaults() PushQueueConfig {
	if c.QueueSize < 1 {
		c.QueueSize = 1024
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 5
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 500 * time.Millisecond
	}
	if c.PushTimeout <= 0 {
		c.PushTimeout = 10 * time.Second
	}
	return c
}

// PushQueue is a bounded, single-worker delivery queue for wakeup pushes.
//
// Enqueue never blocks the caller: a full queue drops the job and counts
// it. Pushes are best-effort by contract; a missed wakeup only delays the
// device until its next poll.
type PushQueue struct {
	log    *slog.Logger
	cfg    PushQueueConfig
	pusher Pusher
	regs   Store
	jobs   chan string
}

// NewPushQueue constructs a PushQueue.
func NewPushQueue(log *slog.Logger, cfg PushQueueConfig, pusher Pusher, regs Store) (*PushQueue, error) {
	if pusher == nil || regs == nil {
		return nil, ErrInvalidInput
	}
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &PushQueue{
		log:    log,
		cfg:    cfg,
		pusher: pusher,
		regs:   regs,
		jobs:   make(chan string, cfg.QueueSize),
	}, nil
}

// Enqueue schedules a wakeup for one push token. Non-blocking.
func (q *PushQueue) Enqueue(pushToken string) {
	if q == nil || pushToken == "" {
		return
	}
	select {
	case q.jobs <- pushToken:
	default:
		metrics.PushJobs.WithLabelValues("dropped").Inc()
		q.log.Warn("wallet.push.queue_full")
	}
}

// Run processes jobs until ctx is canceled.
func (q *PushQueue) Run(ctx context.Context) {
	if q == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case token := <-q.jobs:
			q.deliver(ctx, token)
		}
	}
}

func (q *PushQueue) deliver(ctx context.Context, token string) {
	backoff := q.cfg.BaseBackoff
	for attempt := 1; attempt <= q.cfg.MaxAttempts; attempt++ {
		pushCtx, cancel := context.WithTimeout(ctx, q.cfg.PushTimeout)
		err := q.pusher.Push(pushCtx, token)
		cancel()

		if err == nil {
			metrics.PushJobs.WithLabelValues("sent").Inc()
			return
		}
		if errors.Is(err, ErrInvalidPushToken) {
			removed, uerr := q.regs.UnregisterToken(context.WithoutCancel(ctx), token)
			if uerr != nil {
				q.log.Error("wallet.push.unregister_dead_token.fail", "err", uerr)
			} else if removed > 0 {
				metrics.WalletRegistrations.Sub(float64(removed))
			}
			metrics.PushJobs.WithLabelValues("invalid_token").Inc()
			q.log.Info("wallet.push.token_invalid",
				"push_token_prefix", tokenPrefix(token), "removed", removed)
			return
		}
		if ctx.Err() != nil {
			return
		}

		q.log.Warn("wallet.push.retry",
			"attempt", attempt, "push_token_prefix", tokenPrefix(token), "err", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	metrics.PushJobs.WithLabelValues("failed").Inc()
	q.log.Error("wallet.push.give_up", "push_token_prefix", tokenPrefix(token))
}
