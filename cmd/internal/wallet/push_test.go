package wallet

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

type scriptedPusher struct {
	errs  []error
	calls int
}

func (p *scriptedPusher) Push(ctx context.Context, pushToken string) error {
	defer func() { p.calls++ }()
	if p.calls < len(p.errs) {
		return p.errs[p.calls]
	}
	return nil
}

func testQueueConfig() PushQueueConfig {
	return PushQueueConfig{
		QueueSize:   8,
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		PushTimeout: time.Second,
	}
}

func TestPushQueue_RetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()

	pusher := &scriptedPusher{errs: []error{
		errors.New("transport blip"),
		errors.New("transport blip"),
	}}
	regs := NewInMemoryStore()
	queue, err := NewPushQueue(slog.Default(), testQueueConfig(), pusher, regs)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}

	queue.deliver(context.Background(), "token-1")
	if pusher.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", pusher.calls)
	}
}

func TestPushQueue_GivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	pusher := &scriptedPusher{errs: []error{
		errors.New("down"), errors.New("down"), errors.New("down"), errors.New("down"),
	}}
	regs := NewInMemoryStore()
	queue, err := NewPushQueue(slog.Default(), testQueueConfig(), pusher, regs)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}

	queue.deliver(context.Background(), "token-1")
	if pusher.calls != 3 {
		t.Fatalf("expected exactly MaxAttempts=3 attempts, got %d", pusher.calls)
	}
}

func TestPushQueue_InvalidTokenUnregistersAndStops(t *testing.T) {
	t.Parallel()

	regs := NewInMemoryStore()
	if _, err := regs.Register(context.Background(), RegisterInput{
		DeviceLibraryID: "device-a",
		PassTypeID:      "pass.com.lanyard.event",
		CredentialID:    "cred-1",
		PushToken:       "dead-token",
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	pusher := &scriptedPusher{errs: []error{ErrInvalidPushToken}}
	queue, err := NewPushQueue(slog.Default(), testQueueConfig(), pusher, regs)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}

	queue.deliver(context.Background(), "dead-token")
	if pusher.calls != 1 {
		t.Fatalf("expected 1 attempt for a dead token, got %d", pusher.calls)
	}

	left, err := regs.ListByCredential(context.Background(), "cred-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(left) != 0 {
		t.Fatalf("expected registration removed, %d left", len(left))
	}
}

func TestPushQueue_EnqueueDropsWhenFull(t *testing.T) {
	t.Parallel()

	cfg := testQueueConfig()
	cfg.QueueSize = 1
	queue, err := NewPushQueue(slog.Default(), cfg, &scriptedPusher{}, NewInMemoryStore())
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}

	queue.Enqueue("token-1")
	queue.Enqueue("token-2")
	if got := len(queue.jobs); got != 1 {
		t.Fatalf("expected 1 queued job, got %d", got)
	}
}
