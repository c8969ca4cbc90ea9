package redemption

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestEngine(t *testing.T, notifiers ...ChangeNotifier) (*Engine, *InMemoryStore) {
	t.Helper()
	store := NewInMemoryStore()
	eng, err := NewEngine(nil, store, notifiers...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return eng, store
}

func mustCreateWindow(t *testing.T, store *InMemoryStore, id string, opens, closes time.Time, max int) {
	t.Helper()
	err := store.CreateWindow(context.Background(), Window{
		ID:               id,
		Action:           ActionMeal,
		OpensAt:          opens,
		ClosesAt:         closes,
		MaxPerCredential: max,
	})
	if err != nil {
		t.Fatalf("create window: %v", err)
	}
}

func TestRedeem_AcceptThenConflict(t *testing.T) {
	t.Parallel()

	eng, store := newTestEngine(t)
	now := time.Now().UTC()
	mustCreateWindow(t, store, "lunch-day-1", now.Add(-time.Hour), now.Add(time.Hour), 1)
	store.AddCredential("cred-1")

	ctx := context.Background()

	first, err := eng.Redeem(ctx, RedeemInput{
		CredentialID:   "cred-1",
		WindowID:       "lunch-day-1",
		DeviceID:       "device-a",
		IdempotencyKey: "key-a-1",
		Now:            now,
	})
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if first.Outcome != Accepted || first.Replayed {
		t.Fatalf("expected fresh Accepted, got %+v", first)
	}

	second, err := eng.Redeem(ctx, RedeemInput{
		CredentialID:   "cred-1",
		WindowID:       "lunch-day-1",
		DeviceID:       "device-b",
		IdempotencyKey: "key-b-1",
		Now:            now.Add(50 * time.Millisecond),
	})
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if second.Outcome != AlreadyRedeemed {
		t.Fatalf("expected AlreadyRedeemed, got %v", second.Outcome)
	}

	n, err := store.CountEvents(ctx, "cred-1", "lunch-day-1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly 1 event, got %d", n)
	}
}

func TestRedeem_IdempotentReplay(t *testing.T) {
	t.Parallel()

	eng, store := newTestEngine(t)
	now := time.Now().UTC()
	mustCreateWindow(t, store, "checkin", now.Add(-time.Hour), now.Add(time.Hour), 1)
	store.AddCredential("cred-1")

	ctx := context.Background()
	in := RedeemInput{
		CredentialID:   "cred-1",
		WindowID:       "checkin",
		DeviceID:       "device-a",
		IdempotencyKey: "scan-0001",
		Now:            now,
	}

	first, err := eng.Redeem(ctx, in)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if first.Outcome != Accepted {
		t.Fatalf("expected Accepted, got %v", first.Outcome)
	}

	// Same scan retried after a network blip: same outcome, same event,
	// no new row. Must hold even after the window closes.
	in.Now = now.Add(2 * time.Hour)
	replay, err := eng.Redeem(ctx, in)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replay.Outcome != Accepted || !replay.Replayed {
		t.Fatalf("expected replayed Accepted, got %+v", replay)
	}
	if replay.Event.ID != first.Event.ID {
		t.Fatalf("replay must return the original event: %q vs %q", replay.Event.ID, first.Event.ID)
	}

	n, err := store.CountEvents(ctx, "cred-1", "checkin")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly 1 event after replay, got %d", n)
	}
}

func TestRedeem_WindowBoundaries(t *testing.T) {
	t.Parallel()

	opens := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	closes := opens.Add(2 * time.Hour)

	cases := []struct {
		name string
		now  time.Time
		want Outcome
	}{
		{"just_before_open", opens.Add(-time.Millisecond), WindowClosed},
		{"exactly_open", opens, Accepted},
		{"mid_window", opens.Add(time.Hour), Accepted},
		{"exactly_close", closes, WindowClosed},
		{"after_close", closes.Add(time.Minute), WindowClosed},
	}

	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			eng, store := newTestEngine(t)
			mustCreateWindow(t, store, "dinner", opens, closes, 1)
			store.AddCredential("cred-1")

			res, err := eng.Redeem(context.Background(), RedeemInput{
				CredentialID:   "cred-1",
				WindowID:       "dinner",
				IdempotencyKey: fmt.Sprintf("key-%d", i),
				Now:            tc.now,
			})
			if err != nil {
				t.Fatalf("redeem: %v", err)
			}
			if res.Outcome != tc.want {
				t.Fatalf("at %v: expected %v, got %v", tc.now, tc.want, res.Outcome)
			}
		})
	}
}

func TestRedeem_UnknownCredentialAndWindow(t *testing.T) {
	t.Parallel()

	eng, store := newTestEngine(t)
	now := time.Now().UTC()
	mustCreateWindow(t, store, "lunch-day-1", now.Add(-time.Hour), now.Add(time.Hour), 1)

	ctx := context.Background()

	res, err := eng.Redeem(ctx, RedeemInput{
		CredentialID:   "no-such-credential",
		WindowID:       "lunch-day-1",
		IdempotencyKey: "key-1",
		Now:            now,
	})
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if res.Outcome != UnknownCredential {
		t.Fatalf("expected UnknownCredential, got %v", res.Outcome)
	}

	store.AddCredential("cred-1")
	res, err = eng.Redeem(ctx, RedeemInput{
		CredentialID:   "cred-1",
		WindowID:       "no-such-window",
		IdempotencyKey: "key-2",
		Now:            now,
	})
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if res.Outcome != WindowClosed {
		t.Fatalf("expected WindowClosed for unknown window, got %v", res.Outcome)
	}
}

func TestRedeem_ConcurrentScannersAtMostK(t *testing.T) {
	t.Parallel()

	const scanners = 16
	for _, max := range []int{1, 3} {
		t.Run(fmt.Sprintf("max_%d", max), func(t *testing.T) {
			eng, store := newTestEngine(t)
			now := time.Now().UTC()
			mustCreateWindow(t, store, "snack", now.Add(-time.Hour), now.Add(time.Hour), max)
			store.AddCredential("cred-1")

			var wg sync.WaitGroup
			outcomes := make([]Outcome, scanners)
			for i := 0; i < scanners; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					res, err := eng.Redeem(context.Background(), RedeemInput{
						CredentialID:   "cred-1",
						WindowID:       "snack",
						DeviceID:       fmt.Sprintf("device-%d", i),
						IdempotencyKey: fmt.Sprintf("key-%d", i),
						Now:            now,
					})
					if err != nil {
						t.Errorf("redeem: %v", err)
						return
					}
					outcomes[i] = res.Outcome
				}(i)
			}
			wg.Wait()

			accepted := 0
			for _, o := range outcomes {
				switch o {
				case Accepted:
					accepted++
				case AlreadyRedeemed:
				default:
					t.Fatalf("unexpected outcome %v", o)
				}
			}
			if accepted != max {
				t.Fatalf("expected exactly %d accepted, got %d", max, accepted)
			}

			n, err := store.CountEvents(context.Background(), "cred-1", "snack")
			if err != nil {
				t.Fatalf("count: %v", err)
			}
			if n != max {
				t.Fatalf("expected %d events, got %d", max, n)
			}
		})
	}
}

type recordingNotifier struct {
	mu  sync.Mutex
	ids []string
	ch  chan struct{}
}

func (r *recordingNotifier) OnCredentialChanged(id string) {
	r.mu.Lock()
	r.ids = append(r.ids, id)
	r.mu.Unlock()
	r.ch <- struct{}{}
}

func TestRedeem_NotifiesOnAccept(t *testing.T) {
	t.Parallel()

	n := &recordingNotifier{ch: make(chan struct{}, 4)}
	eng, store := newTestEngine(t, n)
	now := time.Now().UTC()
	mustCreateWindow(t, store, "lunch-day-1", now.Add(-time.Hour), now.Add(time.Hour), 1)
	store.AddCredential("cred-1")

	res, err := eng.Redeem(context.Background(), RedeemInput{
		CredentialID:   "cred-1",
		WindowID:       "lunch-day-1",
		IdempotencyKey: "key-1",
		Now:            now,
	})
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if res.Outcome != Accepted {
		t.Fatalf("expected Accepted, got %v", res.Outcome)
	}

	select {
	case <-n.ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected a change notification")
	}

	// A conflicting scan must not notify.
	if _, err := eng.Redeem(context.Background(), RedeemInput{
		CredentialID:   "cred-1",
		WindowID:       "lunch-day-1",
		IdempotencyKey: "key-2",
		Now:            now,
	}); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	select {
	case <-n.ch:
		t.Fatalf("conflicting scan must not trigger a notification")
	case <-time.After(100 * time.Millisecond):
	}
}
