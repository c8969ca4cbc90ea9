package feed

import (
	"testing"
	"time"
)

func TestHub_BroadcastReachesMembers(t *testing.T) {
	t.Parallel()

	hub := NewHub(nil)
	a := NewClient("session-a", "staff-1", 16)
	b := NewClient("session-b", "staff-2", 16)
	hub.Join(a)
	hub.Join(b)

	ev := Event{
		Type:         "scan",
		CredentialID: "cred-1",
		WindowID:     "lunch-day-1",
		Action:       "meal",
		Outcome:      "accepted",
		RedeemedAt:   time.Now().UTC(),
	}
	hub.Broadcast(ev)

	for _, c := range []*Client{a, b} {
		select {
		case got := <-c.Send:
			if got.CredentialID != "cred-1" {
				t.Fatalf("%s: unexpected event %+v", c.SessionID, got)
			}
		default:
			t.Fatalf("%s: expected an event", c.SessionID)
		}
	}
}

func TestHub_BroadcastDropsFullQueues(t *testing.T) {
	t.Parallel()

	hub := NewHub(nil)
	slow := NewClient("session-slow", "staff-1", 16)
	hub.Join(slow)

	// Overfill: the queue holds 16, the rest must drop without blocking.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 64; i++ {
			hub.Broadcast(Event{Type: "scan", CredentialID: "cred-1"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("broadcast blocked on a full queue")
	}
	if got := len(slow.Send); got != 16 {
		t.Fatalf("expected queue capped at 16, got %d", got)
	}
}

func TestHub_LeaveSignalsClientAndSkipsBroadcast(t *testing.T) {
	t.Parallel()

	hub := NewHub(nil)
	c := NewClient("session-a", "staff-1", 16)
	hub.Join(c)
	if hub.MemberCount() != 1 {
		t.Fatalf("expected 1 member")
	}

	hub.Leave("session-a")
	select {
	case <-c.Done():
	default:
		t.Fatalf("expected client signaled on leave")
	}
	if hub.MemberCount() != 0 {
		t.Fatalf("expected 0 members after leave")
	}

	hub.Broadcast(Event{Type: "scan"})
	if got := len(c.Send); got != 0 {
		t.Fatalf("expected no delivery after leave, got %d", got)
	}

	// Leaving twice is harmless.
	hub.Leave("session-a")
}
