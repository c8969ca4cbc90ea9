package feed

import (
	"log/slog"
	"sync"
	"time"

	"lanyard/cmd/internal/metrics"
)

// EventRedemption is the type tag for accepted-scan broadcasts.
const EventRedemption = "redemption.accepted"

// Event is one feed broadcast.
type Event struct {
	Type         string    `json:"type"`
	CredentialID string    `json:"credentialId"`
	WindowID     string    `json:"windowId"`
	Action       string    `json:"action"`
	Outcome      string    `json:"outcome"`
	DeviceID     string    `json:"deviceId,omitempty"`
	RedeemedAt   time.Time `json:"redeemedAt"`
}

// Hub is the membership + broadcast fanout primitive.
//
// Join/Leave are safe under concurrent Broadcast, and Broadcast never
// blocks: full member queues are dropped. Panic safety comes from the
// server never closing Client.Send.
type Hub struct {
	log *slog.Logger

	mu      sync.RWMutex
	members map[string]*Client
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:     log,
		members: make(map[string]*Client),
	}
}

// Join adds a client to membership.
func (h *Hub) Join(client *Client) {
	if h == nil || client == nil || client.SessionID == "" {
		return
	}

	h.mu.Lock()
	h.members[client.SessionID] = client
	h.mu.Unlock()

	metrics.FeedClients.Inc()
	h.log.Info("feed.member.join", "session_id", client.SessionID, "staff_id", client.StaffID)
}

// Leave removes a client from membership and signals its shutdown.
func (h *Hub) Leave(sessionID string) {
	if h == nil || sessionID == "" {
		return
	}

	var cl *Client

	h.mu.Lock()
	cl = h.members[sessionID]
	delete(h.members, sessionID)
	h.mu.Unlock()

	// Signal shutdown after removing from membership so no broadcaster
	// holds a pointer to a client mid-teardown.
	if cl != nil {
		cl.Close()
		metrics.FeedClients.Dec()
		h.log.Info("feed.member.leave", "session_id", sessionID)
	}
}

// Broadcast fans an event out to all members. Non-blocking: members with
// full queues or in shutdown are skipped.
func (h *Hub) Broadcast(ev Event) {
	if h == nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, m := range h.members {
		if m == nil {
			continue
		}

		select {
		case <-m.Done():
			continue
		default:
		}

		select {
		case m.Send <- ev:
		default:
			// Drop rather than block the fanout.
		}
	}
}

// MemberCount reports current membership size.
func (h *Hub) MemberCount() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.members)
}
