package feed

import "sync"

// Client represents one connected dashboard session.
//
// Send is intentionally NOT closed by the server to keep broadcast safe
// under concurrency; done signals goroutines to stop, and Close is
// idempotent.
type Client struct {
	SessionID string
	StaffID   string
	Send      chan Event

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(sessionID, staffID string, sendQueueSize int) *Client {
	if sendQueueSize < minSendQueueSize {
		sendQueueSize = defaultSendQueueSize
	}
	return &Client{
		SessionID: sessionID,
		StaffID:   staffID,
		Send:      make(chan Event, sendQueueSize),
		done:      make(chan struct{}),
	}
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop (idempotent). It does NOT
// close Send.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
