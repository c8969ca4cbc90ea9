package feed

import "time"

// Security/performance limits.
const (
	// Max bytes per websocket frame read (the feed expects no client
	// frames beyond control traffic, so this stays tight).
	maxFrameBytes = 4 << 10 // 4 KiB

	feedSubprotocol = "lanyard.feed.v1"

	defaultSendQueueSize = 64
	minSendQueueSize     = 16

	defaultWriteTimeout = 5 * time.Second
	closeGrace          = 1 * time.Second

	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second
	maxPingFailures   = 3
)
