// Package feed streams accepted scans to staff dashboards over websocket.
//
// The feed is broadcast-only and best-effort: clients authenticate with a
// staff device token, then receive scan events as they happen. Slow
// clients are dropped rather than allowed to block the fanout; the gate
// API remains the source of truth.
package feed
