// Package scanqueue is the scanner's offline outbox.
//
// Every scan is appended to a local SQLite queue before anything touches
// the network. The idempotency key is minted once, at enqueue time, and
// survives restarts, so a drain retried across crashes can never turn
// one physical scan into two redemptions. The drain submits strictly in
// order, one scan in flight at a time.
package scanqueue
