// Package redemption implements the redemption state machine: named,
// time-boxed eligibility windows and the append-only event log that
// guarantees at most max-per-credential accepted redemptions per window,
// under concurrent scanners.
//
// The count-then-insert decision runs inside a single database transaction
// that locks the credential row, so two scanners racing on the same
// credential serialize and exactly one wins. Client-generated idempotency
// keys make offline-queue replays safe: a retried scan returns the outcome
// of the event it already created instead of being re-evaluated.
package redemption
