// Package gateapi is the HTTP surface scanners and staff tooling talk to:
// device login, scan redemption, window bootstrap, credential issuance,
// and the pass payload download.
//
// Every scan answer is an outcome, not an error: the HTTP status encodes
// the outcome (200 accepted, 409 already redeemed, 410 window closed,
// 404 unknown credential) and the body repeats it for offline queues
// that only persist bodies.
package gateapi
