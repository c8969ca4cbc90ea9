// Package credential owns the attendee credential lifecycle.
//
// A credential is the opaque, stable identifier embedded in an attendee's
// QR code and wallet pass barcode. Exactly one credential exists per user
// and its ID never changes after issuance, because wallet passes cache it.
//
// Alongside the ID the store keeps the hash of the pass-scoped bearer token
// issued at creation time; wallet devices present that token as
// "Authorization: ApplePass <token>" on the registration protocol.
package credential
