// Package staff manages scanner operator accounts and device tokens.
//
// Staff log in once per device with username and password; the device
// receives an opaque bearer token (stored hashed) that authenticates
// every later redeem call from that scanner.
package staff
