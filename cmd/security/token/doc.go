// Package token provides token hashing primitives for lanyard.
//
// It is the single source of truth for how opaque bearer tokens are hashed
// before storage: the pass-scoped ApplePass token issued at credential
// creation, and the device tokens issued to staff scanners at login.
//
// Design goals:
// - Default dev/back-compat mode: SHA-256(token) when no HMAC key is configured.
// - Production-enforced mode: HMAC-SHA256(token, key) when policy requires it.
// - Stable 64-char hex output for storage and constant-time comparison.
//
// Environment:
// - LANYARD_TOKEN_HMAC_KEY: when set, enables HMAC mode.
// Policy:
//   - If RequireTokenHMAC=true, callers MUST enforce a minimum key size (>= 32 bytes)
//     and MUST use HMAC (no SHA fallback).
package token
