package gateapi

import "time"

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	DeviceID string `json:"device_id"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	StaffID   string    `json:"staff_id"`
	Username  string    `json:"username"`
	Roles     []string  `json:"roles"`
	ExpiresAt time.Time `json:"expires_at"`
}

type redeemRequest struct {
	CredentialID   string `json:"credential_id"`
	WindowID       string `json:"window_id"`
	IdempotencyKey string `json:"idempotency_key"`
}

// redeemResponse is returned for every resolved scan, whatever the
// outcome. Offline drains key off Outcome, not the HTTP status.
type redeemResponse struct {
	Outcome    string     `json:"outcome"`
	Replayed   bool       `json:"replayed,omitempty"`
	EventID    string     `json:"event_id,omitempty"`
	Action     string     `json:"action,omitempty"`
	RedeemedAt *time.Time `json:"redeemed_at,omitempty"`
}

type windowResponse struct {
	ID               string    `json:"id"`
	Action           string    `json:"action"`
	OpensAt          time.Time `json:"opens_at"`
	ClosesAt         time.Time `json:"closes_at"`
	MaxPerCredential int       `json:"max_per_credential"`
	Open             bool      `json:"open"`
}

type windowsResponse struct {
	Windows []windowResponse `json:"windows"`
}

type createWindowRequest struct {
	ID               string    `json:"id"`
	Action           string    `json:"action"`
	OpensAt          time.Time `json:"opens_at"`
	ClosesAt         time.Time `json:"closes_at"`
	MaxPerCredential int       `json:"max_per_credential"`
}

type issueRequest struct {
	OwnerUserID string `json:"owner_user_id"`
}

// issueResponse carries the plaintext pass token exactly once, on the
// request that created the credential. Re-issues return an empty token.
type issueResponse struct {
	CredentialID string    `json:"credential_id"`
	PassToken    string    `json:"pass_token,omitempty"`
	Created      bool      `json:"created"`
	IssuedAt     time.Time `json:"issued_at"`
}
