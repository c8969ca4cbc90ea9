package staff

import (
	"context"
	"time"
)

// Roles a staff account can hold. Scanner variants exist for staffing
// reports; every active device token may redeem regardless of variant.
const (
	RoleAdmin        = "admin"
	RoleScanner      = "scanner"
	RoleFoodManager  = "food_manager"
	RoleEventManager = "event_manager"
)

// Account is one scanner operator.
type Account struct {
	ID           string
	Username     string
	PasswordHash string
	Roles        []string
	CreatedAt    time.Time
}

// HasRole reports whether the account holds the given role.
func (a Account) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// DeviceToken is one scanner device's login, stored hashed.
type DeviceToken struct {
	ID        string
	StaffID   string
	TokenHash string
	DeviceID  string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// Active reports whether the token is usable at the given instant.
func (t DeviceToken) Active(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

// CreateAccountRecord is a normalized account insert payload.
type CreateAccountRecord struct {
	ID           string
	Username     string
	PasswordHash string
	Roles        []string
	CreatedAt    time.Time
}

// CreateTokenRecord is a normalized device token insert payload.
type CreateTokenRecord struct {
	ID        string
	StaffID   string
	TokenHash string
	DeviceID  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Store is the persistence boundary for staff accounts and device tokens.
type Store interface {
	// CreateAccount inserts an account. A taken username (case-insensitive)
	// returns ErrUsernameTaken.
	CreateAccount(ctx context.Context, in CreateAccountRecord) (Account, error)
	GetAccountByID(ctx context.Context, staffID string) (Account, error)
	GetAccountByUsername(ctx context.Context, username string) (Account, error)

	CreateDeviceToken(ctx context.Context, in CreateTokenRecord) (DeviceToken, error)
	GetDeviceTokenByHash(ctx context.Context, tokenHash string) (DeviceToken, error)
	RevokeDeviceToken(ctx context.Context, tokenID string, now time.Time) error
	RevokeAllDeviceTokens(ctx context.Context, staffID string, now time.Time) error
}
