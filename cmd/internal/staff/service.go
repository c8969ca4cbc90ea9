package staff

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"lanyard/cmd/security/password"
	"lanyard/cmd/security/token"
)

const deviceTokenBytes = 32

// Config tunes the staff service.
type Config struct {
	// TokenTTL bounds device token lifetime. Scanners re-login after it
	// lapses; event deployments usually set this to cover the whole event.
	TokenTTL time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{TokenTTL: 7 * 24 * time.Hour}
}

// Service implements staff account and device token operations.
type Service struct {
	log       *slog.Logger
	cfg       Config
	store     Store
	passwords password.Config

	// dummyHash absorbs verification time for unknown usernames so login
	// timing does not reveal which usernames exist.
	dummyHash string
}

// NewService constructs a Service.
func NewService(log *slog.Logger, cfg Config, store Store, passwords password.Config) (*Service, error) {
	if store == nil {
		return nil, ErrInvalidInput
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultConfig().TokenTTL
	}
	s := &Service{log: log, cfg: cfg, store: store, passwords: passwords}
	if hash, err := passwords.Hash("dummy-password-for-timing-only"); err == nil {
		s.dummyHash = hash
	}
	return s, nil
}

// CreateAccountInput describes a staff account registration.
type CreateAccountInput struct {
	Username string
	Password string
	Roles    []string
	Now      time.Time
}

// CreateAccount registers a staff account with a hashed password.
func (s *Service) CreateAccount(ctx context.Context, in CreateAccountInput) (Account, error) {
	if s == nil || s.store == nil {
		return Account{}, ErrInvalidInput
	}
	username := strings.TrimSpace(in.Username)
	if username == "" {
		return Account{}, ErrInvalidInput
	}
	if err := s.passwords.Validate(in.Password); err != nil {
		return Account{}, err
	}
	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return Account{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := newULID(now)
	if err != nil {
		return Account{}, err
	}
	roles := in.Roles
	if len(roles) == 0 {
		roles = []string{RoleScanner}
	}

	acct, err := s.store.CreateAccount(ctx, CreateAccountRecord{
		ID:           id,
		Username:     username,
		PasswordHash: hash,
		Roles:        roles,
		CreatedAt:    now,
	})
	if err != nil {
		return Account{}, err
	}
	s.log.Info("staff.account.created", "staff_id", acct.ID, "roles", roles)
	return acct, nil
}

// LoginInput describes a device login attempt.
type LoginInput struct {
	Username string
	Password string
	DeviceID string
	Now      time.Time
}

// Session is a successful device login.
//
// Token is the plaintext device bearer token, returned exactly once;
// only its hash is stored.
type Session struct {
	Account Account
	Device  DeviceToken
	Token   string
}

// Login verifies credentials and mints a device token.
func (s *Service) Login(ctx context.Context, in LoginInput) (Session, error) {
	if s == nil || s.store == nil {
		return Session{}, ErrInvalidInput
	}
	username := strings.TrimSpace(in.Username)
	if username == "" || in.Password == "" {
		return Session{}, ErrInvalidCredentials
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	acct, err := s.store.GetAccountByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		// Burn comparable time before answering.
		if s.dummyHash != "" {
			_, _ = s.passwords.Verify(s.dummyHash, in.Password)
		}
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, err
	}

	ok, err := s.passwords.Verify(acct.PasswordHash, in.Password)
	if err != nil {
		return Session{}, err
	}
	if !ok {
		s.log.Info("staff.login.rejected", "staff_id", acct.ID)
		return Session{}, ErrInvalidCredentials
	}

	plain, err := token.NewOpaque(deviceTokenBytes)
	if err != nil {
		return Session{}, err
	}
	tokenID, err := newULID(now)
	if err != nil {
		return Session{}, err
	}

	device, err := s.store.CreateDeviceToken(ctx, CreateTokenRecord{
		ID:        tokenID,
		StaffID:   acct.ID,
		TokenHash: token.HashBearerTokenHex(plain),
		DeviceID:  strings.TrimSpace(in.DeviceID),
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.TokenTTL),
	})
	if err != nil {
		return Session{}, err
	}

	s.log.Info("staff.login.ok", "staff_id", acct.ID, "device_id", device.DeviceID)
	return Session{Account: acct, Device: device, Token: plain}, nil
}

// VerifyDeviceToken resolves a bearer token to its account.
//
// Expired, revoked, and unknown tokens all answer ErrTokenNotActive; the
// caller cannot tell them apart and does not need to.
func (s *Service) VerifyDeviceToken(ctx context.Context, bearer string, now time.Time) (Account, DeviceToken, error) {
	if s == nil || s.store == nil {
		return Account{}, DeviceToken{}, ErrInvalidInput
	}
	bearer = strings.TrimSpace(bearer)
	if bearer == "" {
		return Account{}, DeviceToken{}, ErrTokenNotActive
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	device, err := s.store.GetDeviceTokenByHash(ctx, token.HashBearerTokenHex(bearer))
	if errors.Is(err, ErrNotFound) {
		return Account{}, DeviceToken{}, ErrTokenNotActive
	}
	if err != nil {
		return Account{}, DeviceToken{}, err
	}
	if !device.Active(now) {
		return Account{}, DeviceToken{}, ErrTokenNotActive
	}

	acct, err := s.store.GetAccountByID(ctx, device.StaffID)
	if errors.Is(err, ErrNotFound) {
		return Account{}, DeviceToken{}, ErrTokenNotActive
	}
	if err != nil {
		return Account{}, DeviceToken{}, err
	}
	return acct, device, nil
}

// Logout revokes the device token behind a bearer. Unknown tokens are a
// no-op so logout is idempotent.
func (s *Service) Logout(ctx context.Context, bearer string, now time.Time) error {
	if s == nil || s.store == nil {
		return ErrInvalidInput
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	device, err := s.store.GetDeviceTokenByHash(ctx, token.HashBearerTokenHex(strings.TrimSpace(bearer)))
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.store.RevokeDeviceToken(ctx, device.ID, now)
}

func newULID(now time.Time) (string, error) {
	id, err := ulid.New(ulid.Timestamp(now.UTC()), ulid.Monotonic(rand.Reader, 0))
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
