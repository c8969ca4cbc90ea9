package staff

import (
	"context"
	"errors"
	"testing"
	"time"

	"lanyard/cmd/security/password"
)

func testPasswordConfig() password.Config {
	cfg := password.DefaultConfig()
	// Keep hashing cheap in tests.
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	return cfg
}

func newTestService(t *testing.T) (*Service, *InMemoryStore) {
	t.Helper()
	store := NewInMemoryStore()
	svc, err := NewService(nil, Config{TokenTTL: time.Hour}, store, testPasswordConfig())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, store
}

func TestCreateAccount_DuplicateUsernameCaseInsensitive(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateAccount(ctx, CreateAccountInput{
		Username: "Gatekeeper",
		Password: "a-long-enough-password",
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err := svc.CreateAccount(ctx, CreateAccountInput{
		Username: "gateKEEPER",
		Password: "another-long-password",
	})
	if !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got: %v", err)
	}
}

func TestLogin_IssuesVerifiableDeviceToken(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	acct, err := svc.CreateAccount(ctx, CreateAccountInput{
		Username: "door-crew",
		Password: "a-long-enough-password",
		Roles:    []string{RoleScanner},
		Now:      now,
	})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}

	sess, err := svc.Login(ctx, LoginInput{
		Username: "door-crew",
		Password: "a-long-enough-password",
		DeviceID: "scanner-7",
		Now:      now,
	})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if sess.Token == "" {
		t.Fatalf("expected plaintext token")
	}
	if sess.Device.DeviceID != "scanner-7" {
		t.Fatalf("expected device id recorded, got %q", sess.Device.DeviceID)
	}

	got, device, err := svc.VerifyDeviceToken(ctx, sess.Token, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.ID != acct.ID {
		t.Fatalf("expected account %q, got %q", acct.ID, got.ID)
	}
	if device.ID != sess.Device.ID {
		t.Fatalf("expected device token %q, got %q", sess.Device.ID, device.ID)
	}
}

func TestLogin_Rejections(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateAccount(ctx, CreateAccountInput{
		Username: "door-crew",
		Password: "a-long-enough-password",
	}); err != nil {
		t.Fatalf("create account: %v", err)
	}

	_, err := svc.Login(ctx, LoginInput{Username: "door-crew", Password: "wrong"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: expected ErrInvalidCredentials, got: %v", err)
	}

	_, err = svc.Login(ctx, LoginInput{Username: "nobody", Password: "whatever-password"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown user: expected ErrInvalidCredentials, got: %v", err)
	}
}

func TestVerifyDeviceToken_ExpiryAndRevocation(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := svc.CreateAccount(ctx, CreateAccountInput{
		Username: "door-crew",
		Password: "a-long-enough-password",
		Now:      now,
	}); err != nil {
		t.Fatalf("create account: %v", err)
	}
	sess, err := svc.Login(ctx, LoginInput{
		Username: "door-crew",
		Password: "a-long-enough-password",
		Now:      now,
	})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	// Past TTL the token stops working.
	_, _, err = svc.VerifyDeviceToken(ctx, sess.Token, now.Add(2*time.Hour))
	if !errors.Is(err, ErrTokenNotActive) {
		t.Fatalf("expired: expected ErrTokenNotActive, got: %v", err)
	}

	// Logout revokes, and is idempotent.
	if err := svc.Logout(ctx, sess.Token, now); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if err := svc.Logout(ctx, sess.Token, now); err != nil {
		t.Fatalf("repeat logout: %v", err)
	}
	_, _, err = svc.VerifyDeviceToken(ctx, sess.Token, now.Add(time.Minute))
	if !errors.Is(err, ErrTokenNotActive) {
		t.Fatalf("revoked: expected ErrTokenNotActive, got: %v", err)
	}

	_, _, err = svc.VerifyDeviceToken(ctx, "not-a-real-token", now)
	if !errors.Is(err, ErrTokenNotActive) {
		t.Fatalf("unknown: expected ErrTokenNotActive, got: %v", err)
	}
}
