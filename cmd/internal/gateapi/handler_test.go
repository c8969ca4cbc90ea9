package gateapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lanyard/cmd/internal/credential"
	"lanyard/cmd/internal/feed"
	"lanyard/cmd/internal/redemption"
	"lanyard/cmd/internal/staff"
	"lanyard/cmd/internal/wallet"
	"lanyard/cmd/security/password"
)

const (
	testAdminPassword   = "correct-horse-battery"
	testScannerPassword = "scanner-pass-123456"
)

type fixture struct {
	mux        *http.ServeMux
	staffSvc   *staff.Service
	creds      *credential.Service
	credStore  *credential.InMemoryStore
	redemStore *redemption.InMemoryStore
	hub        *feed.Hub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	pwcfg := password.DefaultConfig()
	pwcfg.Params.MemoryKiB = 8 * 1024
	pwcfg.Params.Iterations = 1

	staffStore := staff.NewInMemoryStore()
	staffSvc, err := staff.NewService(log, staff.Config{TokenTTL: time.Hour}, staffStore, pwcfg)
	require.NoError(t, err)

	_, err = staffSvc.CreateAccount(t.Context(), staff.CreateAccountInput{
		Username: "admin",
		Password: testAdminPassword,
		Roles:    []string{staff.RoleAdmin, staff.RoleScanner},
	})
	require.NoError(t, err)
	_, err = staffSvc.CreateAccount(t.Context(), staff.CreateAccountInput{
		Username: "scanner",
		Password: testScannerPassword,
	})
	require.NoError(t, err)

	credStore := credential.NewInMemoryStore()
	creds, err := credential.NewService(credStore)
	require.NoError(t, err)

	redemStore := redemption.NewInMemoryStore()
	engine, err := redemption.NewEngine(log, redemStore)
	require.NoError(t, err)

	hub := feed.NewHub(log)

	regs := wallet.NewInMemoryStore()
	queue, err := wallet.NewPushQueue(log, wallet.PushQueueConfig{}, wallet.LogPusher{Log: log}, regs)
	require.NoError(t, err)
	coord, err := wallet.NewCoordinator(log, regs, credStore, redemStore, queue)
	require.NoError(t, err)
	builder, err := wallet.NewPassBuilder(wallet.PassConfig{
		PassTypeID:       "pass.com.lanyard.event",
		TeamID:           "TEAM123456",
		OrganizationName: "Lanyard",
	}, nil)
	require.NoError(t, err)

	h, err := NewHandler(log, LoadConfigFromEnv(), engine, redemStore, creds, staffSvc, hub, coord, builder)
	require.NoError(t, err)
	mux := http.NewServeMux()
	h.Register(mux)

	return &fixture{
		mux:        mux,
		staffSvc:   staffSvc,
		creds:      creds,
		credStore:  credStore,
		redemStore: redemStore,
		hub:        hub,
	}
}

func (f *fixture) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) login(t *testing.T, username, passwd string) loginResponse {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/staff/login", "", map[string]string{
		"username":  username,
		"password":  passwd,
		"device_id": "device-" + username,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.NotEmpty(t, out.Token)
	return out
}

// issueCredential creates a credential directly and registers it with the
// redemption store, returning the id and the plaintext pass token.
func (f *fixture) issueCredential(t *testing.T, owner string) (string, string) {
	t.Helper()
	issued, err := f.creds.Issue(t.Context(), credential.IssueInput{OwnerUserID: owner})
	require.NoError(t, err)
	require.True(t, issued.Created)
	f.redemStore.AddCredential(issued.Credential.ID)
	return issued.Credential.ID, issued.PassToken
}

func (f *fixture) createWindow(t *testing.T, adminToken, id string, opensAt, closesAt time.Time, maxPer int) {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/windows", adminToken, createWindowRequest{
		ID:               id,
		Action:           string(redemption.ActionMeal),
		OpensAt:          opensAt,
		ClosesAt:         closesAt,
		MaxPerCredential: maxPer,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestRedeemFlow(t *testing.T) {
	f := newFixture(t)
	admin := f.login(t, "admin", testAdminPassword)
	scanner := f.login(t, "scanner", testScannerPassword)

	credID, _ := f.issueCredential(t, "attendee-1")
	now := time.Now().UTC()
	f.createWindow(t, admin.Token, "lunch-day-1", now.Add(-time.Hour), now.Add(time.Hour), 1)

	// Fresh accept.
	rec := f.do(t, http.MethodPost, "/redeem", scanner.Token, redeemRequest{
		CredentialID:   credID,
		WindowID:       "lunch-day-1",
		IdempotencyKey: "scan-1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var first redeemResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	require.Equal(t, "accepted", first.Outcome)
	require.False(t, first.Replayed)
	require.NotEmpty(t, first.EventID)
	require.Equal(t, string(redemption.ActionMeal), first.Action)

	// Retry with the same key replays the stored event.
	rec = f.do(t, http.MethodPost, "/redeem", scanner.Token, redeemRequest{
		CredentialID:   credID,
		WindowID:       "lunch-day-1",
		IdempotencyKey: "scan-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var replay redeemResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &replay))
	require.Equal(t, "accepted", replay.Outcome)
	require.True(t, replay.Replayed)
	require.Equal(t, first.EventID, replay.EventID)

	// A second scan under a new key hits the per-window cap.
	rec = f.do(t, http.MethodPost, "/redeem", scanner.Token, redeemRequest{
		CredentialID:   credID,
		WindowID:       "lunch-day-1",
		IdempotencyKey: "scan-2",
	})
	require.Equal(t, http.StatusConflict, rec.Code)

	// Unknown credential.
	rec = f.do(t, http.MethodPost, "/redeem", scanner.Token, redeemRequest{
		CredentialID:   "no-such-credential",
		WindowID:       "lunch-day-1",
		IdempotencyKey: "scan-3",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)

	// Closed window.
	f.createWindow(t, admin.Token, "lunch-day-0", now.Add(-48*time.Hour), now.Add(-24*time.Hour), 1)
	rec = f.do(t, http.MethodPost, "/redeem", scanner.Token, redeemRequest{
		CredentialID:   credID,
		WindowID:       "lunch-day-0",
		IdempotencyKey: "scan-4",
	})
	require.Equal(t, http.StatusGone, rec.Code)
}

func TestRedeemRejectsBadRequests(t *testing.T) {
	f := newFixture(t)
	scanner := f.login(t, "scanner", testScannerPassword)

	rec := f.do(t, http.MethodPost, "/redeem", "", redeemRequest{
		CredentialID:   "c",
		WindowID:       "w",
		IdempotencyKey: "k",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/redeem", scanner.Token, redeemRequest{
		CredentialID: "c",
		WindowID:     "w",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	long := make([]byte, maxIdempotencyKeyLen+1)
	for i := range long {
		long[i] = 'k'
	}
	rec = f.do(t, http.MethodPost, "/redeem", scanner.Token, redeemRequest{
		CredentialID:   "c",
		WindowID:       "w",
		IdempotencyKey: string(long),
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWindowRoutesEnforceRoles(t *testing.T) {
	f := newFixture(t)
	scanner := f.login(t, "scanner", testScannerPassword)
	admin := f.login(t, "admin", testAdminPassword)

	now := time.Now().UTC()
	body := createWindowRequest{
		ID:       "checkin",
		Action:   string(redemption.ActionCheckIn),
		OpensAt:  now,
		ClosesAt: now.Add(8 * time.Hour),
	}
	rec := f.do(t, http.MethodPost, "/windows", scanner.Token, body)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/windows", admin.Token, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// Scanners can list windows for bootstrap.
	rec = f.do(t, http.MethodGet, "/windows", scanner.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ws windowsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ws))
	require.Len(t, ws.Windows, 1)
	require.Equal(t, "checkin", ws.Windows[0].ID)
	require.True(t, ws.Windows[0].Open)
	// Defaulted cap.
	require.Equal(t, 1, ws.Windows[0].MaxPerCredential)
}

func TestWindowCreateValidation(t *testing.T) {
	f := newFixture(t)
	admin := f.login(t, "admin", testAdminPassword)
	now := time.Now().UTC()

	rec := f.do(t, http.MethodPost, "/windows", admin.Token, createWindowRequest{
		ID:       "bad-action",
		Action:   "teleport",
		OpensAt:  now,
		ClosesAt: now.Add(time.Hour),
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/windows", admin.Token, createWindowRequest{
		ID:       "inverted",
		Action:   string(redemption.ActionMeal),
		OpensAt:  now.Add(time.Hour),
		ClosesAt: now,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIssueCredentialIdempotent(t *testing.T) {
	f := newFixture(t)
	admin := f.login(t, "admin", testAdminPassword)

	rec := f.do(t, http.MethodPost, "/credentials/issue", admin.Token, issueRequest{OwnerUserID: "attendee-9"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var first issueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	require.True(t, first.Created)
	require.NotEmpty(t, first.CredentialID)
	require.NotEmpty(t, first.PassToken)

	// Re-issue returns the same credential without the plaintext token.
	rec = f.do(t, http.MethodPost, "/credentials/issue", admin.Token, issueRequest{OwnerUserID: "attendee-9"})
	require.Equal(t, http.StatusOK, rec.Code)
	var again issueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &again))
	require.False(t, again.Created)
	require.Equal(t, first.CredentialID, again.CredentialID)
	require.Empty(t, again.PassToken)
}

func TestFeedPublishOnFreshAcceptOnly(t *testing.T) {
	f := newFixture(t)
	admin := f.login(t, "admin", testAdminPassword)
	scanner := f.login(t, "scanner", testScannerPassword)

	credID, _ := f.issueCredential(t, "attendee-2")
	now := time.Now().UTC()
	f.createWindow(t, admin.Token, "dinner", now.Add(-time.Minute), now.Add(time.Hour), 1)

	client := feed.NewClient("sess-1", "staff-1", 8)
	f.hub.Join(client)
	defer f.hub.Leave(client.SessionID)

	req := redeemRequest{CredentialID: credID, WindowID: "dinner", IdempotencyKey: "scan-1"}
	rec := f.do(t, http.MethodPost, "/redeem", scanner.Token, req)
	require.Equal(t, http.StatusOK, rec.Code)

	select {
	case ev := <-client.Send:
		require.Equal(t, feed.EventRedemption, ev.Type)
		require.Equal(t, credID, ev.CredentialID)
		require.Equal(t, "dinner", ev.WindowID)
		require.Equal(t, string(redemption.ActionMeal), ev.Action)
	default:
		t.Fatal("expected a feed event after a fresh accept")
	}

	// Replay must not publish again.
	rec = f.do(t, http.MethodPost, "/redeem", scanner.Token, req)
	require.Equal(t, http.StatusOK, rec.Code)
	select {
	case ev := <-client.Send:
		t.Fatalf("unexpected feed event on replay: %+v", ev)
	default:
	}
}

func TestApplePassDownload(t *testing.T) {
	f := newFixture(t)
	credID, passToken := f.issueCredential(t, "attendee-3")

	req := httptest.NewRequest(http.MethodGet, "/wallet/apple/"+credID, nil)
	req.Header.Set("Authorization", "ApplePass "+passToken)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var payload wallet.PassPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, credID, payload.SerialNumber)
	require.Equal(t, passToken, payload.AuthenticationToken)

	// Wrong token, and unknown serial, both read as 401.
	req = httptest.NewRequest(http.MethodGet, "/wallet/apple/"+credID, nil)
	req.Header.Set("Authorization", "ApplePass not-the-token")
	rec = httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/wallet/apple/nope", nil)
	req.Header.Set("Authorization", "ApplePass "+passToken)
	rec = httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginThrottleByIP(t *testing.T) {
	f := newFixture(t)
	// All httptest requests share the same RemoteAddr, so repeated
	// failures trip the per-IP throttle.
	for i := 0; i < 25; i++ {
		rec := f.do(t, http.MethodPost, "/staff/login", "", map[string]string{
			"username":  "admin",
			"password":  fmt.Sprintf("wrong-%d", i),
			"device_id": "d",
		})
		if rec.Code == http.StatusTooManyRequests {
			require.NotEmpty(t, rec.Header().Get("Retry-After"))
			return
		}
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	t.Fatal("throttle never engaged")
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	scanner := f.login(t, "scanner", testScannerPassword)

	rec := f.do(t, http.MethodPost, "/staff/logout", scanner.Token, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// The revoked token no longer authenticates.
	rec = f.do(t, http.MethodGet, "/windows", scanner.Token, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
