package wallet

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"lanyard/cmd/internal/credential"
)

type appleFixture struct {
	mux     *http.ServeMux
	creds   *credential.Service
	regs    *InMemoryStore
	events  *fakeEventTimes
	token   string
	credID  string
	passTID string
}

func newAppleFixture(t *testing.T) *appleFixture {
	t.Helper()

	credStore := credential.NewInMemoryStore()
	creds, err := credential.NewService(credStore)
	if err != nil {
		t.Fatalf("credential service: %v", err)
	}

	issued, err := creds.Issue(context.Background(), credential.IssueInput{
		OwnerUserID: "user-1",
		Now:         time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	regs := NewInMemoryStore()
	events := &fakeEventTimes{latest: map[string]time.Time{}}

	queue, err := NewPushQueue(nil, DefaultPushQueueConfig(), LogPusher{}, regs)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	coord, err := NewCoordinator(nil, regs, credStore, events, queue)
	if err != nil {
		t.Fatalf("coordinator: %v", err)
	}
	builder, err := NewPassBuilder(DefaultPassConfig(), nil)
	if err != nil {
		t.Fatalf("builder: %v", err)
	}
	h, err := NewAppleHandler(nil, creds, regs, coord, builder)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	mux := http.NewServeMux()
	h.Register(mux)

	return &appleFixture{
		mux:     mux,
		creds:   creds,
		regs:    regs,
		events:  events,
		token:   issued.PassToken,
		credID:  issued.Credential.ID,
		passTID: DefaultPassConfig().PassTypeID,
	}
}

func (f *appleFixture) do(method, path, token string, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "ApplePass "+token)
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func (f *appleFixture) registrationPath(dlid string) string {
	return "/v1/devices/" + dlid + "/registrations/" + f.passTID + "/" + f.credID
}

func TestAppleRegister_CreatedThenAlready(t *testing.T) {
	t.Parallel()
	f := newAppleFixture(t)

	rec := f.do(http.MethodPost, f.registrationPath("device-a"), f.token, `{"pushToken":"apns-1"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	rec = f.do(http.MethodPost, f.registrationPath("device-a"), f.token, `{"pushToken":"apns-2"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on re-register, got %d", rec.Code)
	}

	// The re-register refreshed the push token.
	regs, err := f.regs.ListByCredential(context.Background(), f.credID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(regs) != 1 || regs[0].PushToken != "apns-2" {
		t.Fatalf("expected 1 registration with refreshed token, got %+v", regs)
	}
}

func TestAppleRegister_AuthFailures(t *testing.T) {
	t.Parallel()
	f := newAppleFixture(t)

	rec := f.do(http.MethodPost, f.registrationPath("device-a"), "", `{"pushToken":"apns-1"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing header: expected 401, got %d", rec.Code)
	}

	rec = f.do(http.MethodPost, f.registrationPath("device-a"), "wrong-token", `{"pushToken":"apns-1"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: expected 401, got %d", rec.Code)
	}

	// Unknown serial must be indistinguishable from a bad token.
	path := "/v1/devices/device-a/registrations/" + f.passTID + "/01JNOSUCHSERIAL0000000000Z"
	rec = f.do(http.MethodPost, path, f.token, `{"pushToken":"apns-1"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unknown serial: expected 401, got %d", rec.Code)
	}
}

func TestAppleUnregister_Idempotent(t *testing.T) {
	t.Parallel()
	f := newAppleFixture(t)

	rec := f.do(http.MethodPost, f.registrationPath("device-a"), f.token, `{"pushToken":"apns-1"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d", rec.Code)
	}

	rec = f.do(http.MethodDelete, f.registrationPath("device-a"), f.token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", rec.Code)
	}

	// Second delete of the same triple still answers 200.
	rec = f.do(http.MethodDelete, f.registrationPath("device-a"), f.token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("repeat delete: expected 200, got %d", rec.Code)
	}
}

func TestAppleUpdatedSerials_WatermarkFiltering(t *testing.T) {
	t.Parallel()
	f := newAppleFixture(t)

	rec := f.do(http.MethodPost, f.registrationPath("device-a"), f.token, `{"pushToken":"apns-1"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d", rec.Code)
	}

	listPath := "/v1/devices/device-a/registrations/" + f.passTID

	rec = f.do(http.MethodGet, listPath, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp updatedSerialsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.SerialNumbers) != 1 || resp.SerialNumbers[0] != f.credID {
		t.Fatalf("expected serial %q, got %v", f.credID, resp.SerialNumbers)
	}
	if resp.LastUpdated == "" {
		t.Fatalf("expected lastUpdated watermark")
	}

	// Polling with the returned watermark finds nothing new.
	rec = f.do(http.MethodGet, listPath+"?passesUpdatedSince="+resp.LastUpdated, "", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	// A fresh redemption moves the tag past the watermark.
	watermark, err := strconv.ParseInt(resp.LastUpdated, 10, 64)
	if err != nil {
		t.Fatalf("parse watermark: %v", err)
	}
	f.events.latest[f.credID] = time.Unix(watermark, 0).UTC().Add(time.Minute)

	rec = f.do(http.MethodGet, listPath+"?passesUpdatedSince="+resp.LastUpdated, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 after redemption, got %d", rec.Code)
	}

	rec = f.do(http.MethodGet, listPath+"?passesUpdatedSince=not-a-number", "", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed watermark, got %d", rec.Code)
	}
}

func TestApplePass_DownloadAndNotModified(t *testing.T) {
	t.Parallel()
	f := newAppleFixture(t)

	passPath := "/v1/passes/" + f.passTID + "/" + f.credID

	rec := f.do(http.MethodGet, passPath, f.token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	lastModified := rec.Header().Get("Last-Modified")
	if lastModified == "" {
		t.Fatalf("expected Last-Modified header")
	}

	var payload PassPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.SerialNumber != f.credID {
		t.Fatalf("expected serial %q, got %q", f.credID, payload.SerialNumber)
	}
	if len(payload.Barcodes) != 1 || payload.Barcodes[0].Message != f.credID {
		t.Fatalf("expected barcode to carry the credential id, got %+v", payload.Barcodes)
	}

	req := httptest.NewRequest(http.MethodGet, passPath, nil)
	req.Header.Set("Authorization", "ApplePass "+f.token)
	req.Header.Set("If-Modified-Since", lastModified)
	rec2 := httptest.NewRecorder()
	f.mux.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", rec2.Code)
	}

	rec = f.do(http.MethodGet, passPath, "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}

func TestApplePass_UnknownPassTypeIs404(t *testing.T) {
	t.Parallel()
	f := newAppleFixture(t)

	rec := f.do(http.MethodGet, "/v1/passes/pass.com.other/"+f.credID, f.token, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign pass type, got %d", rec.Code)
	}
}
