package wallet

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"lanyard/cmd/internal/credential"
)

type recordingProvider struct {
	classes []EventTicketClass
	objects []EventTicketObject
}

func (p *recordingProvider) EnsureClass(ctx context.Context, class EventTicketClass) error {
	p.classes = append(p.classes, class)
	return nil
}

func (p *recordingProvider) EnsureObject(ctx context.Context, object EventTicketObject) error {
	p.objects = append(p.objects, object)
	return nil
}

func newGoogleFixture(t *testing.T) (*GoogleFlow, *recordingProvider, *rsa.PrivateKey, string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	credStore := credential.NewInMemoryStore()
	creds, err := credential.NewService(credStore)
	if err != nil {
		t.Fatalf("credential service: %v", err)
	}
	issued, err := creds.Issue(context.Background(), credential.IssueInput{
		OwnerUserID: "user-1",
		Now:         time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	provider := &recordingProvider{}
	flow, err := NewGoogleFlow(nil, GoogleConfig{
		IssuerID:    "3388000000000000001",
		ClassID:     "lanyard-event",
		IssuerEmail: "issuer@lanyard.example",
		EventName:   "Lanyard Event",
		VenueName:   "Main Hall",
		Origins:     []string{"https://lanyard.example"},
		PrivateKey:  key,
	}, creds, provider, nil)
	if err != nil {
		t.Fatalf("google flow: %v", err)
	}
	return flow, provider, key, issued.Credential.ID
}

func TestGoogleSaveURL_SignsVerifiableJWT(t *testing.T) {
	t.Parallel()

	flow, provider, key, credID := newGoogleFixture(t)

	url, err := flow.SaveURL(context.Background(), credID)
	if err != nil {
		t.Fatalf("save url: %v", err)
	}
	if !strings.HasPrefix(url, GoogleSaveURLBase) {
		t.Fatalf("expected save URL prefix, got %q", url)
	}

	// Class and object were upserted before signing.
	if len(provider.classes) != 1 || len(provider.objects) != 1 {
		t.Fatalf("expected 1 class and 1 object upsert, got %d/%d", len(provider.classes), len(provider.objects))
	}
	if want := "3388000000000000001." + credID; provider.objects[0].ID != want {
		t.Fatalf("expected object id %q, got %q", want, provider.objects[0].ID)
	}
	if provider.objects[0].Barcode.Value != credID {
		t.Fatalf("expected barcode to carry the credential id, got %q", provider.objects[0].Barcode.Value)
	}

	raw := strings.TrimPrefix(url, GoogleSaveURLBase)
	parsed, err := jwt.Parse(raw, func(tok *jwt.Token) (any, error) {
		return &key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	if err != nil {
		t.Fatalf("parse jwt: %v", err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		t.Fatalf("expected map claims")
	}
	if claims["typ"] != "savetowallet" {
		t.Fatalf("expected typ savetowallet, got %v", claims["typ"])
	}
	if claims["iss"] != "issuer@lanyard.example" {
		t.Fatalf("expected issuer email, got %v", claims["iss"])
	}
	aud, err := claims.GetAudience()
	if err != nil || len(aud) != 1 || aud[0] != "google" {
		t.Fatalf("expected aud google, got %v (%v)", aud, err)
	}
	if _, ok := claims["payload"].(map[string]any); !ok {
		t.Fatalf("expected embedded payload, got %T", claims["payload"])
	}
}

func TestGoogleHandler_RedirectAndNotFound(t *testing.T) {
	t.Parallel()

	flow, _, _, credID := newGoogleFixture(t)
	mux := http.NewServeMux()
	flow.Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/wallet/google/"+credID, nil))
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); !strings.HasPrefix(loc, GoogleSaveURLBase) {
		t.Fatalf("expected redirect to save URL, got %q", loc)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/wallet/google/01JNOSUCHCRED000000000000Z", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
