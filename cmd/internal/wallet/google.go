package wallet

import (
	"context"
	"crypto/rsa"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"lanyard/cmd/internal/credential"
)

// GoogleConfig identifies the issuer for the save-to-wallet flow.
type GoogleConfig struct {
	IssuerID    string
	ClassID     string
	IssuerEmail string
	EventName   string
	VenueName   string
	Origins     []string
	PrivateKey  *rsa.PrivateKey
}

// LocalizedString is the walletobjects localized value shape.
type LocalizedString struct {
	DefaultValue LanguageValue `json:"defaultValue"`
}

// LanguageValue is one language/value pair.
type LanguageValue struct {
	Language string `json:"language"`
	Value    string `json:"value"`
}

// EventTicketClass is the shared ticket template registered with the
// provider once per event.
type EventTicketClass struct {
	ID           string          `json:"id"`
	IssuerName   string          `json:"issuerName"`
	ReviewStatus string          `json:"reviewStatus"`
	EventName    LocalizedString `json:"eventName"`
	Venue        *EventVenue     `json:"venue,omitempty"`
}

// EventVenue names where the event happens.
type EventVenue struct {
	Name LocalizedString `json:"name"`
}

// EventTicketBarcode carries the scannable credential id.
type EventTicketBarcode struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// EventTicketObject is one attendee's ticket instance.
type EventTicketObject struct {
	ID               string             `json:"id"`
	ClassID          string             `json:"classId"`
	State            string             `json:"state"`
	Barcode          EventTicketBarcode `json:"barcode"`
	TicketHolderName string             `json:"ticketHolderName,omitempty"`
}

// GoogleProvider upserts ticket classes and objects with the wallet
// provider ahead of the save redirect.
type GoogleProvider interface {
	EnsureClass(ctx context.Context, class EventTicketClass) error
	EnsureObject(ctx context.Context, object EventTicketObject) error
}

// LogProvider records upsert intents in the log. Default in dev mode,
// where no provider service account exists.
type LogProvider struct {
	Log *slog.Logger
}

func (p LogProvider) EnsureClass(ctx context.Context, class EventTicketClass) error {
	log := p.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("wallet.google.ensure_class.log_only", "class_id", class.ID)
	return nil
}

func (p LogProvider) EnsureObject(ctx context.Context, object EventTicketObject) error {
	log := p.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("wallet.google.ensure_object.log_only", "object_id", object.ID)
	return nil
}

// GoogleSaveURLBase is the provider's save endpoint; the signed JWT is
// appended as the final path segment.
const GoogleSaveURLBase = "https://pay.google.com/gp/v/save/"

// GoogleFlow builds and signs save-to-wallet links.
type GoogleFlow struct {
	log      *slog.Logger
	cfg      GoogleConfig
	creds    *credential.Service
	provider GoogleProvider
	names    NameResolver
}

// NewGoogleFlow constructs a GoogleFlow. names may be nil.
func NewGoogleFlow(log *slog.Logger, cfg GoogleConfig, creds *credential.Service, provider GoogleProvider, names NameResolver) (*GoogleFlow, error) {
	if creds == nil || provider == nil {
		return nil, ErrInvalidInput
	}
	if strings.TrimSpace(cfg.IssuerID) == "" || strings.TrimSpace(cfg.ClassID) == "" || cfg.PrivateKey == nil {
		return nil, ErrInvalidInput
	}
	if log == nil {
		log = slog.Default()
	}
	return &GoogleFlow{log: log, cfg: cfg, creds: creds, provider: provider, names: names}, nil
}

func (f *GoogleFlow) class() EventTicketClass {
	return EventTicketClass{
		ID:           f.cfg.IssuerID + "." + f.cfg.ClassID,
		IssuerName:   f.cfg.EventName,
		ReviewStatus: "UNDER_REVIEW",
		EventName: LocalizedString{DefaultValue: LanguageValue{
			Language: "en-US",
			Value:    f.cfg.EventName,
		}},
		Venue: &EventVenue{Name: LocalizedString{DefaultValue: LanguageValue{
			Language: "en-US",
			Value:    f.cfg.VenueName,
		}}},
	}
}

func (f *GoogleFlow) object(ctx context.Context, cred credential.Credential) EventTicketObject {
	name := cred.OwnerUserID
	if f.names != nil {
		if resolved, err := f.names.DisplayName(ctx, cred.OwnerUserID); err == nil && strings.TrimSpace(resolved) != "" {
			name = resolved
		}
	}
	return EventTicketObject{
		ID:      f.cfg.IssuerID + "." + cred.ID,
		ClassID: f.cfg.IssuerID + "." + f.cfg.ClassID,
		State:   "ACTIVE",
		Barcode: EventTicketBarcode{
			Type:  "QR_CODE",
			Value: cred.ID,
		},
		TicketHolderName: name,
	}
}

// SaveURL upserts the ticket class and object with the provider, signs
// the save JWT, and returns the redirect target.
func (f *GoogleFlow) SaveURL(ctx context.Context, credentialID string) (string, error) {
	cred, err := f.creds.Resolve(ctx, credentialID)
	if err != nil {
		return "", err
	}

	class := f.class()
	object := f.object(ctx, cred)

	if err := f.provider.EnsureClass(ctx, class); err != nil {
		return "", err
	}
	if err := f.provider.EnsureObject(ctx, object); err != nil {
		return "", err
	}

	claims := jwt.MapClaims{
		"iss":     f.cfg.IssuerEmail,
		"aud":     "google",
		"typ":     "savetowallet",
		"origins": f.cfg.Origins,
		"payload": map[string]any{
			"eventTicketClasses": []EventTicketClass{class},
			"eventTicketObjects": []EventTicketObject{object},
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(f.cfg.PrivateKey)
	if err != nil {
		return "", err
	}
	return GoogleSaveURLBase + signed, nil
}

// Register wires the save route onto the provided mux.
func (f *GoogleFlow) Register(mux *http.ServeMux) {
	if f == nil || mux == nil {
		return
	}
	mux.HandleFunc("GET /wallet/google/{credentialID}", f.handleSave)
}

func (f *GoogleFlow) handleSave(w http.ResponseWriter, r *http.Request) {
	credentialID := strings.TrimSpace(r.PathValue("credentialID"))
	if credentialID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	url, err := f.SaveURL(r.Context(), credentialID)
	if errors.Is(err, credential.ErrNotFound) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		f.log.Error("wallet.google.save.fail", "credential_id", credentialID, "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, url, http.StatusFound)
}
