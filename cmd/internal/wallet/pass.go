package wallet

import (
	"context"
	"strings"
	"time"

	"lanyard/cmd/internal/credential"
)

// PassConfig is the static identity of the issued Apple-style pass.
type PassConfig struct {
	PassTypeID       string
	TeamID           string
	OrganizationName string
	Description      string
	BackgroundColor  string
	WebServiceURL    string
}

// DefaultPassConfig returns the event defaults. Real deployments override
// the identifiers from the environment.
func DefaultPassConfig() PassConfig {
	return PassConfig{
		PassTypeID:       "pass.com.lanyard.event",
		TeamID:           "LANYARDTEAM",
		OrganizationName: "Lanyard",
		Description:      "Event credential",
		BackgroundColor:  "rgb(94, 51, 184)",
	}
}

// PassField is one labeled value on the pass face or back.
type PassField struct {
	Key   string `json:"key"`
	Label string `json:"label,omitempty"`
	Value string `json:"value"`
}

// PassBarcode carries the scannable credential id.
type PassBarcode struct {
	Format          string `json:"format"`
	Message         string `json:"message"`
	MessageEncoding string `json:"messageEncoding"`
}

// PassPayload is the pass.json document served to wallets. Bundling and
// certificate signing into .pkpass happens in a separate signer process;
// this service owns the data.
type PassPayload struct {
	FormatVersion       int           `json:"formatVersion"`
	PassTypeIdentifier  string        `json:"passTypeIdentifier"`
	SerialNumber        string        `json:"serialNumber"`
	TeamIdentifier      string        `json:"teamIdentifier"`
	OrganizationName    string        `json:"organizationName"`
	Description         string        `json:"description"`
	BackgroundColor     string        `json:"backgroundColor,omitempty"`
	WebServiceURL       string        `json:"webServiceURL,omitempty"`
	AuthenticationToken string        `json:"authenticationToken,omitempty"`
	Barcodes            []PassBarcode `json:"barcodes"`
	EventTicket         PassFields    `json:"eventTicket"`
}

// PassFields groups the visible field lists of an event ticket.
type PassFields struct {
	PrimaryFields []PassField `json:"primaryFields"`
	BackFields    []PassField `json:"backFields,omitempty"`
}

// NameResolver maps a credential owner to a display name for the pass
// face. Optional; the owner id is shown when absent.
type NameResolver interface {
	DisplayName(ctx context.Context, ownerUserID string) (string, error)
}

// PassBuilder assembles pass payloads for credentials.
type PassBuilder struct {
	cfg   PassConfig
	names NameResolver
}

// NewPassBuilder constructs a PassBuilder. names may be nil.
func NewPassBuilder(cfg PassConfig, names NameResolver) (*PassBuilder, error) {
	if strings.TrimSpace(cfg.PassTypeID) == "" {
		return nil, ErrInvalidInput
	}
	return &PassBuilder{cfg: cfg, names: names}, nil
}

// PassTypeID returns the configured pass type identifier.
func (b *PassBuilder) PassTypeID() string {
	return b.cfg.PassTypeID
}

// Build renders the pass payload for one credential at a version tag.
// The serial number is the credential id; the barcode carries it too, so
// any scanner reads the same identifier that the gate API redeems.
func (b *PassBuilder) Build(ctx context.Context, cred credential.Credential, tag time.Time) PassPayload {
	name := cred.OwnerUserID
	if b.names != nil {
		if resolved, err := b.names.DisplayName(ctx, cred.OwnerUserID); err == nil && strings.TrimSpace(resolved) != "" {
			name = resolved
		}
	}

	return PassPayload{
		FormatVersion:      1,
		PassTypeIdentifier: b.cfg.PassTypeID,
		SerialNumber:       cred.ID,
		TeamIdentifier:     b.cfg.TeamID,
		OrganizationName:   b.cfg.OrganizationName,
		Description:        b.cfg.Description,
		BackgroundColor:    b.cfg.BackgroundColor,
		WebServiceURL:      b.cfg.WebServiceURL,
		Barcodes: []PassBarcode{{
			Format:          "PKBarcodeFormatQR",
			Message:         cred.ID,
			MessageEncoding: "iso-8859-1",
		}},
		EventTicket: PassFields{
			PrimaryFields: []PassField{{
				Key:   "ticket-for",
				Label: "Ticket for",
				Value: name,
			}},
			BackFields: []PassField{
				{Key: "ticket-holder", Label: "For", Value: name},
				{Key: "updated", Label: "Updated", Value: tag.UTC().Format(time.RFC1123)},
			},
		},
	}
}
