package wallet

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"lanyard/cmd/internal/credential"
	"lanyard/cmd/internal/metrics"
)

// AppleHandler implements the pass web service contract spoken by
// Apple-style wallets: device registration, the updated-serials poll, and
// versioned pass download.
//
// Auth is the pass's own bearer token ("Authorization: ApplePass <token>"),
// verified against the credential's stored hash. The serial number IS the
// credential id.
type AppleHandler struct {
	log     *slog.Logger
	creds   *credential.Service
	regs    Store
	coord   *Coordinator
	builder *PassBuilder

	maxBodyBytes int64
}

// NewAppleHandler constructs an AppleHandler.
func NewAppleHandler(log *slog.Logger, creds *credential.Service, regs Store, coord *Coordinator, builder *PassBuilder) (*AppleHandler, error) {
	if creds == nil || regs == nil || coord == nil || builder == nil {
		return nil, ErrInvalidInput
	}
	if log == nil {
		log = slog.Default()
	}
	return &AppleHandler{
		log:          log,
		creds:        creds,
		regs:         regs,
		coord:        coord,
		builder:      builder,
		maxBodyBytes: 4 << 10,
	}, nil
}

// Register wires the pass web service routes onto the provided mux.
func (h *AppleHandler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /v1/devices/{deviceLibraryIdentifier}/registrations/{passTypeIdentifier}/{serialNumber}", h.handleRegister)
	mux.HandleFunc("DELETE /v1/devices/{deviceLibraryIdentifier}/registrations/{passTypeIdentifier}/{serialNumber}", h.handleUnregister)
	mux.HandleFunc("GET /v1/devices/{deviceLibraryIdentifier}/registrations/{passTypeIdentifier}", h.handleUpdatedSerials)
	mux.HandleFunc("GET /v1/passes/{passTypeIdentifier}/{serialNumber}", h.handlePass)
}

// passTokenFromHeader extracts the bearer from "Authorization: ApplePass <t>".
func passTokenFromHeader(r *http.Request) (string, bool) {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	const scheme = "ApplePass "
	if len(raw) <= len(scheme) || !strings.EqualFold(raw[:len(scheme)], scheme) {
		return "", false
	}
	token := strings.TrimSpace(raw[len(scheme):])
	return token, token != ""
}

// authorize verifies the ApplePass token against the serial's credential.
// The credential is returned so handlers skip a second lookup.
func (h *AppleHandler) authorize(w http.ResponseWriter, r *http.Request, serialNumber string) (credential.Credential, bool) {
	token, ok := passTokenFromHeader(r)
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return credential.Credential{}, false
	}

	cred, err := h.creds.Resolve(r.Context(), serialNumber)
	if errors.Is(err, credential.ErrNotFound) {
		// Absent serial answers like a bad token; the path must not
		// confirm which serials exist.
		w.WriteHeader(http.StatusUnauthorized)
		return credential.Credential{}, false
	}
	if err != nil {
		h.log.Error("wallet.apple.resolve.fail", "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return credential.Credential{}, false
	}

	valid, err := h.creds.VerifyPassToken(r.Context(), cred.ID, token)
	if err != nil {
		h.log.Error("wallet.apple.verify.fail", "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return credential.Credential{}, false
	}
	if !valid {
		w.WriteHeader(http.StatusUnauthorized)
		return credential.Credential{}, false
	}
	return cred, true
}

type registerRequest struct {
	PushToken string `json:"pushToken"`
}

func (h *AppleHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	dlid := r.PathValue("deviceLibraryIdentifier")
	ptid := r.PathValue("passTypeIdentifier")
	serial := r.PathValue("serialNumber")

	if ptid != h.builder.PassTypeID() {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	cred, ok := h.authorize(w, r, serial)
	if !ok {
		return
	}

	var req registerRequest
	body := http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil || strings.TrimSpace(req.PushToken) == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	created, err := h.regs.Register(r.Context(), RegisterInput{
		DeviceLibraryID: dlid,
		PassTypeID:      ptid,
		CredentialID:    cred.ID,
		PushToken:       strings.TrimSpace(req.PushToken),
		Now:             time.Now().UTC(),
	})
	if err != nil {
		h.log.Error("wallet.apple.register.fail", "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if created {
		metrics.WalletRegistrations.Inc()
		h.log.Info("wallet.apple.registered",
			"credential_id", cred.ID, "device_library_id", dlid)
		w.WriteHeader(http.StatusCreated)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *AppleHandler) handleUnregister(w http.ResponseWriter, r *http.Request) {
	dlid := r.PathValue("deviceLibraryIdentifier")
	ptid := r.PathValue("passTypeIdentifier")
	serial := r.PathValue("serialNumber")

	if ptid != h.builder.PassTypeID() {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	cred, ok := h.authorize(w, r, serial)
	if !ok {
		return
	}

	removed, err := h.regs.Unregister(r.Context(), dlid, ptid, cred.ID)
	if err != nil {
		h.log.Error("wallet.apple.unregister.fail", "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if removed {
		metrics.WalletRegistrations.Dec()
		h.log.Info("wallet.apple.unregistered",
			"credential_id", cred.ID, "device_library_id", dlid)
	}
	// Idempotent: deleting an absent registration still answers 200.
	w.WriteHeader(http.StatusOK)
}

type updatedSerialsResponse struct {
	SerialNumbers []string `json:"serialNumbers"`
	LastUpdated   string   `json:"lastUpdated"`
}

// handleUpdatedSerials answers the device poll: which of this device's
// passes changed after the watermark. No ApplePass auth on this route;
// the device library id is itself an unguessable handle and the response
// leaks only serials the device already holds.
func (h *AppleHandler) handleUpdatedSerials(w http.ResponseWriter, r *http.Request) {
	dlid := r.PathValue("deviceLibraryIdentifier")
	ptid := r.PathValue("passTypeIdentifier")

	if ptid != h.builder.PassTypeID() {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	var since time.Time
	if raw := strings.TrimSpace(r.URL.Query().Get("passesUpdatedSince")); raw != "" {
		secs, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		since = time.Unix(secs, 0).UTC()
	}

	credIDs, err := h.regs.ListCredentialsForDevice(r.Context(), dlid, ptid)
	if err != nil {
		h.log.Error("wallet.apple.list_serials.fail", "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	var changed []string
	var newest time.Time
	for _, id := range credIDs {
		tag, err := h.coord.CurrentVersionTag(r.Context(), id)
		if errors.Is(err, credential.ErrNotFound) {
			continue
		}
		if err != nil {
			h.log.Error("wallet.apple.version_tag.fail", "credential_id", id, "err", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if tag.After(since) {
			changed = append(changed, id)
			if tag.After(newest) {
				newest = tag
			}
		}
	}

	if len(changed) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(updatedSerialsResponse{
		SerialNumbers: changed,
		LastUpdated:   strconv.FormatInt(newest.Unix(), 10),
	})
}

func (h *AppleHandler) handlePass(w http.ResponseWriter, r *http.Request) {
	ptid := r.PathValue("passTypeIdentifier")
	serial := r.PathValue("serialNumber")

	if ptid != h.builder.PassTypeID() {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	cred, ok := h.authorize(w, r, serial)
	if !ok {
		return
	}

	tag, err := h.coord.CurrentVersionTag(r.Context(), cred.ID)
	if err != nil {
		h.log.Error("wallet.apple.version_tag.fail", "credential_id", cred.ID, "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if ims := strings.TrimSpace(r.Header.Get("If-Modified-Since")); ims != "" {
		if t, err := http.ParseTime(ims); err == nil && !tag.After(t) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}

	payload := h.builder.Build(r.Context(), cred, tag)

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Last-Modified", tag.Format(http.TimeFormat))
	_ = json.NewEncoder(w).Encode(payload)
}
