package gateapi

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"lanyard/cmd/internal/credential"
	"lanyard/cmd/internal/feed"
	"lanyard/cmd/internal/redemption"
	"lanyard/cmd/internal/staff"
	"lanyard/cmd/internal/wallet"
)

const maxIdempotencyKeyLen = 128

// Handler serves the scanner-facing and admin-facing HTTP endpoints.
type Handler struct {
	log     *slog.Logger
	cfg     Config
	engine  *redemption.Engine
	windows redemption.Store
	creds   *credential.Service
	staff   *staff.Service
	hub     *feed.Hub
	coord   *wallet.Coordinator
	passes  *wallet.PassBuilder

	loginFailures *ipThrottle
}

// NewHandler constructs the gate API handler. hub, coord, and passes are
// optional; the corresponding features degrade to no-ops when nil.
func NewHandler(
	log *slog.Logger,
	cfg Config,
	engine *redemption.Engine,
	windows redemption.Store,
	creds *credential.Service,
	staffSvc *staff.Service,
	hub *feed.Hub,
	coord *wallet.Coordinator,
	passes *wallet.PassBuilder,
) (*Handler, error) {
	if engine == nil || windows == nil || creds == nil || staffSvc == nil {
		return nil, errors.New("gateapi: missing dependency")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		log:           log,
		cfg:           cfg,
		engine:        engine,
		windows:       windows,
		creds:         creds,
		staff:         staffSvc,
		hub:           hub,
		coord:         coord,
		passes:        passes,
		loginFailures: newIPThrottle(cfg.LoginIPMax, cfg.LoginIPWindow),
	}, nil
}

// Register mounts all gate API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /staff/login", h.handleLogin)
	mux.HandleFunc("POST /staff/logout", h.handleLogout)
	mux.HandleFunc("POST /redeem", h.handleRedeem)
	mux.HandleFunc("GET /windows", h.handleWindowsList)
	mux.HandleFunc("POST /windows", h.handleWindowCreate)
	mux.HandleFunc("POST /credentials/issue", h.handleIssue)
	mux.HandleFunc("GET /wallet/apple/{credentialID}", h.handleApplePass)
}

// ---- auth plumbing ----

func bearerFromRequest(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(auth[len(prefix):])
	return token, token != ""
}

// requireDevice authenticates the scanner device bearer token. On failure
// it writes the 401 response and returns ok=false.
func (h *Handler) requireDevice(w http.ResponseWriter, r *http.Request) (staff.Account, staff.DeviceToken, bool) {
	bearer, ok := bearerFromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return staff.Account{}, staff.DeviceToken{}, false
	}
	acct, dev, err := h.staff.VerifyDeviceToken(r.Context(), bearer, time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
		return staff.Account{}, staff.DeviceToken{}, false
	}
	return acct, dev, true
}

func (h *Handler) requireAnyRole(w http.ResponseWriter, r *http.Request, roles ...string) (staff.Account, staff.DeviceToken, bool) {
	acct, dev, ok := h.requireDevice(w, r)
	if !ok {
		return staff.Account{}, staff.DeviceToken{}, false
	}
	for _, role := range roles {
		if acct.HasRole(role) {
			return acct, dev, true
		}
	}
	writeError(w, http.StatusForbidden, "forbidden", "insufficient role")
	return staff.Account{}, staff.DeviceToken{}, false
}

// ---- staff session ----

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)
	if h.loginFailures.blocked(ipKey(ip), now) {
		writeRateLimited(w, h.cfg.LoginIPWindow)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed JSON body")
		return
	}

	sess, err := h.staff.Login(r.Context(), staff.LoginInput{
		Username: req.Username,
		Password: req.Password,
		DeviceID: req.DeviceID,
		Now:      now,
	})
	if err != nil {
		if errors.Is(err, staff.ErrInvalidCredentials) {
			h.loginFailures.fail(ipKey(ip), now)
			h.log.Info("gate.login.fail", "ip", ipString(ip))
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid username or password")
			return
		}
		h.log.Error("gate.login.error", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "login failed")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     sess.Token,
		StaffID:   sess.Account.ID,
		Username:  sess.Account.Username,
		Roles:     sess.Account.Roles,
		ExpiresAt: sess.Device.ExpiresAt,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	bearer, ok := bearerFromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if err := h.staff.Logout(r.Context(), bearer, time.Now().UTC()); err != nil {
		h.log.Error("gate.logout.error", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "logout failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- redemption ----

func (h *Handler) handleRedeem(w http.ResponseWriter, r *http.Request) {
	_, dev, ok := h.requireDevice(w, r)
	if !ok {
		return
	}

	var req redeemRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed JSON body")
		return
	}
	req.CredentialID = strings.TrimSpace(req.CredentialID)
	req.WindowID = strings.TrimSpace(req.WindowID)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.CredentialID == "" || req.WindowID == "" || req.IdempotencyKey == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "credential_id, window_id and idempotency_key are required")
		return
	}
	if len(req.IdempotencyKey) > maxIdempotencyKeyLen {
		writeError(w, http.StatusBadRequest, "validation_error", "idempotency_key too long")
		return
	}

	res, err := h.engine.Redeem(r.Context(), redemption.RedeemInput{
		CredentialID:   req.CredentialID,
		WindowID:       req.WindowID,
		DeviceID:       dev.DeviceID,
		IdempotencyKey: req.IdempotencyKey,
		Now:            time.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, redemption.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "validation_error", "invalid redeem request")
			return
		}
		h.log.Error("gate.redeem.error", "err", err, "credential_id", req.CredentialID, "window_id", req.WindowID)
		writeError(w, http.StatusInternalServerError, "internal", "redeem failed")
		return
	}

	if res.Outcome == redemption.Accepted && !res.Replayed {
		h.publishAccept(res)
	}

	writeJSON(w, statusForOutcome(res.Outcome), toRedeemResponse(res))
}

// statusForOutcome maps the scan outcome onto an HTTP status. Replays of
// an accepted scan are 200 like the original; the conflict statuses are
// terminal signals for offline drains.
func statusForOutcome(o redemption.Outcome) int {
	switch o {
	case redemption.Accepted:
		return http.StatusOK
	case redemption.AlreadyRedeemed:
		return http.StatusConflict
	case redemption.WindowClosed:
		return http.StatusGone
	case redemption.UnknownCredential:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func toRedeemResponse(res redemption.RedeemResult) redeemResponse {
	out := redeemResponse{
		Outcome:  string(res.Outcome),
		Replayed: res.Replayed,
		Action:   string(res.Action),
	}
	if res.Outcome == redemption.Accepted {
		out.EventID = res.Event.ID
		at := res.Event.RedeemedAt
		out.RedeemedAt = &at
	}
	return out
}

// publishAccept pushes a fresh accept onto the live feed. Replays are
// skipped so dashboards never double-count.
func (h *Handler) publishAccept(res redemption.RedeemResult) {
	if h.hub == nil {
		return
	}
	h.hub.Broadcast(feed.Event{
		Type:         feed.EventRedemption,
		CredentialID: res.Event.CredentialID,
		WindowID:     res.Event.WindowID,
		Action:       string(res.Action),
		Outcome:      string(res.Outcome),
		DeviceID:     res.Event.DeviceID,
		RedeemedAt:   res.Event.RedeemedAt,
	})
}

// ---- windows ----

func (h *Handler) handleWindowsList(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := h.requireDevice(w, r); !ok {
		return
	}
	ws, err := h.windows.ListWindows(r.Context())
	if err != nil {
		h.log.Error("gate.windows.list.error", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "listing windows failed")
		return
	}
	now := time.Now().UTC()
	out := windowsResponse{Windows: make([]windowResponse, 0, len(ws))}
	for _, win := range ws {
		out.Windows = append(out.Windows, windowResponse{
			ID:               win.ID,
			Action:           string(win.Action),
			OpensAt:          win.OpensAt,
			ClosesAt:         win.ClosesAt,
			MaxPerCredential: win.MaxPerCredential,
			Open:             win.OpenAt(now),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleWindowCreate(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := h.requireAnyRole(w, r, staff.RoleAdmin, staff.RoleEventManager); !ok {
		return
	}

	var req createWindowRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed JSON body")
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	action, ok := redemption.ParseAction(req.Action)
	if req.ID == "" || !ok {
		writeError(w, http.StatusBadRequest, "validation_error", "id and a known action are required")
		return
	}
	if req.OpensAt.IsZero() || req.ClosesAt.IsZero() || !req.ClosesAt.After(req.OpensAt) {
		writeError(w, http.StatusBadRequest, "validation_error", "closes_at must be after opens_at")
		return
	}
	if req.MaxPerCredential == 0 {
		req.MaxPerCredential = 1
	}
	if req.MaxPerCredential < 1 {
		writeError(w, http.StatusBadRequest, "validation_error", "max_per_credential must be at least 1")
		return
	}

	win := redemption.Window{
		ID:               req.ID,
		Action:           action,
		OpensAt:          req.OpensAt.UTC(),
		ClosesAt:         req.ClosesAt.UTC(),
		MaxPerCredential: req.MaxPerCredential,
	}
	if err := h.windows.CreateWindow(r.Context(), win); err != nil {
		h.log.Error("gate.windows.create.error", "err", err, "window_id", win.ID)
		writeError(w, http.StatusInternalServerError, "internal", "creating window failed")
		return
	}
	h.log.Info("gate.windows.created", "window_id", win.ID, "action", win.Action)
	writeJSON(w, http.StatusCreated, windowResponse{
		ID:               win.ID,
		Action:           string(win.Action),
		OpensAt:          win.OpensAt,
		ClosesAt:         win.ClosesAt,
		MaxPerCredential: win.MaxPerCredential,
		Open:             win.OpenAt(time.Now().UTC()),
	})
}

// ---- credential issuance ----

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := h.requireAnyRole(w, r, staff.RoleAdmin); !ok {
		return
	}

	var req issueRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed JSON body")
		return
	}
	issued, err := h.creds.Issue(r.Context(), credential.IssueInput{
		OwnerUserID: req.OwnerUserID,
		Now:         time.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, credential.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "validation_error", "owner_user_id is required")
			return
		}
		h.log.Error("gate.issue.error", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "issuing credential failed")
		return
	}

	status := http.StatusOK
	if issued.Created {
		status = http.StatusCreated
		h.log.Info("gate.issue.created", "credential_id", issued.Credential.ID, "owner_user_id", issued.Credential.OwnerUserID)
	}
	writeJSON(w, status, issueResponse{
		CredentialID: issued.Credential.ID,
		PassToken:    issued.PassToken,
		Created:      issued.Created,
		IssuedAt:     issued.Credential.IssuedAt,
	})
}

// ---- wallet pass download ----

// handleApplePass serves the pass payload for signing and packaging by
// an external pkpass step. Auth is the pass-scoped ApplePass token; the
// presented token is echoed into authenticationToken so the device can
// call the wallet web service later.
func (h *Handler) handleApplePass(w http.ResponseWriter, r *http.Request) {
	if h.passes == nil || h.coord == nil {
		writeError(w, http.StatusNotFound, "not_found", "wallet passes not enabled")
		return
	}
	credentialID := strings.TrimSpace(r.PathValue("credentialID"))
	token, ok := applePassToken(r)
	if !ok || credentialID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing pass token")
		return
	}

	cred, err := h.creds.Resolve(r.Context(), credentialID)
	if err != nil {
		// Unknown serial and bad token are indistinguishable on purpose.
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid pass token")
		return
	}
	valid, err := h.creds.VerifyPassToken(r.Context(), credentialID, token)
	if err != nil || !valid {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid pass token")
		return
	}

	tag, err := h.coord.CurrentVersionTag(r.Context(), credentialID)
	if err != nil {
		h.log.Error("gate.wallet.pass.error", "err", err, "credential_id", credentialID)
		writeError(w, http.StatusInternalServerError, "internal", "building pass failed")
		return
	}

	payload := h.passes.Build(r.Context(), cred, tag)
	payload.AuthenticationToken = token
	writeJSON(w, http.StatusOK, payload)
}

func applePassToken(r *http.Request) (string, bool) {
	const scheme = "ApplePass "
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(auth) > len(scheme) && strings.EqualFold(auth[:len(scheme)], scheme) {
		token := strings.TrimSpace(auth[len(scheme):])
		return token, token != ""
	}
	return "", false
}

// ---- client addressing ----

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(header string) net.IP {
	// First hop in X-Forwarded-For is the original client.
	first, _, _ := strings.Cut(header, ",")
	return net.ParseIP(strings.TrimSpace(first))
}

func ipKey(ip net.IP) string {
	if ip == nil {
		return "unknown"
	}
	return ip.String()
}

func ipString(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}
