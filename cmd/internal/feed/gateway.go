package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"lanyard/cmd/internal/staff"
)

// TokenVerifier authenticates a staff device bearer token.
type TokenVerifier interface {
	VerifyDeviceToken(ctx context.Context, bearer string, now time.Time) (staff.Account, staff.DeviceToken, error)
}

// Gateway is the websocket entrypoint for the live scan feed.
//
// It enforces origin policy and staff auth, then runs a write-only
// session: the client receives events and sends nothing but control
// frames. A client frame or a failed heartbeat ends the session.
type Gateway struct {
	log      *slog.Logger
	hub      *Hub
	verifier TokenVerifier

	devInsecure    bool
	originRequired bool
	allowedOrigins []string
	originPatterns []string

	writeTimeout  time.Duration
	sendQueueSize int

	heartbeatEvery time.Duration
	heartbeatGrace time.Duration
}

// NewGateway constructs a gateway with secure defaults. Origin policy and
// timeouts come from LANYARD_WS_* env vars.
func NewGateway(log *slog.Logger, hub *Hub, verifier TokenVerifier) (*Gateway, error) {
	if hub == nil || verifier == nil {
		return nil, errors.New("feed: hub and verifier are required")
	}
	if log == nil {
		log = slog.Default()
	}

	g := &Gateway{log: log, hub: hub, verifier: verifier}

	g.devInsecure = envBool("LANYARD_WS_DEV_INSECURE", false)
	g.originRequired = envBool("LANYARD_WS_ORIGIN_REQUIRED", true)
	g.allowedOrigins = envCSV("LANYARD_WS_ALLOWED_ORIGINS", "http://localhost,http://127.0.0.1")
	g.originPatterns = originPatternsFromAllowed(g.allowedOrigins)

	g.writeTimeout = envDuration("LANYARD_WS_WRITE_TIMEOUT", defaultWriteTimeout)
	g.sendQueueSize = envInt("LANYARD_WS_SEND_QUEUE", defaultSendQueueSize)
	if g.sendQueueSize < minSendQueueSize {
		g.sendQueueSize = minSendQueueSize
	}
	g.heartbeatEvery = envDuration("LANYARD_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatGrace = envDuration("LANYARD_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	return g, nil
}

// ServeHTTP adapter so the gateway mounts as an http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// bearerFromRequest reads the device token from the Authorization header
// or the access_token query parameter (browsers cannot set headers on a
// websocket dial).
func bearerFromRequest(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	const scheme = "Bearer "
	if len(raw) > len(scheme) && strings.EqualFold(raw[:len(scheme)], scheme) {
		return strings.TrimSpace(raw[len(scheme):])
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}

// HandleWS upgrades the request and runs the feed session loop.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("feed.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	bearer := bearerFromRequest(r)
	acct, _, err := g.verifier.VerifyDeviceToken(r.Context(), bearer, time.Now().UTC())
	if err != nil {
		g.log.Info("feed.reject.auth", "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{feedSubprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("feed.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != feedSubprotocol {
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	sessionID := newSessionID()
	client := NewClient(sessionID, acct.ID, g.sendQueueSize)
	g.hub.Join(client)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.hub.Leave(sessionID)
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case ev := <-client.Send:
				if err := writeEvent(ctx, conn, ev, g.writeTimeout); err != nil {
					g.log.Info("feed.write.fail", "session_id", sessionID, "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatGrace)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					if failures >= maxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	// The feed is write-only; the read loop exists to notice the peer
	// going away. Any data frame is a protocol violation.
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			if websocket.CloseStatus(err) != -1 {
				shutdown(websocket.StatusNormalClosure, "peer closed")
			} else {
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			break
		}
		shutdown(websocket.StatusPolicyViolation, "feed is read-only")
		break
	}

	<-writerDone
	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
}

func writeEvent(parent context.Context, conn *websocket.Conn, ev Event, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- origin policy ----

func (g *Gateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)
	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			return nil
		}
		if origin == a {
			return nil
		}
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func originPatternsFromAllowed(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j] < out[i] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

// ---- env helpers ----

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSV(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
