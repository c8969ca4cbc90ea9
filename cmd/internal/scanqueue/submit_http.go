package scanqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HTTPSubmitter posts queued scans to the gate API's redeem endpoint.
type HTTPSubmitter struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

type redeemRequest struct {
	CredentialID   string `json:"credential_id"`
	WindowID       string `json:"window_id"`
	IdempotencyKey string `json:"idempotency_key"`
}

type redeemResponse struct {
	Outcome  string `json:"outcome"`
	Replayed bool   `json:"replayed"`
}

// Submit delivers one scan. Any status that carries an outcome resolves
// the scan; transport failures and auth/server errors leave it queued.
func (s HTTPSubmitter) Submit(ctx context.Context, scan PendingScan) (Resolution, error) {
	body, err := json.Marshal(redeemRequest{
		CredentialID:   scan.CredentialID,
		WindowID:       scan.WindowID,
		IdempotencyKey: scan.IdempotencyKey,
	})
	if err != nil {
		return Resolution{}, fmt.Errorf("%w: %v", ErrSubmitRejected, err)
	}

	url := strings.TrimRight(s.BaseURL, "/") + "/redeem"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Resolution{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.Token)

	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Resolution{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusConflict, http.StatusGone, http.StatusNotFound:
		// All four carry a definitive outcome in the body.
		var out redeemResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.Outcome == "" {
			return Resolution{}, fmt.Errorf("unreadable outcome for status %d", resp.StatusCode)
		}
		return Resolution{Outcome: out.Outcome, Replayed: out.Replayed}, nil
	case http.StatusBadRequest:
		// The server will reject this payload forever.
		return Resolution{}, fmt.Errorf("%w: status 400", ErrSubmitRejected)
	case http.StatusUnauthorized, http.StatusForbidden:
		return Resolution{}, fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	default:
		return Resolution{}, fmt.Errorf("redeem returned status %d", resp.StatusCode)
	}
}
