package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// hangupRequest is the payload for POST /control/call/hangup.
type hangupRequest struct {
	SessionID string `json:"session_id"`
}

// ControlClient posts call-control requests from the voice side back to
// the control plane's HTTP surface. Keeping hangup behind the HTTP
// endpoint means operators and the observer end calls through the same
// code path.
type ControlClient struct {
	httpClient *http.Client
	baseURL    string
	authToken  string
}

// NewControlClient returns a client for the control plane at baseURL
// (e.g. "http://127.0.0.1:8000"). authToken is sent as a bearer token
// when non-empty, matching the control API's optional static auth.
func NewControlClient(baseURL, authToken string) *ControlClient {
	return &ControlClient{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		authToken:  authToken,
	}
}

// Configured reports whether the client has somewhere to send requests.
func (c *ControlClient) Configured() bool {
	return c != nil && c.baseURL != ""
}

// RequestHangup asks the control plane to hang up the call. It is best
// effort: true means the request was sent and answered 2xx, false means
// the caller should fall back to closing the session itself.
func (c *ControlClient) RequestHangup(ctx context.Context, sessionID string) bool {
	if !c.Configured() {
		return false
	}

	body, err := json.Marshal(hangupRequest{SessionID: sessionID})
	if err != nil {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/control/call/hangup", bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Debug("hangup request failed", "session_id", sessionID, "error", err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Debug("hangup request rejected", "session_id", sessionID, "status", resp.StatusCode)
		return false
	}
	return true
}
