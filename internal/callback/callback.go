// Package callback implements the optional external success-callback POST
// (spec §4.5 step 7c, §6).
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Payload is the callback/response JSON body (spec §6).
type Payload struct {
	RequestID    string `json:"request_id"`
	SessionID    string `json:"session_id"`
	WorkerID     string `json:"worker_id"`
	Status       string `json:"status"`
	DebugURL     string `json:"debug_url,omitempty"`
	WebSocketURL string `json:"websocket_url,omitempty"`
	CreatedAt    string `json:"created_at,omitempty"`
	ExpiresAt    string `json:"expires_at,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Client posts Payloads to a configured callback URL with a bounded timeout.
type Client struct {
	url     string
	timeout time.Duration
	http    *http.Client
}

// New creates a callback Client. url may be empty, in which case Post is a
// no-op that always succeeds (callback disabled, spec §4.1).
func New(url string, timeout time.Duration) *Client {
	return &Client{
		url:     url,
		timeout: timeout,
		http:    &http.Client{Timeout: timeout},
	}
}

// Post delivers p to the callback URL. Returns nil immediately if no URL is
// configured.
func (c *Client) Post(ctx context.Context, p Payload) error {
	if c.url == "" {
		return nil
	}

	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("callback: marshaling payload: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("callback: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("callback: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("callback: unexpected status %d", resp.StatusCode)
	}
	return nil
}
