package chrome

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/chromedp/cdproto/target"
)

// versionResponse mirrors Chrome's /json/version shape; only
// webSocketDebuggerUrl matters per spec §6.
type versionResponse struct {
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// pageEntry mirrors one element of Chrome's /json/list response. ID is
// typed as target.ID (the same identifier the Target domain uses to
// attach to a page) rather than a bare string, the way DiscoverTabs-style
// HTTP decoders in the wider chromedp ecosystem convert a raw tab listing
// into a typed target identifier.
type pageEntry struct {
	ID                   target.ID `json:"id"`
	URL                  string    `json:"url"`
	WebSocketDebuggerURL string    `json:"webSocketDebuggerUrl"`
}

var devtoolsClient = &http.Client{Timeout: 2 * time.Second}

// fetchVersion polls /json/version once.
func fetchVersion(ctx context.Context, port int) (*versionResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, devtoolsURL(port, "/json/version"), nil)
	if err != nil {
		return nil, err
	}
	resp, err := devtoolsClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("devtools: /json/version returned %d", resp.StatusCode)
	}
	var v versionResponse
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return nil, fmt.Errorf("devtools: malformed /json/version response: %w", err)
	}
	return &v, nil
}

// fetchPageList polls /json/list once.
func fetchPageList(ctx context.Context, port int) ([]pageEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, devtoolsURL(port, "/json/list"), nil)
	if err != nil {
		return nil, err
	}
	resp, err := devtoolsClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("devtools: /json/list returned %d", resp.StatusCode)
	}
	var pages []pageEntry
	if err := json.NewDecoder(resp.Body).Decode(&pages); err != nil {
		return nil, fmt.Errorf("devtools: malformed /json/list response: %w", err)
	}
	return pages, nil
}

func devtoolsURL(port int, path string) string {
	return fmt.Sprintf("http://127.0.0.1:%d%s", port, path)
}

// waitForReady polls /json/version with exponential backoff (start ~200ms,
// cap ~2s) until it succeeds or the deadline elapses (spec §4.3.1 step 4).
func waitForReady(ctx context.Context, port int, timeout time.Duration) (*versionResponse, error) {
	deadline := time.Now().Add(timeout)
	backoff := 200 * time.Millisecond
	const maxBackoff = 2 * time.Second

	for {
		probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		v, err := fetchVersion(probeCtx, port)
		cancel()
		if err == nil {
			return v, nil
		}

		if time.Now().After(deadline) {
			return nil, ErrLaunchTimeout
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
