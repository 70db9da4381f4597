package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Remote is an HTTP long-poll queue client (SPEC_FULL.md §6 "Remote queue
// transport"), grounded on the teacher's distributed-worker HTTP task
// protocol generalized to visibility-timeout semantics.
type Remote struct {
	requestURL  string
	responseURL string
	http        *http.Client
	limiter     *rate.Limiter
}

// NewRemote creates a Remote client against the given endpoints.
func NewRemote(requestURL, responseURL string) *Remote {
	return &Remote{
		requestURL:  requestURL,
		responseURL: responseURL,
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		// Caps outbound poll/extend/delete calls so a misbehaving queue
		// endpoint can't be hammered by a tight retry loop.
		limiter: rate.NewLimiter(rate.Limit(10), 20),
	}
}

type wireMessage struct {
	Body          json.RawMessage `json:"body"`
	ReceiptHandle string          `json:"receipt_handle"`
}

func (r *Remote) Fetch(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s?wait=%s&max=%d", r.requestURL, wait.String(), max)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("queue: fetch request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("queue: fetch returned status %d", resp.StatusCode)
	}

	var wire []wireMessage
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("queue: decoding fetch response: %w", err)
	}

	out := make([]Message, 0, len(wire))
	for _, w := range wire {
		out = append(out, Message{Body: w.Body, ReceiptHandle: w.ReceiptHandle, Kind: KindRequest})
	}
	return out, nil
}

func (r *Remote) Delete(ctx context.Context, receiptHandle string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	return r.post(ctx, r.requestURL+"/delete", map[string]string{"receipt_handle": receiptHandle})
}

func (r *Remote) Extend(ctx context.Context, receiptHandle string, delta time.Duration) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	return r.post(ctx, r.requestURL+"/extend", map[string]interface{}{
		"receipt_handle": receiptHandle,
		"seconds":        delta.Seconds(),
	})
}

func (r *Remote) Respond(ctx context.Context, body []byte) error {
	if r.responseURL == "" {
		return nil
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.responseURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("queue: response post failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("queue: response post returned status %d", resp.StatusCode)
	}
	return nil
}

// Reset closes idle pooled connections, forcing the next request to dial
// fresh (spec §5 "Connection resilience": the queue client auto-recovers
// after 3 consecutive failures by resetting the underlying connection).
func (r *Remote) Reset() {
	r.http.CloseIdleConnections()
}

func (r *Remote) post(ctx context.Context, url string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("queue: post %s failed: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("queue: post %s returned status %d", url, resp.StatusCode)
	}
	return nil
}
