// Package comfy provides the collaborators that talk to a ComfyUI server:
// an HTTP client for queueing workflows and fetching run history, and a
// WebSocket transport feeding the dispatcher raw push-channel messages.
package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rndnanthu/Comfyui-Livepreview/iox"
)

// DefaultTimeout is the default per-request HTTP timeout.
const DefaultTimeout = 10 * time.Second

// DefaultFetchRetries is the default number of history fetch retries.
// History entries appear shortly after the success event; polling covers
// the gap.
const DefaultFetchRetries = 9

// ClientConfig configures the HTTP client.
type ClientConfig struct {
	// Host is the server address, host:port (required).
	Host string
	// Timeout is the per-request timeout (default 10s).
	Timeout time.Duration
	// FetchRetries is the number of history fetch retries (default 9).
	FetchRetries int
}

// Client issues workflow and history requests against one server.
type Client struct {
	config ClientConfig
	http   *http.Client
}

// NewClient creates a client from the given config.
// Returns an error if the host is empty.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Host == "" {
		return nil, errors.New("comfy client requires a host")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.FetchRetries < 0 {
		return nil, fmt.Errorf("fetch retries must be >= 0, got %d", cfg.FetchRetries)
	}
	if cfg.FetchRetries == 0 {
		cfg.FetchRetries = DefaultFetchRetries
	}

	return &Client{
		config: cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// StatusError is returned for non-2xx HTTP responses.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// queueResponse is the server's reply to a queued workflow.
type queueResponse struct {
	PromptID   string         `json:"prompt_id"`
	Number     int            `json:"number"`
	NodeErrors map[string]any `json:"node_errors"`
}

// QueuePrompt submits a workflow graph for execution, bound to the given
// client identity so push messages for the run reach our socket. Returns
// the prompt id assigned by the server.
func (c *Client) QueuePrompt(ctx context.Context, workflow json.RawMessage, clientID string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"prompt":    workflow,
		"client_id": clientID,
	})
	if err != nil {
		return "", fmt.Errorf("comfy: marshal prompt payload: %w", err)
	}

	url := fmt.Sprintf("http://%s/prompt", c.config.Host)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("comfy: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("comfy: queue prompt: %w", err)
	}
	defer iox.DiscardClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("comfy: queue prompt: %w", &StatusError{Code: resp.StatusCode})
	}

	var qr queueResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		return "", fmt.Errorf("comfy: decode queue response: %w", err)
	}
	if qr.PromptID == "" {
		return "", errors.New("comfy: queue response missing prompt_id")
	}
	return qr.PromptID, nil
}

// FetchResult retrieves the history entry for a finished prompt.
// The entry may not be written yet when the success event arrives, so the
// fetch retries with exponential backoff until the server returns a
// non-empty body. 4xx responses are non-retriable and fail immediately.
func (c *Client) FetchResult(ctx context.Context, promptID string) (map[string]any, error) {
	var lastErr error
	// attempts = 1 initial + retries
	attempts := 1 + c.config.FetchRetries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("comfy: context canceled: %w", err)
		}

		// Exponential backoff before retries (not before first attempt)
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * 250 * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("comfy: context canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		var data map[string]any
		data, lastErr = c.fetchOnce(ctx, promptID)
		if lastErr == nil {
			return data, nil
		}

		var statusErr *StatusError
		if errors.As(lastErr, &statusErr) && statusErr.Code >= 400 && statusErr.Code < 500 {
			return nil, fmt.Errorf("comfy: non-retriable error: %w", lastErr)
		}
	}

	return nil, fmt.Errorf("comfy: history fetch failed after %d attempts: %w", attempts, lastErr)
}

// errHistoryPending marks an entry the server has not written yet.
var errHistoryPending = errors.New("history entry not available yet")

func (c *Client) fetchOnce(ctx context.Context, promptID string) (map[string]any, error) {
	url := fmt.Sprintf("http://%s/history/%s", c.config.Host, promptID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer iox.DiscardClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{Code: resp.StatusCode}
	}

	var data map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode history response: %w", err)
	}
	if len(data) == 0 {
		return nil, errHistoryPending
	}
	return data, nil
}

// Close releases client resources.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}
