// Package transport implements the HTTP delivery client for the sync
// reconciliation endpoint.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/classboard/observesync/internal/queue"
)

const (
	// DefaultTimeout is the default timeout for a single delivery request
	DefaultTimeout = 10 * time.Second

	// maxDialAttempts bounds the in-attempt retries on a dropped
	// connection. Anything beyond this is the orchestrator's business.
	maxDialAttempts = 3

	// maxResponseSize caps the reconciliation response body (4MB)
	maxResponseSize = 4 * 1024 * 1024
)

// ErrUnreachable indicates the server could not be reached at all. The
// caller treats this as a capture-time failure: enqueue and carry on, and
// flip the connectivity monitor offline.
var ErrUnreachable = errors.New("sync server unreachable")

// TransientError is a server-side failure (5xx) worth retrying on a later
// flush pass.
type TransientError struct {
	StatusCode int
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("sync server returned transient error: status %d", e.StatusCode)
}

// PermanentError is a client-side failure (4xx): the batch itself is
// invalid and retrying will not help.
type PermanentError struct {
	StatusCode int
	Body       string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("sync server rejected batch: status %d", e.StatusCode)
}

// ItemResult is the per-item outcome reported by the reconciliation
// endpoint, correlated to the submitted record by ID.
type ItemResult struct {
	ID      string          `json:"id"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Deliverer submits a batch of mutation records for reconciliation.
//
// A nil error means the batch was processed and every submitted record has
// a per-item outcome in the result slice. ErrUnreachable, TransientError
// and PermanentError describe batch-level failures.
type Deliverer interface {
	Deliver(ctx context.Context, userID string, items []queue.MutationRecord) ([]ItemResult, error)
}

// syncRequest is the wire shape of a reconciliation batch.
type syncRequest struct {
	UserID    string     `json:"userId"`
	SyncItems []syncItem `json:"syncItems"`
}

type syncItem struct {
	ID         string          `json:"id"`
	Action     queue.Action    `json:"action"`
	TargetPath string          `json:"targetPath"`
	Data       json.RawMessage `json:"data,omitempty"`
}

type syncResponse struct {
	Results []ItemResult `json:"results"`
}

// Client is the default Deliverer posting batches to {baseURL}/sync.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ClientOption configures the delivery client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client (for testing).
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// NewClient creates a delivery client for the given server base URL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Deliver posts the batch and returns the per-item results. Dial-level
// failures are retried briefly with exponential backoff before being
// reported as ErrUnreachable; HTTP-level outcomes are never retried here,
// that is the orchestrator's retry budget.
func (c *Client) Deliver(ctx context.Context, userID string, items []queue.MutationRecord) ([]ItemResult, error) {
	req := syncRequest{
		UserID:    userID,
		SyncItems: make([]syncItem, 0, len(items)),
	}
	for _, rec := range items {
		req.SyncItems = append(req.SyncItems, syncItem{
			ID:         rec.ID,
			Action:     rec.Action,
			TargetPath: rec.TargetPath,
			Data:       rec.Payload,
		})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sync batch: %w", err)
	}

	operation := func() (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sync", bytes.NewReader(body))
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			// Connection-level failure: worth one more dial
			return nil, err
		}
		return resp, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(maxDialAttempts),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %w", ErrUnreachable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, &TransientError{StatusCode: resp.StatusCode}
	case resp.StatusCode >= 400:
		return nil, &PermanentError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var parsed syncResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse sync response: %w", err)
	}

	return parsed.Results, nil
}
