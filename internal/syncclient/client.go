// Package syncclient is the HTTP client for the remote sync authority.
// A conflict is a distinct response, not an error; every other non-2xx
// outcome and every transport failure is classified as transient so the
// engine can retry it.
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Sentinel errors for common HTTP error classes.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrTransient    = errors.New("transient sync failure")
)

// ResponseTypeConflict marks a SyncResponse carrying a conflict outcome.
const ResponseTypeConflict = "conflict"

// Client is an HTTP client for the offsync server.
type Client struct {
	BaseURL  string
	APIKey   string
	DeviceID string
	HTTP     *http.Client
}

// New creates a new sync client with a default request timeout.
func New(baseURL, apiKey, deviceID string) *Client {
	return &Client{
		BaseURL:  baseURL,
		APIKey:   apiKey,
		DeviceID: deviceID,
		HTTP:     &http.Client{Timeout: 30 * time.Second},
	}
}

// SyncRequest is the body for POST /v1/sync. ID is the mutation id and is
// the idempotency key: the server must treat a replayed id as already
// applied. Force instructs the server to skip its optimistic-concurrency
// check and is only set during conflict resolution.
type SyncRequest struct {
	ID           string          `json:"id"`
	Kind         string          `json:"kind"`
	ResourceKind string          `json:"resource_kind"`
	Payload      json.RawMessage `json:"payload"`
	RecordedAt   time.Time       `json:"recorded_at"`
	DeviceID     string          `json:"device_id,omitempty"`
	Force        bool            `json:"force,omitempty"`
}

// WireFieldConflict is the server's view of a divergent field. The engine
// recomputes conflicts against its own allow-list; these are informational.
type WireFieldConflict struct {
	Field       string          `json:"field"`
	LocalValue  json.RawMessage `json:"local_value"`
	ServerValue json.RawMessage `json:"server_value"`
}

// SyncResponse is the outcome of a sync call. Exactly one of the two shapes
// is populated: Data on success, or Type=="conflict" with ServerData (and
// optionally Conflicts) when the server rejected the write.
type SyncResponse struct {
	Type            string              `json:"type,omitempty"`
	Data            json.RawMessage     `json:"data,omitempty"`
	Conflicts       []WireFieldConflict `json:"conflicts,omitempty"`
	ServerData      json.RawMessage     `json:"server_data,omitempty"`
	ServerUpdatedAt time.Time           `json:"server_updated_at,omitempty"`
}

// Conflict reports whether the response carries a conflict outcome.
func (r *SyncResponse) Conflict() bool {
	return r.Type == ResponseTypeConflict
}

// HealthResponse is the response from GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// apiError is the standard error body from the server.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

// Sync submits one mutation to the server. A 409 with a conflict body is
// returned as a non-error SyncResponse; the caller inspects Conflict().
func (c *Client) Sync(ctx context.Context, req *SyncRequest) (*SyncResponse, error) {
	if req.DeviceID == "" {
		req.DeviceID = c.DeviceID
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/sync", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	httpResp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrTransient, err)
	}

	switch {
	case httpResp.StatusCode == http.StatusOK:
		var resp SyncResponse
		if err := json.Unmarshal(respBody, &resp); err != nil {
			return nil, fmt.Errorf("%w: unmarshal response: %v", ErrTransient, err)
		}
		return &resp, nil

	case httpResp.StatusCode == http.StatusConflict:
		var resp SyncResponse
		if err := json.Unmarshal(respBody, &resp); err != nil {
			return nil, fmt.Errorf("%w: unmarshal conflict: %v", ErrTransient, err)
		}
		if !resp.Conflict() {
			return nil, fmt.Errorf("%w: HTTP 409 without conflict body", ErrTransient)
		}
		return &resp, nil

	case httpResp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: %s", ErrUnauthorized, errMessage(respBody))

	case httpResp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s", ErrForbidden, errMessage(respBody))

	default:
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrTransient, httpResp.StatusCode, errMessage(respBody))
	}
}

// HealthCheck hits /healthz to verify server reachability. Used as the
// connectivity probe.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: HTTP %d", ErrTransient, resp.StatusCode)
	}
	return nil
}

func errMessage(body []byte) string {
	var wrapper struct {
		Error apiError `json:"error"`
	}
	if json.Unmarshal(body, &wrapper) == nil && wrapper.Error.Code != "" {
		return wrapper.Error.Error()
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}
