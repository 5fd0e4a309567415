package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/auditdesk/auditdesk/internal/schema"
)

// TokenFunc supplies the bearer token for a request. Keeping this a function
// lets credentials rotate without rebuilding the client.
type TokenFunc func(ctx context.Context) (string, error)

// HTTPConfig configures the HTTP remote client.
type HTTPConfig struct {
	// BaseURL of the sync API, e.g. "https://api.auditdesk.example".
	BaseURL string

	// Token supplies the bearer token per request.
	Token TokenFunc

	// CallTimeout bounds each individual remote call (default 30s).
	// Timeouts are per-call, not per-cycle.
	CallTimeout time.Duration

	// HTTPClient overrides the underlying client (mainly for tests).
	HTTPClient *http.Client
}

// HTTPClient implements Client against the auditdesk cloud API.
type HTTPClient struct {
	baseURL     string
	token       TokenFunc
	callTimeout time.Duration
	http        *http.Client
}

// NewHTTPClient creates a remote client for the given API endpoint.
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	if cfg.Token == nil {
		return nil, fmt.Errorf("token func cannot be nil")
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}

	return &HTTPClient{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		token:       cfg.Token,
		callTimeout: cfg.CallTimeout,
		http:        cfg.HTTPClient,
	}, nil
}

// pushRequest is the wire form of one queued mutation.
type pushRequest struct {
	EntityID  string          `json:"entity_id"`
	Operation string          `json:"operation"`
	Data      json.RawMessage `json:"data"`
}

// pullResponse is the wire form of a pull page.
type pullResponse struct {
	Records []*schema.Record `json:"records"`
}

// PushMutation implements Client.PushMutation.
//
// POST {base}/api/v1/sync/{entityType}. A 2xx response acknowledges the
// mutation. 401/403 become *AuthError; other failures become *CallError with
// a category derived from the status code or transport failure.
func (c *HTTPClient) PushMutation(ctx context.Context, entry schema.QueueEntry) error {
	body, err := json.Marshal(pushRequest{
		EntityID:  entry.EntityID,
		Operation: string(entry.Operation),
		Data:      entry.Data,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal push request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/v1/sync/%s", c.baseURL, url.PathEscape(entry.EntityType))

	resp, err := c.do(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return c.statusError(resp)
}

// PullChanges implements Client.PullChanges.
//
// GET {base}/api/v1/sync/{entityType}?since={RFC3339Nano}.
func (c *HTTPClient) PullChanges(ctx context.Context, entityType string, since *time.Time) ([]*schema.Record, error) {
	endpoint := fmt.Sprintf("%s/api/v1/sync/%s", c.baseURL, url.PathEscape(entityType))
	if since != nil {
		endpoint += "?since=" + url.QueryEscape(since.UTC().Format(time.RFC3339Nano))
	}

	resp, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.statusError(resp)
	}

	var page pullResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, &CallError{Category: CategoryServer, Message: fmt.Sprintf("invalid pull response: %v", err)}
	}

	for _, rec := range page.Records {
		rec.Type = entityType
	}
	return page.Records, nil
}

// do issues one authenticated request bounded by the per-call timeout.
func (c *HTTPClient) do(ctx context.Context, method, endpoint string, body io.Reader) (*http.Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	resp, err := c.doCtx(callCtx, method, endpoint, body)
	if err != nil {
		cancel()
		return nil, err
	}
	// The response body must stay readable past this call; wrap the body
	// so the timeout context is released when the caller closes it.
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (c *HTTPClient) doCtx(ctx context.Context, method, endpoint string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	token, err := c.token(ctx)
	if err != nil {
		return nil, &AuthError{Message: fmt.Sprintf("no credentials: %v", err)}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		category := CategoryNetwork
		if errors.Is(err, context.DeadlineExceeded) {
			category = CategoryTimeout
		}
		return nil, &CallError{Category: category, Message: err.Error()}
	}
	return resp, nil
}

// statusError converts a non-2xx response into a typed error.
func (c *HTTPClient) statusError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	message := strings.TrimSpace(string(snippet))
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &AuthError{StatusCode: resp.StatusCode, Message: message}
	}

	return &CallError{
		Category:   categorize(resp.StatusCode),
		StatusCode: resp.StatusCode,
		Message:    fmt.Sprintf("status %d: %s", resp.StatusCode, message),
	}
}

// cancelBody releases the per-call timeout context when the body is closed.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
