package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPStatusError captures non-2xx responses from the chat endpoint.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("chat: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

// HTTPStatusCode returns the upstream status.
func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// HTTPClient posts turns as JSON to a single endpoint URL.
type HTTPClient struct {
	url        string
	httpClient *http.Client
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) HTTPOption {
	return func(c *HTTPClient) {
		c.httpClient = httpClient
	}
}

// WithTimeout sets the per-turn timeout of the default HTTP client.
func WithTimeout(d time.Duration) HTTPOption {
	return func(c *HTTPClient) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

// NewHTTPClient creates a client for the endpoint at url.
func NewHTTPClient(url string, opts ...HTTPOption) (*HTTPClient, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("chat: endpoint url must not be empty")
	}
	c := &HTTPClient{
		url:        url,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Turn sends one message and decodes the reply.
func (c *HTTPClient) Turn(ctx context.Context, in TurnRequest) (TurnReply, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return TurnReply{}, fmt.Errorf("chat: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return TurnReply{}, fmt.Errorf("chat: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return TurnReply{}, fmt.Errorf("chat: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return TurnReply{}, &HTTPStatusError{StatusCode: res.StatusCode, URL: c.url, Body: string(buf)}
	}

	var out TurnReply
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&out); err != nil {
		return TurnReply{}, fmt.Errorf("chat: decode response: %w", err)
	}
	return out, nil
}

var _ Client = (*HTTPClient)(nil)
