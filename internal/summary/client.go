// Package summary reads role-scoped summaries of appointments, cases and
// the caller's profile from the host application's backend.
package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ashureev/assist-engine/internal/domain"
	"github.com/ashureev/assist-engine/internal/greeting"
)

// HTTPStatusError captures non-2xx backend responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("summary: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

// HTTPStatusCode returns the upstream status.
func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client queries the backend on behalf of one signed-in user. The bearer
// credential is passed through untouched.
type Client struct {
	baseURL    string
	httpClient *http.Client
	bearer     string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithBearer sets the credential forwarded in the Authorization header.
func WithBearer(token string) Option {
	return func(c *Client) {
		c.bearer = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	}
}

// NewClient creates a Client for the backend at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("summary: base url must not be empty")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("summary: parse base url: %w", err)
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type appointmentsResponse struct {
	Appointments []domain.Appointment `json:"appointments"`
}

type casesResponse struct {
	Cases []domain.Case `json:"cases"`
}

// Appointments returns the role's upcoming appointments.
func (c *Client) Appointments(ctx context.Context, role domain.Role) greeting.Result[[]domain.Appointment] {
	var out appointmentsResponse
	if err := c.getJSON(ctx, role, "appointments", &out); err != nil {
		return greeting.Empty[[]domain.Appointment](err)
	}
	return greeting.OK(out.Appointments)
}

// Cases returns the role's cases.
func (c *Client) Cases(ctx context.Context, role domain.Role) greeting.Result[[]domain.Case] {
	var out casesResponse
	if err := c.getJSON(ctx, role, "cases", &out); err != nil {
		return greeting.Empty[[]domain.Case](err)
	}
	return greeting.OK(out.Cases)
}

// Profile returns the caller's own profile.
func (c *Client) Profile(ctx context.Context, role domain.Role) greeting.Result[*domain.Profile] {
	var out domain.Profile
	if err := c.getJSON(ctx, role, "profile", &out); err != nil {
		return greeting.Empty[*domain.Profile](err)
	}
	return greeting.OK(&out)
}

func (c *Client) endpoint(role domain.Role, resource string) string {
	return c.baseURL + "/api/" + url.PathEscape(string(role)) + "/" + resource
}

func (c *Client) getJSON(ctx context.Context, role domain.Role, resource string, v any) error {
	u := c.endpoint(role, resource)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("summary: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("summary: get %s: %w", resource, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &HTTPStatusError{StatusCode: res.StatusCode, URL: u, Body: string(buf)}
	}
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(v); err != nil {
		return fmt.Errorf("summary: decode %s: %w", resource, err)
	}
	return nil
}

var _ greeting.Summaries = (*Client)(nil)
