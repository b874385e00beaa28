package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client provides typed access to the roadmap API for the operator CLI.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:4000"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	// Pulls fetch the whole roadmap before answering.
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body any, token string, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return APIError{Status: resp.StatusCode, Message: extractError(resp.Body)}
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) string {
	var payload struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil || len(data) == 0 {
		return ""
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Error)
}

func query(params map[string]string) string {
	values := url.Values{}
	for k, v := range params {
		if strings.TrimSpace(v) != "" {
			values.Set(k, v)
		}
	}
	if len(values) == 0 {
		return ""
	}
	return "?" + values.Encode()
}

// Counters mirrors the change counters of a pull or comparison.
type Counters struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
	Updated int `json:"updated"`
	Readded int `json:"readded"`
}

// PullReport is the summary of a pull triggered through the API.
type PullReport struct {
	RunID        string `json:"runId"`
	Status       string `json:"status"`
	Bootstrapped int    `json:"bootstrapped"`
	Result       struct {
		ObservedAt int64    `json:"observedAt"`
		Changes    Counters `json:"changes"`
	} `json:"result"`
}

// Pull asks the service to record a new observation. token needs the pull
// scope.
func (c *Client) Pull(ctx context.Context, token string) (PullReport, error) {
	var report PullReport
	if err := c.do(ctx, http.MethodPost, "/pull", nil, token, &report); err != nil {
		return PullReport{}, err
	}
	return report, nil
}

// Observations lists observation instants, newest first.
func (c *Client) Observations(ctx context.Context) ([]string, error) {
	var payload struct {
		Observations []string `json:"observations"`
	}
	if err := c.do(ctx, http.MethodGet, "/observations", nil, "", &payload); err != nil {
		return nil, err
	}
	return payload.Observations, nil
}

// Compare returns the raw change set between two dates. Empty values let the
// service pick the two newest observations.
func (c *Client) Compare(ctx context.Context, start, end string) (json.RawMessage, error) {
	var raw json.RawMessage
	path := "/compare" + query(map[string]string{"start": start, "end": end})
	if err := c.do(ctx, http.MethodGet, path, nil, "", &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Snapshot returns the raw reconstructed roadmap at a date.
func (c *Client) Snapshot(ctx context.Context, at string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/snapshot"+query(map[string]string{"at": at}), nil, "", &raw); err != nil {
		return nil, err
	}
	return raw, nil
}
