// Package upstream fetches complete roadmap snapshots from the public
// progress tracker GraphQL endpoint.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	defaultPageSize    = 20
	defaultConcurrency = 8
	defaultTimeout     = 30 * time.Second
	maxResponseBytes   = 16 << 20
)

// ErrIncompleteBatch is returned when any part of a snapshot could not be
// fetched. A partial snapshot is never returned.
var ErrIncompleteBatch = errors.New("upstream: incomplete batch")

// Config configures a Client.
type Config struct {
	URL         string
	Timeout     time.Duration
	PageSize    int
	Concurrency int
}

// Client talks to the roadmap endpoint.
type Client struct {
	url         string
	httpClient  *http.Client
	timeout     time.Duration
	pageSize    int
	concurrency int
	logger      *slog.Logger
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

// New constructs a Client.
func New(cfg Config, logger *slog.Logger, opts ...Option) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.URL)
	if endpoint == "" {
		return nil, fmt.Errorf("upstream url is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		url:         endpoint,
		httpClient:  &http.Client{},
		timeout:     cfg.Timeout,
		pageSize:    cfg.PageSize,
		concurrency: cfg.Concurrency,
		logger:      logger.With("component", "upstream"),
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if c.pageSize <= 0 {
		c.pageSize = defaultPageSize
	}
	if c.concurrency <= 0 {
		c.concurrency = defaultConcurrency
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type request struct {
	OperationName string         `json:"operationName"`
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables"`
}

type gqlError struct {
	Message string `json:"message"`
}

// StatusError reports a non-success HTTP status from the endpoint.
type StatusError struct {
	Status int
	Body   string
}

func (e StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream request failed with status %d", e.Status)
	}
	return fmt.Sprintf("upstream request failed (%d): %s", e.Status, e.Body)
}

// do posts one GraphQL operation and decodes data into v. Every request is
// bounded by the client timeout.
func (c *Client) do(ctx context.Context, op request, v any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal([]request{op})
	if err != nil {
		return fmt.Errorf("encode request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var envelope []struct {
		Data   json.RawMessage `json:"data"`
		Errors []gqlError      `json:"errors"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if len(envelope) == 0 {
		return fmt.Errorf("empty response for %s", op.OperationName)
	}
	if len(envelope[0].Errors) > 0 {
		return fmt.Errorf("%s: %s", op.OperationName, envelope[0].Errors[0].Message)
	}
	if err := json.Unmarshal(envelope[0].Data, v); err != nil {
		return fmt.Errorf("decode %s data: %w", op.OperationName, err)
	}
	return nil
}
