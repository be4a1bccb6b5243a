// Package fetch retrieves population payloads from the DataUSA API.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"statepop/internal/types"
)

// DefaultBaseURL is the DataUSA API root.
const DefaultBaseURL = "https://datausa.io/api"

const (
	userAgent    = "statepop/1.0"
	maxBodyBytes = 64 << 20
)

// NetworkError reports a request that could not be completed: transport
// failure, non-2xx status or a body that is not valid JSON.
type NetworkError struct {
	URL        string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Client issues GET requests against a base URL.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New returns a Client for baseURL (DefaultBaseURL when empty).
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// URL builds the request URL for path and params.
func (c *Client) URL(path string, params url.Values) string {
	u := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

// Fetch performs one GET and decodes the body as a Payload. A body that is
// valid JSON but does not match the record schema yields *types.SchemaError.
func (c *Client) Fetch(ctx context.Context, path string, params url.Values) (*types.Payload, error) {
	target := c.URL(path, params)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &NetworkError{URL: target, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("Fetching payload", zap.String("url", target))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: target, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &NetworkError{URL: target, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status %q: %s", resp.Status, strings.TrimSpace(string(snippet)))}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, &NetworkError{URL: target, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	if len(body) > maxBodyBytes {
		return nil, &NetworkError{URL: target, StatusCode: resp.StatusCode, Err: fmt.Errorf("body exceeds %d bytes", maxBodyBytes)}
	}
	if !json.Valid(body) {
		return nil, &NetworkError{URL: target, StatusCode: resp.StatusCode, Err: errors.New("malformed JSON body")}
	}

	var payload types.Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	c.logger.Info("Fetched payload",
		zap.String("url", target),
		zap.Int("status", resp.StatusCode),
		zap.Int("records", len(payload.Data)))
	return &payload, nil
}
