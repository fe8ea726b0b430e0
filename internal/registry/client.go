// Package registry provides a client for the indexing service that exposes trade and
// market history as a paginated GraphQL API.
//
// All queries use offset pagination with a fixed page size. The registry does not report
// totals; callers infer the end of data from a page shorter than PageSize.
package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

const (
	// defaultPageSize is the registry's own per-query limit
	defaultPageSize = 50

	// defaultTimeout bounds a single registry round trip
	defaultTimeout = 15 * time.Second

	// maxResponseSize caps how much of a response body is read
	maxResponseSize = 8 << 20
)

var (
	// ErrRegistryUnavailable wraps every transport, status and GraphQL failure.
	ErrRegistryUnavailable = errors.New("registry unavailable")

	// ErrInvalidConfig indicates that the provided Config contains invalid values.
	ErrInvalidConfig = errors.New("invalid registry configuration")
)

// Config defines settings for the registry client.
type Config struct {
	// Endpoint is the GraphQL HTTP URL.
	// Required: This field must be provided and non-empty.
	Endpoint string

	// PageSize overrides the number of records requested per page.
	PageSize int

	// Timeout bounds each request. It applies only when HTTPClient is nil.
	Timeout time.Duration

	// HTTPClient replaces the default HTTP client.
	HTTPClient *http.Client
}

// Client queries the registry.
type Client struct {
	cfg      Config
	http     *http.Client
	validate *validator.Validate
}

// NewClient creates a registry client, applying defaults to optional fields.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("%w: endpoint URL is required", ErrInvalidConfig)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		cfg:      cfg,
		http:     httpClient,
		validate: validator.New(),
	}, nil
}

// PageSize is the number of records returned by a full page.
func (c *Client) PageSize() int {
	return c.cfg.PageSize
}

// gqlRequest is the GraphQL POST body.
type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// gqlResponse is the GraphQL response envelope.
type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors"`
}

type gqlError struct {
	Message string `json:"message"`
}

// query runs a GraphQL query and decodes its data field into out.
func (c *Client) query(ctx context.Context, query string, vars map[string]any, out any) error {
	body, err := json.Marshal(gqlRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("failed to encode query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %v", ErrRegistryUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Warn().
			Str("component", "registry").
			Int("statusCode", resp.StatusCode).
			Str("status", resp.Status).
			Msg("registry request failed")
		return fmt.Errorf("%w: unexpected status %s", ErrRegistryUnavailable, resp.Status)
	}

	var envelope gqlResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("%w: invalid response JSON: %v", ErrRegistryUnavailable, err)
	}

	if len(envelope.Errors) > 0 {
		messages := make([]string, 0, len(envelope.Errors))
		for _, e := range envelope.Errors {
			messages = append(messages, e.Message)
		}
		return fmt.Errorf("%w: %s", ErrRegistryUnavailable, strings.Join(messages, "; "))
	}

	if len(envelope.Data) == 0 {
		return fmt.Errorf("%w: response has no data", ErrRegistryUnavailable)
	}

	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("%w: invalid data payload: %v", ErrRegistryUnavailable, err)
	}

	return nil
}
