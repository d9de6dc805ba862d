// Package client is an HTTP client for the flagledger API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/TimurManjosov/flagledger/internal/analytics"
	"github.com/TimurManjosov/flagledger/internal/decision"
	"github.com/TimurManjosov/flagledger/internal/service"
	"github.com/TimurManjosov/flagledger/internal/store"
)

// Client is an HTTP client for the flagledger API
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new API client
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Fields     map[string]string `json:"fields"`
	RequestID  string            `json:"request_id"`
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("API error (status %d)", e.StatusCode)
	if e.Code != "" {
		msg += " " + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	for field, problem := range e.Fields {
		msg += fmt.Sprintf("\n  %s: %s", field, problem)
	}
	return msg
}

// Evaluation is the result of POST /flags/{key}/evaluate.
type Evaluation struct {
	Key     string `json:"key"`
	Enabled bool   `json:"enabled"`
	Reason  string `json:"reason"`
	Code    string `json:"code"`
}

type envelope[T any] struct {
	Data T `json:"data"`
}

type contextBody struct {
	Context map[string]any `json:"context"`
}

// ListFlags retrieves all flags, or only enabled ones when activeOnly is set.
func (c *Client) ListFlags(ctx context.Context, activeOnly bool) ([]store.Flag, error) {
	path := "/flags"
	if activeOnly {
		path = "/flags/active"
	}
	var out envelope[[]store.Flag]
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// GetFlag retrieves a single flag by key
func (c *Client) GetFlag(ctx context.Context, key string) (*store.Flag, error) {
	var out envelope[store.Flag]
	if err := c.do(ctx, http.MethodGet, "/flags/"+url.PathEscape(key), nil, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// CreateFlag creates a flag, replacing any flag with the same key.
func (c *Client) CreateFlag(ctx context.Context, in service.FlagInput) (*store.Flag, error) {
	var out envelope[store.Flag]
	if err := c.do(ctx, http.MethodPost, "/flags", in, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// UpdateFlag sends a partial update. Keys follow the flag's JSON field names; a nil
// starts_at or ends_at clears the bound.
func (c *Client) UpdateFlag(ctx context.Context, key string, fields map[string]any) (*store.Flag, error) {
	var out envelope[store.Flag]
	if err := c.do(ctx, http.MethodPut, "/flags/"+url.PathEscape(key), fields, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// DeleteFlag deletes a flag
func (c *Client) DeleteFlag(ctx context.Context, key string) error {
	return c.do(ctx, http.MethodDelete, "/flags/"+url.PathEscape(key), nil, nil)
}

// Evaluate runs a recorded evaluation of key for evalCtx.
func (c *Client) Evaluate(ctx context.Context, key string, evalCtx map[string]any) (Evaluation, error) {
	var out envelope[Evaluation]
	err := c.do(ctx, http.MethodPost, "/flags/"+url.PathEscape(key)+"/evaluate", contextBody{Context: evalCtx}, &out)
	return out.Data, err
}

// Check evaluates key without recording a decision.
func (c *Client) Check(ctx context.Context, key string, evalCtx map[string]any) (bool, error) {
	var out struct {
		Enabled bool `json:"enabled"`
	}
	err := c.do(ctx, http.MethodPost, "/flags/"+url.PathEscape(key)+"/check", contextBody{Context: evalCtx}, &out)
	return out.Enabled, err
}

// FlagStats returns decision statistics for key over the last hours.
func (c *Client) FlagStats(ctx context.Context, key string, hours int) (analytics.FlagStats, error) {
	q := url.Values{}
	if hours > 0 {
		q.Set("hours", strconv.Itoa(hours))
	}
	var out envelope[analytics.FlagStats]
	err := c.do(ctx, http.MethodGet, "/flags/"+url.PathEscape(key)+"/analytics?"+q.Encode(), nil, &out)
	return out.Data, err
}

// History returns the newest decisions for a user or session.
func (c *Client) History(ctx context.Context, userID, sessionID string, limit int) ([]decision.Decision, error) {
	q := url.Values{}
	if userID != "" {
		q.Set("user_id", userID)
	}
	if sessionID != "" {
		q.Set("session_id", sessionID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out envelope[[]decision.Decision]
	if err := c.do(ctx, http.MethodGet, "/flags/history?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		bodyBytes, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(bodyBytes, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(bodyBytes))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
