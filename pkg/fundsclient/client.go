/**
 * @description
 * This package provides a client for the funds-transfer backend. The backend accepts a
 * base64 envelope as a text/plain body and authenticates callers only by the shared
 * envelope secret plus an X-USERNAME header; no bearer token is sent.
 *
 * @dependencies
 * - context, encoding/json, io, net/http, strings, time: Standard Go libraries.
 */
package fundsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds a settlement round-trip; the backend can be slow.
const DefaultTimeout = 60 * time.Second

// maxBodyBytes caps how much of a reply is read.
const maxBodyBytes = 1 << 20

var ErrNotConfigured = errors.New("fund transfer api url is not configured")

// Client is a client for the funds-transfer endpoint.
type Client struct {
	APIURL     string
	Username   string
	HTTPClient *http.Client
}

// Response is the raw reply of the backend.
type Response struct {
	StatusCode int
	Body       string
}

// Success reports a 2xx status.
func (r *Response) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// NewClient creates a new funds-transfer client. A non-positive timeout selects DefaultTimeout.
func NewClient(apiURL, username string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		APIURL:   strings.TrimSpace(apiURL),
		Username: strings.TrimSpace(username),
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// PostEnvelope sends one envelope and returns whatever the backend answered.
// Transport failures, including timeouts, are returned as errors; HTTP error statuses are not.
func (c *Client) PostEnvelope(ctx context.Context, envelope string) (*Response, error) {
	if c.APIURL == "" {
		return nil, ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIURL, strings.NewReader(envelope))
	if err != nil {
		return nil, fmt.Errorf("failed to create settlement request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("Accept", "text/plain, application/json")
	if c.Username != "" {
		req.Header.Set("X-USERNAME", c.Username)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute settlement request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read settlement response: %w", err)
	}

	return &Response{StatusCode: resp.StatusCode, Body: string(body)}, nil
}

// ExtractCipher pulls the encrypted payload out of a success body. The backend may wrap
// it as {"data": "..."} or {"Data": "..."}, send a bare JSON string, or send raw text.
func ExtractCipher(body string) string {
	var root interface{}
	if err := json.Unmarshal([]byte(body), &root); err == nil {
		switch v := root.(type) {
		case map[string]interface{}:
			if s, ok := v["data"].(string); ok {
				return s
			}
			if s, ok := v["Data"].(string); ok {
				return s
			}
		case string:
			return v
		}
	}
	return strings.TrimSpace(body)
}
