// Package mailer provides a Go client for the mailer HTTP API.
//
// Mail is accepted asynchronously: a send call returns the PENDING log and
// delivery happens in the background. Poll the log to follow its status.
//
// Usage:
//
//	client := mailer.New("https://mail.internal.example.com", "your-api-key")
//
//	log, err := client.Mail.SendWelcome(ctx, mailer.WelcomeRequest{
//	    Email: "alice@example.com",
//	    Name:  "Alice",
//	})
//
//	log, err = client.Mail.GetLog(ctx, log.ID)
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Client is the authenticated mailer API client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	Mail *MailService
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New creates a client. baseURL is the root URL of the API and apiKey is sent
// as a Bearer token. An empty apiKey sends no Authorization header.
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	c.Mail = &MailService{c: c}
	return c
}

// Health reports the server's dependency checks. A degraded server answers
// 503, which is returned as a HealthResponse rather than an error.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	return doRequest[HealthResponse](ctx, c, http.MethodGet, "/healthz", nil, nil,
		http.StatusOK, http.StatusServiceUnavailable)
}

// --- internal helpers ---

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("mailer: marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func doRequest[T any](ctx context.Context, c *Client, method, path string, query url.Values, body any, expectedStatuses ...int) (*T, error) {
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	for _, s := range expectedStatuses {
		if resp.StatusCode == s {
			var out T
			if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
				return nil, fmt.Errorf("mailer: decode response: %w", err)
			}
			return &out, nil
		}
	}
	return nil, parseError(resp)
}

func parseError(resp *http.Response) *APIError {
	e := &APIError{StatusCode: resp.StatusCode}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		e.Message = body.Error
	} else {
		e.Message = http.StatusText(resp.StatusCode)
	}
	return e
}
