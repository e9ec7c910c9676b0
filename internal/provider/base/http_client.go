package base

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"obgateway/internal/provider"
)

// HTTPClient provides common HTTP functionality for ASPSP adapters
type HTTPClient struct {
	client  *http.Client
	baseURL string
	name    string // provider name for logging
}

// NewHTTPClient creates a client. Per-call deadlines come from ctx; timeout is
// only a ceiling for calls made without one.
func NewHTTPClient(providerName string, timeout time.Duration) *HTTPClient {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		client: &http.Client{Timeout: timeout},
		name:   providerName,
	}
}

// SetBaseURL sets the base URL for all requests
func (c *HTTPClient) SetBaseURL(baseURL string) {
	c.baseURL = baseURL
}

// Client exposes the underlying client, e.g. for oauth2 token exchanges.
func (c *HTTPClient) Client() *http.Client {
	return c.client
}

// PostJSON makes a POST request with JSON payload
func (c *HTTPClient) PostJSON(ctx context.Context, endpoint string, payload any, headers map[string]string) (*HTTPResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON payload: %w", err)
	}
	return c.do(ctx, http.MethodPost, endpoint, bytes.NewReader(body), headers)
}

// Get makes a GET request
func (c *HTTPClient) Get(ctx context.Context, endpoint string, headers map[string]string) (*HTTPResponse, error) {
	return c.do(ctx, http.MethodGet, endpoint, nil, headers)
}

func (c *HTTPClient) do(ctx context.Context, method, endpoint string, body io.Reader, headers map[string]string) (*HTTPResponse, error) {
	url := c.baseURL + endpoint
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "obgateway/"+c.name)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	// never log headers: they carry bearer tokens
	log.Debug().
		Str("provider", c.name).
		Str("method", method).
		Str("url", url).
		Msg("making HTTP request")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		log.Error().
			Str("provider", c.name).
			Str("url", url).
			Err(err).
			Msg("HTTP request failed")
		// keep context errors unwrappable for timeout classification
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	return c.handleResponse(resp, time.Since(start))
}

// handleResponse processes the HTTP response
func (c *HTTPClient) handleResponse(resp *http.Response, took time.Duration) (*HTTPResponse, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	log.Debug().
		Str("provider", c.name).
		Int("status_code", resp.StatusCode).
		Int("body_length", len(body)).
		Dur("took", took).
		Msg("received HTTP response")

	return &HTTPResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       body,
	}, nil
}

// Bearer returns the Authorization header for an access token.
func Bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

// HTTPResponse represents an HTTP response
type HTTPResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// IsSuccess checks if the response indicates success (2xx status code)
func (r *HTTPResponse) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// UnmarshalJSON unmarshals the response body into the provided struct
func (r *HTTPResponse) UnmarshalJSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// AsError converts a non-2xx Open Banking error body into a ProviderError.
// 4xx answers are attributed to the request; 5xx to the ASPSP.
func (r *HTTPResponse) AsError(op string) error {
	var body struct {
		Code    string `json:"Code"`
		Message string `json:"Message"`
		Errors  []struct {
			ErrorCode string `json:"ErrorCode"`
			Message   string `json:"Message"`
		} `json:"Errors"`
	}
	_ = json.Unmarshal(r.Body, &body)
	detail := body.Message
	if len(body.Errors) > 0 {
		detail = body.Errors[0].ErrorCode + ": " + body.Errors[0].Message
	}
	code := provider.ErrProviderDown
	if r.StatusCode >= 400 && r.StatusCode < 500 {
		code = provider.ErrInvalidRequest
	}
	return &provider.ProviderError{
		Code:        code,
		Message:     fmt.Sprintf("%s failed with status %d", op, r.StatusCode),
		ProviderErr: detail,
	}
}
