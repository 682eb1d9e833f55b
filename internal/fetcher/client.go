package fetcher

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

	"github.com/arrdeck/arrdeck/internal/constants"
)

const (
	maxErrorBody    = 8 << 10
	maxResponseBody = 8 << 20
)

// Doer performs one backend round-trip and returns the raw response body.
type Doer interface {
	Do(ctx context.Context, method, path string, body []byte) ([]byte, error)
}

// StatusError is a non-2xx backend response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("backend returned %d: %s", e.Code, e.Message)
}

// Retryable reports whether the response is worth another read attempt.
// Server faults, throttling and request timeouts are; other 4xx are not.
func (e *StatusError) Retryable() bool {
	switch {
	case e.Code >= 500:
		return true
	case e.Code == http.StatusTooManyRequests, e.Code == http.StatusRequestTimeout:
		return true
	default:
		return false
	}
}

// HTTPClient wraps HTTP interactions with the settings backend.
type HTTPClient struct {
	client  *http.Client
	baseURL string
	token   string
	timeout time.Duration
}

// NewHTTPClient builds an HTTP client with optional custom transport.
// A non-positive timeout selects constants.BackendRequestTimeout.
func NewHTTPClient(baseURL, token string, timeout time.Duration, transport http.RoundTripper) *HTTPClient {
	if timeout <= 0 {
		timeout = constants.BackendRequestTimeout
	}
	client := &http.Client{}
	if transport != nil {
		client.Transport = transport
	}

	return &HTTPClient{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   strings.TrimSpace(token),
		timeout: timeout,
	}
}

// BaseURL returns the base HTTP URL.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// Do sends one request bounded by the client timeout. Transport failures and
// timeouts are returned as-is; non-2xx responses become *StatusError.
func (c *HTTPClient) Do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("fetcher: build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.attachToken(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetcher: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, readAPIError(resp)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("fetcher: read %s %s: %w", method, path, err)
	}
	return data, nil
}

func (c *HTTPClient) attachToken(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func readAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	statusErr := &StatusError{Code: resp.StatusCode}

	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return statusErr
	}
	if strings.HasPrefix(trimmed, "{") {
		var payload struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal([]byte(trimmed), &payload); err == nil {
			if msg := strings.TrimSpace(payload.Error); msg != "" {
				statusErr.Message = msg
				return statusErr
			}
			if msg := strings.TrimSpace(payload.Message); msg != "" {
				statusErr.Message = msg
				return statusErr
			}
		}
	}
	statusErr.Message = trimmed
	return statusErr
}

// ErrMalformedResponse marks a body that cannot be parsed as the expected
// contract. It is never retried.
var ErrMalformedResponse = errors.New("fetcher: malformed response")

// EnvelopeError is a 2xx response carrying {"success": false, "error": ...}.
type EnvelopeError struct {
	Message string
}

func (e *EnvelopeError) Error() string {
	if e.Message == "" {
		return "backend reported failure"
	}
	return e.Message
}

// checkEnvelope validates body as JSON and surfaces a success:false envelope.
func checkEnvelope(body []byte) error {
	if !json.Valid(body) {
		return fmt.Errorf("%w: %d bytes of invalid JSON", ErrMalformedResponse, len(body))
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	var envelope struct {
		Success *bool  `json:"success"`
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil
	}
	if envelope.Success != nil && !*envelope.Success {
		msg := strings.TrimSpace(envelope.Error)
		if msg == "" {
			msg = strings.TrimSpace(envelope.Message)
		}
		return &EnvelopeError{Message: msg}
	}
	return nil
}
