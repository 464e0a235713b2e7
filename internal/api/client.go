// Package api is the request/response client for the maintenance backend.
//
// A Client is shared process-wide. Each consumer (a view, a command) works
// through its own Scope, which tracks loading and error state for the calls
// it issued and cancels all of them when closed.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// TokenSource supplies the current bearer credential. An empty token means
// no Authorization header is attached.
type TokenSource interface {
	Token() string
}

// Observer is notified after every completed round trip. Status is zero
// for transport failures.
type Observer interface {
	ObserveRequest(method string, status int, elapsed time.Duration)
}

// Request describes one call. Path is joined to the client's base URL
// unless it is already absolute.
type Request struct {
	Method string
	Path   string
	// Body is sent as JSON unless it is a *FormData or an io.Reader.
	// []byte, json.RawMessage and string values are sent as-is.
	Body   any
	Header http.Header
}

// Client issues calls against the backend base URL.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	observer   Observer
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithObserver registers a round-trip observer.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// WithLogger sets the logger used for failed calls.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for baseURL. The base URL is not validated; an
// empty or wrong value shows up as failed calls.
func NewClient(baseURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		tokens: tokens,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// roundTrip performs the HTTP exchange and maps every failure to an
// *APIError. A 2xx response with an empty body yields a nil payload.
func (c *Client) roundTrip(ctx context.Context, r Request) (json.RawMessage, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	body, contentType, err := encodeBody(r.Body)
	if err != nil {
		return nil, &APIError{Message: GenericMessage, err: err}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(r.Path), body)
	if err != nil {
		return nil, &APIError{Message: GenericMessage, err: fmt.Errorf("creating request: %w", err)}
	}

	for name, values := range r.Header {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	switch {
	case contentType != "" && isBinary(r.Body):
		req.Header.Set("Content-Type", contentType)
	case contentType != "" && req.Header.Get("Content-Type") == "":
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if req.Header.Get("Authorization") == "" && c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(method, 0, start)
		c.logger.Debug("request failed", "method", method, "path", r.Path, "error", err)
		return nil, &APIError{
			Message: GenericMessage,
			err:     fmt.Errorf("executing request %s %s: %w", method, r.Path, err),
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	c.observe(method, resp.StatusCode, start)
	if err != nil {
		return nil, &APIError{
			Status:  resp.StatusCode,
			Message: GenericMessage,
			err:     fmt.Errorf("reading response body: %w", err),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Debug("request rejected", "method", method, "path", r.Path, "status", resp.StatusCode)
		return nil, &APIError{
			Status:  resp.StatusCode,
			Message: serverMessage(respBody),
		}
	}

	respBody = bytes.TrimSpace(respBody)
	if resp.StatusCode == http.StatusNoContent || len(respBody) == 0 {
		return nil, nil
	}
	if !json.Valid(respBody) {
		return nil, &APIError{
			Status:  resp.StatusCode,
			Message: GenericMessage,
			err:     fmt.Errorf("response from %s %s is not JSON", method, r.Path),
		}
	}
	return json.RawMessage(respBody), nil
}

func (c *Client) url(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

func (c *Client) observe(method string, status int, start time.Time) {
	if c.observer != nil {
		c.observer.ObserveRequest(method, status, time.Since(start))
	}
}

// serverMessage extracts the "message" field of an error body.
func serverMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil && strings.TrimSpace(payload.Message) != "" {
		return payload.Message
	}
	return GenericMessage
}

// isBinary reports whether the caller's headers must be used verbatim.
func isBinary(body any) bool {
	switch body.(type) {
	case *FormData, io.Reader:
		return true
	}
	return false
}

// encodeBody returns the request body and the content type the encoder
// requires. For JSON bodies that is the default; for multipart it carries
// the boundary; for raw readers it is empty.
func encodeBody(body any) (io.Reader, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "application/json", nil
	case *FormData:
		buf, contentType, err := b.encode()
		if err != nil {
			return nil, "", err
		}
		return buf, contentType, nil
	case io.Reader:
		return b, "", nil
	case json.RawMessage:
		return bytes.NewReader(b), "application/json", nil
	case []byte:
		return bytes.NewReader(b), "application/json", nil
	case string:
		return strings.NewReader(b), "application/json", nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", fmt.Errorf("marshaling request body: %w", err)
		}
		return bytes.NewReader(data), "application/json", nil
	}
}
