// Package api is the HTTP client for the Sahasi backend. Every call
// yields a uniform Result: HTTP success plus parsed JSON data, with a
// {"detail": ...} fallback body when the server response is not JSON
// and a synthetic failure when the request never left the device.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Config carries the endpoints and timeout for a Client. Passed in
// explicitly at construction; there is no package-level base URL.
type Config struct {
	BaseURL     string
	ChatBaseURL string
	Timeout     time.Duration
}

// TokenSource supplies the stored bearer token. An empty token means
// the user is not signed in.
type TokenSource interface {
	Token() (string, error)
}

// Client talks to the Sahasi user API and the chat service.
type Client struct {
	cfg    Config
	http   *http.Client
	tokens TokenSource
	logger *zap.Logger
}

// NewClient creates a client. tokens may be nil for unauthenticated use.
func NewClient(cfg Config, tokens TokenSource, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		tokens: tokens,
		logger: logger,
	}
}

// Result is the uniform outcome of a backend call.
type Result struct {
	OK     bool
	Status int
	Data   json.RawMessage
}

// Detail extracts the "detail" field from the result body, if any.
func (r Result) Detail() string {
	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(r.Data, &body); err != nil {
		return ""
	}
	return body.Detail
}

// Decode unmarshals the result data into v.
func (r Result) Decode(v any) error {
	return json.Unmarshal(r.Data, v)
}

func detailResult(status int, detail string) Result {
	data, _ := json.Marshal(map[string]string{"detail": detail})
	return Result{OK: false, Status: status, Data: data}
}

// do performs one request against the user API. When auth is set, the
// stored bearer token is attached; a missing token short-circuits
// before any network I/O.
func (c *Client) do(ctx context.Context, method, path string, body any, auth bool) Result {
	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + path

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return detailResult(0, "Invalid request body")
		}
		reader = bytes.NewReader(raw)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return detailResult(0, "Invalid request")
	}
	req.Header.Set("Content-Type", "application/json")

	if auth {
		token, err := c.token()
		if err != nil || token == "" {
			return detailResult(0, "Missing credentials")
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return detailResult(0, "Network error")
	}
	defer func() { _ = resp.Body.Close() }()

	return parseResponse(resp)
}

func (c *Client) token() (string, error) {
	if c.tokens == nil {
		return "", nil
	}
	return c.tokens.Token()
}

// parseResponse maps any HTTP response to a Result. OK mirrors the
// HTTP status; non-JSON bodies become {"detail": <raw text>}, or a
// generic detail when the body is empty or unreadable.
func parseResponse(resp *http.Response) Result {
	ok := resp.StatusCode >= 200 && resp.StatusCode < 300

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		r := detailResult(resp.StatusCode, "Invalid response from server")
		r.OK = ok
		return r
	}

	if len(bytes.TrimSpace(raw)) > 0 && json.Valid(raw) {
		return Result{OK: ok, Status: resp.StatusCode, Data: raw}
	}

	detail := strings.TrimSpace(string(raw))
	if detail == "" {
		detail = "Invalid response from server"
	}
	r := detailResult(resp.StatusCode, detail)
	r.OK = ok
	return r
}
