// Package client provides a Go client for a remote conveyor server's
// HTTP API.
//
// Usage:
//
//	c, err := client.New("http://conveyor.internal:8080",
//	    client.WithRetries(3, 200*time.Millisecond),
//	)
//
//	// Enqueue a job.
//	j, created, err := c.Enqueue(ctx, "acme", job.TypeSendMessage, payload,
//	    client.WithUniqueKey("wamid.123"),
//	)
//
//	// Run handlers in another process against the claim protocol.
//	w := client.NewWorker(c, map[string]client.HandlerFunc{
//	    job.TypeSendMessage: sendMessage,
//	})
//	err = w.Run(ctx)
//
// Errors returned for non-2xx responses are *APIError values that unwrap
// to the matching conveyor sentinel, so errors.Is(err, conveyor.ErrLeaseLost)
// works across the wire.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xraph/conveyor"
)

// Client talks to a conveyor server over HTTP. It is safe for concurrent
// use.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger

	// Retries of transient failures.
	maxRetries int
	baseDelay  time.Duration
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid base URL %q", conveyor.ErrInvalidConfig, baseURL)
	}
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: 30 * time.Second},
		logger:    slog.Default(),
		baseDelay: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string

	sentinel error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("conveyor/client: %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

// Unwrap returns the conveyor sentinel named in the message, if any.
func (e *APIError) Unwrap() error { return e.sentinel }

// sentinels are matched against error messages, most specific first.
var sentinels = []error{
	conveyor.ErrJobNotFound,
	conveyor.ErrDeadLetterNotFound,
	conveyor.ErrTenantNotFound,
	conveyor.ErrNotReplayable,
	conveyor.ErrJobAlreadyExists,
	conveyor.ErrLeaseLost,
	conveyor.ErrInvalidState,
	conveyor.ErrInvalidJob,
	conveyor.ErrInvalidTenant,
	conveyor.ErrInvalidRequest,
}

func newAPIError(status int, msg string) *APIError {
	e := &APIError{StatusCode: status, Message: msg}
	for _, s := range sentinels {
		if strings.Contains(msg, s.Error()) {
			e.sentinel = s
			break
		}
	}
	return e
}

// do sends one request, retrying transient failures. out, when non-nil,
// receives the decoded body of a 2xx response other than 204.
func (c *Client) do(ctx context.Context, method, path string, in, out any) (int, error) {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return 0, fmt.Errorf("conveyor/client: marshal request: %w", err)
		}
	}

	delay := c.baseDelay
	for attempt := 0; ; attempt++ {
		status, err := c.send(ctx, method, path, body, out)
		if err == nil || attempt >= c.maxRetries || !retryable(method, status) {
			return status, err
		}
		c.logger.Warn("conveyor client request failed, retrying",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return 0, ctx.Err()
		case <-timer.C:
		}
		delay = min(delay*2, 30*time.Second)
	}
}

// retryable reports whether a failed request may be sent again. Transport
// errors (status 0) are retried only for reads; a POST may have been
// applied before the connection dropped.
func retryable(method string, status int) bool {
	switch status {
	case 0:
		return method == http.MethodGet
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func (c *Client) send(ctx context.Context, method, path string, body []byte, out any) (int, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return 0, fmt.Errorf("conveyor/client: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("conveyor/client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return resp.StatusCode, newAPIError(resp.StatusCode, e.Error)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return resp.StatusCode, fmt.Errorf("conveyor/client: decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// Healthy reports whether the server and its store answer.
func (c *Client) Healthy(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/healthz", nil, nil)
	return err
}
