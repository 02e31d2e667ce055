// Package restclient is the JSON-over-HTTP transport shared by the chat
// and spreadsheet clients. Requests are retried on transport failures,
// 429 and 5xx responses with capped exponential backoff. POST requests are
// retried only on 429, since any other failure may follow a successful
// create.
package restclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/agentworkforce/ledgerrelay/internal/idgen"
)

// Authorizer decorates an outgoing request with credentials.
type Authorizer func(ctx context.Context, req *http.Request) error

type Client struct {
	baseURL    string
	httpClient *http.Client
	authorize  Authorizer
	userAgent  string
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

type Option func(*Client)

func WithAuthorizer(authorize Authorizer) Option {
	return func(c *Client) {
		c.authorize = authorize
	}
}

// WithBearerToken sets a static Authorization header using scheme, e.g.
// "Bearer" or "Bot".
func WithBearerToken(scheme, token string) Option {
	token = strings.TrimSpace(token)
	return WithAuthorizer(func(_ context.Context, req *http.Request) error {
		if token != "" {
			req.Header.Set("Authorization", scheme+" "+token)
		}
		return nil
	})
}

func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

func WithRetries(maxRetries int, baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.baseDelay = baseDelay
		c.maxDelay = maxDelay
	}
}

func New(baseURL string, httpClient *http.Client, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	c := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: httpClient,
		userAgent:  "ledgerrelay",
		maxRetries: 3,
		baseDelay:  250 * time.Millisecond,
		maxDelay:   5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HTTPError is a non-2xx response that was not retried or ran out of
// retries.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// StatusCode extracts the HTTP status from err, or 0.
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}

// DoJSON sends body (if non-nil) as JSON and decodes a 2xx response into
// out (if non-nil).
func (c *Client) DoJSON(ctx context.Context, method, requestPath string, query url.Values, body, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	target := c.baseURL + requestPath
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("X-Correlation-Id", idgen.Request())
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.authorize != nil {
			if err := c.authorize(ctx, req); err != nil {
				return fmt.Errorf("authorize request: %w", err)
			}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() == nil && attempt < c.maxRetries && !createsResource(method) {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payload) == 0 {
				return nil
			}
			return json.Unmarshal(payload, out)
		}

		if retryable(method, resp.StatusCode) && attempt < c.maxRetries {
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, retryAfterHeader(resp.Header))); waitErr != nil {
				return waitErr
			}
			continue
		}
		return decodeHTTPError(resp.StatusCode, payload)
	}
}

func retryable(method string, status int) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	return status >= 500 && status <= 599 && !createsResource(method)
}

func createsResource(method string) bool {
	return method == http.MethodPost
}

// Both error shapes seen in practice: {"code":10008,"message":"..."} and
// {"error":{"code":403,"message":"...","status":"PERMISSION_DENIED"}}.
func decodeHTTPError(status int, payload []byte) *HTTPError {
	var body struct {
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
		Error   *struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	out := &HTTPError{StatusCode: status}
	if err := json.Unmarshal(payload, &body); err != nil {
		out.Message = strings.TrimSpace(string(payload))
		if out.Message == "" {
			out.Message = http.StatusText(status)
		}
		return out
	}
	out.Code = strings.Trim(string(body.Code), `"`)
	out.Message = body.Message
	if body.Error != nil {
		out.Code = body.Error.Status
		out.Message = body.Error.Message
	}
	if out.Message == "" {
		out.Message = http.StatusText(status)
	}
	return out
}

func (c *Client) retryDelay(attempt int, retryAfter string) time.Duration {
	maxDelay := c.maxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	if wait := parseRetryAfter(retryAfter); wait > 0 {
		return min(wait, maxDelay)
	}
	delay := c.baseDelay
	if delay <= 0 {
		delay = 250 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	return min(delay, maxDelay)
}

// Discord reports fractional seconds in X-RateLimit-Reset-After alongside
// the integer Retry-After.
func retryAfterHeader(h http.Header) string {
	if v := strings.TrimSpace(h.Get("X-RateLimit-Reset-After")); v != "" {
		return v
	}
	return h.Get("Retry-After")
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.ParseFloat(header, 64); err == nil && seconds >= 0 {
		return time.Duration(seconds * float64(time.Second))
	}
	if ts, err := http.ParseTime(header); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
