package source

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shii9/PassiveNio/internal/core"
	"github.com/shii9/PassiveNio/internal/ratelimit"
)

const (
	DefaultUserAgent = "PassiveNio/1.0 (+passive reconnaissance)"
	defaultMaxBody   = 4 << 20
)

// Response is a fully read HTTP response.
type Response struct {
	URL    string
	Status int
	Header http.Header
	Body   []byte
	// TLS is the connection state of the final hop, nil over plain HTTP.
	TLS *tls.ConnectionState
}

// Client issues rate-limited GET requests against one source and maps
// HTTP failures onto the core error kinds.
type Client struct {
	HTTP      *http.Client
	UserAgent string
	Limiter   *ratelimit.Limiter
	Log       *logrus.Entry
	MaxBody   int64
}

// NewClient builds a client sharing the given limiter.
func NewClient(timeout time.Duration, lim *ratelimit.Limiter, log *logrus.Entry) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		HTTP:      &http.Client{Timeout: timeout},
		UserAgent: DefaultUserAgent,
		Limiter:   lim,
		Log:       log,
		MaxBody:   defaultMaxBody,
	}
}

// Get fetches raw and returns the response for 2xx statuses. Every other
// status becomes a *core.Error:
//
//	401, 403  auth
//	429       transport, retryable, Retry-After recorded and applied to the limiter
//	5xx       transport, retryable
//	other 4xx transport, not retryable
func (c *Client) Get(ctx context.Context, raw string, header http.Header) (*Response, error) {
	op := "GET " + redact(raw)
	if err := c.Limiter.Wait(ctx); err != nil {
		return nil, core.TimeoutError(op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return nil, core.TransportError(op, "malformed request", 0, false, err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	if c.Log != nil {
		c.Log.WithField("url", redact(raw)).Debug("fetching")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, core.TimeoutError(op, ctx.Err())
		}
		return nil, core.TransportError(op, "request failed", 0, true, err)
	}
	defer resp.Body.Close()

	limit := c.MaxBody
	if limit <= 0 {
		limit = defaultMaxBody
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, core.TransportError(op, "reading body", resp.StatusCode, true, err)
	}

	if err := c.classify(op, resp); err != nil {
		return nil, err
	}
	final := raw
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}
	return &Response{URL: final, Status: resp.StatusCode, Header: resp.Header, Body: body, TLS: resp.TLS}, nil
}

func (c *Client) classify(op string, resp *http.Response) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return core.AuthError(op, fmt.Sprintf("credential rejected (HTTP %d)", code), code)
	case code == http.StatusTooManyRequests:
		wait := parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		c.Limiter.Defer(wait)
		return core.RateLimitedError(op, code, wait)
	case code >= 500:
		return core.TransportError(op, fmt.Sprintf("HTTP %d", code), code, true, nil)
	default:
		return core.TransportError(op, fmt.Sprintf("HTTP %d", code), code, false, nil)
	}
}

// GetJSON fetches raw and decodes the body into v.
func (c *Client) GetJSON(ctx context.Context, raw string, header http.Header, v any) error {
	resp, err := c.Get(ctx, raw, header)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return core.ParseError("decode "+redact(raw), "malformed JSON payload", err)
	}
	return nil
}

// IsNotFound reports a 404 or 410 answer.
func IsNotFound(err error) bool {
	s := core.StatusOf(err)
	return s == http.StatusNotFound || s == http.StatusGone
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// redact drops query values that look like credentials from log output.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	changed := false
	for _, k := range []string{"key", "api_key", "apikey", "token", "access_token"} {
		if q.Has(k) {
			q.Set(k, "REDACTED")
			changed = true
		}
	}
	if !changed {
		return raw
	}
	u.RawQuery = q.Encode()
	return u.String()
}
