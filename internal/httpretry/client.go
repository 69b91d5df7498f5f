// Package httpretry wraps outbound HTTP calls with a per-attempt timeout and
// exponential backoff. Network-transient failures and HTTP 409, 429 and 5xx
// responses are retried; every other response is returned to the caller
// as-is.
//
// Bodies are read fully inside each attempt so the attempt timeout covers
// the transfer, and request bodies are plain bytes so they can be replayed.
package httpretry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/avku/reports-bot/internal/metrics"
)

const (
	baseDelay   = 300 * time.Millisecond
	maxDelay    = 5 * time.Second
	maxJitter   = 200 * time.Millisecond
	maxBodySize = 64 << 20 // 64 MB
)

// Policy bounds one logical call.
type Policy struct {
	Retries int           // retries after the first attempt
	Timeout time.Duration // per attempt
}

// DefaultPolicy is used when a caller passes the zero Policy. A Policy
// with only Retries set keeps its retries and gets the default timeout.
var DefaultPolicy = Policy{Retries: 5, Timeout: 15 * time.Second}

// Request is a replayable HTTP request. Op names the call in logs and
// errors; URLs are never logged because some carry credentials.
type Request struct {
	Op     string
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is a fully-read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Client executes Requests with retries.
type Client struct {
	httpClient *http.Client
	sleep      func(ctx context.Context, d time.Duration) error
	jitter     func() time.Duration
}

// New creates a Client. A nil httpClient uses a fresh http.Client; the
// per-attempt timeout comes from the Policy, not from http.Client.Timeout.
func New(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		httpClient: httpClient,
		sleep:      sleepCtx,
		jitter:     func() time.Duration { return rand.N(maxJitter) },
	}
}

// Do executes req under policy p. A retryable status on the final attempt is
// returned as a Response, not an error; a transient error on the final
// attempt is returned as an error. Cancellation of ctx stops immediately.
func (c *Client) Do(ctx context.Context, req *Request, p Policy) (*Response, error) {
	if p == (Policy{}) {
		p = DefaultPolicy
	}
	if p.Timeout <= 0 {
		p.Timeout = DefaultPolicy.Timeout
	}
	if p.Retries < 0 {
		p.Retries = 0
	}
	host := hostOf(req.URL)

	for attempt := 0; ; attempt++ {
		resp, err := c.attempt(ctx, req, p.Timeout)

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w", req.Op, ctxErr)
		}

		last := attempt >= p.Retries
		switch {
		case err != nil && (!IsTransient(err) || last):
			return nil, fmt.Errorf("%s (%s) after %d attempt(s): %w", req.Op, host, attempt+1, err)
		case err == nil && (!IsRetryableStatus(resp.StatusCode) || last):
			return resp, nil
		}

		delay := Backoff(attempt) + c.jitter()
		evt := log.Warn().Str("op", req.Op).Str("host", host).Int("attempt", attempt+1).Dur("delay", delay)
		if err != nil {
			evt = evt.Err(err)
		} else {
			evt = evt.Int("status", resp.StatusCode)
		}
		evt.Msg("Retrying outbound request")
		metrics.New(metrics.Namespace).
			Dimension("Target", host).
			Count("OutboundRetry").
			Property("op", req.Op).
			Flush()

		if err := c.sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("%s: %w", req.Op, err)
		}
	}
}

func (c *Client) attempt(ctx context.Context, req *Request, timeout time.Duration) (*Response, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(actx, req.Method, req.URL, body)
	if err != nil {
		return nil, stripURL(err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, stripURL(err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodySize))
	if err != nil {
		return nil, stripURL(err)
	}
	log.Trace().
		Str("op", req.Op).
		Int("status", httpResp.StatusCode).
		Int("bytes", len(data)).
		Dur("elapsed", time.Since(start)).
		Msg("Outbound request complete")

	return &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: data}, nil
}

// Backoff returns the delay before retry number attempt+1, without jitter:
// min(5s, 300ms * 2^attempt).
func Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 10 {
		return maxDelay
	}
	return min(maxDelay, baseDelay<<attempt)
}

// IsRetryableStatus reports whether an HTTP status warrants another attempt.
func IsRetryableStatus(code int) bool {
	return code == http.StatusConflict || code == http.StatusTooManyRequests || code >= 500
}

// IsTransient reports whether err is a network failure worth retrying:
// attempt timeouts, connection resets, DNS failures and dropped connections.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.ETIMEDOUT) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// stripURL drops the URL from *url.Error so tokens embedded in paths never
// reach logs or chat messages.
func stripURL(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return fmt.Errorf("%s: %w", uerr.Op, uerr.Err)
	}
	return err
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "invalid-url"
	}
	return u.Host
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
