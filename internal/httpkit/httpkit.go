// Package httpkit builds the outbound HTTP clients vidchat uses to reach
// generation providers.
//
// Providers answer a chat request with a single JSON body once the model
// has finished, so a client built here waits for response headers much
// longer than a typical API client would. Local model servers are often
// still starting when vidchat comes up; [WithRetry] covers that window by
// retrying requests that failed before any byte reached the server.
package httpkit

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/nugget/vidchat/internal/buildinfo"
)

const (
	dialTimeout         = 10 * time.Second
	keepAlive           = 30 * time.Second
	tlsHandshakeTimeout = 10 * time.Second
	idleConnTimeout     = 90 * time.Second
	maxIdleConns        = 20
	maxIdleConnsPerHost = 5

	// DefaultTimeout bounds a whole request when no option overrides it.
	DefaultTimeout = 2 * time.Minute
	// DefaultHeaderTimeout bounds the wait for a provider's response
	// headers, which arrive only after generation completes.
	DefaultHeaderTimeout = 2 * time.Minute
	// ErrorBodyLimit caps how much of a failed response is kept in a
	// [StatusError].
	ErrorBodyLimit = 4096
)

// Option configures a client built by [NewClient].
type Option func(*options)

type options struct {
	timeout       time.Duration
	headerTimeout time.Duration
	userAgent     string
	retries       int
	retryDelay    time.Duration
	logger        *slog.Logger
}

// WithTimeout sets the overall request timeout. Zero leaves the deadline
// to the request context.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithHeaderTimeout sets how long to wait for response headers after the
// request is written.
func WithHeaderTimeout(d time.Duration) Option {
	return func(o *options) { o.headerTimeout = d }
}

// WithUserAgent overrides the default User-Agent.
func WithUserAgent(ua string) Option {
	return func(o *options) { o.userAgent = ua }
}

// WithRetry retries a request up to n more times, delay apart, when the
// connection could not be established. Requests whose body cannot be
// rewound are never retried.
func WithRetry(n int, delay time.Duration) Option {
	return func(o *options) {
		o.retries = n
		o.retryDelay = delay
	}
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// NewClient returns an *http.Client with a private pooled transport.
func NewClient(opts ...Option) *http.Client {
	o := options{
		timeout:       DefaultTimeout,
		headerTimeout: DefaultHeaderTimeout,
		userAgent:     buildinfo.UserAgent(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	var rt http.RoundTripper = &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: keepAlive,
		}).DialContext,
		TLSHandshakeTimeout:   tlsHandshakeTimeout,
		ResponseHeaderTimeout: o.headerTimeout,
		IdleConnTimeout:       idleConnTimeout,
		MaxIdleConns:          maxIdleConns,
		MaxIdleConnsPerHost:   maxIdleConnsPerHost,
		ForceAttemptHTTP2:     true,
	}
	rt = &userAgentTransport{base: rt, ua: o.userAgent}
	if o.retries > 0 {
		logger := o.logger
		if logger == nil {
			logger = slog.Default()
		}
		rt = &retryTransport{base: rt, retries: o.retries, delay: o.retryDelay, logger: logger}
	}

	return &http.Client{Timeout: o.timeout, Transport: rt}
}

type userAgentTransport struct {
	base http.RoundTripper
	ua   string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.ua)
	}
	return t.base.RoundTrip(req)
}

type retryTransport struct {
	base    http.RoundTripper
	retries int
	delay   time.Duration
	logger  *slog.Logger
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	rewindable := req.Body == nil || req.Body == http.NoBody || req.GetBody != nil

	for attempt := 1; attempt <= t.retries && err != nil && rewindable && connectFailed(err); attempt++ {
		t.logger.Debug("provider unreachable, retrying",
			"url", req.URL.Redacted(),
			"attempt", attempt,
			"error", err,
		)

		timer := time.NewTimer(t.delay)
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}

		retry := req.Clone(req.Context())
		if req.GetBody != nil {
			body, bodyErr := req.GetBody()
			if bodyErr != nil {
				return nil, fmt.Errorf("rewind request body: %w", bodyErr)
			}
			retry.Body = body
		}
		resp, err = t.base.RoundTrip(retry)
	}
	return resp, err
}

// connectFailed reports whether err means the server never saw the
// request. A reset connection does not qualify: the provider may already
// have billed the call.
func connectFailed(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	switch errno {
	case syscall.ECONNREFUSED, syscall.EHOSTUNREACH, syscall.ENETUNREACH:
		return true
	}
	return false
}

// StatusError is a non-2xx provider response.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s API error %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s API error %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Transient reports whether the provider may succeed if asked again
// later: rate limiting, overload, or a server-side failure.
func (e *StatusError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// CheckStatus returns nil for a 2xx response. Otherwise it consumes up
// to [ErrorBodyLimit] bytes of the body into a [*StatusError] and drains
// the rest so the connection can be reused. The caller still closes the
// body.
func CheckStatus(resp *http.Response, provider string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, ErrorBodyLimit))
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	msg := strings.TrimSpace(string(body))
	if err != nil {
		msg = fmt.Sprintf("(failed to read error body: %v)", err)
	}
	return &StatusError{Provider: provider, StatusCode: resp.StatusCode, Body: msg}
}

// DrainAndClose discards up to limit bytes of rc and closes it.
func DrainAndClose(rc io.ReadCloser, limit int64) {
	if rc == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, limit))
	rc.Close()
}
