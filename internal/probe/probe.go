package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	DefaultTimeout      = 10 * time.Second
	DefaultMaxBodyBytes = 1 << 20
	DefaultUserAgent    = "site-monitor/1.0"
)

// Result is the raw observation of one probe. Err is set when the request
// could not complete; StatusCode is 0 in that case.
type Result struct {
	URL         string
	StatusCode  int
	Body        string
	Elapsed     time.Duration
	StartedAt   time.Time
	CompletedAt time.Time
	Err         error
}

// Prober performs a single probe against a URL.
type Prober interface {
	Probe(ctx context.Context, url string) Result
}

// HTTPProber probes sites with a shared http.Client. Every request runs under
// the client timeout so a hanging site cannot hold the scheduler forever.
type HTTPProber struct {
	client       *http.Client
	maxBodyBytes int64
	userAgent    string
}

// Option configures an HTTPProber.
type Option func(*HTTPProber)

// WithMaxBodyBytes caps how much of the response body is read.
func WithMaxBodyBytes(n int64) Option {
	return func(p *HTTPProber) {
		if n > 0 {
			p.maxBodyBytes = n
		}
	}
}

// WithUserAgent sets the User-Agent header sent with every probe.
func WithUserAgent(ua string) Option {
	return func(p *HTTPProber) {
		if ua != "" {
			p.userAgent = ua
		}
	}
}

// WithTransport replaces the client transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(p *HTTPProber) {
		p.client.Transport = rt
	}
}

// New creates an HTTPProber. A non-positive timeout falls back to DefaultTimeout.
func New(timeout time.Duration, opts ...Option) *HTTPProber {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	p := &HTTPProber{
		client: &http.Client{
			Timeout: timeout,
		},
		maxBodyBytes: DefaultMaxBodyBytes,
		userAgent:    DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Timeout returns the per-probe timeout.
func (p *HTTPProber) Timeout() time.Duration {
	return p.client.Timeout
}

// Probe sends a GET to url and reads the body. Elapsed covers the request and
// the body download.
func (p *HTTPProber) Probe(ctx context.Context, url string) Result {
	start := time.Now()
	result := Result{URL: url, StartedAt: start}

	finish := func() Result {
		result.CompletedAt = time.Now()
		result.Elapsed = result.CompletedAt.Sub(start)
		return result
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		result.Err = fmt.Errorf("build request: %w", err)
		return finish()
	}
	req.Header.Set("User-Agent", p.userAgent)

	res, err := p.client.Do(req)
	if err != nil {
		result.Err = err
		return finish()
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, p.maxBodyBytes))
	if err != nil {
		result.Err = fmt.Errorf("read body: %w", err)
		return finish()
	}

	result.StatusCode = res.StatusCode
	result.Body = string(body)
	return finish()
}
