package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent string
	// Timeout bounds each request. Zero leaves the http.Client default (none).
	Timeout      time.Duration
	RateLimiters map[string]*rate.Limiter
	// Transport overrides the default transport; used by tests.
	Transport http.RoundTripper
}

// Response is a fully-read HTTP response.
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports whether the response carries status 200.
func (r *Response) OK() bool {
	return r.StatusCode == http.StatusOK
}

// HTTPFetcher issues single-attempt JSON requests with per-host rate limiting.
// Failed requests are returned to the caller as-is; nothing is retried.
type HTTPFetcher struct {
	client   *http.Client
	opts     HTTPOptions
	limiters map[string]*rate.Limiter
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.UserAgent == "" {
		opts.UserAgent = "stageload/1.0"
	}
	limiters := make(map[string]*rate.Limiter, len(opts.RateLimiters))
	for k, v := range opts.RateLimiters {
		limiters[k] = v
	}
	transport := opts.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		}
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:     opts,
		limiters: limiters,
	}
}

func (f *HTTPFetcher) wait(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return eris.Wrapf(err, "parse url %s", rawURL)
	}
	lim, ok := f.limiters[u.Host]
	if !ok {
		return nil
	}
	if err := lim.Wait(ctx); err != nil {
		return eris.Wrap(err, "rate limiter wait")
	}
	return nil
}

// PostJSON sends body encoded as JSON and returns the full response.
func (f *HTTPFetcher) PostJSON(ctx context.Context, rawURL string, body any, headers map[string]string) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, eris.Wrap(err, "http: marshal request body")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "http: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	return f.do(ctx, req, headers)
}

// GetJSON issues a GET with the given headers and returns the full response.
func (f *HTTPFetcher) GetJSON(ctx context.Context, rawURL string, headers map[string]string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "http: create request")
	}
	return f.do(ctx, req, headers)
}

func (f *HTTPFetcher) do(ctx context.Context, req *http.Request, headers map[string]string) (*Response, error) {
	if err := f.wait(ctx, req.URL.String()); err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "http: %s %s", req.Method, req.URL.Redacted())
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrapf(err, "http: read body from %s", req.URL.Redacted())
	}

	zap.L().Debug("http request",
		zap.String("method", req.Method),
		zap.String("url", req.URL.Redacted()),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	return &Response{StatusCode: resp.StatusCode, Body: body}, nil
}
