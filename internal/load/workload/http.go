package workload

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/wesleyorama2/stampede/internal/load/config"
	"github.com/wesleyorama2/stampede/internal/load/metrics"
)

// HTTPClientConfig contains HTTP client configuration.
type HTTPClientConfig struct {
	// Timeout for HTTP requests
	Timeout time.Duration

	// MaxIdleConns controls the maximum number of idle connections
	MaxIdleConns int

	// MaxIdleConnsPerHost controls the maximum idle connections per host
	MaxIdleConnsPerHost int

	// MaxConnsPerHost limits the total connections per host
	MaxConnsPerHost int

	// IdleConnTimeout is how long idle connections are kept alive
	IdleConnTimeout time.Duration

	// DisableKeepAlives disables HTTP keep-alives
	DisableKeepAlives bool

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool
}

// DefaultHTTPClientConfig returns sensible defaults for load testing.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		Timeout:             config.DefaultHTTPTimeout,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     0, // Unlimited
		IdleConnTimeout:     90 * time.Second,
	}
}

// HTTPClientConfigFrom builds client configuration from file settings.
func HTTPClientConfigFrom(s config.HTTPSettings) HTTPClientConfig {
	c := DefaultHTTPClientConfig()
	c.Timeout = s.Timeout.GetDuration(c.Timeout)
	if s.MaxIdleConnsPerHost > 0 {
		c.MaxIdleConnsPerHost = s.MaxIdleConnsPerHost
	}
	c.MaxConnsPerHost = s.MaxConnectionsPerHost
	c.DisableKeepAlives = s.DisableKeepAlives
	c.InsecureSkipVerify = s.InsecureSkipVerify
	return c
}

// NewHTTPClient creates an HTTP client shared by every VU so connections
// are pooled across the run.
func NewHTTPClient(c HTTPClientConfig) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        c.MaxIdleConns,
		MaxIdleConnsPerHost: c.MaxIdleConnsPerHost,
		MaxConnsPerHost:     c.MaxConnsPerHost,
		IdleConnTimeout:     c.IdleConnTimeout,
		DisableKeepAlives:   c.DisableKeepAlives,
	}
	if c.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in
	}

	return &http.Client{
		Transport: transport,
		Timeout:   c.Timeout,
	}
}

// HTTP is a workload that issues one HTTP request per iteration.
//
// URL, headers and body may reference {{__VU}} and {{__ITER}}, which are
// replaced with the calling VU's ID and iteration number.
type HTTP struct {
	name     string
	method   string
	url      string
	headers  map[string]string
	body     string
	expected map[int]bool
	checks   []Check
	client   *http.Client
}

// NewHTTP builds an HTTP workload from configuration.
func NewHTTP(wc config.WorkloadConfig, settings config.HTTPSettings) (*HTTP, error) {
	return NewHTTPWithClient(wc, settings, NewHTTPClient(HTTPClientConfigFrom(settings)))
}

// NewHTTPWithClient builds an HTTP workload that uses the given client.
func NewHTTPWithClient(wc config.WorkloadConfig, settings config.HTTPSettings, client *http.Client) (*HTTP, error) {
	if wc.URL == "" {
		return nil, fmt.Errorf("workload URL is required")
	}

	checks, err := BuildChecks(wc.Checks)
	if err != nil {
		return nil, fmt.Errorf("failed to build checks: %w", err)
	}

	method := strings.ToUpper(wc.Method)
	if method == "" {
		method = http.MethodGet
	}

	headers := make(map[string]string, len(settings.Headers)+len(wc.Headers)+1)
	if settings.UserAgent != "" {
		headers["User-Agent"] = settings.UserAgent
	}
	for k, v := range settings.Headers {
		headers[k] = v
	}
	for k, v := range wc.Headers {
		headers[k] = v
	}

	var expected map[int]bool
	if len(wc.ExpectedStatuses) > 0 {
		expected = make(map[int]bool, len(wc.ExpectedStatuses))
		for _, s := range wc.ExpectedStatuses {
			expected[s] = true
		}
	}

	name := wc.Name
	if name == "" {
		name = method + " " + wc.URL
	}

	return &HTTP{
		name:     name,
		method:   method,
		url:      wc.URL,
		headers:  headers,
		body:     wc.Body,
		expected: expected,
		checks:   checks,
		client:   client,
	}, nil
}

// Name returns the workload name.
func (h *HTTP) Name() string {
	return h.name
}

// Checks implements Workload.
func (h *HTTP) Checks() []Check {
	return h.checks
}

// Execute implements Workload.
func (h *HTTP) Execute(ctx context.Context) (*Response, error) {
	replacer := h.replacer(ctx)

	var body io.Reader
	if h.body != "" {
		body = strings.NewReader(replacer.Replace(h.body))
	}

	req, err := http.NewRequestWithContext(ctx, h.method, replacer.Replace(h.url), body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, v := range h.headers {
		req.Header.Set(k, replacer.Replace(v))
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	n, err := io.Copy(&buf, resp.Body)
	latency := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	out := &Response{
		Status:  resp.StatusCode,
		Headers: resp.Header,
		Body:    buf.Bytes(),
		Latency: latency,
		Bytes:   n,
	}
	if !h.statusOK(resp.StatusCode) {
		out.Failed = true
		out.Reason = metrics.ReasonStatus
	}
	return out, nil
}

func (h *HTTP) statusOK(status int) bool {
	if h.expected != nil {
		return h.expected[status]
	}
	return status < 400
}

func (h *HTTP) replacer(ctx context.Context) *strings.Replacer {
	info, ok := VUFromContext(ctx)
	if !ok {
		return strings.NewReplacer()
	}
	return strings.NewReplacer(
		"{{__VU}}", strconv.Itoa(info.ID),
		"{{__ITER}}", strconv.FormatInt(info.Iteration, 10),
	)
}
