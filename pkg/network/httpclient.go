package network

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultTimeout = 2 * time.Second

type clientConfig struct {
	timeout   time.Duration
	userAgent string
}

// ClientOption configures a Client
type ClientOption func(*clientConfig)

// WithTimeout sets the request timeout
func WithTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.timeout = d
	}
}

// WithUserAgent sets the User-Agent header sent with every request
func WithUserAgent(ua string) ClientOption {
	return func(c *clientConfig) {
		c.userAgent = ua
	}
}

// Client is an HTTP client bound to a single unix socket.
// It is immutable after creation and safe for concurrent use.
type Client struct {
	httpClient *http.Client
	userAgent  string
}

// NewUnixClient creates a new HTTP client for Unix socket communication.
func NewUnixClient(socketPath string, opts ...ClientOption) *Client {
	cfg := &clientConfig{timeout: defaultTimeout}
	for _, opt := range opts {
		opt(cfg)
	}

	dialFunc := func(ctx context.Context, _, _ string) (net.Conn, error) {
		dialer := &net.Dialer{Timeout: cfg.timeout}
		return dialer.DialContext(ctx, "unix", socketPath)
	}

	return &Client{
		userAgent: cfg.userAgent,
		httpClient: &http.Client{
			Timeout: cfg.timeout,
			Transport: &http.Transport{
				DialContext:           dialFunc,
				DisableKeepAlives:     true,
				MaxIdleConnsPerHost:   1,
				ResponseHeaderTimeout: cfg.timeout,
			},
		},
	}
}

// Close closes idle connections
func (c *Client) Close() error {
	if transport, ok := c.httpClient.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
	return nil
}

// Request represents an HTTP request being built.
type Request struct {
	client *Client
	method string
	path   string
	query  url.Values
	body   io.Reader
}

// Get creates a GET request builder
func (c *Client) Get(p string) *Request {
	return &Request{client: c, method: http.MethodGet, path: p, query: make(url.Values)}
}

// Post creates a POST request builder
func (c *Client) Post(p string) *Request {
	return &Request{client: c, method: http.MethodPost, path: p, query: make(url.Values)}
}

// Query adds a query parameter to the request
func (r *Request) Query(key, value string) *Request {
	r.query.Set(key, value)
	return r
}

// Body sets the request body
func (r *Request) Body(body io.Reader) *Request {
	r.body = body
	return r
}

// Do executes the request and returns the response
func (r *Request) Do(ctx context.Context) (*http.Response, error) {
	reqURL := "http://unix" + path.Clean(path.Join("/", r.path))

	req, err := http.NewRequestWithContext(ctx, r.method, reqURL, r.body)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", r.method, err)
	}
	if len(r.query) > 0 {
		req.URL.RawQuery = r.query.Encode()
	}
	if r.client.userAgent != "" {
		req.Header.Set("User-Agent", r.client.userAgent)
	}

	logrus.Debugf("http request: %s %s", req.Method, req.URL.Path)

	resp, err := r.client.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP %s request failed: %w", r.method, err)
	}

	return resp, nil
}

// CloseResponse safely closes HTTP response body
func CloseResponse(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		if err := resp.Body.Close(); err != nil {
			logrus.Debugf("failed to close response body: %v", err)
		}
	}
}
