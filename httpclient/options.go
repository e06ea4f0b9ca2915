package httpclient

import (
	"net/http"
	"time"
)

type config struct {
	baseURL   string
	timeout   time.Duration
	transport *http.Transport
	headers   map[string]string

	beforeRequest func(*http.Request) error
}

// Option configures a Client or a single call.
type Option func(*config)

// WithBaseURL prefixes relative request URLs.
func WithBaseURL(baseURL string) Option {
	return func(c *config) {
		c.baseURL = baseURL
	}
}

// WithTimeout bounds one call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithHeader sets a header unless the request already carries it.
func WithHeader(key, value string) Option {
	return func(c *config) {
		if c.headers == nil {
			c.headers = make(map[string]string)
		}
		c.headers[key] = value
	}
}

func WithTransport(transport *http.Transport) Option {
	return func(c *config) {
		c.transport = transport
	}
}

// WithBeforeRequest runs fn on the outgoing request, e.g. to propagate a trace id.
func WithBeforeRequest(fn func(*http.Request) error) Option {
	return func(c *config) {
		c.beforeRequest = fn
	}
}

func newConfig() *config {
	return &config{
		timeout: 30 * time.Second,
		headers: make(map[string]string),
	}
}

func applyOptions(cfg *config, opts []Option) {
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
}

// merge lets call options override client options.
func (c *config) merge(other *config) *config {
	merged := &config{
		baseURL:       c.baseURL,
		timeout:       c.timeout,
		transport:     c.transport,
		headers:       make(map[string]string, len(c.headers)+len(other.headers)),
		beforeRequest: c.beforeRequest,
	}
	for k, v := range c.headers {
		merged.headers[k] = v
	}
	for k, v := range other.headers {
		merged.headers[k] = v
	}
	if other.baseURL != "" {
		merged.baseURL = other.baseURL
	}
	if other.timeout > 0 {
		merged.timeout = other.timeout
	}
	if other.beforeRequest != nil {
		merged.beforeRequest = other.beforeRequest
	}
	return merged
}
