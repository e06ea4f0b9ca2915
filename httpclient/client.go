package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client is a thin JSON-friendly wrapper over http.Client. It never retries;
// callers that need a fallback decide it from the returned error.
type Client struct {
	httpClient *http.Client
	config     *config
}

func NewClient(opts ...Option) *Client {
	cfg := newConfig()
	applyOptions(cfg, opts)

	if cfg.transport == nil {
		cfg.transport = http.DefaultTransport.(*http.Transport).Clone()
	}

	return &Client{
		httpClient: &http.Client{
			Transport: cfg.transport,
			// redirects are returned to the caller unchanged
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		config: cfg,
	}
}

// Do sends req. The per-call timeout bounds the whole exchange including the
// body read.
func (c *Client) Do(ctx context.Context, req *Request, opts ...Option) (*Response, error) {
	reqCfg := newConfig()
	reqCfg.timeout = 0
	applyOptions(reqCfg, opts)
	cfg := c.config.merge(reqCfg)

	if ctx == nil {
		ctx = context.Background()
	}

	fullURL := req.URL
	if cfg.baseURL != "" && !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
		fullURL = strings.TrimRight(cfg.baseURL, "/") + "/" + strings.TrimLeft(req.URL, "/")
	}

	for k, v := range cfg.headers {
		if req.Headers.Get(k) == "" {
			req.Headers.Set(k, v)
		}
	}

	httpReq, err := req.build(fullURL)
	if err != nil {
		return nil, fmt.Errorf("build http request failed: %w", err)
	}

	if cfg.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}
	httpReq = httpReq.WithContext(ctx)

	if cfg.beforeRequest != nil {
		if err := cfg.beforeRequest(httpReq); err != nil {
			return nil, fmt.Errorf("before request hook failed: %w", err)
		}
	}

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer httpResp.Body.Close()

	resp, err := newResponse(httpResp, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("read response failed: %w", err)
	}
	return resp, nil
}

func (c *Client) Get(ctx context.Context, url string, opts ...Option) (*Response, error) {
	return c.Do(ctx, NewGetRequest(url), opts...)
}

// PostJSON marshals data as the request body.
func (c *Client) PostJSON(ctx context.Context, url string, data any, opts ...Option) (*Response, error) {
	req, err := NewPostRequest(url).WithJSON(data)
	if err != nil {
		return nil, err
	}
	return c.Do(ctx, req, opts...)
}

// GetJSON fetches url and decodes a 2xx body into T.
func GetJSON[T any](ctx context.Context, client *Client, url string, opts ...Option) (*T, error) {
	resp, err := client.Get(ctx, url, opts...)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	var result T
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return nil, fmt.Errorf("unmarshal response failed: %w", err)
	}
	return &result, nil
}

// StatusError reports a non-2xx response from a JSON helper.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
}
