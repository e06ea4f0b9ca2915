package httpclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Request describes one outbound call. Headers keep every value of a
// multi-valued header.
type Request struct {
	Method  string
	URL     string
	Headers http.Header
	Query   url.Values

	body []byte
}

func NewRequest(method, urlStr string) *Request {
	return &Request{
		Method:  method,
		URL:     urlStr,
		Headers: make(http.Header),
		Query:   make(url.Values),
	}
}

func NewGetRequest(urlStr string) *Request {
	return NewRequest(http.MethodGet, urlStr)
}

func NewPostRequest(urlStr string) *Request {
	return NewRequest(http.MethodPost, urlStr)
}

func NewPutRequest(urlStr string) *Request {
	return NewRequest(http.MethodPut, urlStr)
}

func NewDeleteRequest(urlStr string) *Request {
	return NewRequest(http.MethodDelete, urlStr)
}

func (r *Request) WithHeader(key, value string) *Request {
	r.Headers.Set(key, value)
	return r
}

// AddHeader appends value to key.
func (r *Request) AddHeader(key, value string) *Request {
	r.Headers.Add(key, value)
	return r
}

func (r *Request) WithQuery(key, value string) *Request {
	r.Query.Set(key, value)
	return r
}

// WithBody sets the raw body bytes, sent verbatim.
func (r *Request) WithBody(body []byte) *Request {
	r.body = body
	return r
}

// WithBodyReader drains body into the request.
func (r *Request) WithBodyReader(body io.Reader) (*Request, error) {
	if body == nil {
		return r, nil
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return r, fmt.Errorf("read request body failed: %w", err)
	}
	r.body = data
	return r, nil
}

func (r *Request) WithJSON(data any) (*Request, error) {
	if data == nil {
		return r, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return r, fmt.Errorf("marshal request data failed: %w", err)
	}
	r.body = b
	r.Headers.Set("Content-Type", "application/json")
	return r, nil
}

func (r *Request) build(fullURL string) (*http.Request, error) {
	if len(r.Query) > 0 {
		if strings.Contains(fullURL, "?") {
			fullURL += "&" + r.Query.Encode()
		} else {
			fullURL += "?" + r.Query.Encode()
		}
	}

	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequest(r.Method, fullURL, body)
	if err != nil {
		return nil, err
	}
	req.Header = r.Headers.Clone()
	return req, nil
}
