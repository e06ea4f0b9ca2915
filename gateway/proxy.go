package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/KOMKZ/yogan-mesh/httpclient"
	"github.com/KOMKZ/yogan-mesh/registry"
)

var hopByHop = map[string]struct{}{
	"host":              {},
	"content-length":    {},
	"transfer-encoding": {},
	"connection":        {},
}

func isHopByHop(name string) bool {
	_, ok := hopByHop[strings.ToLower(name)]
	return ok
}

// copyHeaders copies src into dst without the hop-by-hop headers.
func copyHeaders(dst, src http.Header) {
	for name, values := range src {
		if isHopByHop(name) {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

func carriesBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

// TargetURL is the backend URL of path on inst under route.
func TargetURL(inst registry.ServiceInstance, route *Route, path, rawQuery string) string {
	target := inst.BaseURL() + route.Rewrite(path)
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	return target
}

// Proxy forwards one request to a backend and reads the whole answer.
// It never retries.
type Proxy struct {
	client *httpclient.Client
}

func NewProxy(timeout time.Duration, opts ...httpclient.Option) *Proxy {
	opts = append([]httpclient.Option{httpclient.WithTimeout(timeout)}, opts...)
	return &Proxy{client: httpclient.NewClient(opts...)}
}

// Forward sends r to target. Any answer from the backend, 5xx included,
// comes back as a response; only transport failures are errors.
func (p *Proxy) Forward(ctx context.Context, r *http.Request, target string) (*httpclient.Response, error) {
	req := httpclient.NewRequest(r.Method, target)
	copyHeaders(req.Headers, r.Header)
	if carriesBody(r.Method) && r.Body != nil {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, fmt.Errorf("read inbound body: %w", err)
		}
		req.WithBody(body)
	}
	return p.client.Do(ctx, req)
}

// WriteResponse copies resp onto w without the hop-by-hop headers.
func WriteResponse(w http.ResponseWriter, resp *httpclient.Response) {
	copyHeaders(w.Header(), resp.Headers)
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}
