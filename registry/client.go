package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/KOMKZ/yogan-mesh/httpclient"
)

// Discovery resolves a service name to one instance.
type Discovery interface {
	Lookup(ctx context.Context, service string) (ServiceInstance, error)
}

// Client is a Discovery backed by a remote discovery service.
type Client struct {
	client *httpclient.Client
}

// NewClient targets baseURL, e.g. "http://localhost:8084".
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Client{
		client: httpclient.NewClient(httpclient.WithBaseURL(baseURL), httpclient.WithTimeout(timeout)),
	}
}

// Lookup returns ErrServiceNotFound when the discovery service answers 404.
func (c *Client) Lookup(ctx context.Context, service string) (ServiceInstance, error) {
	inst, err := httpclient.GetJSON[ServiceInstance](ctx, c.client, "/discovery/service/"+url.PathEscape(service))
	if err != nil {
		var se *httpclient.StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return ServiceInstance{}, fmt.Errorf("%w: %s", ErrServiceNotFound, service)
		}
		return ServiceInstance{}, fmt.Errorf("lookup %s: %w", service, err)
	}
	return *inst, nil
}

var (
	_ Discovery = (*Registry)(nil)
	_ Discovery = (*Client)(nil)
)
