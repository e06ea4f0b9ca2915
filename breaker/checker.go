package breaker

import (
	"context"
	"net/url"
	"time"

	"github.com/KOMKZ/yogan-mesh/httpclient"
	"github.com/KOMKZ/yogan-mesh/logger"
	"go.uber.org/zap"
)

// Decision is the answer of a breaker check, also the JSON body of the allow endpoint.
type Decision struct {
	Allowed bool   `json:"allowed"`
	State   State  `json:"state"`
	Name    string `json:"breakerName"`

	// FailOpen marks an allow that was assumed because the breaker could not be reached.
	FailOpen bool `json:"-"`
}

// Checker answers whether a call to name may proceed.
type Checker interface {
	Check(ctx context.Context, name string) Decision
}

// RemoteChecker asks a breaker service over HTTP. Any error, non-2xx answer
// or timeout resolves to allowed.
type RemoteChecker struct {
	client  *httpclient.Client
	timeout time.Duration
	logger  *logger.CtxZapLogger
}

// NewRemoteChecker targets baseURL, e.g. "http://localhost:8082". Each
// check is bounded by timeout.
func NewRemoteChecker(baseURL string, timeout time.Duration, log *logger.CtxZapLogger) *RemoteChecker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if log == nil {
		log = logger.GetLogger("breaker")
	}
	return &RemoteChecker{
		client:  httpclient.NewClient(httpclient.WithBaseURL(baseURL), httpclient.WithTimeout(timeout)),
		timeout: timeout,
		logger:  log,
	}
}

func (c *RemoteChecker) Check(ctx context.Context, name string) Decision {
	path := "/circuit-breaker/" + url.PathEscape(name) + "/allow"
	d, err := httpclient.GetJSON[Decision](ctx, c.client, path)
	if err != nil {
		c.logger.WarnCtx(ctx, "circuit breaker check failed, allowing",
			zap.String("breaker", name),
			zap.Duration("timeout", c.timeout),
			zap.Error(err))
		return Decision{Name: name, Allowed: true, State: StateClosed, FailOpen: true}
	}
	if d.Name == "" {
		d.Name = name
	}
	return *d
}

var (
	_ Checker = (*Registry)(nil)
	_ Checker = (*RemoteChecker)(nil)
)
