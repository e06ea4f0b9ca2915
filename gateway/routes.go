package gateway

import (
	"fmt"
	"regexp"
	"strings"
)

var skipPrefixes = []string{"/actuator", "/health", "/favicon.ico", "/static/", "/css/", "/js/"}

// ShouldSkip reports paths the gateway never routes: the root, health and
// static assets.
func ShouldSkip(path string) bool {
	if path == "/" {
		return true
	}
	for _, p := range skipPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// Route is one compiled entry of the route table.
type Route struct {
	Pattern      string
	Service      string
	TargetPrefix string

	re    *regexp.Regexp
	strip string
}

// Rewrite maps an inbound path onto the backend path: the first occurrence
// of the pattern's literal part is replaced by TargetPrefix.
func (r *Route) Rewrite(path string) string {
	rest := strings.Replace(path, r.strip, "", 1)
	return r.TargetPrefix + strings.TrimPrefix(rest, "/")
}

// RouteTable matches paths in declaration order.
type RouteTable struct {
	routes []*Route
}

// NewRouteTable compiles cfgs. Patterns must match the whole path.
func NewRouteTable(cfgs []RouteConfig) (*RouteTable, error) {
	t := &RouteTable{routes: make([]*Route, 0, len(cfgs))}
	for _, rc := range cfgs {
		if err := rc.Validate(); err != nil {
			return nil, fmt.Errorf("route %q: %w", rc.Pattern, err)
		}
		re, err := regexp.Compile("^(?:" + rc.Pattern + ")$")
		if err != nil {
			return nil, fmt.Errorf("compile route %q: %w", rc.Pattern, err)
		}
		prefix := rc.TargetPrefix
		if prefix == "" {
			prefix = "/"
		}
		if !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		if !strings.HasPrefix(prefix, "/") {
			prefix = "/" + prefix
		}
		t.routes = append(t.routes, &Route{
			Pattern:      rc.Pattern,
			Service:      rc.Service,
			TargetPrefix: prefix,
			re:           re,
			strip:        strings.ReplaceAll(rc.Pattern, ".*", ""),
		})
	}
	return t, nil
}

// Match returns the first route whose pattern matches path.
func (t *RouteTable) Match(path string) (*Route, bool) {
	for _, r := range t.routes {
		if r.re.MatchString(path) {
			return r, true
		}
	}
	return nil, false
}

// Routes returns the table in match order.
func (t *RouteTable) Routes() []Route {
	out := make([]Route, len(t.routes))
	for i, r := range t.routes {
		out[i] = *r
	}
	return out
}
