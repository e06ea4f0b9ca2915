package application

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownRole is returned for a role name outside the known set.
var ErrUnknownRole = errors.New("unknown role")

// Role selects which mesh components a process runs.
type Role string

const (
	RoleGateway   Role = "gateway"
	RoleDiscovery Role = "discovery"
	RoleBreaker   Role = "breaker"
	RoleRateLimit Role = "ratelimit"
	// RoleAll runs every component in one process on the in-memory bus.
	RoleAll Role = "all"
)

func Roles() []Role {
	return []Role{RoleGateway, RoleDiscovery, RoleBreaker, RoleRateLimit, RoleAll}
}

func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
	return r, nil
}

func (r Role) Valid() bool {
	switch r {
	case RoleGateway, RoleDiscovery, RoleBreaker, RoleRateLimit, RoleAll:
		return true
	}
	return false
}

// Runs reports whether r includes the component role c.
func (r Role) Runs(c Role) bool {
	return r == RoleAll || r == c
}

// DefaultPort is the port a role listens on when none is configured. The
// service roles match the gateway's default static address book.
func (r Role) DefaultPort() int {
	switch r {
	case RoleDiscovery:
		return 8084
	case RoleBreaker:
		return 8082
	case RoleRateLimit:
		return 8085
	default:
		return 8000
	}
}

// ServiceName is the name the role registers under and consumes with.
func (r Role) ServiceName() string {
	switch r {
	case RoleGateway:
		return "api-gateway"
	case RoleDiscovery:
		return "service-discovery"
	case RoleBreaker:
		return "circuit-breaker-service"
	case RoleRateLimit:
		return "rate-limiter-service"
	default:
		return "yogan-mesh"
	}
}
