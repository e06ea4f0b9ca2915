package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// RegistrationEvent announces a backend instance on TopicServiceRegistration.
type RegistrationEvent struct {
	InstanceID     string            `json:"instanceId"`
	ServiceName    string            `json:"serviceName"`
	Host           string            `json:"host"`
	Port           int               `json:"port"`
	HealthCheckURL string            `json:"healthCheckUrl,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Load           int               `json:"load"`
	Timestamp      int64             `json:"timestamp"`
}

// HeartbeatEvent refreshes an instance on TopicServiceHeartbeat.
// Load is applied only when present.
type HeartbeatEvent struct {
	InstanceID  string `json:"instanceId"`
	ServiceName string `json:"serviceName"`
	Load        *int   `json:"load,omitempty"`
	Timestamp   int64  `json:"timestamp"`
}

// UnregistrationEvent withdraws an instance on TopicServiceUnregistration.
type UnregistrationEvent struct {
	InstanceID  string `json:"instanceId"`
	ServiceName string `json:"serviceName"`
	Reason      string `json:"reason,omitempty"`
	Timestamp   int64  `json:"timestamp"`
}

// BreakerEventType enumerates the variants carried on TopicCircuitBreaker.
type BreakerEventType string

const (
	BreakerSuccessRecorded BreakerEventType = "SUCCESS_RECORDED"
	BreakerFailureRecorded BreakerEventType = "FAILURE_RECORDED"
	BreakerCheckRequest    BreakerEventType = "CHECK_REQUEST"
	BreakerRequestBlocked  BreakerEventType = "REQUEST_BLOCKED"
)

func (t BreakerEventType) Valid() bool {
	switch t {
	case BreakerSuccessRecorded, BreakerFailureRecorded, BreakerCheckRequest, BreakerRequestBlocked:
		return true
	}
	return false
}

func (t *BreakerEventType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v := BreakerEventType(s)
	if !v.Valid() {
		return fmt.Errorf("%w: breaker event %q", ErrUnknownEventType, s)
	}
	*t = v
	return nil
}

// BreakerEvent is one breaker observation or command.
type BreakerEvent struct {
	BreakerName string           `json:"breakerName"`
	ServiceName string           `json:"serviceName"`
	Type        BreakerEventType `json:"eventType"`
	Path        string           `json:"path,omitempty"`
	Method      string           `json:"method,omitempty"`
	Timestamp   int64            `json:"timestamp"`
}

// RateLimitRequest asks the coordinator to count one request.
type RateLimitRequest struct {
	RequestID   string `json:"requestId"`
	ClientID    string `json:"clientId"`
	ServiceName string `json:"serviceName"`
	Endpoint    string `json:"endpoint"`
	Limit       int    `json:"limit"`
	WindowMs    int64  `json:"windowMs"`
	Timestamp   int64  `json:"timestamp"`
}

// RateLimitResult answers a RateLimitRequest with the same RequestID.
type RateLimitResult struct {
	RequestID         string `json:"requestId"`
	ClientID          string `json:"clientId,omitempty"`
	ServiceName       string `json:"serviceName,omitempty"`
	Endpoint          string `json:"endpoint,omitempty"`
	Allowed           bool   `json:"allowed"`
	RemainingRequests int    `json:"remainingRequests"`
	Limit             int    `json:"limit"`
	ResetTime         int64  `json:"resetTime"`
	Timestamp         int64  `json:"timestamp"`
}

// GatewayEventType enumerates the variants carried on TopicGateway.
type GatewayEventType string

const (
	GatewayRequestStarted    GatewayEventType = "REQUEST_STARTED"
	GatewayRequestSuccess    GatewayEventType = "REQUEST_SUCCESS"
	GatewayRequestFailed     GatewayEventType = "REQUEST_FAILED"
	GatewayRateLimitExceeded GatewayEventType = "RATE_LIMIT_EXCEEDED"
	GatewayRequestBlocked    GatewayEventType = "REQUEST_BLOCKED"
)

func (t GatewayEventType) Valid() bool {
	switch t {
	case GatewayRequestStarted, GatewayRequestSuccess, GatewayRequestFailed,
		GatewayRateLimitExceeded, GatewayRequestBlocked:
		return true
	}
	return false
}

func (t *GatewayEventType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v := GatewayEventType(s)
	if !v.Valid() {
		return fmt.Errorf("%w: gateway event %q", ErrUnknownEventType, s)
	}
	*t = v
	return nil
}

// GatewayEvent is one entry of the gateway observability stream.
type GatewayEvent struct {
	ServiceName string           `json:"serviceName"`
	Type        GatewayEventType `json:"eventType"`
	Path        string           `json:"path"`
	Method      string           `json:"method"`
	ClientID    string           `json:"clientId,omitempty"`
	Reason      string           `json:"reason,omitempty"`
	Timestamp   int64            `json:"timestamp"`
}

// Now returns the current time in epoch milliseconds, the unit of every Timestamp field.
func Now() int64 {
	return time.Now().UnixMilli()
}
