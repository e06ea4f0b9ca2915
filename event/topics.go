package event

// Topics carried by the mesh bus.
const (
	TopicServiceRegistration   = "service-registration-events"
	TopicServiceHeartbeat      = "service-heartbeat-events"
	TopicServiceUnregistration = "service-unregistration-events"
	TopicCircuitBreaker        = "circuit-breaker-events"
	TopicRateLimitRequests     = "rate-limit-requests"
	TopicRateLimitResults      = "rate-limit-results"
	TopicGateway               = "api-gateway-events"
)

// AllTopics lists every topic, in the order they are created on a fresh broker.
func AllTopics() []string {
	return []string{
		TopicServiceRegistration,
		TopicServiceHeartbeat,
		TopicServiceUnregistration,
		TopicCircuitBreaker,
		TopicRateLimitRequests,
		TopicRateLimitResults,
		TopicGateway,
	}
}
