package registry

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/KOMKZ/yogan-mesh/event"
)

// ServiceInstance is one running backend. InstanceID identifies it for its
// whole registered lifetime.
type ServiceInstance struct {
	InstanceID     string
	ServiceName    string
	Host           string
	Port           int
	HealthCheckURL string
	Metadata       map[string]string
	LastHeartbeat  time.Time
	Load           int
}

// BaseURL is the proxy target root, e.g. http://localhost:8080.
func (i ServiceInstance) BaseURL() string {
	return "http://" + i.Host + ":" + strconv.Itoa(i.Port)
}

// Alive reports whether the instance heartbeated within ttl of now.
func (i ServiceInstance) Alive(now time.Time, ttl time.Duration) bool {
	return now.Sub(i.LastHeartbeat) < ttl
}

func (i ServiceInstance) clone() ServiceInstance {
	if i.Metadata != nil {
		md := make(map[string]string, len(i.Metadata))
		for k, v := range i.Metadata {
			md[k] = v
		}
		i.Metadata = md
	}
	return i
}

type instanceJSON struct {
	InstanceID     string            `json:"instanceId"`
	ServiceName    string            `json:"serviceName"`
	Host           string            `json:"host"`
	Port           int               `json:"port"`
	HealthCheckURL string            `json:"healthCheckUrl"`
	Metadata       map[string]string `json:"metadata"`
	LastHeartbeat  int64             `json:"lastHeartbeat"`
	Load           int               `json:"load"`
}

// MarshalJSON writes lastHeartbeat as epoch milliseconds.
func (i ServiceInstance) MarshalJSON() ([]byte, error) {
	out := instanceJSON{
		InstanceID:     i.InstanceID,
		ServiceName:    i.ServiceName,
		Host:           i.Host,
		Port:           i.Port,
		HealthCheckURL: i.HealthCheckURL,
		Metadata:       i.Metadata,
		Load:           i.Load,
	}
	if out.Metadata == nil {
		out.Metadata = map[string]string{}
	}
	if !i.LastHeartbeat.IsZero() {
		out.LastHeartbeat = i.LastHeartbeat.UnixMilli()
	}
	return json.Marshal(out)
}

func (i *ServiceInstance) UnmarshalJSON(data []byte) error {
	var in instanceJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("decode service instance: %w", err)
	}
	*i = ServiceInstance{
		InstanceID:     in.InstanceID,
		ServiceName:    in.ServiceName,
		Host:           in.Host,
		Port:           in.Port,
		HealthCheckURL: in.HealthCheckURL,
		Metadata:       in.Metadata,
		Load:           in.Load,
	}
	if in.LastHeartbeat > 0 {
		i.LastHeartbeat = time.UnixMilli(in.LastHeartbeat)
	}
	return nil
}

// FromRegistration maps a bus registration onto an instance.
func FromRegistration(ev event.RegistrationEvent) ServiceInstance {
	return ServiceInstance{
		InstanceID:     ev.InstanceID,
		ServiceName:    ev.ServiceName,
		Host:           ev.Host,
		Port:           ev.Port,
		HealthCheckURL: ev.HealthCheckURL,
		Metadata:       ev.Metadata,
		Load:           ev.Load,
	}
}
