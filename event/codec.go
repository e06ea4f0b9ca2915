package event

import (
	"encoding/json"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Validate rejects registrations that cannot be routed to.
func (e RegistrationEvent) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.InstanceID, validation.Required),
		validation.Field(&e.ServiceName, validation.Required),
		validation.Field(&e.Host, validation.Required),
		validation.Field(&e.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

func (e HeartbeatEvent) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.InstanceID, validation.Required),
	)
}

func (e UnregistrationEvent) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.InstanceID, validation.Required),
	)
}

func (e BreakerEvent) Validate() error {
	if !e.Type.Valid() {
		return fmt.Errorf("%w: breaker event %q", ErrUnknownEventType, e.Type)
	}
	return validation.ValidateStruct(&e,
		validation.Field(&e.BreakerName, validation.Required),
	)
}

func (e RateLimitRequest) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.RequestID, validation.Required),
		validation.Field(&e.ServiceName, validation.Required),
		validation.Field(&e.Limit, validation.Min(0)),
		validation.Field(&e.WindowMs, validation.Min(int64(0))),
	)
}

func (e RateLimitResult) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.RequestID, validation.Required),
	)
}

func (e GatewayEvent) Validate() error {
	if !e.Type.Valid() {
		return fmt.Errorf("%w: gateway event %q", ErrUnknownEventType, e.Type)
	}
	return nil
}

// Payload is implemented by every variant in this package.
type Payload interface {
	RegistrationEvent | HeartbeatEvent | UnregistrationEvent |
		BreakerEvent | RateLimitRequest | RateLimitResult | GatewayEvent
	Validate() error
}

// Decode unmarshals and validates one variant.
//
//	ev, err := event.Decode[event.BreakerEvent](msg.Value)
func Decode[T Payload](data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decode %T: %w", v, err)
	}
	if err := v.Validate(); err != nil {
		return v, fmt.Errorf("invalid %T: %w", v, err)
	}
	return v, nil
}

// Encode marshals a payload for the wire.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return data, nil
}
