package event

import "errors"

// ErrUnknownEventType is returned when a payload names a type outside its topic's variant set.
var ErrUnknownEventType = errors.New("unknown event type")

// ErrBusClosed is returned by Publish and Subscribe after Close.
var ErrBusClosed = errors.New("event bus closed")

// ErrTopicRequired is returned when a publish or subscribe names no topic.
var ErrTopicRequired = errors.New("topic is required")
