package events

import "time"

// DomainEvent encapsulates all event data flowing through the system, providing
// a standardized format for event processing and distribution.
type DomainEvent struct {
	// Type identifies the category of this event for routing and handling.
	Type EventType

	// Key enables consistent event routing, typically the job ID so every
	// lifecycle event of one job lands on the same partition.
	Key string

	// Headers contain metadata key-value pairs attached to the event.
	Headers map[string]string

	// Timestamp records when this event was created.
	Timestamp time.Time

	// Payload contains the actual event data. The concrete type depends on
	// the EventType.
	Payload any
}

// EventPayload is implemented by every payload that can travel in a
// DomainEvent.
type EventPayload interface {
	EventType() EventType
	OccurredAt() time.Time
}

// NewDomainEvent wraps a payload into a DomainEvent stamped with the payload's
// own occurrence time.
func NewDomainEvent(payload EventPayload, opts ...PublishOption) DomainEvent {
	params := ApplyOptions(opts...)
	return DomainEvent{
		Type:      payload.EventType(),
		Key:       params.Key,
		Headers:   params.Headers,
		Timestamp: payload.OccurredAt(),
		Payload:   payload,
	}
}
