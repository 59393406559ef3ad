package domain

import (
	"time"

	"github.com/google/uuid"
)

// DomainEvent represents something that happened in the domain. Events carry
// a flat payload and are addressed by a fixed (exchange, routing key) pair.
type DomainEvent interface {
	EventID() uuid.UUID
	AggregateID() uuid.UUID
	Exchange() string
	RoutingKey() string
	OccurredAt() time.Time

	// Payload returns the flat key/value envelope published for this event.
	Payload() map[string]any
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	eventID     uuid.UUID
	aggregateID uuid.UUID
	exchange    string
	routingKey  string
	occurredAt  time.Time
}

// NewBaseEvent creates a new base event addressed to the given exchange and
// routing key.
func NewBaseEvent(aggregateID uuid.UUID, exchange, routingKey string) BaseEvent {
	return BaseEvent{
		eventID:     uuid.New(),
		aggregateID: aggregateID,
		exchange:    exchange,
		routingKey:  routingKey,
		occurredAt:  time.Now().UTC(),
	}
}

func (e BaseEvent) EventID() uuid.UUID     { return e.eventID }
func (e BaseEvent) AggregateID() uuid.UUID { return e.aggregateID }
func (e BaseEvent) Exchange() string       { return e.exchange }
func (e BaseEvent) RoutingKey() string     { return e.routingKey }
func (e BaseEvent) OccurredAt() time.Time  { return e.occurredAt }

// Timestamp returns the event time formatted for payloads.
func (e BaseEvent) Timestamp() string {
	return e.occurredAt.Format(time.RFC3339)
}
