package outbox

import (
	"encoding/json"
	"time"

	"github.com/felixgeelhaar/subflow/internal/shared/domain"
	"github.com/google/uuid"
)

// Message is an event staged for publishing. The payload is the exact JSON
// body the broker will receive; exchange and routing key are carried
// alongside so the processor needs no knowledge of event kinds.
type Message struct {
	ID               int64
	EventID          uuid.UUID
	AggregateID      uuid.UUID
	Exchange         string
	RoutingKey       string
	Payload          json.RawMessage
	CreatedAt        time.Time
	PublishedAt      *time.Time
	NextRetryAt      *time.Time
	RetryCount       int
	LastError        *string
	DeadLetteredAt   *time.Time
	DeadLetterReason *string
}

// NewMessage creates an outbox message from a domain event.
func NewMessage(event domain.DomainEvent) (*Message, error) {
	payload, err := json.Marshal(event.Payload())
	if err != nil {
		return nil, err
	}

	return &Message{
		EventID:     event.EventID(),
		AggregateID: event.AggregateID(),
		Exchange:    event.Exchange(),
		RoutingKey:  event.RoutingKey(),
		Payload:     payload,
		CreatedAt:   event.OccurredAt(),
	}, nil
}

// IsPublished returns true if the message has been published.
func (m *Message) IsPublished() bool {
	return m.PublishedAt != nil
}

// CanRetry returns true if the message can be retried.
func (m *Message) CanRetry(maxRetries int) bool {
	return m.RetryCount < maxRetries
}
