package application

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	sharedDomain "github.com/felixgeelhaar/subflow/internal/shared/domain"
	"github.com/felixgeelhaar/subflow/internal/shared/infrastructure/eventbus"
)

// DefaultPublishTimeout bounds a single broker publish so a slow broker
// cannot stall the request path.
const DefaultPublishTimeout = 5 * time.Second

// EventPublisher pushes domain events to the message broker on a best-effort
// basis. Event delivery never gates a state change: serialization and
// transport failures are logged and swallowed, and the subscription row that
// was already saved stays the source of truth.
type EventPublisher struct {
	publisher eventbus.Publisher
	timeout   time.Duration
	logger    *slog.Logger
}

// NewEventPublisher creates an event publisher over the given transport.
func NewEventPublisher(publisher eventbus.Publisher, timeout time.Duration, logger *slog.Logger) *EventPublisher {
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EventPublisher{publisher: publisher, timeout: timeout, logger: logger}
}

// PublishAll serializes and publishes the given events in order. A payload
// that fails to serialize is skipped without touching the broker; a transport
// failure is logged and the remaining events are still attempted.
func (p *EventPublisher) PublishAll(ctx context.Context, events []sharedDomain.DomainEvent) {
	for _, event := range events {
		p.publish(ctx, event)
	}
}

func (p *EventPublisher) publish(ctx context.Context, event sharedDomain.DomainEvent) {
	body, err := json.Marshal(event.Payload())
	if err != nil {
		p.logger.Error("failed to serialize event payload",
			"event_id", event.EventID(),
			"exchange", event.Exchange(),
			"routing_key", event.RoutingKey(),
			"error", err,
		)
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.publisher.Publish(pubCtx, event.Exchange(), event.RoutingKey(), body); err != nil {
		p.logger.Error("failed to publish event",
			"event_id", event.EventID(),
			"exchange", event.Exchange(),
			"routing_key", event.RoutingKey(),
			"error", err,
		)
		return
	}

	p.logger.Debug("event published",
		"event_id", event.EventID(),
		"exchange", event.Exchange(),
		"routing_key", event.RoutingKey(),
	)
}
