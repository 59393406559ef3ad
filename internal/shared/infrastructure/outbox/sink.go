package outbox

import (
	"context"
	"log/slog"

	"github.com/felixgeelhaar/subflow/internal/shared/domain"
)

// Sink stages domain events in the outbox instead of publishing them
// directly. The processor delivers them to the broker asynchronously.
// Staging failures are logged and never surfaced to the caller.
type Sink struct {
	repo   Repository
	logger *slog.Logger
}

// NewSink creates an outbox-backed event sink.
func NewSink(repo Repository, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{repo: repo, logger: logger}
}

// PublishAll converts the events to outbox messages and stores them in one
// batch. Events whose payload cannot be serialized are skipped.
func (s *Sink) PublishAll(ctx context.Context, events []domain.DomainEvent) {
	if len(events) == 0 {
		return
	}

	messages := make([]*Message, 0, len(events))
	for _, event := range events {
		msg, err := NewMessage(event)
		if err != nil {
			s.logger.Error("failed to serialize event for outbox",
				"event_id", event.EventID(),
				"routing_key", event.RoutingKey(),
				"error", err,
			)
			continue
		}
		messages = append(messages, msg)
	}
	if len(messages) == 0 {
		return
	}

	if err := s.repo.SaveBatch(ctx, messages); err != nil {
		s.logger.Error("failed to stage events in outbox",
			"count", len(messages),
			"error", err,
		)
	}
}
