package eventbus

import "context"

// Publisher sends serialized event payloads to a message broker. Each event
// kind is addressed by a fixed (exchange, routing key) pair.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, payload []byte) error
	Close() error
}
