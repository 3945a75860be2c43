// Package transport provides topic-addressed pub/sub with per-topic FIFO
// delivery, blocking receive and explicit acknowledgement.
package transport

import (
	"context"
	"time"

	"github.com/paigeant/paigeant/common/contracts"
)

// Delivery is one received envelope together with its raw wire form.
// The raw form is what ack, nack and requeue operate on.
type Delivery struct {
	Topic   string
	Raw     []byte
	Message *contracts.Message
}

// Transport moves envelopes between workers. Delivery is at-least-once:
// within a topic order is FIFO, across topics there is no ordering.
type Transport interface {
	// Connect opens the connection to the broker.
	Connect(ctx context.Context) error

	// Publish appends the envelope to the topic's queue.
	Publish(ctx context.Context, topic string, msg *contracts.Message) error

	// Subscribe yields deliveries for a topic until ctx is cancelled or
	// lifespan elapses (lifespan <= 0 means no bound). The returned channel
	// is closed when the subscription ends; an in-flight delivery is always
	// handed over before the channel closes. Undecodable payloads are
	// dropped, never delivered.
	Subscribe(ctx context.Context, topic string, lifespan time.Duration) (<-chan Delivery, error)

	// Ack marks a delivery handled. Backends whose consume step already
	// removed the item treat this as a no-op.
	Ack(ctx context.Context, d Delivery) error

	// Nack reports a delivery as not handled. With requeue the item goes
	// back at the front of its topic; without, it is discarded. Backends
	// without native nack fall back to Ack semantics.
	Nack(ctx context.Context, d Delivery, requeue bool) error

	// Close tears the transport down.
	Close() error
}
