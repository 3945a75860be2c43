package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/paigeant/paigeant/common/contracts"
	"github.com/paigeant/paigeant/common/logger"
)

const pollInterval = 10 * time.Millisecond

// InMemoryTransport is an in-process FIFO queue per topic. It backs unit
// tests and single-process deployments; messages do not survive a restart.
type InMemoryTransport struct {
	mu     sync.Mutex
	queues map[string][][]byte
	log    *logger.Logger
}

// NewInMemoryTransport creates an empty in-memory transport.
func NewInMemoryTransport(log *logger.Logger) *InMemoryTransport {
	return &InMemoryTransport{
		queues: make(map[string][][]byte),
		log:    log.WithComponent("transport.inmemory"),
	}
}

// Connect is a no-op.
func (t *InMemoryTransport) Connect(ctx context.Context) error { return nil }

// Publish appends the serialized envelope to the topic's queue.
func (t *InMemoryTransport) Publish(ctx context.Context, topic string, msg *contracts.Message) error {
	raw, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	t.mu.Lock()
	t.queues[topic] = append(t.queues[topic], raw)
	t.mu.Unlock()

	t.log.Debug("published", "topic", topic, "message_id", msg.MessageID)
	return nil
}

// Subscribe polls the topic's queue until ctx is cancelled or lifespan
// elapses. The current delivery is always handed over before the channel
// closes.
func (t *InMemoryTransport) Subscribe(ctx context.Context, topic string, lifespan time.Duration) (<-chan Delivery, error) {
	var deadline time.Time
	if lifespan > 0 {
		deadline = time.Now().Add(lifespan)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			if !deadline.IsZero() && time.Now().After(deadline) {
				t.log.Debug("subscription lifespan elapsed", "topic", topic)
				return
			}

			raw, ok := t.pop(topic)
			if !ok {
				select {
				case <-ctx.Done():
					return
				case <-time.After(pollInterval):
				}
				continue
			}

			msg, err := contracts.FromJSON(raw)
			if err != nil {
				// Malformed payloads are dropped rather than poisoning the topic.
				t.log.Warn("dropping malformed message", "topic", topic, "error", err)
				continue
			}

			select {
			case out <- Delivery{Topic: topic, Raw: raw, Message: msg}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (t *InMemoryTransport) pop(topic string) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	q := t.queues[topic]
	if len(q) == 0 {
		return nil, false
	}
	t.queues[topic] = q[1:]
	return q[0], true
}

// Ack is a no-op: the consume step already removed the item.
func (t *InMemoryTransport) Ack(ctx context.Context, d Delivery) error { return nil }

// Nack with requeue puts the raw payload back at the front of its topic so
// it is redelivered next; without requeue it is discarded.
func (t *InMemoryTransport) Nack(ctx context.Context, d Delivery, requeue bool) error {
	if !requeue {
		return nil
	}
	t.mu.Lock()
	t.queues[d.Topic] = append([][]byte{d.Raw}, t.queues[d.Topic]...)
	t.mu.Unlock()
	return nil
}

// Close drops all queued messages.
func (t *InMemoryTransport) Close() error {
	t.mu.Lock()
	t.queues = make(map[string][][]byte)
	t.mu.Unlock()
	return nil
}

// Depth reports the number of queued messages on a topic. Test helper.
func (t *InMemoryTransport) Depth(topic string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queues[topic])
}

// Inject places raw bytes on a topic without going through Publish. Test
// helper for malformed-payload scenarios.
func (t *InMemoryTransport) Inject(topic string, raw []byte) {
	t.mu.Lock()
	t.queues[topic] = append(t.queues[topic], raw)
	t.mu.Unlock()
}
