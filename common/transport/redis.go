package transport

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/paigeant/paigeant/common/contracts"
	"github.com/paigeant/paigeant/common/logger"
	rediswrap "github.com/paigeant/paigeant/common/redis"
)

// keyPrefix namespaces paigeant queues inside a shared Redis. The prefix is
// a backend detail; topics on the envelope stay bare agent names.
const keyPrefix = "paigeant:"

const brpopTimeout = time.Second

// RedisTransport carries envelopes on one Redis list per topic: LPUSH to
// publish, BRPOP to consume. Consumption is destructive, so ack is a no-op
// and at-least-once comes from the worker only acking after persistence.
type RedisTransport struct {
	client *rediswrap.Client
	log    *logger.Logger
}

// NewRedisTransport wraps an existing go-redis client.
func NewRedisTransport(redisClient *goredis.Client, log *logger.Logger) *RedisTransport {
	tlog := log.WithComponent("transport.redis")
	return &RedisTransport{
		client: rediswrap.NewClient(redisClient, tlog),
		log:    tlog,
	}
}

// Connect verifies the Redis connection.
func (t *RedisTransport) Connect(ctx context.Context) error {
	return t.client.Ping(ctx)
}

// Publish appends the serialized envelope to the topic's list.
func (t *RedisTransport) Publish(ctx context.Context, topic string, msg *contracts.Message) error {
	raw, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	if err := t.client.LeftPush(ctx, queueKey(topic), raw); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	t.log.Debug("published", "topic", topic, "message_id", msg.MessageID)
	return nil
}

// Subscribe pops the topic's list with a blocking read until ctx is
// cancelled or lifespan elapses.
func (t *RedisTransport) Subscribe(ctx context.Context, topic string, lifespan time.Duration) (<-chan Delivery, error) {
	var deadline time.Time
	if lifespan > 0 {
		deadline = time.Now().Add(lifespan)
	}
	key := queueKey(topic)

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			if ctx.Err() != nil {
				return
			}
			if !deadline.IsZero() && time.Now().After(deadline) {
				t.log.Debug("subscription lifespan elapsed", "topic", topic)
				return
			}

			popped, err := t.client.BlockingRightPop(ctx, brpopTimeout, key)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				t.log.Error("receive failed, backing off", "topic", topic, "error", err)
				time.Sleep(time.Second)
				continue
			}
			if popped == nil {
				continue
			}

			// BRPOP returns (key, value).
			raw := []byte(popped[1])
			msg, err := contracts.FromJSON(raw)
			if err != nil {
				// Consumption already removed the item; dropping it here is
				// the list-backend equivalent of nack-no-requeue.
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

// Ack is a no-op: BRPOP already removed the item.
func (t *RedisTransport) Ack(ctx context.Context, d Delivery) error { return nil }

// Nack with requeue pushes the raw payload back at the consuming end of the
// list so it is redelivered next; without requeue it stays consumed.
func (t *RedisTransport) Nack(ctx context.Context, d Delivery, requeue bool) error {
	if !requeue {
		return nil
	}
	return t.client.RightPush(ctx, queueKey(d.Topic), d.Raw)
}

// Close releases the Redis connection.
func (t *RedisTransport) Close() error {
	return t.client.Close()
}

func queueKey(topic string) string {
	return keyPrefix + topic
}
