package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Logger is the logging surface the client needs.
type Logger interface {
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Debug(msg string, keysAndValues ...any)
}

// Client wraps redis.Client with the queue operations the list transport
// uses, plus logging.
type Client struct {
	redis  *redis.Client
	logger Logger
}

// NewClient creates a new Redis client wrapper.
func NewClient(redisClient *redis.Client, logger Logger) *Client {
	return &Client{redis: redisClient, logger: logger}
}

// Ping verifies the connection.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// LeftPush appends values to the head of a list. Paired with
// BlockingRightPop this gives per-list FIFO delivery.
func (c *Client) LeftPush(ctx context.Context, key string, values ...any) error {
	if err := c.redis.LPush(ctx, key, values...).Err(); err != nil {
		c.logger.Error("redis LPUSH failed", "key", key, "error", err)
		return fmt.Errorf("failed to lpush to %s: %w", key, err)
	}
	c.logger.Debug("redis LPUSH", "key", key, "count", len(values))
	return nil
}

// RightPush appends values to the tail of a list, ahead of everything
// pushed with LeftPush. Used to requeue a delivery for prompt redelivery.
func (c *Client) RightPush(ctx context.Context, key string, values ...any) error {
	if err := c.redis.RPush(ctx, key, values...).Err(); err != nil {
		c.logger.Error("redis RPUSH failed", "key", key, "error", err)
		return fmt.Errorf("failed to rpush to %s: %w", key, err)
	}
	c.logger.Debug("redis RPUSH", "key", key, "count", len(values))
	return nil
}

// BlockingRightPop blocks until an item arrives at the tail of one of the
// given lists or the timeout elapses. A timeout returns (nil, nil).
func (c *Client) BlockingRightPop(ctx context.Context, timeout time.Duration, keys ...string) ([]string, error) {
	result, err := c.redis.BRPop(ctx, timeout, keys...).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		c.logger.Error("redis BRPOP failed", "keys", keys, "error", err)
		return nil, fmt.Errorf("failed to brpop from %v: %w", keys, err)
	}
	c.logger.Debug("redis BRPOP", "keys", keys)
	return result, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.redis.Close()
}
