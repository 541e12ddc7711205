package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// claimTTL bounds how long a dispatch claim is remembered. Broker
// redelivery happens within minutes; a day of retention absorbs any
// replay the stream can produce.
const claimTTL = 24 * time.Hour

// RedisClaimer implements Claimer on a Redis SETNX key per violation.
type RedisClaimer struct {
	client *redis.Client
}

// NewRedisClaimer creates a claimer using the provided Redis client.
func NewRedisClaimer(client *redis.Client) *RedisClaimer {
	return &RedisClaimer{client: client}
}

// Claim atomically takes the key. It returns false when a previous
// delivery already claimed it.
func (c *RedisClaimer) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := c.client.SetNX(ctx, key, 1, claimTTL).Result()
	if err != nil {
		return false, fmt.Errorf("dispatch: claim %s: %w", key, err)
	}
	return ok, nil
}
