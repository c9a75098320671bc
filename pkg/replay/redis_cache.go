package replay

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache backs the nonce cache with Redis (SET NX + TTL), letting
// multiple ingestion instances share replay state (REPLAY_CACHE_REDIS_ADDR).
type RedisCache struct {
	Client *redis.Client
}

func key(producerID, nonce string) string {
	return "ransomeye:replay:" + producerID + ":" + nonce
}

// SeenRecently checks for an existing key without creating one.
func (c *RedisCache) SeenRecently(ctx context.Context, producerID, nonce string, _ time.Duration) (bool, error) {
	n, err := c.Client.Exists(ctx, key(producerID, nonce)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Record sets the key with expiryWindow as its TTL only if absent,
// returning ErrAlreadyRecorded if a concurrent writer won the race.
func (c *RedisCache) Record(ctx context.Context, producerID, nonce string, expiryWindow time.Duration) error {
	ok, err := c.Client.SetNX(ctx, key(producerID, nonce), 1, expiryWindow).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadyRecorded
	}
	return nil
}

// ErrAlreadyRecorded signals a concurrent duplicate insert lost the race.
var ErrAlreadyRecorded = errors.New("replay: nonce already recorded")
