package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// cacheTTL is how long cached entries live by default. Processed-notification
// markers only have to outlive RabbitMQ redeliveries of the same message.
const cacheTTL = time.Hour * 72

// RedisCache implements CacheInterface on a Redis server. One instance is
// shared between the queue consumers (dedupe markers) and the engine
// (day snapshots).
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache returns an unconnected RedisCache. Connect must be called
// before any other method.
func NewRedisCache() *RedisCache {
	return &RedisCache{}
}

// Connect parses the Redis URL, opens the client and pings the server once,
// so a bad address fails at startup instead of on first use.
func (r *RedisCache) Connect(redisURL string) error {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return fmt.Errorf("invalid redis url: %w", err)
	}

	r.client = redis.NewClient(opt)

	_, err = r.client.Ping(context.Background()).Result()
	return err
}

// Disconnect closes the connection to the Redis server.
func (r *RedisCache) Disconnect() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Set stores a key-value pair with the default TTL. The value is stored
// as its JSON encoding.
func (r *RedisCache) Set(ctx context.Context, key string, value interface{}) error {
	return r.SetWithTTL(ctx, key, value, cacheTTL)
}

// SetWithTTL stores a key-value pair with an explicit expiry. Day snapshots
// use this with a much shorter TTL than the dedupe markers.
func (r *RedisCache) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	marshaledValue, err := json.Marshal(value)
	if err != nil {
		return err
	}

	return r.client.Set(ctx, key, marshaledValue, ttl).Err()
}

// Get returns the JSON-decoded value of a key, or ErrCacheMiss if the key
// is absent or has expired.
func (r *RedisCache) Get(ctx context.Context, key string) (interface{}, error) {
	value, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, ErrCacheMiss
	} else if err != nil {
		return nil, err
	}

	var result interface{}
	if err := json.Unmarshal([]byte(value), &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Delete removes a single key. Deleting an absent key is not an error.
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// Clear removes every key in the currently selected database.
func (r *RedisCache) Clear(ctx context.Context) error {
	return r.client.FlushDB(ctx).Err()
}
