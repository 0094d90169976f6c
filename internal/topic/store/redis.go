package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// setIfAbsentScript writes ARGV[1] unless the key holds a non-empty value
// and returns the value stored afterwards.
const setIfAbsentScript = `
local v = redis.call('GET', KEYS[1])
if v == false or v == '' then
	redis.call('SET', KEYS[1], ARGV[1])
	return ARGV[1]
end
return v`

// redisClient is the part of *redis.Client the store uses.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
	Close() error
}

// Redis stores values as plain redis strings. SetIfAbsent runs as one
// script, so relay instances sharing one redis agree on a single topic.
type Redis struct {
	client redisClient
	prefix string
}

// NewRedis wraps an existing client. prefix is prepended to every key.
func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(k string) string { return r.prefix + k }

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *Redis) SetIfAbsent(ctx context.Context, key, value string) (string, error) {
	stored, err := r.client.Eval(ctx, setIfAbsentScript, []string{r.key(key)}, value).Text()
	if err != nil {
		return "", fmt.Errorf("redis set-if-absent %s: %w", key, err)
	}
	return stored, nil
}

func (r *Redis) Close() error { return r.client.Close() }
