package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisOptions configures the redis-backed Store.
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
}

// Redis is a Store backend over a redis hash per entity type: field = id,
// value = JSON. The hash preserves no order, so ids are also kept in a list
// to keep List deterministic.
type Redis[V any] struct {
	client  *redis.Client
	hashKey string
	listKey string
}

// NewRedis connects and pings the server before returning.
func NewRedis[V any](opts RedisOptions, keyPrefix string) (*Redis[V], error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Redis[V]{
		client:  client,
		hashKey: keyPrefix + ":values",
		listKey: keyPrefix + ":order",
	}, nil
}

func (s *Redis[V]) Get(ctx context.Context, id string) (V, bool, error) {
	var zero V
	data, err := s.client.HGet(ctx, s.hashKey, id).Result()
	if err == redis.Nil {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("redis hget: %w", err)
	}
	var v V
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return zero, false, fmt.Errorf("decode stored value %s: %w", id, err)
	}
	return v, true, nil
}

func (s *Redis[V]) Upsert(ctx context.Context, id string, value V) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode value %s: %w", id, err)
	}

	exists, err := s.client.HExists(ctx, s.hashKey, id).Result()
	if err != nil {
		return fmt.Errorf("redis hexists: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.hashKey, id, data)
	if !exists {
		pipe.RPush(ctx, s.listKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis upsert: %w", err)
	}
	return nil
}

func (s *Redis[V]) Delete(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.HDel(ctx, s.hashKey, id)
	pipe.LRem(ctx, s.listKey, 1, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

func (s *Redis[V]) List(ctx context.Context, filter func(V) bool) ([]V, error) {
	ids, err := s.client.LRange(ctx, s.listKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange: %w", err)
	}
	var out []V
	for _, id := range ids {
		v, ok, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if filter == nil || filter(v) {
			out = append(out, v)
		}
	}
	return out, nil
}

// Close releases the underlying client.
func (s *Redis[V]) Close() error {
	return s.client.Close()
}
