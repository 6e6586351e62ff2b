package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"tag_ingester/internal/domain"
)

const opTimeout = 2 * time.Second

// RedisCache shares the topic mapping between ingester processes.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisCache(addr, password string, ttl time.Duration, logger *slog.Logger) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisCache{client: rdb, ttl: ttl, logger: logger.With("component", "redis_cache")}, nil
}

func nameKey(name string) string {
	return "topic:name:" + name
}

func idKey(id int64) string {
	return "topic:id:" + strconv.FormatInt(id, 10)
}

func (c *RedisCache) IDOf(ctx context.Context, name string) (int64, bool) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	id, err := c.client.Get(ctx, nameKey(name)).Int64()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("cache lookup failed", "name", name, "error", err)
		}
		return 0, false
	}
	return id, true
}

func (c *RedisCache) NameOf(ctx context.Context, id int64) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	name, err := c.client.Get(ctx, idKey(id)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("cache lookup failed", "topic_id", id, "error", err)
		}
		return "", false
	}
	return name, true
}

func (c *RedisCache) Put(ctx context.Context, topic domain.Topic) {
	if topic.Name == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, idKey(topic.ID), topic.Name, c.ttl)
		pipe.Set(ctx, nameKey(topic.Name), topic.ID, c.ttl)
		return nil
	})
	if err != nil {
		c.logger.Warn("cache write failed", "topic_id", topic.ID, "error", err)
	}
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
