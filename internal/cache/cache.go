// Package cache keeps the topic name↔id mapping close to the resolver.
package cache

import (
	"context"
	"sync"

	"tag_ingester/internal/domain"
)

// TopicCache maps topic names to ids and back. Lookups that fail for any
// reason are reported as misses; the database remains the source of truth.
type TopicCache interface {
	IDOf(ctx context.Context, name string) (int64, bool)
	NameOf(ctx context.Context, id int64) (string, bool)
	// Put records the topic. An id that is already named keeps its name.
	Put(ctx context.Context, topic domain.Topic)
}

type MemoryCache struct {
	mu     sync.RWMutex
	byName map[string]int64
	byID   map[int64]string
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		byName: make(map[string]int64),
		byID:   make(map[int64]string),
	}
}

func (c *MemoryCache) IDOf(_ context.Context, name string) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.byName[name]
	return id, ok
}

func (c *MemoryCache) NameOf(_ context.Context, id int64) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	name, ok := c.byID[id]
	return name, ok
}

func (c *MemoryCache) Put(_ context.Context, topic domain.Topic) {
	if topic.Name == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.byID[topic.ID]; !ok {
		c.byID[topic.ID] = topic.Name
	}
	c.byName[topic.Name] = topic.ID
}
