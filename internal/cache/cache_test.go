package cache

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tag_ingester/internal/domain"
)

func testCaches(t *testing.T) map[string]TopicCache {
	t.Helper()

	mr := miniredis.RunT(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rc, err := NewRedisCache(mr.Addr(), "", time.Hour, logger)
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })

	return map[string]TopicCache{
		"memory": NewMemoryCache(),
		"redis":  rc,
	}
}

func TestTopicCache_PutAndLookup(t *testing.T) {
	ctx := context.Background()
	for name, c := range testCaches(t) {
		t.Run(name, func(t *testing.T) {
			c.Put(ctx, domain.Topic{ID: 42, Name: "Widgets"})

			id, ok := c.IDOf(ctx, "Widgets")
			assert.True(t, ok)
			assert.Equal(t, int64(42), id)

			n, ok := c.NameOf(ctx, 42)
			assert.True(t, ok)
			assert.Equal(t, "Widgets", n)
		})
	}
}

func TestTopicCache_Miss(t *testing.T) {
	ctx := context.Background()
	for name, c := range testCaches(t) {
		t.Run(name, func(t *testing.T) {
			_, ok := c.IDOf(ctx, "unknown")
			assert.False(t, ok)

			_, ok = c.NameOf(ctx, 9)
			assert.False(t, ok)
		})
	}
}

func TestTopicCache_FirstNameWins(t *testing.T) {
	ctx := context.Background()
	for name, c := range testCaches(t) {
		t.Run(name, func(t *testing.T) {
			c.Put(ctx, domain.Topic{ID: 42, Name: "Widgets"})
			c.Put(ctx, domain.Topic{ID: 42, Name: "Gadgets"})

			n, ok := c.NameOf(ctx, 42)
			assert.True(t, ok)
			assert.Equal(t, "Widgets", n)
		})
	}
}

func TestTopicCache_BlankNameIgnored(t *testing.T) {
	ctx := context.Background()
	for name, c := range testCaches(t) {
		t.Run(name, func(t *testing.T) {
			c.Put(ctx, domain.Topic{ID: 5})

			_, ok := c.NameOf(ctx, 5)
			assert.False(t, ok)
		})
	}
}

func TestRedisCache_UnreachableIsMiss(t *testing.T) {
	mr := miniredis.RunT(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rc, err := NewRedisCache(mr.Addr(), "", 0, logger)
	require.NoError(t, err)
	defer rc.Close()

	mr.Close()

	_, ok := rc.IDOf(context.Background(), "Widgets")
	assert.False(t, ok)
	rc.Put(context.Background(), domain.Topic{ID: 1, Name: "Widgets"})
}

func TestNewRedisCache_Unreachable(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := NewRedisCache("127.0.0.1:1", "", 0, logger)
	assert.Error(t, err)
}
