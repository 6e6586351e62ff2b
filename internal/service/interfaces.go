package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"tag_ingester/internal/domain"
)

type TopicStore interface {
	IDByName(ctx context.Context, name string) (int64, bool, error)
	NameByID(ctx context.Context, id int64) (string, bool, error)
	InsertIfAbsent(ctx context.Context, topic domain.Topic) (bool, error)
}

type RecordStore interface {
	InsertBatch(ctx context.Context, records []domain.Record) (int, error)
}

type Discoverer interface {
	Discover(ctx context.Context, name string) (domain.Discovery, error)
	FeedURL(id int64) string
}

type FeedClient interface {
	Fetch(ctx context.Context, url string) (*domain.Snapshot, error)
}

type TopicCache interface {
	IDOf(ctx context.Context, name string) (int64, bool)
	NameOf(ctx context.Context, id int64) (string, bool)
	Put(ctx context.Context, topic domain.Topic)
}

type Resolver interface {
	Resolve(ctx context.Context, ref domain.TopicRef) (domain.ResolvedTopic, error)
	RecordName(ctx context.Context, topic domain.Topic) (string, error)
}

type Enqueuer interface {
	Append(records ...domain.Record)
}

type Drainer interface {
	DrainAll() []domain.Record
	Requeue(records []domain.Record) int
	Len() int
}

type Publisher interface {
	PublishFlush(ctx context.Context, stats domain.FlushStats) error
	Close() error
}
