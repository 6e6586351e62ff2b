package service

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"tag_ingester/internal/domain"
)

// TopicResolver maps topic references to stable (id, name) pairs, using the
// cache, then the topics table, then live discovery.
type TopicResolver struct {
	topics     TopicStore
	discoverer Discoverer
	cache      TopicCache
	group      singleflight.Group
	logger     *slog.Logger
}

func NewTopicResolver(topics TopicStore, discoverer Discoverer, cache TopicCache, logger *slog.Logger) *TopicResolver {
	return &TopicResolver{
		topics:     topics,
		discoverer: discoverer,
		cache:      cache,
		logger:     logger.With("component", "resolver"),
	}
}

// Resolve returns the id, best known name and feed URL for ref.
//
// A ref by id never fails; its name is empty when the topic was never
// named. A ref by name fails with *domain.NoFeedFoundError when discovery
// finds no feed, and with *domain.FetchError or *domain.StorageError when
// discovery or persisting its result fails transiently.
func (r *TopicResolver) Resolve(ctx context.Context, ref domain.TopicRef) (domain.ResolvedTopic, error) {
	if id, ok := ref.ID(); ok {
		return r.resolveID(ctx, id), nil
	}
	if name, ok := ref.Name(); ok {
		return r.resolveName(ctx, name)
	}
	return domain.ResolvedTopic{}, fmt.Errorf("resolve: empty topic reference")
}

func (r *TopicResolver) resolveID(ctx context.Context, id int64) domain.ResolvedTopic {
	topic := domain.ResolvedTopic{ID: id, FeedURL: r.discoverer.FeedURL(id)}

	if name, ok := r.cache.NameOf(ctx, id); ok {
		topic.Name = name
		return topic
	}

	name, found, err := r.topics.NameByID(ctx, id)
	if err != nil {
		r.logger.Warn("topic name lookup failed, continuing without name", "topic_id", id, "error", err)
		return topic
	}
	if found {
		topic.Name = name
		r.cache.Put(ctx, domain.Topic{ID: id, Name: name})
	}
	return topic
}

func (r *TopicResolver) resolveName(ctx context.Context, name string) (domain.ResolvedTopic, error) {
	if id, ok := r.cache.IDOf(ctx, name); ok {
		// name may be an alias; report the stored spelling.
		stored := name
		if canonical, ok := r.cache.NameOf(ctx, id); ok {
			stored = canonical
		}
		return domain.ResolvedTopic{ID: id, Name: stored, FeedURL: r.discoverer.FeedURL(id)}, nil
	}

	id, found, err := r.topics.IDByName(ctx, name)
	if err != nil {
		r.logger.Warn("topic id lookup failed, falling back to discovery", "topic", name, "error", err)
	}
	if err == nil && found {
		r.cache.Put(ctx, domain.Topic{ID: id, Name: name})
		return domain.ResolvedTopic{ID: id, Name: name, FeedURL: r.discoverer.FeedURL(id)}, nil
	}

	// Concurrent resolutions of one name share a single discovery.
	v, err, _ := r.group.Do(name, func() (interface{}, error) {
		return r.discover(ctx, name)
	})
	if err != nil {
		return domain.ResolvedTopic{}, err
	}
	return v.(domain.ResolvedTopic), nil
}

func (r *TopicResolver) discover(ctx context.Context, name string) (domain.ResolvedTopic, error) {
	found, err := r.discoverer.Discover(ctx, name)
	if err != nil {
		return domain.ResolvedTopic{}, err
	}

	stored, err := r.RecordName(ctx, domain.Topic{ID: found.ID, Name: found.Name})
	if err != nil {
		return domain.ResolvedTopic{}, err
	}
	if name != stored {
		// Remember the requested spelling too so it skips discovery next time.
		r.cache.Put(ctx, domain.Topic{ID: found.ID, Name: name})
	}

	r.logger.Info("discovered topic", "topic", name, "canonical", stored, "topic_id", found.ID)

	return domain.ResolvedTopic{ID: found.ID, Name: stored, FeedURL: found.FeedURL}, nil
}

// RecordName persists a name for the topic unless the id already has one,
// and returns the name that is stored afterwards.
func (r *TopicResolver) RecordName(ctx context.Context, topic domain.Topic) (string, error) {
	if topic.Name == "" {
		return "", fmt.Errorf("record name for topic %d: empty name", topic.ID)
	}

	inserted, err := r.topics.InsertIfAbsent(ctx, topic)
	if err != nil {
		return "", err
	}

	name := topic.Name
	if !inserted {
		existing, found, err := r.topics.NameByID(ctx, topic.ID)
		if err != nil {
			return "", err
		}
		if found {
			name = existing
		}
	}

	r.cache.Put(ctx, domain.Topic{ID: topic.ID, Name: name})
	return name, nil
}
