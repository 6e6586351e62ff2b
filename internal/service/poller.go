package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"tag_ingester/internal/domain"
	"tag_ingester/internal/metrics"
	"tag_ingester/internal/source/feed"
)

type PollerConfig struct {
	PollInterval time.Duration
	FetchTimeout time.Duration
}

// TopicPoller repeatedly fetches one topic's feed and enqueues its entries
// as records.
type TopicPoller struct {
	ref      domain.TopicRef
	resolver Resolver
	feeds    FeedClient
	buffer   Enqueuer
	config   PollerConfig
	logger   *slog.Logger
}

func NewTopicPoller(
	ref domain.TopicRef,
	resolver Resolver,
	feeds FeedClient,
	buffer Enqueuer,
	logger *slog.Logger,
	cfg PollerConfig,
) *TopicPoller {
	return &TopicPoller{
		ref:      ref,
		resolver: resolver,
		feeds:    feeds,
		buffer:   buffer,
		config:   cfg,
		logger:   logger.With("topic_ref", ref.String()),
	}
}

// Run resolves the topic and then polls it until ctx is done. It returns
// *domain.NoFeedFoundError when the topic cannot be resolved, otherwise the
// context's error.
func (p *TopicPoller) Run(ctx context.Context) error {
	topic, err := p.resolve(ctx)
	if err != nil {
		var noFeed *domain.NoFeedFoundError
		if errors.As(err, &noFeed) {
			metrics.PollersFailed.Inc()
			p.logger.Error("topic has no feed, poller stopped", "error", err)
		}
		return err
	}

	logger := p.logger.With("topic_id", topic.ID, "topic", topic.Name)
	logger.Info("poller started", "feed_url", topic.FeedURL, "interval", p.config.PollInterval)

	metrics.PollersActive.Inc()
	defer metrics.PollersActive.Dec()

	for {
		if _, err := p.PollOnce(ctx, &topic); err != nil && ctx.Err() == nil {
			logger.Warn("poll failed, skipping iteration", "error", err)
		}

		if err := sleep(ctx, p.config.PollInterval); err != nil {
			logger.Info("poller stopped")
			return err
		}
	}
}

// resolve retries transient resolution failures every poll interval.
// Only a missing feed or cancellation ends it.
func (p *TopicPoller) resolve(ctx context.Context) (domain.ResolvedTopic, error) {
	for {
		topic, err := p.resolver.Resolve(ctx, p.ref)
		if err == nil {
			return topic, nil
		}

		var noFeed *domain.NoFeedFoundError
		if errors.As(err, &noFeed) || ctx.Err() != nil {
			return domain.ResolvedTopic{}, err
		}

		p.logger.Warn("resolve failed, retrying", "error", err, "backoff", p.config.PollInterval)
		if err := sleep(ctx, p.config.PollInterval); err != nil {
			return domain.ResolvedTopic{}, err
		}
	}
}

// PollOnce fetches one snapshot and enqueues all of its records, or none
// of them when any entry cannot be parsed. It fills in topic.Name from the
// feed title when the topic has no name yet. Returns the number enqueued.
func (p *TopicPoller) PollOnce(ctx context.Context, topic *domain.ResolvedTopic) (int, error) {
	label := strconv.FormatInt(topic.ID, 10)

	fetchCtx := ctx
	if p.config.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, p.config.FetchTimeout)
		defer cancel()
	}

	snapshot, err := p.feeds.Fetch(fetchCtx, topic.FeedURL)
	if err != nil {
		metrics.FeedFetches.WithLabelValues(label, "error").Inc()
		return 0, err
	}

	records, err := extractRecords(topic.ID, snapshot.Entries)
	if err != nil {
		metrics.FeedFetches.WithLabelValues(label, "error").Inc()
		return 0, &domain.FetchError{URL: topic.FeedURL, Err: err}
	}
	metrics.FeedFetches.WithLabelValues(label, "success").Inc()

	if topic.Name == "" {
		p.learnName(ctx, topic, snapshot.Title)
	}

	p.buffer.Append(records...)
	metrics.EntriesFetched.WithLabelValues(label).Add(float64(len(records)))

	p.logger.Info("fetched entries", "topic_id", topic.ID, "topic", topic.Name, "count", len(records))

	return len(records), nil
}

func (p *TopicPoller) learnName(ctx context.Context, topic *domain.ResolvedTopic, title string) {
	name, ok := feed.TopicNameFromTitle(title)
	if !ok {
		p.logger.Debug("feed title carries no topic name", "topic_id", topic.ID, "title", title)
		return
	}

	stored, err := p.resolver.RecordName(ctx, domain.Topic{ID: topic.ID, Name: name})
	if err != nil {
		p.logger.Warn("failed to record topic name", "topic_id", topic.ID, "name", name, "error", err)
		return
	}
	topic.Name = stored
}

func extractRecords(topicID int64, entries []domain.Entry) ([]domain.Record, error) {
	records := make([]domain.Record, 0, len(entries))
	for i, entry := range entries {
		itemID, err := feed.ParseItemID(entry.ExternalID)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}

		published := entry.PublishedAt
		if published.IsZero() {
			published, err = feed.ParsePublished(entry.Published)
			if err != nil {
				return nil, fmt.Errorf("entry %d: %w", i, err)
			}
		}

		records = append(records, domain.Record{
			TopicID:     topicID,
			ItemID:      itemID,
			Title:       entry.Title,
			PublishedAt: published,
		})
	}
	return records, nil
}

// sleep waits for d or until ctx is done, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
