package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"tag_ingester/internal/domain"
	"tag_ingester/internal/service"
)

// ErrAllPollersStopped is returned by Start when every poller has exited
// while the parent context is still live.
var ErrAllPollersStopped = errors.New("all topic pollers stopped")

// Inserter defines the background flush loop.
type Inserter interface {
	Run(ctx context.Context)
}

type Config struct {
	PollInterval time.Duration
	FetchTimeout time.Duration
	Topics       []domain.TopicRef
}

// Scheduler supervises one poller per tracked topic and the batch inserter.
type Scheduler struct {
	config   Config
	resolver service.Resolver
	feeds    service.FeedClient
	buffer   service.Enqueuer
	inserter Inserter
	logger   *slog.Logger
}

func New(
	cfg Config,
	resolver service.Resolver,
	feeds service.FeedClient,
	buffer service.Enqueuer,
	inserter Inserter,
	logger *slog.Logger,
) (*Scheduler, error) {
	if cfg.PollInterval <= 0 {
		return nil, &domain.ConfigError{Field: "ingest.poll_interval", Reason: "must be positive"}
	}
	if len(cfg.Topics) == 0 {
		return nil, &domain.ConfigError{Field: "ingest.tags", Reason: "at least one tag or tag id is required"}
	}

	return &Scheduler{
		config:   cfg,
		resolver: resolver,
		feeds:    feeds,
		buffer:   buffer,
		inserter: inserter,
		logger:   logger,
	}, nil
}

// Start runs the pipeline until ctx is done or every poller has exited.
// The inserter outlives the pollers so its final flush sees everything
// they enqueued.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started",
		"topics", len(s.config.Topics),
		"interval", s.config.PollInterval,
	)

	inserterCtx, stopInserter := context.WithCancel(context.WithoutCancel(ctx))
	inserterDone := make(chan struct{})
	go func() {
		defer close(inserterDone)
		s.inserter.Run(inserterCtx)
	}()

	var wg sync.WaitGroup
	for _, ref := range s.config.Topics {
		wg.Add(1)
		go func(ref domain.TopicRef) {
			defer wg.Done()
			s.runPoller(ctx, ref)
		}(ref)
	}
	wg.Wait()

	stopInserter()
	<-inserterDone

	if err := ctx.Err(); err != nil {
		s.logger.Info("scheduler stopped")
		return err
	}

	s.logger.Error("scheduler stopped, no pollers left")
	return ErrAllPollersStopped
}

func (s *Scheduler) runPoller(ctx context.Context, ref domain.TopicRef) {
	poller := service.NewTopicPoller(ref, s.resolver, s.feeds, s.buffer, s.logger, service.PollerConfig{
		PollInterval: s.config.PollInterval,
		FetchTimeout: s.config.FetchTimeout,
	})

	err := poller.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		s.logger.Error("poller exited", "topic_ref", ref.String(), "error", err)
	}
}
