package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/suite"

	"tag_ingester/internal/buffer"
	"tag_ingester/internal/cache"
	"tag_ingester/internal/domain"
	"tag_ingester/internal/service"
	"tag_ingester/internal/storage/sqldb"
)

type fakeDiscoverer struct {
	topics map[string]int64
	calls  atomic.Int32
}

func (d *fakeDiscoverer) Discover(_ context.Context, name string) (domain.Discovery, error) {
	d.calls.Add(1)
	id, ok := d.topics[name]
	if !ok {
		return domain.Discovery{}, &domain.NoFeedFoundError{Name: name}
	}
	return domain.Discovery{FeedURL: d.FeedURL(id), Name: name, ID: id}, nil
}

func (d *fakeDiscoverer) FeedURL(id int64) string {
	return fmt.Sprintf("https://example.org/tags/%d/feed.atom", id)
}

// fakeFeeds serves a fixed sequence of snapshots per feed URL and repeats
// the last one once the sequence is exhausted.
type fakeFeeds struct {
	mu        sync.Mutex
	snapshots map[string][]domain.Snapshot
	served    map[string]int
}

func newFakeFeeds() *fakeFeeds {
	return &fakeFeeds{
		snapshots: make(map[string][]domain.Snapshot),
		served:    make(map[string]int),
	}
}

func (f *fakeFeeds) add(url string, snapshots ...domain.Snapshot) {
	f.snapshots[url] = append(f.snapshots[url], snapshots...)
}

func (f *fakeFeeds) Fetch(_ context.Context, url string) (*domain.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	seq := f.snapshots[url]
	if len(seq) == 0 {
		return nil, &domain.FetchError{URL: url, Err: errors.New("unexpected status: 404")}
	}

	i := f.served[url]
	f.served[url]++
	if i >= len(seq) {
		i = len(seq) - 1
	}
	snap := seq[i]
	return &snap, nil
}

func (f *fakeFeeds) servedCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.served[url]
}

func work(id int, title string) domain.Entry {
	return domain.Entry{
		Title:      title,
		ExternalID: fmt.Sprintf("tag:archiveofourown.org,2005:Work/%d", id),
		Published:  "2024-01-01T10:00:00Z",
	}
}

type SchedulerTestSuite struct {
	suite.Suite
	ctx context.Context

	db      *sqlx.DB
	topics  *sqldb.TopicStore
	records *sqldb.RecordStore

	discoverer *fakeDiscoverer
	feeds      *fakeFeeds
	buf        *buffer.WorkBuffer
	logger     *slog.Logger

	pollInterval  time.Duration
	flushInterval time.Duration
}

func (s *SchedulerTestSuite) SetupTest() {
	s.ctx = context.Background()

	db, err := sqldb.Open(s.ctx, sqldb.DriverSQLite, ":memory:")
	s.Require().NoError(err)
	s.db = db
	s.topics = sqldb.NewTopicStore(db)
	s.records = sqldb.NewRecordStore(db)

	s.discoverer = &fakeDiscoverer{topics: map[string]int64{"Widgets": 42}}
	s.feeds = newFakeFeeds()
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	s.pollInterval = 5 * time.Millisecond
	s.flushInterval = 5 * time.Millisecond
}

func (s *SchedulerTestSuite) TearDownTest() {
	s.db.Close()
}

func TestSchedulerTestSuite(t *testing.T) {
	suite.Run(t, new(SchedulerTestSuite))
}

func (s *SchedulerTestSuite) newScheduler(topics ...domain.TopicRef) *Scheduler {
	s.buf = buffer.New(0)
	resolver := service.NewTopicResolver(s.topics, s.discoverer, cache.NewMemoryCache(), s.logger)
	inserter, err := service.NewBatchInserter(s.buf, s.records, nil, s.logger, service.InserterConfig{
		FlushInterval:  s.flushInterval,
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	})
	s.Require().NoError(err)

	sched, err := New(Config{
		PollInterval: s.pollInterval,
		Topics:       topics,
	}, resolver, s.feeds, s.buf, inserter, s.logger)
	s.Require().NoError(err)
	return sched
}

// runUntil starts the scheduler and cancels it once cond holds.
func (s *SchedulerTestSuite) runUntil(sched *Scheduler, cond func() bool) error {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- sched.Start(ctx) }()

	s.Eventually(cond, 5*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		s.FailNow("scheduler did not stop")
		return nil
	}
}

func (s *SchedulerTestSuite) countRecords(topicID int64) int {
	n, err := s.records.CountByTopic(s.ctx, topicID)
	s.Require().NoError(err)
	return n
}

func (s *SchedulerTestSuite) TestNew_RejectsNonPositiveInterval() {
	for _, interval := range []time.Duration{0, -time.Second} {
		_, err := New(Config{PollInterval: interval, Topics: []domain.TopicRef{domain.ByName("Widgets")}},
			nil, s.feeds, buffer.New(0), nil, s.logger)

		var cfgErr *domain.ConfigError
		s.Require().True(errors.As(err, &cfgErr))
		s.Equal("ingest.poll_interval", cfgErr.Field)
	}
	s.Equal(int32(0), s.discoverer.calls.Load())
}

func (s *SchedulerTestSuite) TestNew_RequiresTopics() {
	_, err := New(Config{PollInterval: time.Second}, nil, s.feeds, buffer.New(0), nil, s.logger)

	var cfgErr *domain.ConfigError
	s.True(errors.As(err, &cfgErr))
}

func (s *SchedulerTestSuite) TestStart_FreshTopicIsDiscoveredAndStored() {
	url := s.discoverer.FeedURL(42)
	s.feeds.add(url, domain.Snapshot{
		Title:   "AO3 works tagged 'Widgets'",
		Entries: []domain.Entry{work(100, "A"), work(101, "B")},
	})

	err := s.runUntil(s.newScheduler(domain.ByName("Widgets")), func() bool {
		return s.feeds.servedCount(url) >= 2
	})

	s.ErrorIs(err, context.Canceled)

	topics, err := s.topics.List(s.ctx)
	s.Require().NoError(err)
	s.Equal([]domain.Topic{{ID: 42, Name: "Widgets"}}, topics)
	s.Equal(2, s.countRecords(42))
}

func (s *SchedulerTestSuite) TestStart_DuplicatesAcrossSnapshotsStoredOnce() {
	url := s.discoverer.FeedURL(42)
	s.feeds.add(url,
		domain.Snapshot{Entries: []domain.Entry{work(100, "A"), work(101, "B")}},
		domain.Snapshot{Entries: []domain.Entry{work(100, "A"), work(101, "B"), work(102, "C")}},
	)

	err := s.runUntil(s.newScheduler(domain.ByName("Widgets")), func() bool {
		return s.feeds.servedCount(url) >= 4
	})

	s.ErrorIs(err, context.Canceled)

	s.Equal(3, s.countRecords(42))
}

func (s *SchedulerTestSuite) TestStart_ShutdownFlushesPendingRecords() {
	s.pollInterval = time.Hour
	s.flushInterval = time.Hour

	url := s.discoverer.FeedURL(42)
	s.feeds.add(url, domain.Snapshot{
		Entries: []domain.Entry{work(100, "A"), work(101, "B")},
	})

	err := s.runUntil(s.newScheduler(domain.ByName("Widgets")), func() bool {
		return s.feeds.servedCount(url) >= 1
	})

	s.ErrorIs(err, context.Canceled)
	s.Equal(1, s.feeds.servedCount(url))
	s.Equal(2, s.countRecords(42))
	s.Equal(0, s.buf.Len())
}

func (s *SchedulerTestSuite) TestStart_DiscoveryFailureDoesNotStopSiblings() {
	url := s.discoverer.FeedURL(42)
	s.feeds.add(url, domain.Snapshot{Entries: []domain.Entry{work(100, "A")}})

	err := s.runUntil(s.newScheduler(domain.ByName("Nonexistent"), domain.ByName("Widgets")), func() bool {
		return s.feeds.servedCount(url) >= 3
	})

	s.ErrorIs(err, context.Canceled)

	_, found, err := s.topics.IDByName(s.ctx, "Nonexistent")
	s.Require().NoError(err)
	s.False(found)
	s.Equal(1, s.countRecords(42))
}

func (s *SchedulerTestSuite) TestStart_TopicByIDLearnsName() {
	url := s.discoverer.FeedURL(7)
	s.feeds.add(url, domain.Snapshot{
		Title:   "AO3 works tagged 'Bar'",
		Entries: []domain.Entry{work(200, "X")},
	})

	err := s.runUntil(s.newScheduler(domain.ByID(7)), func() bool {
		return s.feeds.servedCount(url) >= 2
	})

	s.ErrorIs(err, context.Canceled)

	name, found, err := s.topics.NameByID(s.ctx, 7)
	s.Require().NoError(err)
	s.True(found)
	s.Equal("Bar", name)
	s.Equal(1, s.countRecords(7))
	s.Equal(int32(0), s.discoverer.calls.Load())
}

func (s *SchedulerTestSuite) TestStart_AllPollersFailed() {
	sched := s.newScheduler(domain.ByName("Nonexistent"), domain.ByName("Missing"))

	done := make(chan error, 1)
	go func() { done <- sched.Start(s.ctx) }()

	select {
	case err := <-done:
		s.ErrorIs(err, ErrAllPollersStopped)
	case <-time.After(5 * time.Second):
		s.Fail("scheduler did not stop")
	}
}
