package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"tag_ingester/internal/buffer"
	"tag_ingester/internal/domain"
	"tag_ingester/internal/service/mocks"
	"tag_ingester/internal/storage/sqldb"
)

type BatchInserterTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller

	records   *mocks.MockRecordStore
	publisher *mocks.MockPublisher
	buffer    *buffer.WorkBuffer

	cfg    InserterConfig
	logger *slog.Logger
	ctx    context.Context
}

func (s *BatchInserterTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.ctx = context.Background()

	s.records = mocks.NewMockRecordStore(s.ctrl)
	s.publisher = mocks.NewMockPublisher(s.ctrl)
	s.buffer = buffer.New(0)

	s.cfg = InserterConfig{
		FlushInterval:  time.Millisecond,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (s *BatchInserterTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestBatchInserterTestSuite(t *testing.T) {
	suite.Run(t, new(BatchInserterTestSuite))
}

func (s *BatchInserterTestSuite) newInserter(publisher Publisher) *BatchInserter {
	inserter, err := NewBatchInserter(s.buffer, s.records, publisher, s.logger, s.cfg)
	s.Require().NoError(err)
	return inserter
}

func (s *BatchInserterTestSuite) TestNew_RejectsNonPositiveFlushInterval() {
	for _, interval := range []time.Duration{0, -time.Second} {
		s.cfg.FlushInterval = interval

		inserter, err := NewBatchInserter(s.buffer, s.records, nil, s.logger, s.cfg)

		var cfgErr *domain.ConfigError
		s.Require().True(errors.As(err, &cfgErr))
		s.Equal("ingest.flush_interval", cfgErr.Field)
		s.Nil(inserter)
	}
}

func sampleRecords(n int) []domain.Record {
	out := make([]domain.Record, n)
	for i := range out {
		out[i] = domain.Record{TopicID: 42, ItemID: int64(100 + i), Title: "t", PublishedAt: time.Unix(0, 0).UTC()}
	}
	return out
}

func (s *BatchInserterTestSuite) TestFlush_EmptyBufferSkipsStorage() {
	stats, err := s.newInserter(s.publisher).Flush(s.ctx)

	s.NoError(err)
	s.Equal(domain.FlushStats{}, stats)
}

func (s *BatchInserterTestSuite) TestFlush_InsertsAndPublishes() {
	batch := sampleRecords(3)
	s.buffer.Append(batch...)

	s.records.EXPECT().InsertBatch(s.ctx, batch).Return(2, nil)
	s.publisher.EXPECT().PublishFlush(s.ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, stats domain.FlushStats) error {
			s.Equal(3, stats.Presented)
			s.Equal(2, stats.Inserted)
			return nil
		},
	)

	stats, err := s.newInserter(s.publisher).Flush(s.ctx)

	s.NoError(err)
	s.Equal(3, stats.Presented)
	s.Equal(2, stats.Inserted)
	s.Equal(1, stats.Duplicates())
	s.Equal(1, stats.Attempts)
	s.Equal(0, s.buffer.Len())
}

func (s *BatchInserterTestSuite) TestFlush_NilPublisher() {
	s.buffer.Append(sampleRecords(1)...)
	s.records.EXPECT().InsertBatch(s.ctx, gomock.Any()).Return(1, nil)

	stats, err := s.newInserter(nil).Flush(s.ctx)

	s.NoError(err)
	s.Equal(1, stats.Inserted)
}

func (s *BatchInserterTestSuite) TestFlush_PublishFailureDoesNotFailFlush() {
	s.buffer.Append(sampleRecords(1)...)
	s.records.EXPECT().InsertBatch(s.ctx, gomock.Any()).Return(1, nil)
	s.publisher.EXPECT().PublishFlush(s.ctx, gomock.Any()).Return(errors.New("broker down"))

	_, err := s.newInserter(s.publisher).Flush(s.ctx)

	s.NoError(err)
}

func (s *BatchInserterTestSuite) TestFlush_RetriesThenSucceeds() {
	batch := sampleRecords(2)
	s.buffer.Append(batch...)

	gomock.InOrder(
		s.records.EXPECT().InsertBatch(s.ctx, batch).Return(0, &domain.StorageError{Op: "insert records", Err: errors.New("locked")}),
		s.records.EXPECT().InsertBatch(s.ctx, batch).Return(2, nil),
	)

	stats, err := s.newInserter(nil).Flush(s.ctx)

	s.NoError(err)
	s.Equal(2, stats.Attempts)
	s.Equal(2, stats.Inserted)
}

func (s *BatchInserterTestSuite) TestFlush_FailureRequeuesBatch() {
	batch := sampleRecords(2)
	s.buffer.Append(batch...)

	s.records.EXPECT().InsertBatch(s.ctx, batch).
		Return(0, &domain.StorageError{Op: "insert records", Err: errors.New("down")}).
		Times(3)

	stats, err := s.newInserter(s.publisher).Flush(s.ctx)

	var storageErr *domain.StorageError
	s.True(errors.As(err, &storageErr))
	s.Equal(3, stats.Attempts)
	s.Equal(2, stats.Requeued)
	s.Equal(0, stats.Dropped)
	s.Equal(batch, s.buffer.DrainAll())
}

func (s *BatchInserterTestSuite) TestFlush_RequeuedBatchIsRetriedNextFlush() {
	batch := sampleRecords(2)
	s.buffer.Append(batch...)
	inserter := s.newInserter(nil)

	s.records.EXPECT().InsertBatch(s.ctx, batch).
		Return(0, &domain.StorageError{Op: "insert records", Err: errors.New("down")}).
		Times(3)
	_, err := inserter.Flush(s.ctx)
	s.Error(err)

	late := sampleRecords(3)[2:]
	s.buffer.Append(late...)

	s.records.EXPECT().InsertBatch(s.ctx, append(append([]domain.Record{}, batch...), late...)).Return(3, nil)
	stats, err := inserter.Flush(s.ctx)

	s.NoError(err)
	s.Equal(3, stats.Inserted)
}

func (s *BatchInserterTestSuite) TestRun_FinalFlushOnShutdown() {
	s.cfg.FlushInterval = time.Hour
	s.buffer.Append(sampleRecords(2)...)

	s.records.EXPECT().InsertBatch(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, records []domain.Record) (int, error) {
			s.NoError(ctx.Err())
			return len(records), nil
		},
	)

	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		s.newInserter(nil).Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.Fail("inserter did not stop")
	}
	s.Equal(0, s.buffer.Len())
}

func (s *BatchInserterTestSuite) TestRun_FlushesOnTick() {
	s.buffer.Append(sampleRecords(1)...)

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	flushed := make(chan struct{})
	s.records.EXPECT().InsertBatch(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, []domain.Record) (int, error) {
			close(flushed)
			return 1, nil
		},
	)

	done := make(chan struct{})
	go func() {
		s.newInserter(nil).Run(ctx)
		close(done)
	}()

	select {
	case <-flushed:
	case <-time.After(5 * time.Second):
		s.Fail("no flush happened")
	}
	cancel()
	<-done
}

func TestBatchInserter_DuplicatesAcrossSnapshots(t *testing.T) {
	ctx := context.Background()
	db, err := sqldb.Open(ctx, sqldb.DriverSQLite, ":memory:")
	require.NoError(t, err)
	defer db.Close()

	buf := buffer.New(0)
	records := sqldb.NewRecordStore(db)
	inserter, err := NewBatchInserter(buf, records, nil, slog.New(slog.NewTextHandler(io.Discard, nil)), InserterConfig{
		FlushInterval: time.Second,
		MaxAttempts:   1,
	})
	require.NoError(t, err)

	published := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := domain.Record{TopicID: 42, ItemID: 100, Title: "A", PublishedAt: published}
	b := domain.Record{TopicID: 42, ItemID: 101, Title: "B", PublishedAt: published.Add(24 * time.Hour)}
	c := domain.Record{TopicID: 42, ItemID: 102, Title: "C", PublishedAt: published.Add(48 * time.Hour)}

	buf.Append(a, b)
	stats, err := inserter.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Inserted)

	buf.Append(a, b, c)
	stats, err = inserter.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Presented)
	assert.Equal(t, 1, stats.Inserted)
	assert.Equal(t, 2, stats.Duplicates())

	count, err := records.CountByTopic(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}
