package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"tag_ingester/internal/domain"
	"tag_ingester/internal/metrics"
)

type InserterConfig struct {
	FlushInterval     time.Duration
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	FinalFlushTimeout time.Duration
}

// BatchInserter periodically drains the work buffer into the record store.
type BatchInserter struct {
	buffer    Drainer
	records   RecordStore
	publisher Publisher
	config    InserterConfig
	logger    *slog.Logger
}

// NewBatchInserter creates an inserter. publisher may be nil. A
// non-positive FlushInterval is rejected with *domain.ConfigError.
func NewBatchInserter(
	buffer Drainer,
	records RecordStore,
	publisher Publisher,
	logger *slog.Logger,
	cfg InserterConfig,
) (*BatchInserter, error) {
	if cfg.FlushInterval <= 0 {
		return nil, &domain.ConfigError{Field: "ingest.flush_interval", Reason: "must be positive"}
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.FinalFlushTimeout <= 0 {
		cfg.FinalFlushTimeout = 30 * time.Second
	}
	return &BatchInserter{
		buffer:    buffer,
		records:   records,
		publisher: publisher,
		config:    cfg,
		logger:    logger.With("component", "inserter"),
	}, nil
}

// Run flushes every FlushInterval until ctx is done, then flushes once
// more so records enqueued before shutdown are not lost.
func (b *BatchInserter) Run(ctx context.Context) {
	b.logger.Info("inserter started", "interval", b.config.FlushInterval)

	ticker := time.NewTicker(b.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.config.FinalFlushTimeout)
			stats, err := b.Flush(finalCtx)
			cancel()
			if err != nil {
				b.logger.Error("final flush failed", "error", err, "pending", b.buffer.Len())
			}
			b.logger.Info("inserter stopped", "final_presented", stats.Presented, "final_inserted", stats.Inserted)
			return
		case <-ticker.C:
			_, _ = b.Flush(ctx)
		}
	}
}

// Flush drains the buffer and writes the drained records in one idempotent
// batch. On failure the batch is put back into the buffer.
func (b *BatchInserter) Flush(ctx context.Context) (domain.FlushStats, error) {
	start := time.Now()

	batch := b.buffer.DrainAll()
	if len(batch) == 0 {
		return domain.FlushStats{}, nil
	}

	stats := domain.FlushStats{Presented: len(batch)}
	b.logger.Debug("flushing records", "count", len(batch))

	inserted, err := backoff.RetryWithData(func() (int, error) {
		stats.Attempts++
		return b.records.InsertBatch(ctx, batch)
	}, b.retryPolicy(ctx))

	stats.Duration = time.Since(start)
	metrics.RecordsPresented.Add(float64(stats.Presented))

	if err != nil {
		stats.Dropped = b.buffer.Requeue(batch)
		stats.Requeued = len(batch) - stats.Dropped

		metrics.Flushes.WithLabelValues("error").Inc()
		metrics.RecordsDropped.Add(float64(stats.Dropped))
		metrics.BufferPending.Set(float64(b.buffer.Len()))

		b.logger.Error("flush failed, batch requeued",
			"presented", stats.Presented,
			"requeued", stats.Requeued,
			"dropped", stats.Dropped,
			"attempts", stats.Attempts,
			"error", err,
		)
		return stats, err
	}

	stats.Inserted = inserted

	metrics.Flushes.WithLabelValues("success").Inc()
	metrics.RecordsInserted.Add(float64(stats.Inserted))
	metrics.BufferPending.Set(float64(b.buffer.Len()))

	b.logger.Info("flush completed",
		"presented", stats.Presented,
		"inserted", stats.Inserted,
		"duplicates", stats.Duplicates(),
		"attempts", stats.Attempts,
		"duration", stats.Duration,
	)

	if b.publisher != nil {
		if err := b.publisher.PublishFlush(ctx, stats); err != nil {
			b.logger.Warn("failed to publish flush", "error", err)
		}
	}

	return stats, nil
}

func (b *BatchInserter) retryPolicy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = b.config.InitialBackoff
	exp.MaxInterval = b.config.MaxBackoff
	exp.MaxElapsedTime = 0
	exp.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(b.config.MaxAttempts-1)), ctx)
}
