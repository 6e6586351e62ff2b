package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tag_ingester/internal/buffer"
	"tag_ingester/internal/cache"
	"tag_ingester/internal/config"
	"tag_ingester/internal/publisher"
	"tag_ingester/internal/scheduler"
	"tag_ingester/internal/service"
	"tag_ingester/internal/source/ao3"
	"tag_ingester/internal/source/feed"
	"tag_ingester/internal/storage/sqldb"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := setupLogger("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := sqldb.Open(ctx, cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to open database", "driver", cfg.Database.Driver, "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to database", "driver", cfg.Database.Driver)

	var topicCache service.TopicCache
	switch cfg.Cache.Type {
	case "redis":
		redisCache, err := cache.NewRedisCache(cfg.Cache.Address, cfg.Cache.Password, cfg.Cache.TTL, logger)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisCache.Close()
		topicCache = redisCache
	default:
		topicCache = cache.NewMemoryCache()
	}

	discoverer, err := ao3.New(ao3.Config{
		BaseURL:        cfg.Source.BaseURL,
		UserAgent:      cfg.Source.UserAgent,
		Timeout:        cfg.Source.Timeout,
		MinInterval:    cfg.Source.DiscoveryRate,
		MaxAttempts:    cfg.Source.Retry.MaxAttempts,
		InitialBackoff: cfg.Source.Retry.InitialBackoff,
		MaxBackoff:     cfg.Source.Retry.MaxBackoff,
	}, logger)
	if err != nil {
		logger.Error("failed to create discoverer", "error", err)
		os.Exit(1)
	}

	feeds := feed.NewClient(feed.Config{
		Timeout:   cfg.Ingest.FetchTimeout,
		UserAgent: cfg.Source.UserAgent,
	})

	var flushPublisher service.Publisher
	if cfg.RabbitMQ.Enabled {
		rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
		}, logger)
		if err != nil {
			logger.Error("failed to connect to rabbitmq", "error", err)
			os.Exit(1)
		}
		defer rabbitMQ.Close()
		flushPublisher = rabbitMQ
	}

	topicStore := sqldb.NewTopicStore(db)
	recordStore := sqldb.NewRecordStore(db)
	logStoredTopics(ctx, topicStore, recordStore, logger)

	resolver := service.NewTopicResolver(topicStore, discoverer, topicCache, logger)
	workBuffer := buffer.New(cfg.Ingest.MaxPending)

	inserter, err := service.NewBatchInserter(
		workBuffer,
		recordStore,
		flushPublisher,
		logger,
		service.InserterConfig{
			FlushInterval:  cfg.Ingest.FlushInterval,
			MaxAttempts:    cfg.Ingest.InsertRetry.MaxAttempts,
			InitialBackoff: cfg.Ingest.InsertRetry.InitialBackoff,
			MaxBackoff:     cfg.Ingest.InsertRetry.MaxBackoff,
		},
	)
	if err != nil {
		logger.Error("invalid inserter config", "error", err)
		os.Exit(1)
	}

	sched, err := scheduler.New(scheduler.Config{
		PollInterval: cfg.Ingest.PollInterval,
		FetchTimeout: cfg.Ingest.FetchTimeout,
		Topics:       cfg.Ingest.TrackedTopics(),
	}, resolver, feeds, workBuffer, inserter, logger)
	if err != nil {
		logger.Error("invalid scheduler config", "error", err)
		os.Exit(1)
	}

	metricsServer := startMetricsServer(cfg.Metrics.Address, logger)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	logger.Info("starting tag ingester",
		"tags", len(cfg.Ingest.Tags),
		"tag_ids", len(cfg.Ingest.TagIDs),
		"poll_interval", cfg.Ingest.PollInterval,
		"flush_interval", cfg.Ingest.FlushInterval,
	)

	err = sched.Start(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown failed", "error", err)
	}
	logStoredTopics(shutdownCtx, topicStore, recordStore, logger)

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("scheduler error", "error", err)
		os.Exit(1)
	}
}

// logStoredTopics reports every stored topic with its record count.
func logStoredTopics(ctx context.Context, topics *sqldb.TopicStore, records *sqldb.RecordStore, logger *slog.Logger) {
	stored, err := topics.List(ctx)
	if err != nil {
		logger.Warn("failed to list stored topics", "error", err)
		return
	}

	for _, topic := range stored {
		count, err := records.CountByTopic(ctx, topic.ID)
		if err != nil {
			logger.Warn("failed to count records", "topic_id", topic.ID, "error", err)
			continue
		}
		logger.Info("stored topic", "topic_id", topic.ID, "topic", topic.Name, "records", count)
	}
}

func startMetricsServer(addr string, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("metrics server listening", "address", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	return server
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
