// Package metrics declares the Prometheus collectors of the ingestion
// pipeline. They register with the default registry on import.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FeedFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tag_ingester_feed_fetches_total",
		Help: "The total number of feed fetches",
	}, []string{"topic", "status"})

	EntriesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tag_ingester_entries_fetched_total",
		Help: "The total number of feed entries enqueued",
	}, []string{"topic"})

	PollersFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tag_ingester_pollers_failed_total",
		Help: "The number of pollers that stopped because their topic could not be resolved",
	})

	PollersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tag_ingester_pollers_active",
		Help: "The number of running topic pollers",
	})

	DiscoveryRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tag_ingester_discovery_requests_total",
		Help: "The total number of topic discovery lookups",
	}, []string{"status"})

	Flushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tag_ingester_flushes_total",
		Help: "The total number of non-empty buffer flushes",
	}, []string{"status"})

	RecordsPresented = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tag_ingester_records_presented_total",
		Help: "The total number of records handed to storage",
	})

	RecordsInserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tag_ingester_records_inserted_total",
		Help: "The total number of records newly stored",
	})

	RecordsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tag_ingester_records_dropped_total",
		Help: "The total number of records discarded because the buffer was full",
	})

	BufferPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tag_ingester_buffer_pending",
		Help: "The number of records waiting in the work buffer after the last flush",
	})
)
