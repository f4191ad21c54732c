// Package metrics registers the Prometheus collectors exported on
// /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsAppended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatstore_events_appended_total",
		Help: "Events appended across all chat logs.",
	})

	MessagesPushed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatstore_messages_pushed_total",
		Help: "Messages accepted by push, duplicates excluded.",
	})

	EventsPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatstore_events_pruned_total",
		Help: "Events removed by TTL pruning.",
	})

	RetentionRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatstore_retention_runs_total",
		Help: "Completed retention sweeps.",
	})

	PrizeOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatstore_prize_outcomes_total",
		Help: "Prize reserve/claim outcomes by result.",
	}, []string{"op", "outcome"})

	SwapOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatstore_swap_outcomes_total",
		Help: "Swap state transition outcomes by result.",
	}, []string{"op", "outcome"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chatstore_http_request_duration_seconds",
		Help:    "HTTP request latency by route and status class.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "status"})

	StoreDiskBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatstore_store_disk_bytes",
		Help: "Bytes used on disk by the Pebble store.",
	})
)
