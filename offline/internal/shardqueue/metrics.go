package shardqueue

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// queueDepth is only updated in the worker goroutine, so it has a single writer.
var (
	submissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "captainslog_sync",
			Subsystem: "scheduler",
			Name:      "submissions_total",
			Help:      "Sync jobs accepted for execution.",
		},
		[]string{"shard"},
	)

	queueFullTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "captainslog_sync",
			Subsystem: "scheduler",
			Name:      "queue_full_total",
			Help:      "Enqueue attempts that timed out because the shard queue was full.",
		},
		[]string{"shard"},
	)

	retriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "captainslog_sync",
			Subsystem: "scheduler",
			Name:      "retries_total",
			Help:      "Job attempts retried after a recoverable error.",
		},
		[]string{"shard"},
	)

	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "captainslog_sync",
			Subsystem: "scheduler",
			Name:      "run_duration_seconds",
			Help:      "Job execution latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"shard"},
	)

	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "captainslog_sync",
			Subsystem: "scheduler",
			Name:      "queue_depth",
			Help:      "Current depth of each shard queue.",
		},
		[]string{"shard"},
	)
)

func labelFor(i int) string { return strconv.Itoa(i) }
