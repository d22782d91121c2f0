package offline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	passesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "captainslog_sync",
			Name:      "passes_total",
			Help:      "Sync passes by scope kind and final status.",
		},
		[]string{"scope", "status"},
	)

	passDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "captainslog_sync",
			Name:      "pass_duration_seconds",
			Help:      "Wall time of sync passes that reached the server.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	mutationsSyncedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "captainslog_sync",
			Name:      "mutations_synced_total",
			Help:      "Mutations applied to the server and removed from the queue.",
		},
		[]string{"entity"},
	)

	mutationsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "captainslog_sync",
			Name:      "mutations_failed_total",
			Help:      "Mutation push attempts that failed, by error kind.",
		},
		[]string{"entity", "kind"},
	)

	mutationsDeadLetteredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "captainslog_sync",
			Name:      "mutations_dead_lettered_total",
			Help:      "Mutations dropped from the queue without succeeding.",
		},
		[]string{"entity", "reason"},
	)

	conflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "captainslog_sync",
			Name:      "conflicts_total",
			Help:      "Detected conflicts by outcome (local, merge, manual).",
		},
		[]string{"entity", "outcome"},
	)
)

// scopeLabel keeps the scope label bounded: trip ids are not labels.
func scopeLabel(scope string) string {
	if scope == ScopeAll {
		return ScopeAll
	}
	return "trip"
}
