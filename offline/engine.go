// Package offline reconciles locally queued mutations with the server.
//
// An Engine drains a MutationQueue in timestamp order. Before pushing an
// update or delete it checks whether the server copy moved on since the change
// was queued; such conflicts are resolved automatically when the outcome is
// clear and stored in a ConflictStore for a human otherwise. Failed pushes are
// retried on later passes and dead-lettered after MaxRetries attempts.
package offline

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dsbaciga/captainslog/offline/internal/api"
	"github.com/dsbaciga/captainslog/offline/internal/backoff"
	"github.com/dsbaciga/captainslog/offline/internal/conflict"
)

// DefaultMaxRetries is the number of failed pushes after which a mutation is
// dead-lettered.
const DefaultMaxRetries = 5

const (
	stateIdle int32 = iota
	stateSyncing
)

// Engine drives sync passes. It is safe for concurrent use; at most one pass
// (or manual retry/resolve) runs at a time and concurrent callers are
// rejected rather than queued.
type Engine struct {
	remote       Remote
	queue        MutationQueue
	conflicts    ConflictStore
	detector     *conflict.Detector
	connectivity Connectivity
	log          zerolog.Logger
	now          func() time.Time

	maxRetries          int
	settleDelay         time.Duration
	policy              backoff.Policy
	schedCfg            *SchedulerConfig
	conflictRetention   time.Duration
	deadLetterRetention time.Duration

	apiOpts []api.Option

	state     atomic.Int32
	listeners listenerSet
}

// New constructs an Engine that talks to the REST API at baseURL.
func New(baseURL string, queue MutationQueue, conflicts ConflictStore, opts ...Option) (*Engine, error) {
	if queue == nil {
		return nil, fmt.Errorf("mutation queue cannot be nil")
	}
	if conflicts == nil {
		return nil, fmt.Errorf("conflict store cannot be nil")
	}

	e := &Engine{
		queue:               queue,
		conflicts:           conflicts,
		log:                 log.Logger,
		now:                 time.Now,
		maxRetries:          DefaultMaxRetries,
		settleDelay:         2 * time.Second,
		policy:              backoff.Default,
		conflictRetention:   30 * 24 * time.Hour,
		deadLetterRetention: 30 * 24 * time.Hour,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}

	if e.remote == nil {
		c, err := api.New(baseURL, append([]api.Option{api.WithLogger(e.log)}, e.apiOpts...)...)
		if err != nil {
			return nil, err
		}
		e.remote = c
	}
	e.detector = conflict.NewDetector(e.remote, e.log)
	return e, nil
}

// IsSyncInProgress reports whether a pass is running.
func (e *Engine) IsSyncInProgress() bool { return e.state.Load() == stateSyncing }

func (e *Engine) acquire() bool { return e.state.CompareAndSwap(stateIdle, stateSyncing) }

func (e *Engine) release() { e.state.Store(stateIdle) }

// Ping probes the server health endpoint. Remotes without one are assumed
// reachable.
func (e *Engine) Ping(ctx context.Context) error {
	if p, ok := e.remote.(healthProber); ok {
		return p.Health(ctx)
	}
	return nil
}

// SyncAll pushes every queued mutation. It never returns an error; failures
// are folded into the result.
func (e *Engine) SyncAll(ctx context.Context) SyncResult {
	return e.sync(ctx, ScopeAll, e.queue.List)
}

// SyncTrip pushes the mutations of one trip and records the trip's
// last-synced time, even when some of them failed.
func (e *Engine) SyncTrip(ctx context.Context, tripID string) SyncResult {
	return e.sync(ctx, tripID, func(ctx context.Context) ([]PendingMutation, error) {
		return e.queue.ListByTrip(ctx, tripID)
	})
}

func (e *Engine) sync(ctx context.Context, scope string, list func(context.Context) ([]PendingMutation, error)) SyncResult {
	if !e.acquire() {
		return SyncResult{Status: StatusAlreadySyncing, Scope: scope, Conflicts: []ConflictInfo{}}
	}
	defer e.release()

	if e.connectivity != nil && !e.connectivity.Online() {
		passesTotal.WithLabelValues(scopeLabel(scope), string(StatusOffline)).Inc()
		return SyncResult{Status: StatusOffline, Scope: scope, Conflicts: []ConflictInfo{}}
	}

	start := e.now()
	res := SyncResult{Scope: scope, StartedAt: start, Conflicts: []ConflictInfo{}}
	logger := e.log.With().Str("scope", scope).Logger()

	if err := e.remote.RefreshCSRFToken(ctx); err != nil {
		logger.Error().Err(err).Msg("csrf token refresh failed, aborting sync pass")
		res.Status = StatusError
		res.Error = ErrCodeCSRFRefreshFailed
		e.finish(&res, start)
		return res
	}

	muts, err := list(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to read pending mutations")
		res.Status = StatusError
		res.Error = ErrCodeQueueUnavailable
		e.finish(&res, start)
		return res
	}
	sortByTimestamp(muts)
	logger.Debug().Int("pending", len(muts)).Msg("sync pass started")

	remap := map[string]string{}
	// entities whose earlier mutation is still queued after a conflict or
	// failure; later writes to them wait so they land in queue order
	held := map[string]struct{}{}
	for _, m := range muts {
		if ctx.Err() != nil {
			logger.Warn().Err(ctx.Err()).Msg("sync pass cancelled")
			break
		}
		applyRemap(&m, remap)

		key := entityKey(m)
		if _, ok := held[key]; ok && key != "" {
			res.Deferred++
			logger.Debug().Int64("mutation_id", m.ID).Str("entity", key).Msg("held behind earlier mutation of the same entity")
			continue
		}

		out := e.processChange(ctx, m)
		switch out.kind {
		case outcomeSynced:
			res.Synced++
			if out.serverID != "" {
				remap[localIDOf(m)] = out.serverID
			}
		case outcomeConflict:
			res.Conflicts = append(res.Conflicts, *out.conflict)
		case outcomeFailed:
			res.Failed++
		}
		if out.deadLettered {
			res.DeadLettered++
		} else if out.kind != outcomeSynced && key != "" {
			held[key] = struct{}{}
		}
	}

	switch {
	case res.Failed > 0 && res.Synced > 0:
		res.Status = StatusPartial
	case res.Failed > 0:
		res.Status = StatusError
	default:
		res.Status = StatusComplete
	}

	if scope != ScopeAll {
		if err := e.queue.SetTripLastSynced(ctx, scope, e.now()); err != nil {
			logger.Warn().Err(err).Msg("failed to record trip last-synced time")
		}
	}

	e.finish(&res, start)
	return res
}

// finish records metrics and notifies listeners.
func (e *Engine) finish(res *SyncResult, start time.Time) {
	res.Duration = e.now().Sub(start)
	passesTotal.WithLabelValues(scopeLabel(res.Scope), string(res.Status)).Inc()
	passDuration.Observe(res.Duration.Seconds())

	e.log.Info().
		Str("scope", res.Scope).
		Str("status", string(res.Status)).
		Int("synced", res.Synced).
		Int("failed", res.Failed).
		Int("conflicts", len(res.Conflicts)).
		Int("dead_lettered", res.DeadLettered).
		Int("deferred", res.Deferred).
		Str("error", res.Error).
		Dur("duration", res.Duration).
		Msg("sync pass finished")

	e.listeners.notify(*res, e.log)
}

// sortByTimestamp orders oldest first; equal timestamps keep queue order.
func sortByTimestamp(muts []PendingMutation) {
	sort.SliceStable(muts, func(i, j int) bool {
		return muts[i].Timestamp < muts[j].Timestamp
	})
}

// RetrySync resets the retry counter of one mutation and processes it
// immediately. It reports whether the mutation was applied and removed. A
// mutation queued behind an earlier change to the same entity is left alone
// and reports false; retry the earlier one first.
//
// RetrySync shares the single-flight guard with sync passes and returns
// ErrSyncInProgress while one runs.
func (e *Engine) RetrySync(ctx context.Context, mutationID int64) (bool, error) {
	if !e.acquire() {
		return false, ErrSyncInProgress
	}
	defer e.release()

	m, err := e.queue.Get(ctx, mutationID)
	if err != nil {
		return false, err
	}
	earlier, err := e.queuedForEntity(ctx, m, func(o PendingMutation) bool { return queuedBefore(o, m) })
	if err != nil {
		return false, err
	}
	if len(earlier) > 0 {
		e.log.Info().
			Int64("mutation_id", m.ID).
			Int64("blocked_by", earlier[0].ID).
			Msg("manual retry skipped: an earlier change to the same entity is still queued")
		return false, nil
	}
	if err := e.queue.ResetRetryCount(ctx, mutationID); err != nil {
		return false, err
	}
	m.RetryCount = 0

	if err := e.remote.RefreshCSRFToken(ctx); err != nil {
		return false, fmt.Errorf("%s: %w", ErrCodeCSRFRefreshFailed, err)
	}

	out := e.processChange(ctx, m)
	e.log.Info().
		Int64("mutation_id", m.ID).
		Str("entity_type", m.EntityType).
		Str("outcome", out.kind.String()).
		Msg("manual retry finished")
	return out.kind == outcomeSynced, nil
}

// CancelSync drops a mutation from the queue without sending it. A mutation
// already being pushed by a running pass is not interrupted.
func (e *Engine) CancelSync(ctx context.Context, mutationID int64) error {
	if err := e.queue.Delete(ctx, mutationID); err != nil {
		return err
	}
	e.log.Info().Int64("mutation_id", mutationID).Msg("pending mutation cancelled")
	return nil
}

// PruneReport counts the records removed by PruneHistory.
type PruneReport struct {
	Conflicts   int `json:"conflicts"`
	DeadLetters int `json:"deadLetters"`
}

// PruneHistory removes resolved conflicts and dead letters older than the
// configured retention. Stores without pruning support are skipped.
func (e *Engine) PruneHistory(ctx context.Context) (PruneReport, error) {
	var rep PruneReport
	now := e.now()

	if p, ok := e.conflicts.(conflictPruner); ok {
		n, err := p.PruneResolved(ctx, now.Add(-e.conflictRetention))
		if err != nil {
			return rep, fmt.Errorf("prune conflicts: %w", err)
		}
		rep.Conflicts = n
	}
	if p, ok := e.queue.(deadLetterPruner); ok {
		n, err := p.PruneDeadLetters(ctx, now.Add(-e.deadLetterRetention))
		if err != nil {
			return rep, fmt.Errorf("prune dead letters: %w", err)
		}
		rep.DeadLetters = n
	}

	e.log.Debug().Int("conflicts", rep.Conflicts).Int("dead_letters", rep.DeadLetters).Msg("history pruned")
	return rep, nil
}
