package offline

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/dsbaciga/captainslog/offline/internal/conflict"
	"github.com/dsbaciga/captainslog/offline/internal/entity"
	sferrors "github.com/dsbaciga/captainslog/offline/internal/errors"
)

type outcomeKind int

const (
	outcomeSynced outcomeKind = iota
	outcomeConflict
	outcomeFailed
)

func (k outcomeKind) String() string {
	switch k {
	case outcomeSynced:
		return "synced"
	case outcomeConflict:
		return "conflict"
	default:
		return "failed"
	}
}

type outcome struct {
	kind         outcomeKind
	conflict     *ConflictInfo
	serverID     string // id assigned by the server to a created entity
	deadLettered bool
}

func (e *Engine) mutationLogger(m PendingMutation) zerolog.Logger {
	return e.log.With().
		Int64("mutation_id", m.ID).
		Str("entity_type", m.EntityType).
		Str("operation", string(m.Operation)).
		Str("entity_id", m.EntityID).
		Str("trip_id", m.TripID).
		Logger()
}

// processChange applies one mutation: conflict check for updates and deletes,
// then push, then queue bookkeeping.
func (e *Engine) processChange(ctx context.Context, m PendingMutation) outcome {
	logger := e.mutationLogger(m)

	kind, ok := entity.Parse(m.EntityType)
	if !ok {
		logger.Error().Msg("no endpoint for entity type, dropping mutation")
		return outcome{kind: outcomeFailed, deadLettered: e.deadLetter(ctx, m, ReasonUnknownEntityType)}
	}
	if !m.Operation.Valid() {
		logger.Error().Msg("invalid operation, dropping mutation")
		return outcome{kind: outcomeFailed, deadLettered: e.deadLetter(ctx, m, ReasonInvalidOperation)}
	}

	if m.Operation == OpUpdate || m.Operation == OpDelete {
		if c := e.detector.Detect(ctx, kind, m); c != nil {
			return e.handleConflict(ctx, kind, m, *c)
		}
	}

	created, err := e.push(ctx, kind, m.Operation, m, m.Data)
	if err != nil {
		return e.recordFailure(ctx, kind, m, err)
	}
	return e.complete(ctx, kind, m, created)
}

// handleConflict applies an automatic resolution or stores the conflict for a
// human. Stored conflicts leave the mutation queued.
func (e *Engine) handleConflict(ctx context.Context, kind entity.Kind, m PendingMutation, c ConflictInfo) outcome {
	logger := e.mutationLogger(m)
	res := conflict.AutoResolve(c)

	switch res {
	case ResolutionLocal:
		conflictsTotal.WithLabelValues(kind.String(), "local").Inc()
		if c.ServerData == nil && m.Operation == OpDelete {
			logger.Debug().Msg("entity already gone on server, delete complete")
			return e.complete(ctx, kind, m, nil)
		}
		if _, err := e.push(ctx, kind, m.Operation, m, m.Data); err != nil {
			return e.recordFailure(ctx, kind, m, err)
		}
		return e.complete(ctx, kind, m, nil)

	case ResolutionMerge:
		conflictsTotal.WithLabelValues(kind.String(), "merge").Inc()
		data := m.Data
		if m.Operation != OpDelete {
			data = conflict.Merge(m.Data, c.ServerData)
		}
		if _, err := e.push(ctx, kind, m.Operation, m, data); err != nil {
			return e.recordFailure(ctx, kind, m, err)
		}
		return e.complete(ctx, kind, m, nil)
	}

	conflictsTotal.WithLabelValues(kind.String(), "manual").Inc()
	if err := e.storeConflict(ctx, m, c); err != nil {
		logger.Error().Err(err).Msg("failed to persist conflict")
	}
	logger.Info().
		Int64("local_ts", c.LocalTimestamp).
		Int64("server_ts", c.ServerTimestamp).
		Msg("conflict needs manual resolution")
	return outcome{kind: outcomeConflict, conflict: &c}
}

// storeConflict appends a pending conflict unless one is already pending for
// the same mutation.
func (e *Engine) storeConflict(ctx context.Context, m PendingMutation, c ConflictInfo) error {
	if f, ok := e.conflicts.(pendingFinder); ok {
		existing, found, err := f.FindPending(ctx, m.ID)
		if err != nil {
			return err
		}
		if found {
			existing.ServerData = c.ServerData
			existing.ServerTimestamp = c.ServerTimestamp
			existing.LocalData = c.LocalData
			existing.LocalTimestamp = c.LocalTimestamp
			return e.conflicts.Update(ctx, existing)
		}
	}
	_, err := e.conflicts.Append(ctx, StoredConflict{
		ConflictInfo: c,
		MutationID:   m.ID,
		Operation:    m.Operation,
		Status:       ConflictPending,
		CreatedAt:    e.now(),
	})
	return err
}

// push sends one write. Creates return the entity the server sent back.
func (e *Engine) push(ctx context.Context, kind entity.Kind, op Operation, m PendingMutation, data Payload) (Payload, error) {
	switch op {
	case OpCreate:
		body := data.Clone()
		if kind.InjectsTripID() && m.TripID != "" {
			if body == nil {
				body = Payload{}
			}
			body["tripId"] = m.TripID
		}
		return e.remote.Create(ctx, kind.Endpoint(), body)
	case OpUpdate:
		return nil, e.remote.Replace(ctx, kind.Endpoint(), m.EntityID, data)
	case OpDelete:
		return nil, e.remote.Delete(ctx, kind.Endpoint(), m.EntityID)
	}
	return nil, fmt.Errorf("unsupported operation %q", op)
}

// complete removes a synced mutation and remaps later references to a
// created entity's temporary id.
func (e *Engine) complete(ctx context.Context, kind entity.Kind, m PendingMutation, created Payload) outcome {
	logger := e.mutationLogger(m)
	mutationsSyncedTotal.WithLabelValues(kind.String()).Inc()

	if err := e.queue.Delete(ctx, m.ID); err != nil && !errors.Is(err, ErrMutationNotFound) {
		// the write went through; the next pass will see a stale entry and
		// resolve it through conflict detection
		logger.Error().Err(err).Msg("failed to remove synced mutation")
	}

	out := outcome{kind: outcomeSynced}
	if m.Operation != OpCreate || created == nil {
		return out
	}
	serverID := idOf(created)
	localID := localIDOf(m)
	if serverID == "" || localID == "" || serverID == localID {
		return out
	}
	out.serverID = serverID

	if r, ok := e.queue.(idRemapper); ok {
		n, err := r.RemapEntityID(ctx, localID, serverID)
		if err != nil {
			logger.Error().Err(err).Str("server_id", serverID).Msg("failed to remap local id")
		} else if n > 0 {
			logger.Debug().Str("local_id", localID).Str("server_id", serverID).Int("mutations", n).Msg("remapped local id")
		}
	}
	return out
}

// recordFailure bumps the retry counter and dead-letters the mutation once it
// reaches maxRetries.
func (e *Engine) recordFailure(ctx context.Context, kind entity.Kind, m PendingMutation, pushErr error) outcome {
	logger := e.mutationLogger(m)
	errKind := sferrors.Kind(pushErr)
	mutationsFailedTotal.WithLabelValues(kind.String(), errKind).Inc()

	count, err := e.queue.IncrementRetryCount(ctx, m.ID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to record retry")
		return outcome{kind: outcomeFailed}
	}

	ev := logger.Warn()
	switch {
	case sferrors.IsConflict(pushErr):
		ev = ev.Bool("server_conflict", true)
	case sferrors.IsAuthExpired(pushErr):
		ev = ev.Bool("auth_expired", true)
	}
	ev.Err(pushErr).Str("error_kind", errKind).Int("retry_count", count).Msg("push failed")

	if count < e.maxRetries {
		return outcome{kind: outcomeFailed}
	}
	m.RetryCount = count
	return outcome{kind: outcomeFailed, deadLettered: e.deadLetter(ctx, m, ReasonMaxRetries)}
}

// deadLetter removes m permanently. It reports whether the removal happened.
func (e *Engine) deadLetter(ctx context.Context, m PendingMutation, reason string) bool {
	logger := e.mutationLogger(m)

	var err error
	if d, ok := e.queue.(deadLetterer); ok {
		err = d.DeadLetter(ctx, m, reason)
	} else {
		err = e.queue.Delete(ctx, m.ID)
	}
	if err != nil {
		logger.Error().Err(err).Str("reason", reason).Msg("failed to dead-letter mutation")
		return false
	}

	label := m.EntityType
	if _, ok := entity.Parse(label); !ok {
		label = "unknown"
	}
	mutationsDeadLetteredTotal.WithLabelValues(label, reason).Inc()
	logger.Error().Str("reason", reason).Int("retry_count", m.RetryCount).Msg("mutation dead-lettered")
	return true
}

// localIDOf is the temporary id other mutations use for an entity created
// offline.
func localIDOf(m PendingMutation) string {
	if m.LocalID != "" {
		return m.LocalID
	}
	return m.EntityID
}

// entityKey identifies the entity a mutation writes to. Creates that have no
// entity id yet use their temporary id, which later mutations reference.
func entityKey(m PendingMutation) string {
	id := m.EntityID
	if id == "" {
		id = m.LocalID
	}
	if id == "" {
		return ""
	}
	return m.EntityType + "/" + id
}

// queuedBefore reports whether a precedes b in push order.
func queuedBefore(a, b PendingMutation) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp < b.Timestamp
	}
	return a.ID < b.ID
}

// queuedForEntity returns the other queued mutations of m's entity that match
// keep, in push order.
func (e *Engine) queuedForEntity(ctx context.Context, m PendingMutation, keep func(PendingMutation) bool) ([]PendingMutation, error) {
	key := entityKey(m)
	if key == "" {
		return nil, nil
	}
	all, err := e.queue.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list queued mutations: %w", err)
	}
	var out []PendingMutation
	for _, o := range all {
		if o.ID != m.ID && entityKey(o) == key && keep(o) {
			out = append(out, o)
		}
	}
	sortByTimestamp(out)
	return out, nil
}

func applyRemap(m *PendingMutation, remap map[string]string) {
	if len(remap) == 0 {
		return
	}
	if id, ok := remap[m.EntityID]; ok {
		m.EntityID = id
	}
	if id, ok := remap[m.TripID]; ok {
		m.TripID = id
	}
}

func idOf(p Payload) string {
	switch v := p["id"].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	}
	return ""
}
