package offline

import (
	"context"
	"errors"
	"fmt"

	"github.com/dsbaciga/captainslog/offline/internal/conflict"
	"github.com/dsbaciga/captainslog/offline/internal/entity"
)

// GetPendingConflicts lists conflicts awaiting a decision, oldest first.
func (e *Engine) GetPendingConflicts(ctx context.Context) ([]StoredConflict, error) {
	return e.conflicts.ListByStatus(ctx, ConflictPending)
}

// ResolveConflict applies a human decision to a stored conflict:
//
//   - local replays the queued change (PUT, or DELETE for deletes),
//   - merge PUTs the field-level merge of both sides,
//   - server writes nothing; the server copy stands.
//
// The conflict is then marked resolved and its originating mutation removed
// from the queue. Unknown or already resolved ids report false without an
// error. A failed write leaves the conflict pending.
//
// Later edits to the same entity wait in the queue while the conflict is
// pending. If one exists, local and merge write nothing for an update: the
// newer queued change carries the local state and goes out on the next pass.
//
// ResolveConflict shares the single-flight guard with sync passes and returns
// ErrSyncInProgress while one runs; callers may retry once it finishes.
func (e *Engine) ResolveConflict(ctx context.Context, conflictID string, resolution Resolution) (bool, error) {
	if !resolution.Valid() {
		return false, ErrInvalidResolution
	}
	if !e.acquire() {
		return false, ErrSyncInProgress
	}
	defer e.release()

	sc, err := e.conflicts.Get(ctx, conflictID)
	if errors.Is(err, ErrConflictNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	logger := e.log.With().
		Str("conflict_id", sc.ID).
		Str("entity_type", sc.EntityType).
		Str("entity_id", sc.EntityID).
		Str("resolution", string(resolution)).
		Logger()

	if sc.Status == ConflictResolved {
		logger.Warn().Msg("conflict already resolved")
		return false, nil
	}

	kind, ok := entity.Parse(sc.EntityType)
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownEntityType, sc.EntityType)
	}

	superseded := false
	if resolution != ResolutionServer && sc.Operation == OpUpdate {
		newer, err := e.queuedForEntity(ctx, PendingMutation{
			ID:         sc.MutationID,
			EntityType: sc.EntityType,
			EntityID:   sc.EntityID,
		}, func(o PendingMutation) bool { return o.Timestamp >= sc.LocalTimestamp })
		if err != nil {
			return false, err
		}
		if len(newer) > 0 {
			superseded = true
			logger.Info().
				Int64("superseded_by", newer[0].ID).
				Int("newer_changes", len(newer)).
				Msg("stale local payload superseded by a newer queued change, nothing written")
		}
	}

	if resolution != ResolutionServer && !superseded {
		if err := e.applyResolution(ctx, kind, sc, resolution); err != nil {
			logger.Error().Err(err).Msg("failed to apply conflict resolution")
			return false, err
		}
	}

	now := e.now()
	sc.Status = ConflictResolved
	sc.Resolution = resolution
	sc.ResolvedAt = &now
	if err := e.conflicts.Update(ctx, sc); err != nil {
		return false, fmt.Errorf("mark conflict resolved: %w", err)
	}
	conflictsTotal.WithLabelValues(kind.String(), "resolved_"+string(resolution)).Inc()

	if sc.MutationID != 0 {
		if err := e.queue.Delete(ctx, sc.MutationID); err != nil && !errors.Is(err, ErrMutationNotFound) {
			logger.Warn().Err(err).Int64("mutation_id", sc.MutationID).Msg("failed to remove resolved mutation")
		}
	}

	logger.Info().Msg("conflict resolved")
	return true, nil
}

func (e *Engine) applyResolution(ctx context.Context, kind entity.Kind, sc StoredConflict, resolution Resolution) error {
	if err := e.remote.RefreshCSRFToken(ctx); err != nil {
		return fmt.Errorf("%s: %w", ErrCodeCSRFRefreshFailed, err)
	}

	if sc.Operation == OpDelete {
		if sc.ServerData == nil {
			return nil
		}
		return e.remote.Delete(ctx, kind.Endpoint(), sc.EntityID)
	}

	data := sc.LocalData
	if resolution == ResolutionMerge {
		data = conflict.Merge(sc.LocalData, sc.ServerData)
	}
	return e.remote.Replace(ctx, kind.Endpoint(), sc.EntityID, data)
}
