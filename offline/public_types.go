package offline

import (
	"github.com/dsbaciga/captainslog/offline/internal/entity"
	"github.com/dsbaciga/captainslog/offline/internal/shardqueue"
	"github.com/dsbaciga/captainslog/offline/internal/types"
)

// Public type aliases so callers can import only the offline package.
type (
	Payload         = types.Payload
	Operation       = types.Operation
	PendingMutation = types.PendingMutation
	ConflictInfo    = types.ConflictInfo
	ConflictStatus  = types.ConflictStatus
	Resolution      = types.Resolution
	StoredConflict  = types.StoredConflict
	DeadLetter      = types.DeadLetter
	SyncStatus      = types.SyncStatus
	SyncResult      = types.SyncResult

	// SchedulerConfig tunes the executor behind ScheduleAutoSync.
	SchedulerConfig = shardqueue.Config
)

const (
	OpCreate = types.OpCreate
	OpUpdate = types.OpUpdate
	OpDelete = types.OpDelete

	ConflictPending  = types.ConflictPending
	ConflictResolved = types.ConflictResolved

	ResolutionNone   = types.ResolutionNone
	ResolutionLocal  = types.ResolutionLocal
	ResolutionServer = types.ResolutionServer
	ResolutionMerge  = types.ResolutionMerge

	StatusComplete       = types.StatusComplete
	StatusPartial        = types.StatusPartial
	StatusOffline        = types.StatusOffline
	StatusError          = types.StatusError
	StatusAlreadySyncing = types.StatusAlreadySyncing

	ErrCodeCSRFRefreshFailed = types.ErrCodeCSRFRefreshFailed
	ErrCodeQueueUnavailable  = types.ErrCodeQueueUnavailable

	ScopeAll = types.ScopeAll
)

// Dead-letter reasons recorded in the audit trail.
const (
	ReasonMaxRetries        = "max-retries"
	ReasonUnknownEntityType = "unknown-entity-type"
	ReasonInvalidOperation  = "invalid-operation"
)

// EntityTypes lists the queue entity type names the engine can push.
func EntityTypes() []string {
	kinds := entity.All()
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = k.String()
	}
	return out
}

// Endpoints lists the remote resource paths, one per entity type.
func Endpoints() []string {
	kinds := entity.All()
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = k.Endpoint()
	}
	return out
}
