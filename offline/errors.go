package offline

import (
	"errors"

	"github.com/dsbaciga/captainslog/offline/internal/types"
)

// ErrSyncInProgress is returned by operations that need the engine idle while
// a sync pass is running.
var ErrSyncInProgress = errors.New("sync already in progress")

// ErrUnknownEntityType reports an entity type with no remote endpoint.
var ErrUnknownEntityType = errors.New("unknown entity type")

// ErrInvalidResolution reports a resolution other than local, server or merge.
var ErrInvalidResolution = errors.New("invalid conflict resolution")

// Re-export shared store errors so callers compare against a single symbol.
var (
	ErrMutationNotFound = types.ErrMutationNotFound
	ErrConflictNotFound = types.ErrConflictNotFound
)
