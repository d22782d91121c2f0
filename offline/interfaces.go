package offline

import (
	"context"
	"time"
)

// MutationQueue is the persistent, ordered collection of pending changes.
// Get, Delete, IncrementRetryCount and ResetRetryCount return
// ErrMutationNotFound for unknown ids.
type MutationQueue interface {
	List(ctx context.Context) ([]PendingMutation, error)
	ListByTrip(ctx context.Context, tripID string) ([]PendingMutation, error)
	Get(ctx context.Context, id int64) (PendingMutation, error)
	Delete(ctx context.Context, id int64) error
	// IncrementRetryCount bumps the counter and returns its new value.
	IncrementRetryCount(ctx context.Context, id int64) (int, error)
	ResetRetryCount(ctx context.Context, id int64) error
	SetTripLastSynced(ctx context.Context, tripID string, at time.Time) error
}

// ConflictStore durably records conflicts awaiting a human decision. Get
// returns ErrConflictNotFound for unknown ids.
type ConflictStore interface {
	// Append stores c, assigning ID and CreatedAt when empty.
	Append(ctx context.Context, c StoredConflict) (StoredConflict, error)
	ListByStatus(ctx context.Context, status ConflictStatus) ([]StoredConflict, error)
	Get(ctx context.Context, id string) (StoredConflict, error)
	Update(ctx context.Context, c StoredConflict) error
}

// Remote is the server side of a sync pass.
type Remote interface {
	RefreshCSRFToken(ctx context.Context) error
	Get(ctx context.Context, endpoint, id string) (Payload, error)
	Create(ctx context.Context, endpoint string, data Payload) (Payload, error)
	Replace(ctx context.Context, endpoint, id string, data Payload) error
	Delete(ctx context.Context, endpoint, id string) error
}

// Connectivity reports whether the device can currently reach the server.
type Connectivity interface {
	Online() bool
}

// Trigger is a signal source for ScheduleAutoSync, e.g. connectivity restored
// or app foregrounded. Subscribe returns a function removing the subscription.
type Trigger interface {
	Subscribe(fn func()) (unsubscribe func())
}

// TriggerFunc adapts a function to a Trigger.
type TriggerFunc func(fn func()) func()

// Subscribe implements Trigger.
func (f TriggerFunc) Subscribe(fn func()) func() { return f(fn) }

// Optional capabilities. The SQLite queue and conflict store implement all of
// them; other implementations fall back to plain deletes and no dedupe.
type (
	deadLetterer interface {
		// DeadLetter records m in the audit trail and removes it from the queue.
		DeadLetter(ctx context.Context, m PendingMutation, reason string) error
	}
	idRemapper interface {
		// RemapEntityID rewrites queued references to localID, returning how
		// many mutations changed.
		RemapEntityID(ctx context.Context, localID, serverID string) (int, error)
	}
	pendingFinder interface {
		FindPending(ctx context.Context, mutationID int64) (StoredConflict, bool, error)
	}
	conflictPruner interface {
		PruneResolved(ctx context.Context, before time.Time) (int, error)
	}
	deadLetterPruner interface {
		PruneDeadLetters(ctx context.Context, before time.Time) (int, error)
	}
	healthProber interface {
		Health(ctx context.Context) error
	}
)
