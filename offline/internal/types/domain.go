package types

import "time"

// ------------------------------
// Queue & conflict domain
// ------------------------------

// Payload is the JSON object carried by a mutation or returned by the server.
type Payload map[string]any

// Clone returns a shallow copy of p. A nil payload stays nil.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Operation is the kind of change a mutation carries.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Valid reports whether o is one of create, update or delete.
func (o Operation) Valid() bool {
	switch o {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// PendingMutation is a locally queued change awaiting transmission.
type PendingMutation struct {
	ID         int64     `json:"id"`
	EntityType string    `json:"entityType"`
	Operation  Operation `json:"operation"`
	EntityID   string    `json:"entityId"`
	LocalID    string    `json:"localId,omitempty"`
	TripID     string    `json:"tripId,omitempty"`
	Data       Payload   `json:"data,omitempty"`
	Timestamp  int64     `json:"timestamp"` // client clock in ms; the local version
	RetryCount int       `json:"retryCount"`
}

// ConflictInfo describes a divergence between a queued mutation and the
// server's current copy. ServerData is nil when the server has no record.
type ConflictInfo struct {
	EntityType      string  `json:"entityType"`
	EntityID        string  `json:"entityId"`
	LocalID         string  `json:"localId,omitempty"`
	TripID          string  `json:"tripId,omitempty"`
	LocalData       Payload `json:"localData"`
	ServerData      Payload `json:"serverData"`
	LocalTimestamp  int64   `json:"localTimestamp"`
	ServerTimestamp int64   `json:"serverTimestamp"`
}

// ConflictStatus is the lifecycle state of a StoredConflict.
type ConflictStatus string

const (
	ConflictPending  ConflictStatus = "pending"
	ConflictResolved ConflictStatus = "resolved"
)

// Resolution names the side that wins a conflict.
type Resolution string

const (
	ResolutionNone   Resolution = ""
	ResolutionLocal  Resolution = "local"
	ResolutionServer Resolution = "server"
	ResolutionMerge  Resolution = "merge"
)

// Valid reports whether r is local, server or merge.
func (r Resolution) Valid() bool {
	switch r {
	case ResolutionLocal, ResolutionServer, ResolutionMerge:
		return true
	}
	return false
}

// StoredConflict is a durable conflict awaiting (or having received) a human
// decision.
type StoredConflict struct {
	ConflictInfo
	ID         string         `json:"id"`
	MutationID int64          `json:"mutationId,omitempty"`
	Operation  Operation      `json:"operation,omitempty"`
	Status     ConflictStatus `json:"status"`
	Resolution Resolution     `json:"resolution,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	ResolvedAt *time.Time     `json:"resolvedAt,omitempty"`
}

// DeadLetter is the audit record of a mutation dropped without succeeding.
type DeadLetter struct {
	ID             int64           `json:"id"`
	Mutation       PendingMutation `json:"mutation"`
	Reason         string          `json:"reason"`
	DeadLetteredAt time.Time       `json:"deadLetteredAt"`
}

// ------------------------------
// Pass results
// ------------------------------

// SyncStatus is the outcome of a sync pass.
type SyncStatus string

const (
	StatusComplete       SyncStatus = "complete"
	StatusPartial        SyncStatus = "partial"
	StatusOffline        SyncStatus = "offline"
	StatusError          SyncStatus = "error"
	StatusAlreadySyncing SyncStatus = "already-syncing"
)

// Machine-readable failure codes carried in SyncResult.Error.
const (
	ErrCodeCSRFRefreshFailed = "csrf-refresh-failed"
	ErrCodeQueueUnavailable  = "queue-unavailable"
)

// ScopeAll is the SyncResult.Scope of a full pass.
const ScopeAll = "all"

// SyncResult aggregates the outcome of one pass.
type SyncResult struct {
	Status       SyncStatus     `json:"status"`
	Synced       int            `json:"synced"`
	Failed       int            `json:"failed"`
	Conflicts    []ConflictInfo `json:"conflicts"`
	Error        string         `json:"error,omitempty"`
	Scope        string         `json:"scope,omitempty"`
	DeadLettered int            `json:"deadLettered,omitempty"`
	Deferred     int            `json:"deferred,omitempty"` // held behind an earlier conflict or failure on the same entity
	StartedAt    time.Time      `json:"startedAt"`
	Duration     time.Duration  `json:"duration"`
}
