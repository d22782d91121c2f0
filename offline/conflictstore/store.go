// Package conflictstore persists conflicts that need a human decision.
package conflictstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dsbaciga/captainslog/offline/internal/types"
)

const conflictColumns = `id, mutation_id, operation, entity_type, entity_id, local_id, trip_id,
local_data, server_data, local_timestamp, server_timestamp, status, resolution, created_at, resolved_at`

const (
	insertConflictSQL = `
INSERT INTO conflicts (` + conflictColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	updateConflictSQL = `
UPDATE conflicts SET local_data = ?, server_data = ?, local_timestamp = ?, server_timestamp = ?,
status = ?, resolution = ?, resolved_at = ?
WHERE id = ?`

	getConflictSQL   = `SELECT ` + conflictColumns + ` FROM conflicts WHERE id = ?`
	listByStatusSQL  = `SELECT ` + conflictColumns + ` FROM conflicts WHERE status = ? ORDER BY created_at ASC, id ASC`
	findPendingSQL   = `SELECT ` + conflictColumns + ` FROM conflicts WHERE status = 'pending' AND mutation_id = ? ORDER BY created_at ASC LIMIT 1`
	pruneResolvedSQL = `DELETE FROM conflicts WHERE status = 'resolved' AND resolved_at < ?`
	currentStatusSQL = `SELECT status FROM conflicts WHERE id = ?`
)

// ErrAlreadyResolved is returned when an update would move a resolved
// conflict back to pending.
var ErrAlreadyResolved = errors.New("conflict already resolved")

// SQLiteStore implements the engine's ConflictStore.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// New wraps an open database. The schema must already exist.
func New(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

// Append stores c, assigning a random ID and CreatedAt when empty. The status
// defaults to pending.
func (s *SQLiteStore) Append(ctx context.Context, c types.StoredConflict) (types.StoredConflict, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	if c.Status == "" {
		c.Status = types.ConflictPending
	}
	local, err := encode(c.LocalData)
	if err != nil {
		return c, err
	}
	server, err := encode(c.ServerData)
	if err != nil {
		return c, err
	}

	_, err = s.db.ExecContext(ctx, insertConflictSQL,
		c.ID, c.MutationID, string(c.Operation), c.EntityType, c.EntityID, c.LocalID, c.TripID,
		local, server, c.LocalTimestamp, c.ServerTimestamp,
		string(c.Status), string(c.Resolution), c.CreatedAt.UnixMilli(), millis(c.ResolvedAt))
	if err != nil {
		return c, fmt.Errorf("append conflict: %w", err)
	}
	return c, nil
}

// ListByStatus returns conflicts with the given status, oldest first.
func (s *SQLiteStore) ListByStatus(ctx context.Context, status types.ConflictStatus) ([]types.StoredConflict, error) {
	rows, err := s.db.QueryContext(ctx, listByStatusSQL, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []types.StoredConflict{}
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Get returns one conflict or types.ErrConflictNotFound.
func (s *SQLiteStore) Get(ctx context.Context, id string) (types.StoredConflict, error) {
	c, err := scanConflict(s.db.QueryRowContext(ctx, getConflictSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return c, types.ErrConflictNotFound
	}
	return c, err
}

// FindPending returns the pending conflict recorded for mutationID, if any.
func (s *SQLiteStore) FindPending(ctx context.Context, mutationID int64) (types.StoredConflict, bool, error) {
	c, err := scanConflict(s.db.QueryRowContext(ctx, findPendingSQL, mutationID))
	if errors.Is(err, sql.ErrNoRows) {
		return c, false, nil
	}
	if err != nil {
		return c, false, err
	}
	return c, true, nil
}

// Update writes the mutable fields of c: both payloads and timestamps, status,
// resolution and resolvedAt. A resolved conflict never returns to pending.
func (s *SQLiteStore) Update(ctx context.Context, c types.StoredConflict) error {
	local, err := encode(c.LocalData)
	if err != nil {
		return err
	}
	server, err := encode(c.ServerData)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, currentStatusSQL, c.ID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return types.ErrConflictNotFound
	}
	if err != nil {
		return err
	}
	if types.ConflictStatus(current) == types.ConflictResolved {
		return ErrAlreadyResolved
	}

	if _, err := tx.ExecContext(ctx, updateConflictSQL,
		local, server, c.LocalTimestamp, c.ServerTimestamp,
		string(c.Status), string(c.Resolution), millis(c.ResolvedAt), c.ID); err != nil {
		return fmt.Errorf("update conflict: %w", err)
	}
	return tx.Commit()
}

// PruneResolved deletes resolved conflicts resolved before the cutoff.
// Pending conflicts are never pruned.
func (s *SQLiteStore) PruneResolved(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, pruneResolvedSQL, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConflict(sc scanner) (types.StoredConflict, error) {
	var (
		c                      types.StoredConflict
		op, status, resolution string
		local, server          sql.NullString
		createdMS, resolvedMS  int64
	)
	if err := sc.Scan(&c.ID, &c.MutationID, &op, &c.EntityType, &c.EntityID, &c.LocalID, &c.TripID,
		&local, &server, &c.LocalTimestamp, &c.ServerTimestamp, &status, &resolution, &createdMS, &resolvedMS); err != nil {
		return c, err
	}
	c.Operation = types.Operation(op)
	c.Status = types.ConflictStatus(status)
	c.Resolution = types.Resolution(resolution)
	c.CreatedAt = time.UnixMilli(createdMS)
	if resolvedMS > 0 {
		t := time.UnixMilli(resolvedMS)
		c.ResolvedAt = &t
	}

	var err error
	if c.LocalData, err = decode(local); err != nil {
		return c, err
	}
	if c.ServerData, err = decode(server); err != nil {
		return c, err
	}
	return c, nil
}

func millis(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.UnixMilli()
}

func encode(p types.Payload) (sql.NullString, error) {
	if p == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode payload: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decode(s sql.NullString) (types.Payload, error) {
	if !s.Valid || s.String == "" || s.String == "null" {
		return nil, nil
	}
	var p types.Payload
	if err := json.Unmarshal([]byte(s.String), &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return p, nil
}
