// Package queue is the SQLite-backed pending mutation queue, including the
// per-trip sync markers and the dead-letter audit trail.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dsbaciga/captainslog/offline/internal/types"
)

const mutationColumns = `id, entity_type, operation, entity_id, local_id, trip_id, data, timestamp, retry_count`

const (
	insertMutationSQL = `
INSERT INTO pending_mutations (entity_type, operation, entity_id, local_id, trip_id, data, timestamp, retry_count)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	listMutationsSQL     = `SELECT ` + mutationColumns + ` FROM pending_mutations ORDER BY timestamp ASC, id ASC`
	listTripMutationsSQL = `SELECT ` + mutationColumns + ` FROM pending_mutations WHERE trip_id = ? ORDER BY timestamp ASC, id ASC`
	getMutationSQL       = `SELECT ` + mutationColumns + ` FROM pending_mutations WHERE id = ?`
	deleteMutationSQL    = `DELETE FROM pending_mutations WHERE id = ?`
	incrementRetrySQL    = `UPDATE pending_mutations SET retry_count = retry_count + 1 WHERE id = ? RETURNING retry_count`
	resetRetrySQL        = `UPDATE pending_mutations SET retry_count = 0 WHERE id = ?`
	countMutationsSQL    = `SELECT COUNT(*) FROM pending_mutations`
	remapEntityIDSQL     = `UPDATE pending_mutations SET entity_id = ? WHERE entity_id = ?`
	remapTripIDSQL       = `UPDATE pending_mutations SET trip_id = ? WHERE trip_id = ?`

	upsertTripSyncedSQL = `
INSERT INTO trip_sync_state (trip_id, last_synced_at) VALUES (?, ?)
ON CONFLICT(trip_id) DO UPDATE SET last_synced_at = excluded.last_synced_at`

	getTripSyncedSQL = `SELECT last_synced_at FROM trip_sync_state WHERE trip_id = ?`

	insertDeadLetterSQL = `
INSERT INTO dead_letters (mutation_id, entity_type, operation, entity_id, local_id, trip_id, data, timestamp, retry_count, reason, dead_lettered_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	listDeadLettersSQL = `
SELECT id, mutation_id, entity_type, operation, entity_id, local_id, trip_id, data, timestamp, retry_count, reason, dead_lettered_at
FROM dead_letters ORDER BY dead_lettered_at DESC, id DESC`

	pruneDeadLettersSQL = `DELETE FROM dead_letters WHERE dead_lettered_at < ?`
)

// SQLiteQueue implements the engine's MutationQueue on the schema created by
// localstate.EnsureSchema.
type SQLiteQueue struct {
	db  *sql.DB
	now func() time.Time
}

// New wraps an open database. The schema must already exist.
func New(db *sql.DB) *SQLiteQueue {
	return &SQLiteQueue{db: db, now: time.Now}
}

// Enqueue appends m and returns it with its assigned ID. A zero Timestamp is
// set to the current time in milliseconds.
func (q *SQLiteQueue) Enqueue(ctx context.Context, m types.PendingMutation) (types.PendingMutation, error) {
	if m.EntityType == "" {
		return m, fmt.Errorf("entity type is required")
	}
	if !m.Operation.Valid() {
		return m, fmt.Errorf("invalid operation %q", m.Operation)
	}
	if m.Operation != types.OpCreate && m.EntityID == "" {
		return m, fmt.Errorf("entity id is required for %s", m.Operation)
	}
	if m.Timestamp == 0 {
		m.Timestamp = q.now().UnixMilli()
	}
	data, err := encodePayload(m.Data)
	if err != nil {
		return m, err
	}

	res, err := q.db.ExecContext(ctx, insertMutationSQL,
		m.EntityType, string(m.Operation), m.EntityID, m.LocalID, m.TripID, data, m.Timestamp, m.RetryCount)
	if err != nil {
		return m, fmt.Errorf("enqueue mutation: %w", err)
	}
	if m.ID, err = res.LastInsertId(); err != nil {
		return m, err
	}
	return m, nil
}

// List returns every pending mutation, oldest first.
func (q *SQLiteQueue) List(ctx context.Context) ([]types.PendingMutation, error) {
	return q.query(ctx, listMutationsSQL)
}

// ListByTrip returns the pending mutations tagged with tripID, oldest first.
func (q *SQLiteQueue) ListByTrip(ctx context.Context, tripID string) ([]types.PendingMutation, error) {
	return q.query(ctx, listTripMutationsSQL, tripID)
}

func (q *SQLiteQueue) query(ctx context.Context, stmt string, args ...any) ([]types.PendingMutation, error) {
	rows, err := q.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.PendingMutation
	for rows.Next() {
		m, err := scanMutation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Get returns one mutation or types.ErrMutationNotFound.
func (q *SQLiteQueue) Get(ctx context.Context, id int64) (types.PendingMutation, error) {
	m, err := scanMutation(q.db.QueryRowContext(ctx, getMutationSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return m, types.ErrMutationNotFound
	}
	return m, err
}

// Len returns the number of pending mutations.
func (q *SQLiteQueue) Len(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, countMutationsSQL).Scan(&n)
	return n, err
}

// Delete removes one mutation.
func (q *SQLiteQueue) Delete(ctx context.Context, id int64) error {
	res, err := q.db.ExecContext(ctx, deleteMutationSQL, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// IncrementRetryCount bumps the counter and returns its new value.
func (q *SQLiteQueue) IncrementRetryCount(ctx context.Context, id int64) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, incrementRetrySQL, id).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, types.ErrMutationNotFound
	}
	return n, err
}

// ResetRetryCount sets the counter back to zero.
func (q *SQLiteQueue) ResetRetryCount(ctx context.Context, id int64) error {
	res, err := q.db.ExecContext(ctx, resetRetrySQL, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// SetTripLastSynced records when tripID last finished a sync pass.
func (q *SQLiteQueue) SetTripLastSynced(ctx context.Context, tripID string, at time.Time) error {
	_, err := q.db.ExecContext(ctx, upsertTripSyncedSQL, tripID, at.UnixMilli())
	return err
}

// TripLastSynced returns the marker set by SetTripLastSynced; ok is false if
// the trip was never synced.
func (q *SQLiteQueue) TripLastSynced(ctx context.Context, tripID string) (at time.Time, ok bool, err error) {
	var ms int64
	err = q.db.QueryRowContext(ctx, getTripSyncedSQL, tripID).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

// RemapEntityID points queued mutations that reference localID (as entity or
// trip) at serverID. It returns the number of rows changed.
func (q *SQLiteQueue) RemapEntityID(ctx context.Context, localID, serverID string) (int, error) {
	if localID == "" || serverID == "" || localID == serverID {
		return 0, nil
	}
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	total := 0
	for _, stmt := range []string{remapEntityIDSQL, remapTripIDSQL} {
		res, err := tx.ExecContext(ctx, stmt, serverID, localID)
		if err != nil {
			return 0, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		total += int(n)
	}
	return total, tx.Commit()
}

// DeadLetter copies m into the audit trail and removes it from the queue in
// one transaction.
func (q *SQLiteQueue) DeadLetter(ctx context.Context, m types.PendingMutation, reason string) error {
	data, err := encodePayload(m.Data)
	if err != nil {
		return err
	}
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, insertDeadLetterSQL,
		m.ID, m.EntityType, string(m.Operation), m.EntityID, m.LocalID, m.TripID, data,
		m.Timestamp, m.RetryCount, reason, q.now().UnixMilli()); err != nil {
		return fmt.Errorf("record dead letter: %w", err)
	}
	if _, err := tx.ExecContext(ctx, deleteMutationSQL, m.ID); err != nil {
		return err
	}
	return tx.Commit()
}

// ListDeadLetters returns the audit trail, newest first.
func (q *SQLiteQueue) ListDeadLetters(ctx context.Context) ([]types.DeadLetter, error) {
	rows, err := q.db.QueryContext(ctx, listDeadLettersSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.DeadLetter
	for rows.Next() {
		var (
			d    types.DeadLetter
			op   string
			data sql.NullString
			atMS int64
		)
		if err := rows.Scan(&d.ID, &d.Mutation.ID, &d.Mutation.EntityType, &op, &d.Mutation.EntityID,
			&d.Mutation.LocalID, &d.Mutation.TripID, &data, &d.Mutation.Timestamp, &d.Mutation.RetryCount,
			&d.Reason, &atMS); err != nil {
			return nil, err
		}
		d.Mutation.Operation = types.Operation(op)
		if d.Mutation.Data, err = decodePayload(data); err != nil {
			return nil, err
		}
		d.DeadLetteredAt = time.UnixMilli(atMS)
		out = append(out, d)
	}
	return out, rows.Err()
}

// PruneDeadLetters deletes audit records older than before.
func (q *SQLiteQueue) PruneDeadLetters(ctx context.Context, before time.Time) (int, error) {
	res, err := q.db.ExecContext(ctx, pruneDeadLettersSQL, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMutation(s scanner) (types.PendingMutation, error) {
	var (
		m    types.PendingMutation
		op   string
		data sql.NullString
	)
	if err := s.Scan(&m.ID, &m.EntityType, &op, &m.EntityID, &m.LocalID, &m.TripID, &data, &m.Timestamp, &m.RetryCount); err != nil {
		return m, err
	}
	m.Operation = types.Operation(op)
	var err error
	m.Data, err = decodePayload(data)
	return m, err
}

func encodePayload(p types.Payload) (sql.NullString, error) {
	if p == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode payload: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodePayload(s sql.NullString) (types.Payload, error) {
	if !s.Valid || s.String == "" || s.String == "null" {
		return nil, nil
	}
	var p types.Payload
	if err := json.Unmarshal([]byte(s.String), &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return p, nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return types.ErrMutationNotFound
	}
	return nil
}
