package offline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsbaciga/captainslog/internal/localstate"
	"github.com/dsbaciga/captainslog/internal/mockapi"
	"github.com/dsbaciga/captainslog/internal/sqlite"
	"github.com/dsbaciga/captainslog/offline/conflictstore"
	"github.com/dsbaciga/captainslog/offline/queue"
)

type stack struct {
	engine *Engine
	queue  *queue.SQLiteQueue
	store  *conflictstore.SQLiteStore
	api    *mockapi.Server
	offset atomic.Int64 // added to the engine clock, in ms
}

func newStack(t *testing.T, opts ...Option) *stack {
	t.Helper()
	ctx := context.Background()

	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, localstate.EnsureSchema(ctx, db))

	s := &stack{
		queue: queue.New(db),
		store: conflictstore.New(db),
		api:   mockapi.New(Endpoints(), mockapi.WithPrefix("/api"), mockapi.WithClock(func() time.Time { return time.UnixMilli(5) })),
	}
	ts := httptest.NewServer(s.api.Handler())
	t.Cleanup(ts.Close)

	clock := func() time.Time { return time.Now().Add(time.Duration(s.offset.Load()) * time.Millisecond) }
	opts = append([]Option{WithLogger(zerolog.Nop()), WithHTTPTimeout(2 * time.Second), WithClock(clock)}, opts...)
	s.engine, err = New(ts.URL+"/api", s.queue, s.store, opts...)
	require.NoError(t, err)
	return s
}

func (s *stack) enqueue(t *testing.T, m PendingMutation) PendingMutation {
	t.Helper()
	out, err := s.queue.Enqueue(context.Background(), m)
	require.NoError(t, err)
	return out
}

func (s *stack) queued(t *testing.T) []PendingMutation {
	t.Helper()
	all, err := s.queue.List(context.Background())
	require.NoError(t, err)
	return all
}

func TestIntegration_EiffelServerOlder(t *testing.T) {
	s := newStack(t)
	s.api.Seed("/activities", "a1", map[string]interface{}{"name": "Eiffel Tower", "updatedAt": int64(50)})
	s.enqueue(t, eiffelUpdate(100))

	res := s.engine.SyncAll(context.Background())

	assert.Equal(t, StatusComplete, res.Status)
	assert.Equal(t, 1, res.Synced)
	assert.Empty(t, s.queued(t))

	writes := s.api.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, http.MethodPut, writes[0].Method)
	got, _ := s.api.Entity("/activities", "a1")
	assert.Equal(t, "Eiffel Tower Visit", got["name"])
}

func TestIntegration_ConflictThenResolveServer(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	s.api.Seed("/activities", "a1", map[string]interface{}{"name": "Eiffel Tower", "updatedAt": int64(150)})
	m := s.enqueue(t, eiffelUpdate(100))

	res := s.engine.SyncAll(ctx)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, int64(150), res.Conflicts[0].ServerTimestamp)

	// a second pass re-detects the conflict without storing a duplicate
	res = s.engine.SyncAll(ctx)
	require.Len(t, res.Conflicts, 1)

	pending, err := s.engine.GetPendingConflicts(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, m.ID, pending[0].MutationID)
	assert.Equal(t, "Eiffel Tower", pending[0].ServerData["name"])

	ok, err := s.engine.ResolveConflict(ctx, pending[0].ID, ResolutionServer)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Empty(t, s.api.Writes())
	assert.Empty(t, s.queued(t))
	pending, err = s.engine.GetPendingConflicts(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	resolved, err := s.store.Get(ctx, firstConflictID(t, s, ConflictResolved))
	require.NoError(t, err)
	assert.Equal(t, ResolutionServer, resolved.Resolution)
}

func firstConflictID(t *testing.T, s *stack, status ConflictStatus) string {
	t.Helper()
	all, err := s.store.ListByStatus(context.Background(), status)
	require.NoError(t, err)
	require.NotEmpty(t, all)
	return all[0].ID
}

func TestIntegration_ResolveMerge(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	s.api.Seed("/activities", "a1", map[string]interface{}{"name": "Eiffel Tower", "notes": "book ahead", "updatedAt": int64(150)})
	s.enqueue(t, eiffelUpdate(100))
	s.engine.SyncAll(ctx)

	ok, err := s.engine.ResolveConflict(ctx, firstConflictID(t, s, ConflictPending), ResolutionMerge)
	require.NoError(t, err)
	assert.True(t, ok)

	got, _ := s.api.Entity("/activities", "a1")
	assert.Equal(t, "Eiffel Tower Visit", got["name"])
	assert.Equal(t, "book ahead", got["notes"])
}

func TestIntegration_PendingConflictKeepsEntityWritesInOrder(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	s.api.Seed("/activities", "a1", map[string]interface{}{"name": "Eiffel Tower", "updatedAt": int64(150)})
	older := eiffelUpdate(100)
	older.Data = Payload{"description": "older edit"}
	newer := eiffelUpdate(200)
	newer.Data = Payload{"description": "newer edit"}
	s.enqueue(t, older)
	s.enqueue(t, newer)

	for pass := 0; pass < 2; pass++ {
		res := s.engine.SyncAll(ctx)
		assert.Equal(t, 0, res.Synced)
		assert.Len(t, res.Conflicts, 1)
		assert.Equal(t, 1, res.Deferred)
	}
	assert.Empty(t, s.api.Writes())
	assert.Len(t, s.queued(t), 2)

	ok, err := s.engine.ResolveConflict(ctx, firstConflictID(t, s, ConflictPending), ResolutionLocal)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, s.api.Writes())

	res := s.engine.SyncAll(ctx)
	assert.Equal(t, StatusComplete, res.Status)
	assert.Equal(t, 1, res.Synced)
	assert.Empty(t, s.queued(t))

	got, _ := s.api.Entity("/activities", "a1")
	assert.Equal(t, "newer edit", got["description"])
}

func TestIntegration_CSRFFailureLeavesQueue(t *testing.T) {
	s := newStack(t)
	s.api.Seed("/activities", "a1", map[string]interface{}{"updatedAt": int64(50)})
	s.enqueue(t, eiffelUpdate(100))
	s.api.SetCSRFStatus(http.StatusInternalServerError)

	res := s.engine.SyncAll(context.Background())

	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, ErrCodeCSRFRefreshFailed, res.Error)
	assert.Zero(t, res.Synced)
	assert.Zero(t, res.Failed)
	q := s.queued(t)
	require.Len(t, q, 1)
	assert.Zero(t, q[0].RetryCount)
	assert.Empty(t, s.api.Writes())
}

func TestIntegration_DeadLetterAfterFiveFailures(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	s.api.Seed("/activities", "a1", map[string]interface{}{"updatedAt": int64(50)})
	s.api.SetFault(http.MethodPut, "/activities/a1", http.StatusInternalServerError)
	m := s.enqueue(t, eiffelUpdate(100))

	for i := 0; i < DefaultMaxRetries; i++ {
		s.engine.SyncAll(ctx)
	}

	assert.Empty(t, s.queued(t))
	dead, err := s.queue.ListDeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, ReasonMaxRetries, dead[0].Reason)
	assert.Equal(t, m.ID, dead[0].Mutation.ID)
	assert.Equal(t, DefaultMaxRetries, dead[0].Mutation.RetryCount)
}

func TestIntegration_CreateRemapsQueuedReferences(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	s.enqueue(t, PendingMutation{EntityType: "activity", Operation: OpCreate, LocalID: "tmp-a", TripID: "t1", Data: Payload{"name": "Louvre"}, Timestamp: 10})
	s.enqueue(t, PendingMutation{EntityType: "activity", Operation: OpUpdate, EntityID: "tmp-a", TripID: "t1", Data: Payload{"name": "Louvre Museum"}, Timestamp: 20})
	s.enqueue(t, PendingMutation{EntityType: "photo", Operation: OpUpdate, EntityID: "tmp-a", TripID: "t2", Data: Payload{"caption": "x"}, Timestamp: 30})

	res := s.engine.SyncTrip(ctx, "t1")
	assert.Equal(t, 2, res.Synced)

	writes := s.api.Writes()
	require.Len(t, writes, 2)
	assert.Equal(t, "t1", writes[0].Body["tripId"])
	assert.Equal(t, "/activities/srv-1", writes[1].Path)
	got, _ := s.api.Entity("/activities", "srv-1")
	assert.Equal(t, "Louvre Museum", got["name"])

	left := s.queued(t)
	require.Len(t, left, 1)
	assert.Equal(t, "srv-1", left[0].EntityID)

	at, ok, err := s.queue.TripLastSynced(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, at.IsZero())
}

func TestIntegration_PruneHistory(t *testing.T) {
	ctx := context.Background()
	s := newStack(t, WithRetention(24*time.Hour, 24*time.Hour))
	s.api.Seed("/activities", "a1", map[string]interface{}{"name": "Eiffel Tower", "updatedAt": int64(150)})
	s.enqueue(t, eiffelUpdate(100))
	s.enqueue(t, PendingMutation{EntityType: "bogus", Operation: OpCreate, LocalID: "x", Timestamp: 1})

	s.engine.SyncAll(ctx)
	ok, err := s.engine.ResolveConflict(ctx, firstConflictID(t, s, ConflictPending), ResolutionServer)
	require.NoError(t, err)
	require.True(t, ok)

	rep, err := s.engine.PruneHistory(ctx)
	require.NoError(t, err)
	assert.Equal(t, PruneReport{}, rep)

	s.offset.Store((48 * time.Hour).Milliseconds())
	rep, err = s.engine.PruneHistory(ctx)
	require.NoError(t, err)
	assert.Equal(t, PruneReport{Conflicts: 1, DeadLetters: 1}, rep)
}

func TestIntegration_Ping(t *testing.T) {
	s := newStack(t)
	assert.NoError(t, s.engine.Ping(context.Background()))
}
