package conflict

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dsbaciga/captainslog/offline/internal/entity"
	sferrors "github.com/dsbaciga/captainslog/offline/internal/errors"
	"github.com/dsbaciga/captainslog/offline/internal/types"
)

type stubFetcher struct {
	payload types.Payload
	err     error
	calls   []string
}

func (s *stubFetcher) Get(_ context.Context, endpoint, id string) (types.Payload, error) {
	s.calls = append(s.calls, endpoint+"/"+id)
	return s.payload, s.err
}

func activityUpdate(ts int64, data types.Payload) types.PendingMutation {
	return types.PendingMutation{
		ID: 1, EntityType: "activity", Operation: types.OpUpdate,
		EntityID: "a1", TripID: "t1", Data: data, Timestamp: ts,
	}
}

func TestDetect_CreateIsNeverChecked(t *testing.T) {
	f := &stubFetcher{}
	d := NewDetector(f, zerolog.Nop())
	m := activityUpdate(100, nil)
	m.Operation = types.OpCreate
	if got := d.Detect(context.Background(), entity.Activity, m); got != nil {
		t.Fatalf("expected no conflict, got %+v", got)
	}
	if len(f.calls) != 0 {
		t.Fatalf("create must not fetch, calls=%v", f.calls)
	}
}

func TestDetect_ServerOlderIsNoConflict(t *testing.T) {
	f := &stubFetcher{payload: types.Payload{"id": "a1", "updatedAt": float64(50)}}
	d := NewDetector(f, zerolog.Nop())
	if got := d.Detect(context.Background(), entity.Activity, activityUpdate(100, nil)); got != nil {
		t.Fatalf("expected no conflict, got %+v", got)
	}
	if len(f.calls) != 1 || f.calls[0] != "/activities/a1" {
		t.Fatalf("unexpected fetch %v", f.calls)
	}
}

func TestDetect_EqualTimestampIsNoConflict(t *testing.T) {
	f := &stubFetcher{payload: types.Payload{"updatedAt": float64(100)}}
	d := NewDetector(f, zerolog.Nop())
	if got := d.Detect(context.Background(), entity.Activity, activityUpdate(100, nil)); got != nil {
		t.Fatalf("expected no conflict, got %+v", got)
	}
}

func TestDetect_ServerNewerIsConflict(t *testing.T) {
	server := types.Payload{"id": "a1", "cost": float64(20), "updatedAt": float64(150)}
	d := NewDetector(&stubFetcher{payload: server}, zerolog.Nop())
	local := types.Payload{"description": "Eiffel Tower at night"}

	got := d.Detect(context.Background(), entity.Activity, activityUpdate(100, local))
	if got == nil {
		t.Fatal("expected conflict")
	}
	if got.ServerTimestamp != 150 || got.LocalTimestamp != 100 {
		t.Fatalf("timestamps: %+v", got)
	}
	if got.ServerData["cost"] != float64(20) || got.LocalData["description"] != "Eiffel Tower at night" {
		t.Fatalf("payloads: %+v", got)
	}
	if got.TripID != "t1" || got.EntityID != "a1" || got.EntityType != "activity" {
		t.Fatalf("identity: %+v", got)
	}
}

func TestDetect_AbsentAndNotFoundAreServerNullConflicts(t *testing.T) {
	for name, f := range map[string]*stubFetcher{
		"null data": {},
		"404":       {err: sferrors.NewHTTPError(404, "", "get")},
	} {
		d := NewDetector(f, zerolog.Nop())
		m := activityUpdate(100, nil)
		m.Operation = types.OpDelete
		got := d.Detect(context.Background(), entity.Activity, m)
		if got == nil {
			t.Fatalf("%s: expected conflict", name)
		}
		if got.ServerData != nil || got.ServerTimestamp != 0 {
			t.Fatalf("%s: expected server-null conflict, got %+v", name, got)
		}
	}
}

func TestDetect_OtherFailuresAreOptimistic(t *testing.T) {
	for _, err := range []error{
		sferrors.NewHTTPError(500, "", "get"),
		sferrors.NewNetworkError("get", errors.New("connection refused")),
	} {
		d := NewDetector(&stubFetcher{err: err}, zerolog.Nop())
		if got := d.Detect(context.Background(), entity.Activity, activityUpdate(100, nil)); got != nil {
			t.Fatalf("%v: expected no conflict, got %+v", err, got)
		}
	}
}

func TestModifiedAt(t *testing.T) {
	iso := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		in   any
		want int64
	}{
		{iso.Format(time.RFC3339Nano), iso.UnixMilli()},
		{"2025-06-01T12:00:00.000Z", iso.UnixMilli()},
		{"1700000000000", 1700000000000},
		{float64(1700000000000), 1700000000000},
		{int64(42), 42},
		{nil, 0},
		{"yesterday", 0},
	}
	for _, c := range cases {
		if got := ModifiedAt(types.Payload{"updatedAt": c.in}); got != c.want {
			t.Errorf("ModifiedAt(%v) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestAutoResolve(t *testing.T) {
	cases := []struct {
		name string
		in   types.ConflictInfo
		want types.Resolution
	}{
		{
			name: "server null wins local regardless of timestamps",
			in:   types.ConflictInfo{LocalTimestamp: 1, ServerTimestamp: 999, LocalData: types.Payload{"a": "x"}},
			want: types.ResolutionLocal,
		},
		{
			name: "server older",
			in: types.ConflictInfo{
				LocalTimestamp: 100, ServerTimestamp: 50,
				LocalData: types.Payload{"name": "Eiffel Tower Visit"}, ServerData: types.Payload{"name": "Eiffel"},
			},
			want: types.ResolutionLocal,
		},
		{
			name: "only metadata differs",
			in: types.ConflictInfo{
				LocalTimestamp: 100, ServerTimestamp: 150,
				LocalData:  types.Payload{"name": "Louvre", "cost": 12, "updatedAt": "a", "version": 1, "lastSync": "x"},
				ServerData: types.Payload{"name": "Louvre", "cost": float64(12), "updatedAt": "b", "version": float64(2)},
			},
			want: types.ResolutionMerge,
		},
		{
			name: "content differs",
			in: types.ConflictInfo{
				LocalTimestamp: 100, ServerTimestamp: 150,
				LocalData:  types.Payload{"description": "new", "cost": float64(10)},
				ServerData: types.Payload{"description": "old", "cost": float64(20)},
			},
			want: types.ResolutionNone,
		},
		{
			name: "local field missing on server",
			in: types.ConflictInfo{
				LocalTimestamp: 100, ServerTimestamp: 150,
				LocalData:  types.Payload{"notes": "bring tickets"},
				ServerData: types.Payload{"name": "Louvre"},
			},
			want: types.ResolutionNone,
		},
	}
	for _, c := range cases {
		if got := AutoResolve(c.in); got != c.want {
			t.Errorf("%s: got %q want %q", c.name, got, c.want)
		}
	}
}

func TestMerge(t *testing.T) {
	server := types.Payload{
		"id": "a1", "name": "Eiffel", "description": "server text",
		"cost": float64(20), "tags": []any{"paris"}, "updatedAt": float64(150), "version": float64(3),
	}
	local := types.Payload{
		"id": "tmp-1", "name": "Eiffel", "description": "local text",
		"cost": float64(10), "notes": "new note", "updatedAt": float64(100), "version": float64(2),
	}

	got := Merge(local, server)

	want := map[string]any{
		"id":          "a1",
		"name":        "Eiffel",
		"description": "local text",
		"cost":        float64(20),
		"tags":        []any{"paris"},
		"notes":       "new note",
		"updatedAt":   float64(150),
		"version":     float64(3),
	}
	if len(got) != len(want) {
		t.Fatalf("merged keys: got %v", got)
	}
	for k, v := range want {
		if !equalValues(got[k], v) {
			t.Errorf("field %s: got %v want %v", k, got[k], v)
		}
	}
	if server["description"] != "server text" {
		t.Fatal("merge must not mutate the server payload")
	}
}

func TestMerge_NilServerReturnsLocal(t *testing.T) {
	local := types.Payload{"name": "x"}
	got := Merge(local, nil)
	got["name"] = "y"
	if local["name"] != "x" {
		t.Fatal("merge must copy the local payload")
	}
}
