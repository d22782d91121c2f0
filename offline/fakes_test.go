package offline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	sferrors "github.com/dsbaciga/captainslog/offline/internal/errors"
)

// fakeQueue implements only the required MutationQueue methods, so the engine
// falls back to plain deletes for dead letters and skips id remapping.
type fakeQueue struct {
	mu         sync.Mutex
	muts       []PendingMutation
	listErr    error
	tripSynced map[string]time.Time
}

func newFakeQueue(muts ...PendingMutation) *fakeQueue {
	return &fakeQueue{muts: muts, tripSynced: map[string]time.Time{}}
}

func (q *fakeQueue) snapshot() []PendingMutation {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]PendingMutation(nil), q.muts...)
}

func (q *fakeQueue) List(context.Context) ([]PendingMutation, error) {
	if q.listErr != nil {
		return nil, q.listErr
	}
	return q.snapshot(), nil
}

func (q *fakeQueue) ListByTrip(_ context.Context, tripID string) ([]PendingMutation, error) {
	var out []PendingMutation
	for _, m := range q.snapshot() {
		if m.TripID == tripID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (q *fakeQueue) index(id int64) int {
	for i, m := range q.muts {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func (q *fakeQueue) Get(_ context.Context, id int64) (PendingMutation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.index(id)
	if i < 0 {
		return PendingMutation{}, ErrMutationNotFound
	}
	return q.muts[i], nil
}

func (q *fakeQueue) Delete(_ context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.index(id)
	if i < 0 {
		return ErrMutationNotFound
	}
	q.muts = append(q.muts[:i], q.muts[i+1:]...)
	return nil
}

func (q *fakeQueue) IncrementRetryCount(_ context.Context, id int64) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.index(id)
	if i < 0 {
		return 0, ErrMutationNotFound
	}
	q.muts[i].RetryCount++
	return q.muts[i].RetryCount, nil
}

func (q *fakeQueue) ResetRetryCount(_ context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.index(id)
	if i < 0 {
		return ErrMutationNotFound
	}
	q.muts[i].RetryCount = 0
	return nil
}

func (q *fakeQueue) SetTripLastSynced(_ context.Context, tripID string, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tripSynced[tripID] = at
	return nil
}

type fakeStore struct {
	mu   sync.Mutex
	seq  int
	byID map[string]StoredConflict
}

func newFakeStore() *fakeStore { return &fakeStore{byID: map[string]StoredConflict{}} }

func (s *fakeStore) Append(_ context.Context, c StoredConflict) (StoredConflict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	if c.ID == "" {
		c.ID = fmt.Sprintf("c%d", s.seq)
	}
	s.byID[c.ID] = c
	return c, nil
}

func (s *fakeStore) ListByStatus(_ context.Context, status ConflictStatus) ([]StoredConflict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []StoredConflict{}
	for _, c := range s.byID {
		if c.Status == status {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeStore) Get(_ context.Context, id string) (StoredConflict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return StoredConflict{}, ErrConflictNotFound
	}
	return c, nil
}

func (s *fakeStore) Update(_ context.Context, c StoredConflict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[c.ID]; !ok {
		return ErrConflictNotFound
	}
	s.byID[c.ID] = c
	return nil
}

// fakeRemote keeps server entities keyed by "endpoint/id" and records writes
// as "METHOD endpoint/id".
type fakeRemote struct {
	mu       sync.Mutex
	entities map[string]Payload
	writes   []string
	bodies   []Payload
	nextID   int

	csrfErr      error
	csrfFailures int // fail this many refreshes before succeeding
	csrfCalls    int
	writeErr     error

	// entered and release let a test hold a pass inside RefreshCSRFToken.
	entered chan struct{}
	release chan struct{}
}

func newFakeRemote() *fakeRemote { return &fakeRemote{entities: map[string]Payload{}} }

func (r *fakeRemote) put(endpoint, id string, p Payload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entities[endpoint+"/"+id] = p
}

func (r *fakeRemote) recorded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.writes...)
}

func (r *fakeRemote) RefreshCSRFToken(context.Context) error {
	if r.entered != nil {
		r.entered <- struct{}{}
		<-r.release
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.csrfCalls++
	if r.csrfFailures > 0 {
		r.csrfFailures--
		return errors.New("csrf endpoint unavailable")
	}
	return r.csrfErr
}

func (r *fakeRemote) Get(_ context.Context, endpoint, id string) (Payload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.entities[endpoint+"/"+id]
	if !ok {
		return nil, sferrors.NewHTTPError(404, "", "get")
	}
	return p.Clone(), nil
}

func (r *fakeRemote) write(method, path string, body Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, method+" "+path)
	r.bodies = append(r.bodies, body)
	return r.writeErr
}

func (r *fakeRemote) Create(_ context.Context, endpoint string, data Payload) (Payload, error) {
	if err := r.write("POST", endpoint, data); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	out := data.Clone()
	if out == nil {
		out = Payload{}
	}
	out["id"] = fmt.Sprintf("srv-%d", r.nextID)
	r.entities[endpoint+"/"+out["id"].(string)] = out
	return out.Clone(), nil
}

func (r *fakeRemote) Replace(_ context.Context, endpoint, id string, data Payload) error {
	if err := r.write("PUT", endpoint+"/"+id, data); err != nil {
		return err
	}
	r.put(endpoint, id, data.Clone())
	return nil
}

func (r *fakeRemote) Delete(_ context.Context, endpoint, id string) error {
	if err := r.write("DELETE", endpoint+"/"+id, nil); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.entities, endpoint+"/"+id)
	r.mu.Unlock()
	return nil
}
