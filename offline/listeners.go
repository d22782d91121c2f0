package offline

import (
	"slices"
	"sync"

	"github.com/rs/zerolog"
)

// listenerSet is the observer registry behind OnSyncComplete.
type listenerSet struct {
	mu   sync.Mutex
	next uint64
	fns  map[uint64]func(SyncResult)
}

func (s *listenerSet) add(fn func(SyncResult)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = make(map[uint64]func(SyncResult))
	}
	id := s.next
	s.next++
	s.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.fns, id)
			s.mu.Unlock()
		})
	}
}

// notify calls every listener in registration order outside the lock. A
// panicking listener is logged and does not stop the others.
func (s *listenerSet) notify(res SyncResult, log zerolog.Logger) {
	s.mu.Lock()
	ids := make([]uint64, 0, len(s.fns))
	for id := range s.fns {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(SyncResult), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.fns[id])
	}
	s.mu.Unlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Msg("sync listener panic")
				}
			}()
			fn(res)
		}()
	}
}

// OnSyncComplete registers fn to receive the result of every pass that got
// past the offline and already-syncing checks, including failed ones. fn runs
// synchronously on the syncing goroutine. The returned function unsubscribes.
func (e *Engine) OnSyncComplete(fn func(SyncResult)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	return e.listeners.add(fn)
}
