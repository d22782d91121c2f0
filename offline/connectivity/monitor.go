// Package connectivity provides the online signal and the trigger sources
// used by the sync engine's auto-sync scheduler.
package connectivity

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Prober returns nil when the server is reachable.
type Prober func(ctx context.Context) error

// Monitor probes the server periodically and caches the result. Subscribers
// are notified each time the server becomes reachable again, including on
// the first successful probe.
type Monitor struct {
	probe    Prober
	interval time.Duration
	timeout  time.Duration
	log      zerolog.Logger

	online atomic.Int32
	subs   subscribers
}

// NewMonitor returns a Monitor that starts offline until the first probe.
func NewMonitor(probe Prober, interval time.Duration, log zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	timeout := interval
	if timeout > 5*time.Second {
		timeout = 5 * time.Second
	}
	return &Monitor{probe: probe, interval: interval, timeout: timeout, log: log}
}

// Online returns the cached reachability.
func (m *Monitor) Online() bool { return m.online.Load() == 1 }

// Subscribe registers fn for connectivity-restored events.
func (m *Monitor) Subscribe(fn func()) (unsubscribe func()) { return m.subs.add(fn) }

// Check probes once, updates the cached state and fires subscribers on a
// down→up transition. It returns the new state.
func (m *Monitor) Check(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, m.timeout)
	err := m.probe(pctx)
	cancel()

	cur := int32(0)
	if err == nil {
		cur = 1
	}
	prev := m.online.Swap(cur)
	if cur == prev {
		return cur == 1
	}
	if cur == 1 {
		m.log.Info().Msg("connectivity: UP")
		m.subs.fire()
	} else {
		m.log.Warn().Err(err).Msg("connectivity: DOWN")
	}
	return cur == 1
}

// Run probes every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// subscribers is a small registry of callbacks fired in registration order.
type subscribers struct {
	mu   sync.Mutex
	next uint64
	fns  map[uint64]func()
	ids  []uint64
}

func (s *subscribers) add(fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = make(map[uint64]func())
	}
	id := s.next
	s.next++
	s.fns[id] = fn
	s.ids = append(s.ids, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.fns, id)
			for i, v := range s.ids {
				if v == id {
					s.ids = append(s.ids[:i], s.ids[i+1:]...)
					break
				}
			}
		})
	}
}

func (s *subscribers) fire() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.ids))
	for _, id := range s.ids {
		fns = append(fns, s.fns[id])
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (s *subscribers) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fns)
}
