package connectivity

import "sync/atomic"

// Static is a Connectivity whose state is set by hand. Setting it online
// after being offline fires subscribers, like Monitor.
type Static struct {
	online atomic.Bool
	subs   subscribers
}

// NewStatic returns a Static in the given state.
func NewStatic(online bool) *Static {
	s := &Static{}
	s.online.Store(online)
	return s
}

// Online reports the current state.
func (s *Static) Online() bool { return s.online.Load() }

// Set changes the state.
func (s *Static) Set(online bool) {
	if prev := s.online.Swap(online); !prev && online {
		s.subs.fire()
	}
}

// Subscribe registers fn for connectivity-restored events.
func (s *Static) Subscribe(fn func()) (unsubscribe func()) { return s.subs.add(fn) }
