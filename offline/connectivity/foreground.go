package connectivity

import (
	"context"
	"os"
	"os/signal"
)

// Foreground turns an OS signal (SIGCONT for a process resumed with fg, by
// default) into an app-foregrounded trigger.
type Foreground struct {
	signals []os.Signal
	subs    subscribers
}

// NewForeground watches sigs, or SIGCONT when none are given.
func NewForeground(sigs ...os.Signal) *Foreground {
	if len(sigs) == 0 {
		sigs = defaultForegroundSignals()
	}
	return &Foreground{signals: sigs}
}

// Subscribe registers fn for foreground events.
func (f *Foreground) Subscribe(fn func()) (unsubscribe func()) { return f.subs.add(fn) }

// Notify fires the trigger by hand.
func (f *Foreground) Notify() { f.subs.fire() }

// Run relays signals to subscribers until ctx is done.
func (f *Foreground) Run(ctx context.Context) error {
	if len(f.signals) == 0 {
		<-ctx.Done()
		return nil
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, f.signals...)
	defer signal.Stop(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ch:
			f.subs.fire()
		}
	}
}
