package backoff

import (
	"testing"
	"time"

	cbackoff "github.com/cenkalti/backoff/v4"
)

func TestDelay_GrowsAndCaps(t *testing.T) {
	p := Policy{Initial: 100 * time.Millisecond, Max: time.Second, Multiplier: 2}

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for attempt, w := range want {
		if got := p.Delay(attempt, 0.5); got != w {
			t.Fatalf("attempt %d: got %s want %s", attempt, got, w)
		}
	}
}

func TestDelay_JitterBounds(t *testing.T) {
	p := Policy{Initial: time.Second, Max: time.Minute, Multiplier: 2, Jitter: 0.2}

	if got := p.Delay(0, 0); got != 800*time.Millisecond {
		t.Fatalf("low jitter: got %s", got)
	}
	if got := p.Delay(0, 0.999999); got < 1199*time.Millisecond || got > 1200*time.Millisecond {
		t.Fatalf("high jitter: got %s", got)
	}
	for i := 0; i < 100; i++ {
		d := p.RandomDelay(3)
		if d < 6400*time.Millisecond || d > 9600*time.Millisecond {
			t.Fatalf("random delay out of range: %s", d)
		}
	}
}

func TestDelay_NeverExceedsMaxWithJitter(t *testing.T) {
	p := Policy{Initial: time.Second, Max: 2 * time.Second, Multiplier: 2, Jitter: 0.5}
	if got := p.Delay(10, 0.999); got > 2*time.Second {
		t.Fatalf("delay above max: %s", got)
	}
	if got := p.Delay(5000, 0.5); got != 2*time.Second {
		t.Fatalf("huge attempt should cap: %s", got)
	}
}

func TestDelay_ZeroPolicyUsesDefaults(t *testing.T) {
	var p Policy
	if got := p.Delay(0, 0.5); got != Default.Initial {
		t.Fatalf("got %s want %s", got, Default.Initial)
	}
	if got := p.Delay(-3, 0.5); got != Default.Initial {
		t.Fatalf("negative attempt: got %s", got)
	}
}

func TestNewBackOff_Configured(t *testing.T) {
	p := Policy{Initial: 10 * time.Millisecond, Max: 40 * time.Millisecond, Multiplier: 2}
	exp := p.NewBackOff()

	got := []time.Duration{exp.NextBackOff(), exp.NextBackOff(), exp.NextBackOff(), exp.NextBackOff()}
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond, 40 * time.Millisecond}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("step %d: got %s want %s", i, got[i], want[i])
		}
	}
	if exp.NextBackOff() == cbackoff.Stop {
		t.Fatal("backoff must not stop on its own")
	}
}
