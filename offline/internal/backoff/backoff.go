// Package backoff computes retry delays for mutations and sync passes.
package backoff

import (
	"math"
	"math/rand"
	"time"

	cbackoff "github.com/cenkalti/backoff/v4"
)

// Policy describes an exponential backoff with symmetric jitter.
type Policy struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64 // fraction in [0,1); 0 disables jitter
}

// Default is used when no policy is configured.
var Default = Policy{
	Initial:    time.Second,
	Max:        5 * time.Minute,
	Multiplier: 2,
	Jitter:     0.2,
}

func (p Policy) normalized() Policy {
	if p.Initial <= 0 {
		p.Initial = Default.Initial
	}
	if p.Max < p.Initial {
		p.Max = p.Initial
	}
	if p.Multiplier < 1 {
		p.Multiplier = Default.Multiplier
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		p.Jitter = 0
	}
	return p
}

// Delay returns the wait before retry number attempt (0-based). rnd is a value
// in [0,1) used for jitter; 0.5 yields the undithered delay. The result never
// exceeds Max.
func (p Policy) Delay(attempt int, rnd float64) time.Duration {
	p = p.normalized()
	if attempt < 0 {
		attempt = 0
	}

	base := float64(p.Initial) * math.Pow(p.Multiplier, float64(attempt))
	if base > float64(p.Max) || math.IsInf(base, 0) {
		base = float64(p.Max)
	}

	d := base * (1 + p.Jitter*(2*rnd-1))
	if d > float64(p.Max) {
		d = float64(p.Max)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// RandomDelay is Delay with a random jitter sample.
func (p Policy) RandomDelay(attempt int) time.Duration {
	return p.Delay(attempt, rand.Float64())
}

// NewBackOff returns a stateful exponential backoff configured from p. It
// never gives up on its own; callers bound the attempts.
func (p Policy) NewBackOff() *cbackoff.ExponentialBackOff {
	p = p.normalized()
	exp := cbackoff.NewExponentialBackOff()
	exp.InitialInterval = p.Initial
	exp.Multiplier = p.Multiplier
	exp.MaxInterval = p.Max
	exp.RandomizationFactor = p.Jitter
	exp.MaxElapsedTime = 0
	exp.Reset()
	return exp
}
