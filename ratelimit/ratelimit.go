// Package ratelimit is a token bucket for upstream forwards.
package ratelimit

import (
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

// Limiter refills lazily from its clock, so it needs no goroutine of its own.
// A nil *Limiter allows everything.
type Limiter struct {
	clock clockwork.Clock
	lim   *rate.Limiter
}

type Option func(*Limiter)

func WithClock(clock clockwork.Clock) Option {
	return func(l *Limiter) { l.clock = clock }
}

// New returns a bucket holding up to burst tokens, refilled at perSecond
// tokens per second. It starts full. perSecond <= 0 disables limiting and
// returns nil.
func New(perSecond float64, burst int, opts ...Option) *Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}

	l := &Limiter{
		clock: clockwork.NewRealClock(),
		lim:   rate.NewLimiter(rate.Limit(perSecond), burst),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow takes one token if there is one.
func (l *Limiter) Allow() bool {
	if l == nil {
		return true
	}
	return l.lim.AllowN(l.clock.Now(), 1)
}

// Tokens reports the tokens available now.
func (l *Limiter) Tokens() float64 {
	if l == nil {
		return 0
	}
	return l.lim.TokensAt(l.clock.Now())
}
