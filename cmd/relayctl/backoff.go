package main

import "time"

// Backoff yields exponentially growing reconnect delays.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int

	attempt int
}

// NewBackoff returns the reconnect policy used by watch.
func NewBackoff() *Backoff {
	return &Backoff{Base: 500 * time.Millisecond, Max: 30 * time.Second, MaxAttempts: 10}
}

// Next returns the delay before the next attempt, or false once the attempts
// are used up.
func (b *Backoff) Next() (time.Duration, bool) {
	if b.MaxAttempts > 0 && b.attempt >= b.MaxAttempts {
		return 0, false
	}
	d := b.Base
	for i := 0; i < b.attempt && d < b.Max; i++ {
		d *= 2
	}
	if d > b.Max {
		d = b.Max
	}
	b.attempt++
	return d, true
}

// Reset starts over after a successful connection.
func (b *Backoff) Reset() {
	b.attempt = 0
}
