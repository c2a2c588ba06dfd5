package client

import (
	"errors"
	"time"
)

var ErrRetriesExhausted = errors.New("client: reconnect attempts exhausted")

const (
	DefaultMaxAttempts = 5
	DefaultDelay       = time.Second
)

// Backoff is a fixed-delay retry budget. Reset after a successful
// connect so the next outage gets the full budget again.
type Backoff struct {
	MaxAttempts int
	Delay       time.Duration

	attempts int
}

// Next consumes one attempt and returns how long to wait before it.
func (b *Backoff) Next() (time.Duration, error) {
	limit := b.MaxAttempts
	if limit <= 0 {
		limit = DefaultMaxAttempts
	}
	if b.attempts >= limit {
		return 0, ErrRetriesExhausted
	}
	b.attempts++
	if b.Delay <= 0 {
		return DefaultDelay, nil
	}
	return b.Delay, nil
}

func (b *Backoff) Reset() { b.attempts = 0 }

func (b *Backoff) Attempts() int { return b.attempts }
