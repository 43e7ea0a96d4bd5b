// Package ratelimit counts failed attempts per key inside a sliding lockout
// window. Every failure pushes the window forward; a success resets it.
package ratelimit

import (
	"context"
	"time"
)

// Attempt is the state of one key after a Hit or Peek.
type Attempt struct {
	Count      int
	Remaining  int
	RetryAfter time.Duration
	Locked     bool
}

// AttemptCounter stores attempts for a key. MemoryCounter serves a single
// instance; RedisCounter shares the state between instances.
type AttemptCounter interface {
	// Hit records a failed attempt and returns the new state.
	Hit(ctx context.Context, key string) (Attempt, error)
	// Peek returns the state without recording anything.
	Peek(ctx context.Context, key string) (Attempt, error)
	// Reset forgets the key.
	Reset(ctx context.Context, key string) error
}

func attempt(count, max int, ttl time.Duration) Attempt {
	a := Attempt{Count: count, Remaining: max - count}
	if a.Remaining < 0 {
		a.Remaining = 0
	}
	if count >= max {
		a.Locked = true
		a.RetryAfter = ttl
	}
	return a
}
