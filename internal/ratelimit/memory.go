package ratelimit

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	count   int
	resetAt time.Time
}

// MemoryCounter keeps attempts in a map guarded by a RWMutex.
// A janitor goroutine drops expired keys until Stop is called.
type MemoryCounter struct {
	mu      sync.RWMutex
	entries map[string]*entry
	max     int
	window  time.Duration
	now     func() time.Time

	cleanup *time.Ticker
	done    chan struct{}
	once    sync.Once
}

// NewMemoryCounter locks a key after max hits within window.
func NewMemoryCounter(max int, window time.Duration) *MemoryCounter {
	c := &MemoryCounter{
		entries: make(map[string]*entry),
		max:     max,
		window:  window,
		now:     time.Now,
		cleanup: time.NewTicker(time.Minute),
		done:    make(chan struct{}),
	}
	go c.janitor()
	return c
}

func (c *MemoryCounter) Hit(_ context.Context, key string) (Attempt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	e, ok := c.entries[key]
	if !ok || !now.Before(e.resetAt) {
		e = &entry{}
		c.entries[key] = e
	}
	e.count++
	e.resetAt = now.Add(c.window)
	return attempt(e.count, c.max, e.resetAt.Sub(now)), nil
}

func (c *MemoryCounter) Peek(_ context.Context, key string) (Attempt, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	e, ok := c.entries[key]
	if !ok || !now.Before(e.resetAt) {
		return attempt(0, c.max, 0), nil
	}
	return attempt(e.count, c.max, e.resetAt.Sub(now)), nil
}

func (c *MemoryCounter) Reset(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// Len returns the number of tracked keys, expired ones included.
func (c *MemoryCounter) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *MemoryCounter) janitor() {
	for {
		select {
		case <-c.cleanup.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

func (c *MemoryCounter) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for key, e := range c.entries {
		if !now.Before(e.resetAt) {
			delete(c.entries, key)
		}
	}
}

// Stop ends the janitor goroutine. It is safe to call more than once.
func (c *MemoryCounter) Stop() {
	c.once.Do(func() {
		c.cleanup.Stop()
		close(c.done)
	})
}
