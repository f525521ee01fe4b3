package memory

import (
	"context"
	"sync"
	"time"

	"partner-webhooks/internal/core/ports"
)

// sweepInterval is how often Allow drops windows that have ended.
const sweepInterval = time.Minute

type window struct {
	id      int64
	count   int
	resetAt time.Time
}

// RateLimiter implements ports.RateLimiter with the same fixed-window
// semantics as the Redis store.
type RateLimiter struct {
	mu        sync.Mutex
	windows   map[string]window
	nextSweep time.Time
	now       func() time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{windows: make(map[string]window), now: time.Now}
}

func (l *RateLimiter) Allow(_ context.Context, key string, limit int, w time.Duration) (*ports.RateLimitResult, error) {
	windowSecs := int64(w / time.Second)
	if windowSecs < 1 {
		windowSecs = 1
	}
	now := l.now()
	id := now.Unix() / windowSecs
	resetAt := time.Unix((id+1)*windowSecs, 0)

	l.mu.Lock()
	l.sweep(now)
	cur := l.windows[key]
	if cur.id != id {
		cur = window{id: id, resetAt: resetAt}
	}
	cur.count++
	l.windows[key] = cur
	l.mu.Unlock()

	remaining := limit - cur.count
	if remaining < 0 {
		remaining = 0
	}
	return &ports.RateLimitResult{
		Allowed:   cur.count <= limit,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

// sweep removes ended windows. Callers hold l.mu.
func (l *RateLimiter) sweep(now time.Time) {
	if now.Before(l.nextSweep) {
		return
	}
	for key, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, key)
		}
	}
	l.nextSweep = now.Add(sweepInterval)
}

// Len returns the number of tracked windows.
func (l *RateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// EventDeduper implements ports.EventDeduper.
type EventDeduper struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

func NewEventDeduper() *EventDeduper {
	return &EventDeduper{seen: make(map[string]time.Time), now: time.Now}
}

func (d *EventDeduper) FirstSeen(_ context.Context, eventID string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for id, exp := range d.seen {
		if !now.Before(exp) {
			delete(d.seen, id)
		}
	}
	if _, ok := d.seen[eventID]; ok {
		return false, nil
	}
	d.seen[eventID] = now.Add(ttl)
	return true, nil
}
