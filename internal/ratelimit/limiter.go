// Package ratelimit provides an adaptive concurrency limiter, one instance
// per external provider and per write target.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	defaultCooldownBase = 2 * time.Second
	maxCooldown         = 2 * time.Minute

	// Permits widen by one after this many consecutive successes, up to the
	// configured ceiling.
	successesPerWiden = 20
)

// Limiter is a resizable counting semaphore. Throttle reports halve the
// permit count and impose a cooldown that grows exponentially with
// consecutive throttles; success reports widen the permits back toward the
// ceiling. Safe for use from many goroutines.
type Limiter struct {
	mu sync.Mutex

	name     string
	ceiling  int
	limit    int
	inflight int

	successStreak        int
	consecutiveThrottles int
	cooldownUntil        time.Time
	cooldownBase         time.Duration

	waiters []chan struct{}
}

// New creates a limiter with the given permit ceiling.
func New(name string, ceiling int) *Limiter {
	if ceiling < 1 {
		ceiling = 1
	}
	return &Limiter{
		name:         name,
		ceiling:      ceiling,
		limit:        ceiling,
		cooldownBase: defaultCooldownBase,
	}
}

// Name returns the limiter's label, used in logs.
func (l *Limiter) Name() string { return l.name }

// Acquire blocks until a permit is free or ctx is canceled.
// Every Acquire must be paired with Release on all exit paths; prefer Do.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()

		now := time.Now()
		if l.inflight < l.limit && !now.Before(l.cooldownUntil) {
			l.inflight++
			l.mu.Unlock()
			return nil
		}

		wait := make(chan struct{})
		l.waiters = append(l.waiters, wait)

		var cooldown <-chan time.Time
		if now.Before(l.cooldownUntil) {
			cooldown = time.After(l.cooldownUntil.Sub(now))
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			l.removeWaiter(wait)
			return ctx.Err()
		case <-wait:
		case <-cooldown:
			// Deregister so a later Release doesn't spend its wake on us.
			l.removeWaiter(wait)
		}
	}
}

// Release returns a permit.
func (l *Limiter) Release() {
	l.mu.Lock()
	if l.inflight > 0 {
		l.inflight--
	}
	l.wakeLocked(1)
	l.mu.Unlock()
}

// ReportSuccess counts a successful request; sustained success widens the
// permit count back toward the ceiling.
func (l *Limiter) ReportSuccess() {
	l.mu.Lock()
	l.consecutiveThrottles = 0
	l.successStreak++
	if l.successStreak >= successesPerWiden && l.limit < l.ceiling {
		l.successStreak = 0
		l.limit++
		l.wakeLocked(1)
	}
	l.mu.Unlock()
}

// ReportThrottle halves the permit count and schedules a cooldown that
// doubles with each consecutive throttle, capped.
func (l *Limiter) ReportThrottle() {
	l.mu.Lock()
	l.successStreak = 0
	l.consecutiveThrottles++

	l.limit = l.limit / 2
	if l.limit < 1 {
		l.limit = 1
	}

	cooldown := l.cooldownBase << (l.consecutiveThrottles - 1)
	if cooldown > maxCooldown || cooldown <= 0 {
		cooldown = maxCooldown
	}
	l.cooldownUntil = time.Now().Add(cooldown)
	l.mu.Unlock()
}

// Do runs fn under a permit, guaranteeing release on every exit path.
// Callers classify the outcome themselves via ReportSuccess/ReportThrottle.
func (l *Limiter) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()
	return fn(ctx)
}

// Limit returns the current permit count (for tests and logs).
func (l *Limiter) Limit() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limit
}

func (l *Limiter) wakeLocked(n int) {
	for i := 0; i < n && len(l.waiters) > 0; i++ {
		close(l.waiters[0])
		l.waiters = l.waiters[1:]
	}
}

func (l *Limiter) removeWaiter(ch chan struct{}) {
	l.mu.Lock()
	for i, w := range l.waiters {
		if w == ch {
			l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
			break
		}
	}
	l.mu.Unlock()
}
