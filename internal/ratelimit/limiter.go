// Package ratelimit throttles calls to external collaborators.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// Limiter is a token bucket. A bucket starts full.
type Limiter struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	perSecond  float64
	lastRefill time.Time
	now        func() time.Time
}

// New creates a limiter refilling at ratePerSecond with room for burstCapacity tokens.
func New(ratePerSecond float64, burstCapacity int) *Limiter {
	l := &Limiter{
		tokens:    float64(burstCapacity),
		capacity:  float64(burstCapacity),
		perSecond: ratePerSecond,
		now:       time.Now,
	}
	l.lastRefill = l.now()
	return l
}

// take refills the bucket and consumes a token if it can. Otherwise it
// reports how long until the next token. Callers hold mu.
func (l *Limiter) take() (bool, time.Duration) {
	now := l.now()
	l.tokens = math.Min(l.capacity, l.tokens+now.Sub(l.lastRefill).Seconds()*l.perSecond)
	l.lastRefill = now

	if l.tokens >= 1 {
		l.tokens--
		return true, 0
	}
	wait := time.Duration((1 - l.tokens) / l.perSecond * float64(time.Second))
	return false, max(wait, time.Millisecond)
}

// Allow consumes a token without blocking.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	ok, _ := l.take()
	return ok
}

// Wait blocks until a token is consumed or ctx ends.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		ok, wait := l.take()
		l.mu.Unlock()
		if ok {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// KeyedLimiter keeps one Limiter per key, e.g. per oracle credential.
type KeyedLimiter struct {
	mu       sync.Mutex
	limiters map[string]*Limiter
	rate     float64
	burst    int
}

// NewKeyed creates a KeyedLimiter whose buckets share rate and burst
func NewKeyed(ratePerSecond float64, burstCapacity int) *KeyedLimiter {
	return &KeyedLimiter{
		limiters: make(map[string]*Limiter),
		rate:     ratePerSecond,
		burst:    burstCapacity,
	}
}

// Get returns the limiter for key, creating it on first use
func (k *KeyedLimiter) Get(key string) *Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()

	l, ok := k.limiters[key]
	if !ok {
		l = New(k.rate, k.burst)
		k.limiters[key] = l
	}
	return l
}

// Allow consumes a token from key's bucket
func (k *KeyedLimiter) Allow(key string) bool {
	return k.Get(key).Allow()
}

// Wait blocks on key's bucket
func (k *KeyedLimiter) Wait(ctx context.Context, key string) error {
	return k.Get(key).Wait(ctx)
}
