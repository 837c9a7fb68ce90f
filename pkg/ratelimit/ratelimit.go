// Package ratelimit implements a token-bucket limiter for the sender's
// optional --speed-limit. No library in the dependency set provides this;
// it is a small enough primitive (time.Now-driven refill, a mutex, and a
// timer wait) that pulling in a dependency for it would not be idiomatic.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Bucket issues rate bytes/sec. A rate of 0 means unlimited — callers
// should simply not construct a Bucket in that case.
type Bucket struct {
	mu     sync.Mutex
	rate   int64
	tokens float64
	last   time.Time
}

// NewBucket creates a bucket starting full, at rate bytes/sec.
func NewBucket(rate int64) *Bucket {
	return &Bucket{rate: rate, tokens: float64(rate), last: time.Now()}
}

// WaitN blocks until n tokens (bytes) are available, or ctx is cancelled.
func (b *Bucket) WaitN(ctx context.Context, n int) error {
	for {
		wait, ok := b.take(n)
		if ok {
			return nil
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// take attempts to withdraw n tokens, refilling first. It reports the
// bucket is exhausted by returning the wait needed before retrying.
func (b *Bucket) take(n int) (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.last)
	b.last = now

	b.tokens += elapsed.Seconds() * float64(b.rate)
	if cap := float64(b.rate); b.tokens > cap {
		b.tokens = cap
	}

	if b.tokens >= float64(n) {
		b.tokens -= float64(n)
		return 0, true
	}

	deficit := float64(n) - b.tokens
	return time.Duration(deficit / float64(b.rate) * float64(time.Second)), false
}
