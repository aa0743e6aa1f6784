// ratelimit.go implements token-bucket rate limiting for the CLOB REST API.
//
// The API enforces per-category limits measured in requests per 10-second
// windows. Each bucket refills in whole tokens proportional to elapsed time
// within its window, and parks excess callers in a FIFO queue that is drained
// one token-interval at a time.
//
// Three buckets are maintained:
//   - General: 9000 per 10s (price, midpoint, misc reads)
//   - Book:    1500 per 10s (GET /book)
//   - Trades:   200 per 10s (GET /trades)
package clob

import (
	"context"
	"sync"
	"time"
)

// Bucket is a windowed token bucket. Acquire blocks in FIFO order until a
// token is available or the context is cancelled.
type Bucket struct {
	mu         sync.Mutex
	maxTokens  int
	window     time.Duration
	tokens     int
	lastRefill time.Time
	waiters    []chan struct{} // FIFO queue; a closed channel means granted
	timerSet   bool
}

// NewBucket creates a bucket that allows maxTokens acquisitions per window.
// The bucket starts full.
func NewBucket(maxTokens int, window time.Duration) *Bucket {
	return &Bucket{
		maxTokens:  maxTokens,
		window:     window,
		tokens:     maxTokens,
		lastRefill: time.Now(),
	}
}

// refillLocked adds floor(elapsed/window × maxTokens) tokens, capped at
// maxTokens, and advances the refill clock. Must be called with mu held.
func (b *Bucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return
	}
	added := int(float64(elapsed) / float64(b.window) * float64(b.maxTokens))
	if added <= 0 {
		return
	}
	b.tokens += added
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastRefill = now
}

// tokenInterval is how long one token takes to refill.
func (b *Bucket) tokenInterval() time.Duration {
	return b.window / time.Duration(b.maxTokens)
}

// Acquire consumes one token, blocking until one is available. Waiters are
// served strictly in arrival order.
func (b *Bucket) Acquire(ctx context.Context) error {
	b.mu.Lock()
	b.refillLocked(time.Now())
	if b.tokens > 0 && len(b.waiters) == 0 {
		b.tokens--
		b.mu.Unlock()
		return nil
	}

	ready := make(chan struct{})
	b.waiters = append(b.waiters, ready)
	b.scheduleWakeLocked()
	b.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		if !b.abandon(ready) {
			// The token was granted between cancellation and removal;
			// return it so the window cap holds.
			b.mu.Lock()
			b.tokens++
			if b.tokens > b.maxTokens {
				b.tokens = b.maxTokens
			}
			b.mu.Unlock()
		}
		return ctx.Err()
	}
}

// Tokens returns the currently available token count after a refill check.
func (b *Bucket) Tokens() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(time.Now())
	return b.tokens
}

// scheduleWakeLocked arms the drain timer if it is not already running.
func (b *Bucket) scheduleWakeLocked() {
	if b.timerSet {
		return
	}
	b.timerSet = true
	time.AfterFunc(b.tokenInterval(), b.wake)
}

// wake refills and grants tokens to queued waiters in FIFO order, rearming
// itself while the queue is non-empty.
func (b *Bucket) wake() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.timerSet = false
	b.refillLocked(time.Now())
	for b.tokens > 0 && len(b.waiters) > 0 {
		ch := b.waiters[0]
		b.waiters = b.waiters[1:]
		b.tokens--
		close(ch)
	}
	if len(b.waiters) > 0 {
		b.scheduleWakeLocked()
	}
}

// abandon removes a cancelled waiter from the queue. Returns false if the
// waiter had already been granted a token.
func (b *Bucket) abandon(ready chan struct{}) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, ch := range b.waiters {
		if ch == ready {
			b.waiters = append(b.waiters[:i], b.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// Limiter groups the three named buckets by CLOB endpoint category. Every
// request must pass the matching bucket's Acquire before hitting the network.
type Limiter struct {
	General *Bucket // GET /price, /midpoint
	Book    *Bucket // GET /book
	Trades  *Bucket // GET /trades
}

// RateLimits configures tokens-per-window for each bucket.
type RateLimits struct {
	General  int
	Book     int
	Trades   int
	WindowMs int
}

// DefaultRateLimits mirrors the published per-10s CLOB limits.
func DefaultRateLimits() RateLimits {
	return RateLimits{General: 9000, Book: 1500, Trades: 200, WindowMs: 10_000}
}

// NewLimiter creates the three buckets from the given limits. Zero or negative
// values fall back to defaults.
func NewLimiter(limits RateLimits) *Limiter {
	def := DefaultRateLimits()
	if limits.General <= 0 {
		limits.General = def.General
	}
	if limits.Book <= 0 {
		limits.Book = def.Book
	}
	if limits.Trades <= 0 {
		limits.Trades = def.Trades
	}
	if limits.WindowMs <= 0 {
		limits.WindowMs = def.WindowMs
	}
	window := time.Duration(limits.WindowMs) * time.Millisecond
	return &Limiter{
		General: NewBucket(limits.General, window),
		Book:    NewBucket(limits.Book, window),
		Trades:  NewBucket(limits.Trades, window),
	}
}
