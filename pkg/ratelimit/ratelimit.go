// Package ratelimit provides client-side throttles for the external
// APIs: token buckets for bursty write endpoints, sliding windows for
// read endpoints, and a manager keyed by endpoint name.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter is the shared throttle contract.
type Limiter interface {
	Wait(ctx context.Context) error
	Allow() bool
	Remaining() int
	ResetTime() time.Time
}

// TokenBucket refills at a fixed per-second rate up to capacity.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   int
	tokens     int
	refillRate int // tokens per second
	windowSize time.Duration
	lastRefill time.Time
}

// NewTokenBucket creates a full bucket.
func NewTokenBucket(capacity, refillRate int, windowSize time.Duration) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		windowSize: windowSize,
		lastRefill: time.Now(),
	}
}

func (tb *TokenBucket) refill() {
	now := time.Now()
	add := int(now.Sub(tb.lastRefill).Seconds() * float64(tb.refillRate))
	if add > 0 {
		tb.tokens = min(tb.capacity, tb.tokens+add)
		// Advance by the time the added tokens account for, keeping the
		// fractional remainder for the next refill.
		tb.lastRefill = tb.lastRefill.Add(time.Duration(float64(add) / float64(tb.refillRate) * float64(time.Second)))
	}
}

// Allow consumes one token if available.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

// Wait blocks until a token is available or ctx is done.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		if tb.Allow() {
			return nil
		}
		wait := tb.windowSize
		if tb.refillRate > 0 {
			wait = time.Second / time.Duration(tb.refillRate)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Remaining reports tokens left after refill.
func (tb *TokenBucket) Remaining() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	return tb.tokens
}

// ResetTime reports when the bucket would be full again.
func (tb *TokenBucket) ResetTime() time.Time {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	if tb.tokens < tb.capacity && tb.refillRate > 0 {
		needed := float64(tb.capacity-tb.tokens) / float64(tb.refillRate)
		return time.Now().Add(time.Duration(needed * float64(time.Second)))
	}
	return time.Now()
}

// SlidingWindow allows at most limit requests inside any windowSize
// interval, tracked by timestamp.
type SlidingWindow struct {
	mu         sync.Mutex
	limit      int
	windowSize time.Duration
	requests   []time.Time
}

// NewSlidingWindow creates an empty window.
func NewSlidingWindow(limit int, windowSize time.Duration) *SlidingWindow {
	return &SlidingWindow{limit: limit, windowSize: windowSize}
}

// Allow records the request if the window has room.
func (sw *SlidingWindow) Allow() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-sw.windowSize)
	kept := sw.requests[:0]
	for _, req := range sw.requests {
		if req.After(cutoff) {
			kept = append(kept, req)
		}
	}
	sw.requests = kept

	if len(sw.requests) >= sw.limit {
		return false
	}
	sw.requests = append(sw.requests, now)
	return true
}

// Wait blocks until the window has room or ctx is done.
func (sw *SlidingWindow) Wait(ctx context.Context) error {
	for {
		if sw.Allow() {
			return nil
		}
		sw.mu.Lock()
		wait := 100 * time.Millisecond
		if len(sw.requests) > 0 {
			if until := sw.windowSize - time.Since(sw.requests[0]); until > 0 {
				wait = until
			}
		}
		sw.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Remaining reports how many requests still fit in the window.
func (sw *SlidingWindow) Remaining() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	cutoff := time.Now().Add(-sw.windowSize)
	valid := 0
	for _, req := range sw.requests {
		if req.After(cutoff) {
			valid++
		}
	}
	return max(0, sw.limit-valid)
}

// ResetTime reports when the oldest tracked request leaves the window.
func (sw *SlidingWindow) ResetTime() time.Time {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if len(sw.requests) == 0 {
		return time.Now()
	}
	return sw.requests[0].Add(sw.windowSize)
}

// Manager hands out per-endpoint limiters. Endpoint names follow
// "<api>:<resource>:<verb>", e.g. "clob:book:get".
type Manager struct {
	mu       sync.RWMutex
	limiters map[string]Limiter
}

// NewManager creates a manager preloaded with the published limits of
// the CLOB and Gamma APIs.
func NewManager() *Manager {
	m := &Manager{limiters: make(map[string]Limiter)}

	m.limiters["clob:order:post"] = NewTokenBucket(2400, 240, 10*time.Second)
	m.limiters["clob:order:delete"] = NewTokenBucket(2400, 240, 10*time.Second)
	m.limiters["clob:orders:post"] = NewTokenBucket(800, 80, 10*time.Second)
	m.limiters["clob:orders:delete"] = NewTokenBucket(800, 80, 10*time.Second)
	m.limiters["clob:orders:get"] = NewSlidingWindow(150, 10*time.Second)
	// Book reads keep a minimum interval between requests rather than a
	// windowed budget: capacity 1, five refills per second.
	m.limiters["clob:book:get"] = NewTokenBucket(1, 5, time.Second)
	m.limiters["clob:books:post"] = NewTokenBucket(1, 5, time.Second)
	m.limiters["clob:balance:get"] = NewSlidingWindow(150, 10*time.Second)

	m.limiters["gamma:events:get"] = NewSlidingWindow(100, 10*time.Second)
	m.limiters["gamma:markets:get"] = NewSlidingWindow(125, 10*time.Second)
	m.limiters["gamma:general"] = NewSlidingWindow(750, 10*time.Second)

	return m
}

// Limiter returns the endpoint's limiter, falling back to a permissive
// default for unknown endpoints.
func (m *Manager) Limiter(endpoint string) Limiter {
	m.mu.RLock()
	if l, ok := m.limiters[endpoint]; ok {
		m.mu.RUnlock()
		return l
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.limiters[endpoint]; ok {
		return l
	}
	l := NewSlidingWindow(5000, 10*time.Second)
	m.limiters[endpoint] = l
	return l
}

// Wait throttles one request against the endpoint's limiter.
func (m *Manager) Wait(ctx context.Context, endpoint string) error {
	return m.Limiter(endpoint).Wait(ctx)
}

// Allow is the non-blocking variant.
func (m *Manager) Allow(endpoint string) bool {
	return m.Limiter(endpoint).Allow()
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
