package feed

import (
	"sync/atomic"
	"time"
)

// staleAfter marks the candle stale when no tick arrived for this long.
const staleAfter = 10 * time.Second

// CandleSnapshot is an immutable view of the current window candle.
// Readers get a consistent snapshot without taking a lock.
type CandleSnapshot struct {
	WindowStart time.Time
	WindowEnd   time.Time
	OpenPrice   float64
	Current     float64
	High        float64
	Low         float64
	LastUpdate  time.Time
	TickCount   int
	OpenSource  string // "oracle", "stream"
}

// Deviation is the signed move from the window open, as a fraction.
func (c *CandleSnapshot) Deviation() float64 {
	if c == nil || c.OpenPrice <= 0 {
		return 0
	}
	return (c.Current - c.OpenPrice) / c.OpenPrice
}

// RangePct is the intra-window high-low span relative to the open.
func (c *CandleSnapshot) RangePct() float64 {
	if c == nil || c.OpenPrice <= 0 {
		return 0
	}
	return (c.High - c.Low) / c.OpenPrice
}

// IsStale reports whether the feed has gone quiet.
func (c *CandleSnapshot) IsStale(now time.Time) bool {
	if c == nil || c.LastUpdate.IsZero() {
		return true
	}
	return now.Sub(c.LastUpdate) > staleAfter
}

// windowCandle accumulates ticks for one resolution window and
// publishes snapshots with a single pointer swap.
type windowCandle struct {
	snap atomic.Pointer[CandleSnapshot]
}

// Begin resets the candle for a new window. open <= 0 means the open
// is unknown and will be seeded by the first tick.
func (w *windowCandle) Begin(start, end time.Time, open float64, source string) {
	next := &CandleSnapshot{
		WindowStart: start,
		WindowEnd:   end,
		OpenPrice:   open,
		OpenSource:  source,
	}
	if open > 0 {
		next.Current = open
		next.High = open
		next.Low = open
	}
	w.snap.Store(next)
}

// Update applies one price tick. Ticks before Begin are dropped.
func (w *windowCandle) Update(price float64, ts time.Time) {
	prev := w.snap.Load()
	if prev == nil || price <= 0 {
		return
	}
	next := *prev
	if next.OpenPrice <= 0 {
		next.OpenPrice = price
		next.OpenSource = "stream"
		next.High = price
		next.Low = price
	}
	next.Current = price
	if price > next.High {
		next.High = price
	}
	if price < next.Low || next.Low <= 0 {
		next.Low = price
	}
	next.LastUpdate = ts
	next.TickCount = prev.TickCount + 1
	w.snap.Store(&next)
}

// Snapshot returns the latest published candle, nil before Begin.
func (w *windowCandle) Snapshot() *CandleSnapshot {
	return w.snap.Load()
}
