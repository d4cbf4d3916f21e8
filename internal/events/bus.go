package events

import (
	"sync/atomic"
	"time"

	"github.com/pairbot/gopair/pkg/logger"
)

var log = logger.WithField("module", "events")

// Bus is a bounded FIFO with put-nowait semantics. Publish never
// blocks; overflow is counted and dropped.
type Bus struct {
	ch      chan Event
	dropped atomic.Uint64
}

// NewBus creates a bus holding up to size events.
func NewBus(size int) *Bus {
	if size <= 0 {
		size = 1024
	}
	return &Bus{ch: make(chan Event, size)}
}

// Publish enqueues one event, stamping At when unset. On a full queue
// the event is discarded; every 100th drop is logged.
func (b *Bus) Publish(typ Type, payload any) {
	ev := Event{Type: typ, At: time.Now(), Payload: payload}
	select {
	case b.ch <- ev:
	default:
		n := b.dropped.Add(1)
		if n%100 == 1 {
			log.WithField("dropped_total", n).WithField("type", string(typ)).
				Warn("event queue full, dropping")
		}
	}
}

// Events is the consumer's receive side. Single consumer only.
func (b *Bus) Events() <-chan Event {
	return b.ch
}

// Dropped reports the total number of discarded events.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Throttle suppresses high-frequency event types for the dashboard
// broadcaster. Zero-interval types always pass.
type Throttle struct {
	intervals map[Type]time.Duration
	lastSent  map[Type]time.Time
}

// NewThrottle installs the default per-type minimum intervals.
func NewThrottle() *Throttle {
	return &Throttle{
		intervals: map[Type]time.Duration{
			TypeTickSnapshot: 500 * time.Millisecond,
			TypeBTCPrice:     time.Second,
			TypeVolumeState:  2 * time.Second,
			TypePnLSnapshot:  10 * time.Second,
		},
		lastSent: make(map[Type]time.Time),
	}
}

// Allow reports whether an event of this type may be forwarded now,
// and records the send when it is.
func (t *Throttle) Allow(typ Type, now time.Time) bool {
	min, ok := t.intervals[typ]
	if !ok {
		return true
	}
	if last, seen := t.lastSent[typ]; seen && now.Sub(last) < min {
		return false
	}
	t.lastSent[typ] = now
	return true
}
