package events

import (
	"testing"
	"time"
)

func TestBusOverflowDropsWithoutBlocking(t *testing.T) {
	bus := NewBus(10)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 15; i++ {
			bus.Publish(TypeBTCPrice, BTCPrice{Price: float64(i)})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on full queue")
	}

	if got := bus.Dropped(); got != 5 {
		t.Fatalf("dropped = %d, want 5", got)
	}

	// Consumer sees exactly the first 10, in order.
	for i := 0; i < 10; i++ {
		select {
		case ev := <-bus.Events():
			p := ev.Payload.(BTCPrice)
			if p.Price != float64(i) {
				t.Fatalf("event %d carries price %v, want %v", i, p.Price, float64(i))
			}
		default:
			t.Fatalf("expected 10 queued events, got %d", i)
		}
	}
	select {
	case <-bus.Events():
		t.Fatal("more than 10 events queued")
	default:
	}
}

func TestThrottleIntervals(t *testing.T) {
	th := NewThrottle()
	now := time.Unix(1_700_000_000, 0)

	if !th.Allow(TypeTickSnapshot, now) {
		t.Fatal("first tick snapshot must pass")
	}
	if th.Allow(TypeTickSnapshot, now.Add(200*time.Millisecond)) {
		t.Fatal("tick snapshot inside 500ms must be throttled")
	}
	if !th.Allow(TypeTickSnapshot, now.Add(600*time.Millisecond)) {
		t.Fatal("tick snapshot after 500ms must pass")
	}

	// Order events have no interval and always pass.
	for i := 0; i < 5; i++ {
		if !th.Allow(TypeOrderFilled, now) {
			t.Fatal("order events must never be throttled")
		}
	}

	if !th.Allow(TypePnLSnapshot, now) {
		t.Fatal("first pnl snapshot must pass")
	}
	if th.Allow(TypePnLSnapshot, now.Add(9*time.Second)) {
		t.Fatal("pnl snapshot inside 10s must be throttled")
	}
}
