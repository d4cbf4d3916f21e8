package feed

import (
	"math"
	"testing"
	"time"
)

func TestCandleSeedsOpenFromFirstTick(t *testing.T) {
	var c windowCandle
	start := time.Unix(1_700_000_000, 0)
	c.Begin(start, start.Add(15*time.Minute), 0, "stream")

	c.Update(50000, start.Add(time.Second))
	snap := c.Snapshot()
	if snap.OpenPrice != 50000 {
		t.Fatalf("open = %v, want 50000", snap.OpenPrice)
	}
	if snap.TickCount != 1 {
		t.Fatalf("tick count = %d, want 1", snap.TickCount)
	}

	c.Update(50500, start.Add(2*time.Second))
	c.Update(49800, start.Add(3*time.Second))
	snap = c.Snapshot()
	if snap.High != 50500 || snap.Low != 49800 {
		t.Fatalf("high/low = %v/%v, want 50500/49800", snap.High, snap.Low)
	}
	if snap.TickCount != 3 {
		t.Fatalf("tick count = %d, want 3", snap.TickCount)
	}
}

func TestCandleOracleOpenWins(t *testing.T) {
	var c windowCandle
	start := time.Unix(1_700_000_000, 0)
	c.Begin(start, start.Add(15*time.Minute), 50000, "oracle")
	c.Update(50100, start.Add(time.Second))

	snap := c.Snapshot()
	if snap.OpenPrice != 50000 {
		t.Fatalf("open = %v, want oracle 50000", snap.OpenPrice)
	}
	dev := snap.Deviation()
	if math.Abs(dev-0.002) > 1e-9 {
		t.Fatalf("deviation = %v, want 0.002", dev)
	}
}

func TestCandleStaleness(t *testing.T) {
	var c windowCandle
	start := time.Unix(1_700_000_000, 0)
	c.Begin(start, start.Add(15*time.Minute), 50000, "oracle")

	snap := c.Snapshot()
	if !snap.IsStale(start) {
		t.Fatal("candle with no ticks should be stale")
	}

	c.Update(50010, start.Add(time.Second))
	snap = c.Snapshot()
	if snap.IsStale(start.Add(5 * time.Second)) {
		t.Fatal("candle updated 4s ago should not be stale")
	}
	if !snap.IsStale(start.Add(12 * time.Second)) {
		t.Fatal("candle updated 11s ago should be stale")
	}
}

func TestCandleRangePct(t *testing.T) {
	var c windowCandle
	start := time.Unix(1_700_000_000, 0)
	c.Begin(start, start.Add(15*time.Minute), 50000, "oracle")
	c.Update(50100, start.Add(time.Second))
	c.Update(49900, start.Add(2*time.Second))

	got := c.Snapshot().RangePct()
	want := 200.0 / 50000.0
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("range pct = %v, want %v", got, want)
	}
}

func TestVolumeImbalanceWindows(t *testing.T) {
	v := newVolumeTracker(30, 120)
	now := time.Unix(1_700_000_000, 0)

	// Old buy flow only lands in the medium window.
	v.Add(10, false, now.Add(-60*time.Second))
	// Recent sell flow lands in both.
	v.Add(5, true, now.Add(-5*time.Second))

	state := v.Snapshot(now)
	if state.ShortImbalance != -1 {
		t.Fatalf("short imbalance = %v, want -1 (pure selling)", state.ShortImbalance)
	}
	wantMed := (10.0 - 5.0) / 15.0
	if math.Abs(state.MediumImbalance-wantMed) > 1e-12 {
		t.Fatalf("medium imbalance = %v, want %v", state.MediumImbalance, wantMed)
	}
	if state.ShortTotal != 5 || state.MediumTotal != 15 {
		t.Fatalf("totals = %v/%v, want 5/15", state.ShortTotal, state.MediumTotal)
	}
}

func TestVolumeEviction(t *testing.T) {
	v := newVolumeTracker(30, 120)
	now := time.Unix(1_700_000_000, 0)

	v.Add(100, false, now.Add(-300*time.Second))
	v.Add(1, false, now)

	state := v.Snapshot(now)
	if state.MediumTotal != 1 {
		t.Fatalf("medium total = %v, want 1 (old bucket evicted)", state.MediumTotal)
	}
}

func TestVolumeConclusive(t *testing.T) {
	v := VolumeState{ShortImbalance: 0.5, ShortTotal: 10}
	up, ok := v.Conclusive(0.3)
	if !ok || !up {
		t.Fatalf("conclusive = (%v,%v), want (true,true)", up, ok)
	}

	v = VolumeState{ShortImbalance: -0.4, ShortTotal: 10}
	up, ok = v.Conclusive(0.3)
	if !ok || up {
		t.Fatalf("conclusive = (%v,%v), want (false,true)", up, ok)
	}

	v = VolumeState{ShortImbalance: 0.1, ShortTotal: 10}
	if _, ok = v.Conclusive(0.3); ok {
		t.Fatal("weak imbalance should be inconclusive")
	}

	v = VolumeState{ShortImbalance: 1, ShortTotal: 0}
	if _, ok = v.Conclusive(0.3); ok {
		t.Fatal("zero volume should be inconclusive")
	}
}
