package feed

import (
	"sync"
	"time"
)

// VolumeState summarizes taker flow over the short and medium rolling
// windows. Imbalances are signed and lie in [-1, 1].
type VolumeState struct {
	ShortImbalance  float64
	MediumImbalance float64
	ShortTotal      float64
	MediumTotal     float64
	ShortBuy        float64
	ShortSell       float64
}

// Conclusive reports whether the short-window flow leans hard enough
// to pick a direction. Positive means taker buying dominates.
func (v VolumeState) Conclusive(threshold float64) (up bool, ok bool) {
	if v.ShortTotal <= 0 {
		return false, false
	}
	if v.ShortImbalance >= threshold {
		return true, true
	}
	if v.ShortImbalance <= -threshold {
		return false, true
	}
	return false, false
}

type volumeBucket struct {
	buy  float64
	sell float64
}

// volumeTracker aggregates taker buy/sell quantities into 1 s buckets
// and derives rolling-window imbalances on read.
type volumeTracker struct {
	mu        sync.Mutex
	buckets   map[int64]volumeBucket
	shortSec  int64
	mediumSec int64
}

func newVolumeTracker(shortSec, mediumSec int) *volumeTracker {
	if shortSec <= 0 {
		shortSec = 30
	}
	if mediumSec <= shortSec {
		mediumSec = shortSec * 4
	}
	return &volumeTracker{
		buckets:   make(map[int64]volumeBucket),
		shortSec:  int64(shortSec),
		mediumSec: int64(mediumSec),
	}
}

// Add records one trade. isBuyerMaker=true means the taker sold.
func (t *volumeTracker) Add(qty float64, isBuyerMaker bool, ts time.Time) {
	if qty <= 0 {
		return
	}
	sec := ts.Unix()
	t.mu.Lock()
	b := t.buckets[sec]
	if isBuyerMaker {
		b.sell += qty
	} else {
		b.buy += qty
	}
	t.buckets[sec] = b
	// Evict everything past the medium window.
	cutoff := sec - t.mediumSec
	for k := range t.buckets {
		if k < cutoff {
			delete(t.buckets, k)
		}
	}
	t.mu.Unlock()
}

// Snapshot computes imbalances for both windows ending at now.
func (t *volumeTracker) Snapshot(now time.Time) VolumeState {
	sec := now.Unix()
	t.mu.Lock()
	defer t.mu.Unlock()

	var shortBuy, shortSell, medBuy, medSell float64
	for k, b := range t.buckets {
		if k > sec {
			continue
		}
		if k >= sec-t.mediumSec {
			medBuy += b.buy
			medSell += b.sell
		}
		if k >= sec-t.shortSec {
			shortBuy += b.buy
			shortSell += b.sell
		}
	}

	state := VolumeState{
		ShortBuy:    shortBuy,
		ShortSell:   shortSell,
		ShortTotal:  shortBuy + shortSell,
		MediumTotal: medBuy + medSell,
	}
	if state.ShortTotal > 0 {
		state.ShortImbalance = (shortBuy - shortSell) / state.ShortTotal
	}
	if state.MediumTotal > 0 {
		state.MediumImbalance = (medBuy - medSell) / state.MediumTotal
	}
	return state
}
