// Package signal holds the pure entry evaluators. They consume the
// reference candle, book prices, and time-to-end, and never touch
// engine state.
package signal

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pairbot/gopair/internal/feed"
)

// Action is the evaluator's verdict.
type Action int

const (
	Skip Action = iota
	BuyUp
	BuyDown
)

func (a Action) String() string {
	switch a {
	case BuyUp:
		return "BUY_UP"
	case BuyDown:
		return "BUY_DOWN"
	default:
		return "SKIP"
	}
}

// Decision carries the action and, for SKIP, a human-readable reason.
type Decision struct {
	Action Action
	Reason string
}

func skip(format string, args ...any) Decision {
	return Decision{Action: Skip, Reason: fmt.Sprintf(format, args...)}
}

// Books is the evaluator's view of both asks.
type Books struct {
	UpAsk   decimal.Decimal
	DownAsk decimal.Decimal
}

// StopHuntParams are the thresholds for the stop-hunt entry.
type StopHuntParams struct {
	EntryStartSec  int     // earliest entry, seconds to end
	EntryEndSec    int     // latest entry, seconds to end
	NoNewOrdersSec int     // pre-resolution buffer
	MaxRangePct    float64 // reject trending windows
	MaxFirstLeg    decimal.Decimal
	MinBTCTicks    int
	// Short-window taker imbalance considered conclusive.
	VolumeThreshold float64
}

// EvaluateStopHunt runs the stop-hunt gates in order and returns the
// first rejection, or a direction.
func EvaluateStopHunt(candle *feed.CandleSnapshot, volume feed.VolumeState, books Books, secondsToEnd int, now time.Time, p StopHuntParams) Decision {
	if secondsToEnd > p.EntryStartSec || secondsToEnd < p.EntryEndSec {
		return skip("outside entry window: %ds to end, want [%d, %d]", secondsToEnd, p.EntryEndSec, p.EntryStartSec)
	}
	if secondsToEnd < p.NoNewOrdersSec {
		return skip("inside pre-resolution buffer: %ds < %ds", secondsToEnd, p.NoNewOrdersSec)
	}
	if candle == nil || candle.IsStale(now) {
		return skip("reference feed stale")
	}
	if rangePct := candle.RangePct(); rangePct > p.MaxRangePct {
		return skip("trending window: range %.4f%% > %.4f%%", rangePct*100, p.MaxRangePct*100)
	}
	if candle.TickCount < p.MinBTCTicks {
		return skip("insufficient btc ticks (%d/%d)", candle.TickCount, p.MinBTCTicks)
	}

	upCheap := books.UpAsk.IsPositive() && books.UpAsk.LessThan(p.MaxFirstLeg)
	downCheap := books.DownAsk.IsPositive() && books.DownAsk.LessThan(p.MaxFirstLeg)
	if !upCheap && !downCheap {
		return skip("no cheap side: up %s, down %s, threshold %s", books.UpAsk, books.DownAsk, p.MaxFirstLeg)
	}

	// Conclusive taker flow picks the side when that side is cheap.
	if up, ok := volume.Conclusive(p.VolumeThreshold); ok {
		if up && upCheap {
			return Decision{Action: BuyUp, Reason: "volume flow up"}
		}
		if !up && downCheap {
			return Decision{Action: BuyDown, Reason: "volume flow down"}
		}
	}
	return cheaperSide(books, upCheap, downCheap)
}

// MeanReversionParams are the thresholds for the mean-reversion entry.
type MeanReversionParams struct {
	DeviationThreshold float64
	NoNewOrdersSec     int
	MaxFirstLeg        decimal.Decimal
	MinBTCTicks        int
	VolumeThreshold    float64
}

// EvaluateMeanReversion triggers on a stretched deviation and emits
// the side that profits if price reverts to the window open.
func EvaluateMeanReversion(candle *feed.CandleSnapshot, volume feed.VolumeState, books Books, secondsToEnd int, now time.Time, p MeanReversionParams) Decision {
	if secondsToEnd < p.NoNewOrdersSec {
		return skip("inside pre-resolution buffer: %ds < %ds", secondsToEnd, p.NoNewOrdersSec)
	}
	if candle == nil || candle.IsStale(now) {
		return skip("reference feed stale")
	}
	if candle.TickCount < p.MinBTCTicks {
		return skip("insufficient btc ticks (%d/%d)", candle.TickCount, p.MinBTCTicks)
	}

	dev := candle.Deviation()
	if dev < p.DeviationThreshold && dev > -p.DeviationThreshold {
		return skip("deviation %.4f%% below threshold %.4f%%", dev*100, p.DeviationThreshold*100)
	}

	upCheap := books.UpAsk.IsPositive() && books.UpAsk.LessThan(p.MaxFirstLeg)
	downCheap := books.DownAsk.IsPositive() && books.DownAsk.LessThan(p.MaxFirstLeg)

	// Price above open reverts down, below open reverts up.
	wantUp := dev < 0
	if wantUp && upCheap {
		return Decision{Action: BuyUp, Reason: fmt.Sprintf("reversion up from %.4f%%", dev*100)}
	}
	if !wantUp && downCheap {
		return Decision{Action: BuyDown, Reason: fmt.Sprintf("reversion down from %.4f%%", dev*100)}
	}

	// Reversion side priced out: taker flow, then cheapest ask.
	if up, ok := volume.Conclusive(p.VolumeThreshold); ok {
		if up && upCheap {
			return Decision{Action: BuyUp, Reason: "volume flow up"}
		}
		if !up && downCheap {
			return Decision{Action: BuyDown, Reason: "volume flow down"}
		}
	}
	return cheaperSide(books, upCheap, downCheap)
}

func cheaperSide(books Books, upCheap, downCheap bool) Decision {
	switch {
	case upCheap && downCheap:
		if books.UpAsk.LessThanOrEqual(books.DownAsk) {
			return Decision{Action: BuyUp, Reason: "cheaper side up"}
		}
		return Decision{Action: BuyDown, Reason: "cheaper side down"}
	case upCheap:
		return Decision{Action: BuyUp, Reason: "only cheap side up"}
	case downCheap:
		return Decision{Action: BuyDown, Reason: "only cheap side down"}
	default:
		return skip("no cheap side")
	}
}
