// Package sizing computes complete-set order sizes, the dynamic edge
// requirement, and bankroll exposure.
package sizing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MinOrderShares is the exchange-imposed minimum order size.
var MinOrderShares = decimal.NewFromInt(5)

// Params carries the bankroll budget knobs.
type Params struct {
	BankrollUSD   decimal.Decimal
	TotalFraction decimal.Decimal // max simultaneous exposure as a bankroll fraction
	OrderFraction decimal.Decimal // per-order fraction, default 0.20
}

// timeFactor scales the base size up as the window end approaches.
// Later entries face less drift risk so they can run larger.
func timeFactor(secondsToEnd int) decimal.Decimal {
	switch {
	case secondsToEnd > 600:
		return decimal.NewFromFloat(0.8)
	case secondsToEnd > 300:
		return decimal.NewFromInt(1)
	case secondsToEnd > 120:
		return decimal.NewFromFloat(1.2)
	default:
		return decimal.NewFromFloat(1.5)
	}
}

// SizeBalancedOrder sizes one leg of a complete set so both legs fit
// the same budget. Returns zero with a reason when no order should be
// placed.
func SizeBalancedOrder(upPrice, downPrice decimal.Decimal, secondsToEnd int, exposure decimal.Decimal, p Params) (decimal.Decimal, string) {
	expensive := upPrice
	if downPrice.GreaterThan(expensive) {
		expensive = downPrice
	}
	if !expensive.IsPositive() {
		return decimal.Zero, "no positive leg price"
	}

	fraction := p.OrderFraction
	if !fraction.IsPositive() {
		fraction = decimal.NewFromFloat(0.20)
	}
	shares := p.BankrollUSD.Mul(fraction).Div(expensive).Truncate(2)
	shares = shares.Mul(timeFactor(secondsToEnd)).Truncate(2)

	remaining := p.BankrollUSD.Mul(p.TotalFraction).Sub(exposure)
	if !remaining.IsPositive() {
		return decimal.Zero, fmt.Sprintf("no bankroll headroom: exposure %s of %s",
			exposure.StringFixed(2), p.BankrollUSD.Mul(p.TotalFraction).StringFixed(2))
	}
	cap := remaining.Div(expensive).Truncate(2)
	if cap.LessThan(shares) {
		shares = cap
	}

	if shares.LessThan(MinOrderShares) {
		return decimal.Zero, fmt.Sprintf("size %s below exchange minimum %s", shares, MinOrderShares)
	}
	return shares, ""
}

// DynamicEdge widens the required profit edge with the spread of the
// hedge leg: wider books need more cushion.
func DynamicEdge(baseEdge, spread decimal.Decimal) decimal.Decimal {
	switch {
	case spread.GreaterThanOrEqual(decimal.NewFromFloat(0.10)):
		return baseEdge.Mul(decimal.NewFromInt(2))
	case spread.GreaterThanOrEqual(decimal.NewFromFloat(0.06)):
		return baseEdge.Mul(decimal.NewFromFloat(1.5))
	default:
		return baseEdge
	}
}

// OrderExposure is the sizing-relevant view of one open order.
type OrderExposure struct {
	Price                 decimal.Decimal
	Size                  decimal.Decimal
	Matched               decimal.Decimal
	ReservedHedgeNotional decimal.Decimal
}

// PositionExposure is the sizing-relevant view of one position.
type PositionExposure struct {
	UpShares   decimal.Decimal
	DownShares decimal.Decimal
	UpVWAP     decimal.Decimal // zero when the side is empty
	DownVWAP   decimal.Decimal
}

// Breakdown splits total exposure into its four components.
type Breakdown struct {
	OrdersNotional decimal.Decimal
	ReservedHedges decimal.Decimal
	Unhedged       decimal.Decimal
	HedgedLocked   decimal.Decimal
}

// Total sums the components exactly.
func (b Breakdown) Total() decimal.Decimal {
	return b.OrdersNotional.Add(b.ReservedHedges).Add(b.Unhedged).Add(b.HedgedLocked)
}

var half = decimal.NewFromFloat(0.5)

// ComputeExposure derives the exposure breakdown from open orders and
// positions. An unhedged share reserves a full dollar: its cost at
// VWAP plus the 1-VWAP hedge reserve.
func ComputeExposure(orders []OrderExposure, positions []PositionExposure) Breakdown {
	var b Breakdown
	for _, o := range orders {
		open := o.Size.Sub(o.Matched)
		if open.IsPositive() {
			b.OrdersNotional = b.OrdersNotional.Add(o.Price.Mul(open))
		}
		b.ReservedHedges = b.ReservedHedges.Add(o.ReservedHedgeNotional)
	}
	one := decimal.NewFromInt(1)
	for _, p := range positions {
		hedged := p.UpShares
		if p.DownShares.LessThan(hedged) {
			hedged = p.DownShares
		}
		if hedged.IsPositive() {
			b.HedgedLocked = b.HedgedLocked.Add(hedged.Mul(p.UpVWAP.Add(p.DownVWAP)))
		}

		imbalance := p.UpShares.Sub(p.DownShares)
		if imbalance.IsZero() {
			continue
		}
		vwap := p.UpVWAP
		if imbalance.IsNegative() {
			vwap = p.DownVWAP
		}
		if !vwap.IsPositive() {
			vwap = half
		}
		// cost + hedge reserve: |I|*vwap + |I|*(1-vwap) = |I|.
		excess := imbalance.Abs()
		b.Unhedged = b.Unhedged.Add(excess.Mul(vwap)).Add(excess.Mul(one.Sub(vwap)))
	}
	return b
}
