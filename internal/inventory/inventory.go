// Package inventory tracks per-market positions: shares, cost basis,
// VWAPs, and realized PnL across fills, sells, merges, and window
// resolutions.
package inventory

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/pairbot/gopair/pkg/logger"
)

var log = logger.WithField("module", "inventory")

// Position is the accumulated inventory for one market.
type Position struct {
	Slug string `json:"slug"`

	UpShares   decimal.Decimal `json:"up_shares"`
	DownShares decimal.Decimal `json:"down_shares"`
	UpCost     decimal.Decimal `json:"up_cost"`
	DownCost   decimal.Decimal `json:"down_cost"`

	// Cumulative filled quantity, reduced only by exact merges.
	FilledUpShares   decimal.Decimal `json:"filled_up_shares"`
	FilledDownShares decimal.Decimal `json:"filled_down_shares"`

	// Cost estimated from mid-market instead of actual fills.
	BootstrappedUp   bool `json:"bootstrapped_up"`
	BootstrappedDown bool `json:"bootstrapped_down"`

	LastUpFillAt   time.Time `json:"last_up_fill_at"`
	LastDownFillAt time.Time `json:"last_down_fill_at"`
	LastMergeAt    time.Time `json:"last_merge_at"`

	PriorMergePnL decimal.Decimal `json:"prior_merge_pnl"`
}

// UpVWAP returns up_cost/up_shares, ok=false for an empty side.
func (p *Position) UpVWAP() (decimal.Decimal, bool) {
	if p.UpShares.IsPositive() {
		return p.UpCost.Div(p.UpShares), true
	}
	return decimal.Zero, false
}

// DownVWAP returns down_cost/down_shares, ok=false for an empty side.
func (p *Position) DownVWAP() (decimal.Decimal, bool) {
	if p.DownShares.IsPositive() {
		return p.DownCost.Div(p.DownShares), true
	}
	return decimal.Zero, false
}

// Hedged is the balanced quantity min(up, down).
func (p *Position) Hedged() decimal.Decimal {
	if p.UpShares.LessThan(p.DownShares) {
		return p.UpShares
	}
	return p.DownShares
}

// Imbalance is up_shares - down_shares, signed.
func (p *Position) Imbalance() decimal.Decimal {
	return p.UpShares.Sub(p.DownShares)
}

// IsEmpty reports whether both sides hold zero shares.
func (p *Position) IsEmpty() bool {
	return p.UpShares.IsZero() && p.DownShares.IsZero()
}

// Tracker owns every market position. All mutation happens on the
// engine's tick worker; the tracker itself is not locked.
type Tracker struct {
	positions map[string]*Position

	// Session realized PnL booked from sells, merges, and clears.
	realized decimal.Decimal
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{positions: make(map[string]*Position)}
}

// Position returns the tracked position for slug, nil when unknown.
func (t *Tracker) Position(slug string) *Position {
	return t.positions[slug]
}

// Positions returns the live position map. Callers must not mutate.
func (t *Tracker) Positions() map[string]*Position {
	return t.positions
}

// RealizedPnL is the session total booked so far.
func (t *Tracker) RealizedPnL() decimal.Decimal {
	return t.realized
}

func (t *Tracker) get(slug string) *Position {
	p, ok := t.positions[slug]
	if !ok {
		p = &Position{Slug: slug}
		t.positions[slug] = p
	}
	return p
}

// RecordFill books a buy fill: shares and cost increase on one side,
// the bootstrap flag clears because the cost is now real.
func (t *Tracker) RecordFill(slug string, isUp bool, shares, price decimal.Decimal) {
	if !shares.IsPositive() {
		return
	}
	p := t.get(slug)
	cost := shares.Mul(price)
	now := time.Now()
	if isUp {
		p.UpShares = p.UpShares.Add(shares)
		p.UpCost = p.UpCost.Add(cost)
		p.FilledUpShares = p.FilledUpShares.Add(shares)
		p.BootstrappedUp = false
		p.LastUpFillAt = now
	} else {
		p.DownShares = p.DownShares.Add(shares)
		p.DownCost = p.DownCost.Add(cost)
		p.FilledDownShares = p.FilledDownShares.Add(shares)
		p.BootstrappedDown = false
		p.LastDownFillAt = now
	}
	log.WithField("slug", slug).
		WithField("up", isUp).
		WithField("shares", shares.String()).
		WithField("price", price.String()).
		Debug("fill recorded")
}

// RecordSellFill books a sell: shares shrink, cost shrinks
// proportionally, and the difference to VWAP is realized.
func (t *Tracker) RecordSellFill(slug string, isUp bool, shares, price decimal.Decimal) {
	p := t.positions[slug]
	if p == nil || !shares.IsPositive() {
		return
	}
	held, cost := p.UpShares, p.UpCost
	if !isUp {
		held, cost = p.DownShares, p.DownCost
	}
	if shares.GreaterThan(held) {
		shares = held
	}
	if !shares.IsPositive() {
		return
	}

	vwap := decimal.Zero
	if held.IsPositive() {
		vwap = cost.Div(held)
	}
	t.realized = t.realized.Add(shares.Mul(price.Sub(vwap)))

	remaining := held.Sub(shares)
	var newCost decimal.Decimal
	if remaining.IsZero() {
		newCost = decimal.Zero
	} else {
		newCost = cost.Mul(remaining).Div(held)
	}
	if isUp {
		p.UpShares, p.UpCost = remaining, newCost
	} else {
		p.DownShares, p.DownCost = remaining, newCost
	}
}

// ReduceMerged books a merge of `shares` complete sets: both sides
// shrink by the same quantity, and shares*(1 - up_vwap - down_vwap) is
// realized. Merging the full balanced amount leaves canonical zeros.
func (t *Tracker) ReduceMerged(slug string, shares decimal.Decimal) {
	p := t.positions[slug]
	if p == nil || !shares.IsPositive() {
		return
	}
	if hedged := p.Hedged(); shares.GreaterThan(hedged) {
		shares = hedged
	}
	if !shares.IsPositive() {
		return
	}

	upVWAP, _ := p.UpVWAP()
	downVWAP, _ := p.DownVWAP()
	pnl := shares.Mul(decimal.NewFromInt(1).Sub(upVWAP).Sub(downVWAP))
	t.realized = t.realized.Add(pnl)
	p.PriorMergePnL = p.PriorMergePnL.Add(pnl)
	p.LastMergeAt = time.Now()

	p.UpShares, p.UpCost, p.FilledUpShares = reduceSide(p.UpShares, p.UpCost, p.FilledUpShares, shares)
	p.DownShares, p.DownCost, p.FilledDownShares = reduceSide(p.DownShares, p.DownCost, p.FilledDownShares, shares)

	log.WithField("slug", slug).
		WithField("shares", shares.String()).
		WithField("pnl", pnl.StringFixed(4)).
		Info("merge booked")
}

// reduceSide shrinks one side by `by`, scaling cost and filled counts
// proportionally. An exact reduction writes literal zeros so no
// residual dust survives.
func reduceSide(shares, cost, filled, by decimal.Decimal) (decimal.Decimal, decimal.Decimal, decimal.Decimal) {
	if by.GreaterThanOrEqual(shares) {
		return decimal.Zero, decimal.Zero, decimal.Zero
	}
	remaining := shares.Sub(by)
	ratio := remaining.Div(shares)
	return remaining, cost.Mul(ratio), filled.Mul(ratio)
}

// ClearMarket drops a market after resolution. The hedged residual
// realizes the complete-set payout; any unhedged residual is written
// off at cost. Final bids, when known, only feed the log estimate.
func (t *Tracker) ClearMarket(slug string, upBid, downBid *decimal.Decimal) {
	p := t.positions[slug]
	if p == nil {
		return
	}
	defer delete(t.positions, slug)

	if p.IsEmpty() {
		return
	}

	upVWAP, _ := p.UpVWAP()
	downVWAP, _ := p.DownVWAP()
	hedged := p.Hedged()

	var booked decimal.Decimal
	if hedged.IsPositive() {
		booked = booked.Add(hedged.Mul(decimal.NewFromInt(1).Sub(upVWAP).Sub(downVWAP)))
	}
	// The unbacked leg is assumed worthless: loss equals its cost share.
	imbalance := p.Imbalance()
	if !imbalance.IsZero() {
		excess := imbalance.Abs()
		if imbalance.IsPositive() {
			booked = booked.Sub(excess.Mul(upVWAP))
		} else {
			booked = booked.Sub(excess.Mul(downVWAP))
		}
	}
	t.realized = t.realized.Add(booked)

	estimate := "n/a"
	if upBid != nil && downBid != nil {
		est := p.UpShares.Mul(*upBid).Add(p.DownShares.Mul(*downBid)).Sub(p.UpCost).Sub(p.DownCost)
		estimate = est.StringFixed(4)
	}
	log.WithField("slug", slug).
		WithField("booked", booked.StringFixed(4)).
		WithField("market_estimate", estimate).
		Info("market cleared")
}

// MidPriceFunc supplies a mid price for one token, used to bootstrap
// cost for shares discovered on-chain without fill history.
type MidPriceFunc func(tokenID string) (decimal.Decimal, bool)

// BalanceReader exposes the token ids and on-chain balances the sync
// needs per market.
type BalanceReader interface {
	Slug() string
	UpToken() string
	DownToken() string
	Balances() (up, down decimal.Decimal, ok bool)
}

// SyncInventory reconciles local positions with on-chain balances.
// Shares with no cost history are bootstrapped at mid price; balances
// below local holdings are trusted and shrink the position.
func (t *Tracker) SyncInventory(markets []BalanceReader, mid MidPriceFunc) {
	for _, m := range markets {
		up, down, ok := m.Balances()
		if !ok {
			continue
		}
		t.syncSide(m.Slug(), true, up, m.UpToken(), mid)
		t.syncSide(m.Slug(), false, down, m.DownToken(), mid)
	}
}

func (t *Tracker) syncSide(slug string, isUp bool, chain decimal.Decimal, tokenID string, mid MidPriceFunc) {
	p := t.get(slug)
	local := p.UpShares
	if !isUp {
		local = p.DownShares
	}
	if chain.Equal(local) {
		return
	}

	if chain.GreaterThan(local) {
		// Unknown shares: estimate cost at mid and flag the side.
		extra := chain.Sub(local)
		price := decimal.NewFromFloat(0.5)
		if mid != nil {
			if m, ok := mid(tokenID); ok && m.IsPositive() {
				price = m
			}
		}
		if isUp {
			p.UpShares = chain
			p.UpCost = p.UpCost.Add(extra.Mul(price))
			p.BootstrappedUp = true
		} else {
			p.DownShares = chain
			p.DownCost = p.DownCost.Add(extra.Mul(price))
			p.BootstrappedDown = true
		}
		log.WithField("slug", slug).
			WithField("up", isUp).
			WithField("extra", extra.String()).
			WithField("mid", price.String()).
			Warn("bootstrapped untracked on-chain shares")
		return
	}

	// Chain below local: scale cost down with the shares.
	var cost decimal.Decimal
	if isUp {
		cost = p.UpCost
	} else {
		cost = p.DownCost
	}
	var newCost decimal.Decimal
	if chain.IsZero() || !local.IsPositive() {
		newCost = decimal.Zero
	} else {
		newCost = cost.Mul(chain).Div(local)
	}
	if isUp {
		p.UpShares, p.UpCost = chain, newCost
	} else {
		p.DownShares, p.DownCost = chain, newCost
	}
}
