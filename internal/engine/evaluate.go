package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pairbot/gopair/clob/types"
	"github.com/pairbot/gopair/internal/events"
	"github.com/pairbot/gopair/internal/inventory"
	"github.com/pairbot/gopair/internal/orders"
	"github.com/pairbot/gopair/internal/signal"
	"github.com/pairbot/gopair/internal/sizing"
	"github.com/pairbot/gopair/pkg/marketmath"
)

var (
	tick = decimal.NewFromFloat(0.01)
	one  = decimal.NewFromInt(1)
)

// evaluateMarket runs one market through its phases: completion,
// pre-resolution sweep, hedging an imbalanced position, or hunting a
// first leg.
func (e *Engine) evaluateMarket(ctx context.Context, m *Market, now time.Time) {
	secs := m.SecondsToEnd(now)
	if secs <= 0 {
		return
	}
	if e.completed[m.Slug] {
		// Balanced and waiting for the merge; nothing to quote.
		return
	}

	pos := e.inv.Position(m.Slug)
	minMerge := decimal.NewFromFloat(e.cfg.MinMergeShares)

	if e.checkCompletion(ctx, m, pos, minMerge) {
		return
	}

	if secs < e.cfg.NoNewOrdersSec {
		e.om.CancelMarketOrders(ctx, m.UpToken, m.DownToken, orders.ReasonPreResolutionSweep)
		return
	}
	if secs < e.cfg.MinSecondsToEnd || secs > e.cfg.MaxSecondsToEnd {
		return
	}

	if pos != nil && pos.Imbalance().Abs().GreaterThan(minMerge) {
		e.evaluateHedge(ctx, m, pos, secs)
		return
	}
	e.evaluateFirstLeg(ctx, m, secs, now)
}

// checkCompletion marks a balanced position complete: both sides at or
// above the merge minimum with negligible imbalance. Leftover orders
// are swept so nothing keeps accumulating.
func (e *Engine) checkCompletion(ctx context.Context, m *Market, pos *inventory.Position, minMerge decimal.Decimal) bool {
	if pos == nil {
		return false
	}
	if pos.UpShares.LessThan(minMerge) || pos.DownShares.LessThan(minMerge) {
		return false
	}
	if pos.Imbalance().Abs().GreaterThan(minMerge) {
		return false
	}

	e.completed[m.Slug] = true
	delete(e.entryPriceCap, m.Slug)
	e.om.CancelMarketOrders(ctx, m.UpToken, m.DownToken, orders.ReasonHedgeCleanup)
	log.WithField("slug", m.Slug).
		WithField("hedged", pos.Hedged().String()).
		Info("position complete")
	e.bus.Publish(events.TypeHedgeComplete, events.HedgeComplete{Slug: m.Slug, Hedged: pos.Hedged()})
	return true
}

// evaluateHedge works the deficit side of an imbalanced position.
func (e *Engine) evaluateHedge(ctx context.Context, m *Market, pos *inventory.Position, secs int) {
	imbalance := pos.Imbalance()
	needUp := imbalance.IsNegative() // long down, short up

	deficitToken := m.UpToken
	deficitDir := orders.DirectionUp
	excessToken := m.DownToken
	heldVWAP, _ := pos.DownVWAP()
	if !needUp {
		deficitToken = m.DownToken
		deficitDir = orders.DirectionDown
		excessToken = m.UpToken
		heldVWAP, _ = pos.UpVWAP()
	}
	needed := imbalance.Abs()

	tob := e.md.TopOfBook(ctx, deficitToken)
	if tob == nil || !tob.HasAsk {
		return
	}

	// The profit left if we complete the set at the best effective price.
	// The held side's bid can be the cheaper route: selling it mirrors
	// buying the deficit at 1-bid.
	cost := effectiveHedgeCost(needUp, tob, e.md.TopOfBook(ctx, excessToken))
	edge := one.Sub(heldVWAP).Sub(cost)
	if edge.LessThanOrEqual(decimal.NewFromFloat(e.cfg.AbandonEdgeThreshold)) {
		e.om.CancelMarketOrders(ctx, m.UpToken, m.DownToken, orders.ReasonHedgeCleanup)
		e.completed[m.Slug] = true
		log.WithField("slug", m.Slug).
			WithField("edge", edge.StringFixed(4)).
			WithField("threshold", e.cfg.AbandonEdgeThreshold).
			Warn("hedge abandoned, edge unrecoverable")
		return
	}

	required := sizing.DynamicEdge(decimal.NewFromFloat(e.cfg.MinEdge), tob.Spread())
	price, ok := makerPrice(tob)
	if !ok {
		return
	}
	// Never bid past the price that erases the required edge.
	if maxPay := one.Sub(heldVWAP).Sub(required); price.GreaterThan(maxPay) {
		price = maxPay.Truncate(2)
	}
	if !price.IsPositive() {
		return
	}

	// The dollar reserve already parked for these unhedged shares funds
	// the hedge, so it comes back out of exposure before the headroom
	// check.
	reserveVWAP := heldVWAP
	if !reserveVWAP.IsPositive() {
		reserveVWAP = decimal.NewFromFloat(0.5)
	}
	budget := e.bankroll(e.now()).Mul(decimal.NewFromFloat(e.cfg.MaxTotalBankrollFraction))
	headroom := budget.Sub(e.exposure().Total()).Add(needed.Mul(one.Sub(reserveVWAP)))
	// A resting hedge on this token is being replaced, not stacked.
	for _, o := range e.om.OrdersFor(deficitToken) {
		if open := o.Size.Sub(o.Matched); open.IsPositive() {
			headroom = headroom.Add(o.Price.Mul(open))
		}
	}
	if needed.Mul(price).GreaterThan(headroom) {
		log.WithField("slug", m.Slug).
			WithField("notional", needed.Mul(price).StringFixed(2)).
			WithField("headroom", headroom.StringFixed(2)).
			Debug("hedge deferred, no bankroll headroom")
		return
	}

	existing := e.om.OrdersFor(deficitToken)
	if len(existing) > 0 {
		o := existing[0]
		if o.Price.Equal(price) {
			return
		}
		// The book running away caps the chase; the resting order stays
		// and either fills on a retrace or gets swept at the buffer.
		chase := price.Sub(o.Price)
		maxChase := tick.Mul(decimal.NewFromInt(int64(e.cfg.MaxHedgeChaseCents)))
		if chase.GreaterThan(maxChase) {
			log.WithField("slug", m.Slug).
				WithField("resting", o.Price.String()).
				WithField("maker", price.String()).
				Debug("hedge frozen, book moved past chase limit")
			return
		}
		e.cancelTracked(ctx, deficitToken, orders.ReasonChaseCancel)
	}

	placed, err := e.om.PlaceOrder(ctx, orders.PlaceRequest{
		Slug:             m.Slug,
		TokenID:          deficitToken,
		Direction:        deficitDir,
		Side:             types.SideBuy,
		Price:            price,
		Size:             needed,
		SecondsToEnd:     secs,
		Reason:           "hedge",
		OrderType:        types.OrderTypeGTC,
		EntryDynamicEdge: required,
	})
	if err != nil {
		log.WithError(err).WithField("slug", m.Slug).Warn("hedge placement failed")
	}
	if placed {
		e.publishPlaced(m.Slug, deficitToken, deficitDir, price, needed, required, "hedge")
	}
}

// evaluateFirstLeg hunts an entry on a flat (or dust-only) market.
func (e *Engine) evaluateFirstLeg(ctx context.Context, m *Market, secs int, now time.Time) {
	upTOB := e.md.TopOfBook(ctx, m.UpToken)
	downTOB := e.md.TopOfBook(ctx, m.DownToken)
	if upTOB == nil || downTOB == nil || !upTOB.HasAsk || !downTOB.HasAsk {
		return
	}
	books := signal.Books{UpAsk: upTOB.BestAsk, DownAsk: downTOB.BestAsk}

	decision := e.decideFn(books, secs, now)
	if decision.Action == signal.Skip {
		// An already-resting entry order stays out even when this tick
		// would not have opened one.
		return
	}

	dir := orders.DirectionUp
	token := m.UpToken
	tob := upTOB
	oppTOB := downTOB
	if decision.Action == signal.BuyDown {
		dir = orders.DirectionDown
		token = m.DownToken
		tob = downTOB
		oppTOB = upTOB
	}

	price, ok := makerPrice(tob)
	if !ok {
		return
	}
	minEntry := decimal.NewFromFloat(e.cfg.MinEntryPrice)
	maxEntry := decimal.NewFromFloat(e.cfg.MaxEntryPrice)
	if price.LessThan(minEntry) {
		price = minEntry
	}
	if price.GreaterThan(maxEntry) {
		return
	}

	// A chase cap from an earlier cancel blocks re-entry above the
	// abandoned price until a fill or window rotation clears it.
	if capPrice, capped := e.entryPriceCap[m.Slug]; capped && price.GreaterThan(capPrice) {
		return
	}

	if existing := e.om.OrdersFor(token); len(existing) > 0 {
		o := existing[0]
		if price.LessThanOrEqual(o.Price) {
			return
		}
		e.cancelTracked(ctx, token, orders.ReasonChaseCancel)
		e.entryPriceCap[m.Slug] = o.Price
		return
	}
	if e.om.HasOrders(otherToken(m, token)) {
		// One entry at a time per market.
		return
	}

	size, reason := sizing.SizeBalancedOrder(upTOB.BestAsk, downTOB.BestAsk, secs, e.exposure().Total(), sizing.Params{
		BankrollUSD:   e.bankroll(now),
		TotalFraction: decimal.NewFromFloat(e.cfg.MaxTotalBankrollFraction),
		OrderFraction: decimal.NewFromFloat(e.cfg.MaxOrderBankrollFraction),
	})
	if size.IsZero() {
		log.WithField("slug", m.Slug).WithField("reason", reason).Debug("entry not sized")
		return
	}

	required := sizing.DynamicEdge(decimal.NewFromFloat(e.cfg.MinEdge), oppTOB.Spread())
	placed, err := e.om.PlaceOrder(ctx, orders.PlaceRequest{
		Slug:                  m.Slug,
		TokenID:               token,
		Direction:             dir,
		Side:                  types.SideBuy,
		Price:                 price,
		Size:                  size,
		SecondsToEnd:          secs,
		Reason:                decision.Reason,
		OrderType:             types.OrderTypeGTC,
		ReservedHedgeNotional: size.Mul(one.Sub(price)),
		EntryDynamicEdge:      required,
	})
	if err != nil {
		log.WithError(err).WithField("slug", m.Slug).Warn("entry placement failed")
	}
	if placed {
		log.WithField("slug", m.Slug).
			WithField("dir", dir.String()).
			WithField("signal", decision.Reason).
			Info("entry placed")
		e.publishPlaced(m.Slug, token, dir, price, size, required, decision.Reason)
	}
}

// decide runs the enabled evaluators in priority order: stop-hunt
// first, mean-reversion as the fallback.
func (e *Engine) decide(books signal.Books, secs int, now time.Time) signal.Decision {
	if e.feed == nil {
		return signal.Decision{Action: signal.Skip, Reason: "no reference feed"}
	}
	candle := e.feed.Candle()
	volume := e.feed.Volume(now)

	if e.cfg.StopHunt.Enabled {
		d := signal.EvaluateStopHunt(candle, volume, books, secs, now, signal.StopHuntParams{
			EntryStartSec:   e.cfg.StopHunt.EntryStartSec,
			EntryEndSec:     e.cfg.StopHunt.EntryEndSec,
			NoNewOrdersSec:  e.cfg.NoNewOrdersSec,
			MaxRangePct:     e.cfg.StopHunt.MaxRangePct,
			MaxFirstLeg:     decimal.NewFromFloat(e.cfg.StopHuntMaxFirstLeg()),
			MinBTCTicks:     e.cfg.MinBTCTicks,
			VolumeThreshold: volumeConclusiveThreshold,
		})
		if d.Action != signal.Skip {
			return d
		}
	}
	if e.cfg.MeanReversion.Enabled {
		maxLeg := e.cfg.MeanReversion.MaxFirstLeg
		if maxLeg <= 0 {
			maxLeg = e.cfg.StopHuntMaxFirstLeg()
		}
		d := signal.EvaluateMeanReversion(candle, volume, books, secs, now, signal.MeanReversionParams{
			DeviationThreshold: e.cfg.MeanReversion.DeviationThreshold,
			NoNewOrdersSec:     e.cfg.NoNewOrdersSec,
			MaxFirstLeg:        decimal.NewFromFloat(maxLeg),
			MinBTCTicks:        e.cfg.MinBTCTicks,
			VolumeThreshold:    volumeConclusiveThreshold,
		})
		if d.Action != signal.Skip {
			return d
		}
	}
	return signal.Decision{Action: signal.Skip, Reason: "no signal"}
}

// cancelTracked cancels the head order for a token and publishes the
// cancellation.
func (e *Engine) cancelTracked(ctx context.Context, tokenID, reason string) {
	list := e.om.OrdersFor(tokenID)
	if len(list) == 0 {
		return
	}
	o := list[0]
	e.om.CancelOrder(ctx, tokenID, reason)
	e.bus.Publish(events.TypeOrderCancelled, events.OrderEvent{
		OrderID:   o.OrderID,
		Slug:      o.Slug,
		TokenID:   o.TokenID,
		Direction: o.Direction.String(),
		Side:      string(o.Side),
		Price:     o.Price,
		Size:      o.Size,
		Matched:   o.Matched,
		Reason:    reason,
	})
}

func (e *Engine) publishPlaced(slug, token string, dir orders.Direction, price, size, edge decimal.Decimal, reason string) {
	e.bus.Publish(events.TypeOrderPlaced, events.OrderEvent{
		Slug:      slug,
		TokenID:   token,
		Direction: dir.String(),
		Side:      string(types.SideBuy),
		Price:     price,
		Size:      size,
		EntryEdge: edge,
		Reason:    reason,
	})
}

// makerPrice quotes one tick inside the touch: improve the bid without
// crossing the ask.
func makerPrice(tob *TopOfBook) (decimal.Decimal, bool) {
	if tob == nil {
		return decimal.Zero, false
	}
	var price decimal.Decimal
	switch {
	case tob.HasBid && tob.HasAsk:
		price = tob.BestBid.Add(tick)
		if inside := tob.BestAsk.Sub(tick); inside.LessThan(price) {
			price = inside
		}
	case tob.HasAsk:
		price = tob.BestAsk.Sub(tick)
	case tob.HasBid:
		price = tob.BestBid.Add(tick)
	default:
		return decimal.Zero, false
	}
	if !price.IsPositive() || price.GreaterThanOrEqual(one) {
		return decimal.Zero, false
	}
	return price, true
}

// effectiveHedgeCost is the cheaper of the deficit side's ask and the
// mirror through the held side's bid.
func effectiveHedgeCost(needUp bool, deficit, excess *TopOfBook) decimal.Decimal {
	var t marketmath.TopOfBook
	if needUp {
		t.UpAsk = deficit.BestAsk
		if deficit.HasBid {
			t.UpBid = deficit.BestBid
		}
		if excess != nil {
			if excess.HasBid {
				t.DownBid = excess.BestBid
			}
			if excess.HasAsk {
				t.DownAsk = excess.BestAsk
			}
		}
	} else {
		t.DownAsk = deficit.BestAsk
		if deficit.HasBid {
			t.DownBid = deficit.BestBid
		}
		if excess != nil {
			if excess.HasBid {
				t.UpBid = excess.BestBid
			}
			if excess.HasAsk {
				t.UpAsk = excess.BestAsk
			}
		}
	}
	eff, err := marketmath.Effective(t)
	if err != nil {
		return deficit.BestAsk
	}
	cost := eff.BuyUp
	if !needUp {
		cost = eff.BuyDown
	}
	if !cost.IsPositive() {
		return deficit.BestAsk
	}
	return cost
}

func otherToken(m *Market, token string) string {
	if token == m.UpToken {
		return m.DownToken
	}
	return m.UpToken
}
