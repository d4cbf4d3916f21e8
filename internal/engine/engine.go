// Package engine runs the tick loop: harvest background results,
// launch periodic I/O, evaluate every active market, and drive
// settlements.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pairbot/gopair/clob/types"
	"github.com/pairbot/gopair/internal/events"
	"github.com/pairbot/gopair/internal/feed"
	"github.com/pairbot/gopair/internal/inventory"
	"github.com/pairbot/gopair/internal/orders"
	"github.com/pairbot/gopair/internal/settlement"
	"github.com/pairbot/gopair/internal/signal"
	"github.com/pairbot/gopair/internal/sizing"
	"github.com/pairbot/gopair/pkg/config"
	"github.com/pairbot/gopair/pkg/logger"
	"github.com/pairbot/gopair/pkg/marketspec"
)

var log = logger.WithField("module", "engine")

const (
	discoveryInterval      = 30 * time.Second
	balanceRefreshInterval = 5 * time.Second
	reconcileInterval      = time.Minute

	// Short-window taker imbalance treated as a directional signal.
	volumeConclusiveThreshold = 0.3
)

// BalanceFunc reads one token's settled on-chain balance.
type BalanceFunc func(ctx context.Context, tokenID string) (decimal.Decimal, error)

// Engine owns all trading state. Every mutation happens on the tick
// goroutine; background work communicates through channels.
type Engine struct {
	cfg    *config.Config
	specs  []marketspec.Spec
	md     *MarketData
	feed   *feed.Feed
	inv    *inventory.Tracker
	om     *orders.Manager
	settle *settlement.Coordinator
	bus    *events.Bus

	balanceOf BalanceFunc // nil in dry-run
	snapshots *inventory.SnapshotStore

	sessionID string

	active        map[string]*Market
	completed     map[string]bool
	entryPriceCap map[string]decimal.Decimal
	balances      map[string]decimal.Decimal // token id -> settled shares
	windowStarted map[string]bool

	discoveryCh chan []Market
	balancesCh  chan map[string]decimal.Decimal

	// Seam for tests; defaults to the signal evaluators.
	decideFn func(books signal.Books, secs int, now time.Time) signal.Decision

	lastDiscovery      time.Time
	lastBalanceRefresh time.Time
	lastReconcile      time.Time

	compoundedBankroll decimal.Decimal
	lastCompound       time.Time

	now func() time.Time
}

// bankroll is the sizing budget: the configured bankroll, plus realized
// profit folded back in at the compound interval when compounding is on.
func (e *Engine) bankroll(now time.Time) decimal.Decimal {
	base := decimal.NewFromFloat(e.cfg.BankrollUSD)
	if !e.cfg.Compound {
		return base
	}
	interval := time.Duration(e.cfg.CompoundIntervalSec) * time.Second
	if e.lastCompound.IsZero() || interval <= 0 || now.Sub(e.lastCompound) >= interval {
		e.compoundedBankroll = base.Add(e.inv.RealizedPnL())
		e.lastCompound = now
	}
	return e.compoundedBankroll
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Config    *config.Config
	Specs     []marketspec.Spec
	Market    *MarketData
	Feed      *feed.Feed
	Inventory *inventory.Tracker
	Clob      orders.Clob
	Settle    *settlement.Coordinator
	Bus       *events.Bus
	BalanceOf BalanceFunc
	Snapshots *inventory.SnapshotStore
}

// New wires the engine. The order manager is created here so its fill
// callback lands on engine state.
func New(d Deps) *Engine {
	e := &Engine{
		cfg:           d.Config,
		specs:         d.Specs,
		md:            d.Market,
		feed:          d.Feed,
		inv:           d.Inventory,
		settle:        d.Settle,
		bus:           d.Bus,
		balanceOf:     d.BalanceOf,
		snapshots:     d.Snapshots,
		sessionID:     uuid.NewString(),
		active:        make(map[string]*Market),
		completed:     make(map[string]bool),
		entryPriceCap: make(map[string]decimal.Decimal),
		balances:      make(map[string]decimal.Decimal),
		windowStarted: make(map[string]bool),
		discoveryCh:   make(chan []Market, 1),
		balancesCh:    make(chan map[string]decimal.Decimal, 1),
		now:           time.Now,
	}
	e.om = orders.NewManager(d.Clob, d.Config.DryRun, e.md.Book, e.onFill)
	e.decideFn = e.decide
	return e
}

// SessionID identifies this run in persistence and the dashboard.
func (e *Engine) SessionID() string { return e.sessionID }

// Orders exposes the order manager for shutdown and the dashboard.
func (e *Engine) Orders() *orders.Manager { return e.om }

// onFill folds a detected fill into inventory and clears the slug's
// chase cap: a fill means the old price was reachable after all.
func (e *Engine) onFill(state *orders.OrderState, delta decimal.Decimal) {
	isUp := state.Direction == orders.DirectionUp
	if state.Side == types.SideSell {
		e.inv.RecordSellFill(state.Slug, isUp, delta, state.Price)
	} else {
		e.inv.RecordFill(state.Slug, isUp, delta, state.Price)
	}
	delete(e.entryPriceCap, state.Slug)
	e.publishPosition(state.Slug)

	e.bus.Publish(events.TypeOrderFilled, events.OrderEvent{
		OrderID:   state.OrderID,
		Slug:      state.Slug,
		TokenID:   state.TokenID,
		Direction: state.Direction.String(),
		Side:      string(state.Side),
		Price:     state.Price,
		Size:      state.Size,
		Matched:   state.Matched,
		EntryEdge: state.EntryDynamicEdge,
		Reason:    state.Reason,
	})
}

// Run drives the tick loop until ctx is cancelled, then shuts down:
// cancel all orders, await in-flight settlements, snapshot inventory.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(e.cfg.RefreshMillis) * time.Millisecond)
	defer ticker.Stop()

	log.WithField("session", e.sessionID).
		WithField("dry_run", e.cfg.DryRun).
		WithField("tick_ms", e.cfg.RefreshMillis).
		Info("engine started")

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// tick is one full engine cycle. It always completes: every error is
// logged and retried on a later tick.
func (e *Engine) tick(ctx context.Context) {
	now := e.now()

	e.harvest()
	e.launchBackground(ctx, now)

	e.syncInventory()
	e.md.Prefetch(ctx, e.activeList())
	for _, m := range e.activeList() {
		e.evaluateMarket(ctx, m, now)
	}
	e.om.DetectFills(ctx)

	if !e.cfg.DryRun && now.Sub(e.lastReconcile) >= reconcileInterval {
		e.lastReconcile = now
		e.om.Reconcile(ctx)
		e.om.CancelStale(ctx)
	}

	e.runSettlements(ctx, now)
	e.publishTick(now)
}

// harvest applies results produced by background goroutines since the
// last tick.
func (e *Engine) harvest() {
	select {
	case markets := <-e.discoveryCh:
		e.applyDiscovery(markets)
	default:
	}
	select {
	case balances := <-e.balancesCh:
		e.balances = balances
	default:
	}

	for _, r := range e.settle.Harvest() {
		e.applySettlement(r)
	}
}

func (e *Engine) launchBackground(ctx context.Context, now time.Time) {
	if now.Sub(e.lastDiscovery) >= discoveryInterval {
		e.lastDiscovery = now
		go func() {
			markets := e.md.Discover(ctx, e.specs, e.now())
			select {
			case e.discoveryCh <- markets:
			default:
			}
		}()
	}

	if e.balanceOf != nil && !e.cfg.DryRun && now.Sub(e.lastBalanceRefresh) >= balanceRefreshInterval {
		e.lastBalanceRefresh = now
		tokens := make([]string, 0, len(e.active)*2)
		for _, m := range e.active {
			tokens = append(tokens, m.UpToken, m.DownToken)
		}
		go func() {
			out := make(map[string]decimal.Decimal, len(tokens))
			for _, tok := range tokens {
				bal, err := e.balanceOf(ctx, tok)
				if err != nil {
					log.WithError(err).WithField("token", tok).Debug("balance read failed")
					continue
				}
				out[tok] = bal
			}
			select {
			case e.balancesCh <- out:
			default:
			}
		}()
	}
}

// applyDiscovery replaces the active set. Vanished slugs retire:
// orders cancelled, residual inventory queued for redemption, chase
// caps cleared.
func (e *Engine) applyDiscovery(markets []Market) {
	next := make(map[string]*Market, len(markets))
	for i := range markets {
		m := markets[i]
		next[m.Slug] = &m
		if _, known := e.active[m.Slug]; !known {
			log.WithField("slug", m.Slug).
				WithField("end", m.EndTime.Format(time.RFC3339)).
				Info("market entered")
			e.bus.Publish(events.TypeMarketEntered, events.MarketLifecycle{
				Slug:        m.Slug,
				ConditionID: m.ConditionID,
				MarketType:  m.MarketType,
				NegRisk:     m.NegRisk,
				EndTime:     m.EndTime,
			})
			e.beginWindow(&m)
		}
	}

	for slug, old := range e.active {
		if _, still := next[slug]; still {
			continue
		}
		e.retireMarket(old)
	}
	e.active = next
}

// beginWindow aligns the reference candle to the earliest-ending
// active window of each timeframe.
func (e *Engine) beginWindow(m *Market) {
	if e.feed == nil || e.windowStarted[m.Slug] {
		return
	}
	e.windowStarted[m.Slug] = true
	for _, spec := range e.specs {
		if start, ok := spec.WindowStartFromSlug(m.Slug); ok {
			e.feed.BeginWindow(time.Unix(start, 0), m.EndTime)
			return
		}
	}
}

func (e *Engine) retireMarket(m *Market) {
	log.WithField("slug", m.Slug).Info("market retired")
	e.om.CancelMarketOrders(context.Background(), m.UpToken, m.DownToken, orders.ReasonPreResolutionSweep)
	delete(e.entryPriceCap, m.Slug)
	delete(e.completed, m.Slug)
	delete(e.windowStarted, m.Slug)

	pos := e.inv.Position(m.Slug)
	if pos != nil && !pos.IsEmpty() {
		e.settle.QueueRedemption(settlement.MarketRef{
			Slug:        m.Slug,
			ConditionID: m.ConditionID,
			NegRisk:     m.NegRisk,
			UpToken:     m.UpToken,
			DownToken:   m.DownToken,
			EndTime:     m.EndTime,
		}, pos.UpShares, pos.DownShares)

		upBid, downBid := e.finalBids(m)
		e.inv.ClearMarket(m.Slug, upBid, downBid)
	}
	e.bus.Publish(events.TypeMarketExited, events.MarketLifecycle{
		Slug:        m.Slug,
		ConditionID: m.ConditionID,
		MarketType:  m.MarketType,
		NegRisk:     m.NegRisk,
		EndTime:     m.EndTime,
	})
}

func (e *Engine) finalBids(m *Market) (*decimal.Decimal, *decimal.Decimal) {
	var up, down *decimal.Decimal
	if tob := parseTOB(e.md.Book(m.UpToken)); tob != nil && tob.HasBid {
		up = &tob.BestBid
	}
	if tob := parseTOB(e.md.Book(m.DownToken)); tob != nil && tob.HasBid {
		down = &tob.BestBid
	}
	return up, down
}

// applySettlement folds one merge or redeem result into local state.
func (e *Engine) applySettlement(r settlement.Result) {
	if r.Err != nil || r.SoftSkip {
		return
	}
	switch r.Kind {
	case settlement.KindMerge:
		before := e.inv.RealizedPnL()
		e.inv.ReduceMerged(r.Slug, r.Shares)
		delete(e.completed, r.Slug)
		e.publishPosition(r.Slug)
		e.bus.Publish(events.TypeMergeComplete, events.MergeComplete{
			Slug:   r.Slug,
			Shares: r.Shares,
			PnL:    e.inv.RealizedPnL().Sub(before),
			TxHash: r.TxHash,
		})
	case settlement.KindRedeem:
		log.WithField("slug", r.Slug).WithField("tx", r.TxHash).Info("redeemed")
	}
}

// syncInventory reconciles positions with the latest balance cache.
// Dry-run has no settled balances to trust.
func (e *Engine) syncInventory() {
	if e.cfg.DryRun || len(e.balances) == 0 {
		return
	}
	readers := make([]inventory.BalanceReader, 0, len(e.active))
	for _, m := range e.active {
		readers = append(readers, &balanceView{market: m, balances: e.balances})
	}
	e.inv.SyncInventory(readers, e.md.MidPrice)
}

type balanceView struct {
	market   *Market
	balances map[string]decimal.Decimal
}

func (b *balanceView) Slug() string      { return b.market.Slug }
func (b *balanceView) UpToken() string   { return b.market.UpToken }
func (b *balanceView) DownToken() string { return b.market.DownToken }
func (b *balanceView) Balances() (decimal.Decimal, decimal.Decimal, bool) {
	up, okUp := b.balances[b.market.UpToken]
	down, okDown := b.balances[b.market.DownToken]
	if !okUp && !okDown {
		return decimal.Zero, decimal.Zero, false
	}
	return up, down, true
}

// runSettlements launches at most one new merge per tick, then sweeps
// eligible redemptions.
func (e *Engine) runSettlements(ctx context.Context, now time.Time) {
	minMerge := decimal.NewFromFloat(e.cfg.MinMergeShares)
	minProfit := decimal.NewFromFloat(e.cfg.MinMergeProfitUSD)
	for slug := range e.completed {
		m, ok := e.active[slug]
		if !ok {
			continue
		}
		pos := e.inv.Position(slug)
		if pos == nil || pos.Hedged().LessThan(minMerge) {
			continue
		}
		if minProfit.IsPositive() {
			upV, _ := pos.UpVWAP()
			downV, _ := pos.DownVWAP()
			if pos.Hedged().Mul(one.Sub(upV).Sub(downV)).LessThan(minProfit) {
				continue
			}
		}
		if !e.settle.CanMerge(slug, m.SecondsToEnd(now)) {
			continue
		}
		e.settle.LaunchMerge(ctx, settlement.MarketRef{
			Slug:        m.Slug,
			ConditionID: m.ConditionID,
			NegRisk:     m.NegRisk,
			UpToken:     m.UpToken,
			DownToken:   m.DownToken,
			EndTime:     m.EndTime,
		}, pos.Hedged())
		break
	}

	e.settle.RunRedemptions(ctx)
}

func (e *Engine) publishTick(now time.Time) {
	exposure := e.exposure()
	e.bus.Publish(events.TypeTickSnapshot, events.TickSnapshot{
		ActiveMarkets: len(e.active),
		OpenOrders:    len(e.om.All()),
		ExposureUSD:   exposure.Total(),
		RealizedPnL:   e.inv.RealizedPnL(),
	})

	if e.feed != nil {
		if candle := e.feed.Candle(); candle != nil && !candle.IsStale(now) {
			e.bus.Publish(events.TypeBTCPrice, events.BTCPrice{
				Price:     candle.Current,
				Deviation: candle.Deviation(),
				RangePct:  candle.RangePct(),
				TickCount: candle.TickCount,
			})
		}
		vol := e.feed.Volume(now)
		e.bus.Publish(events.TypeVolumeState, events.VolumeSnapshot{
			ShortImbalance:  vol.ShortImbalance,
			MediumImbalance: vol.MediumImbalance,
			ShortTotal:      vol.ShortTotal,
		})
	}
	for _, m := range e.active {
		up := parseTOB(e.md.Book(m.UpToken))
		down := parseTOB(e.md.Book(m.DownToken))
		if up == nil || down == nil {
			continue
		}
		e.bus.Publish(events.TypeProbability, events.ProbabilitySnapshot{
			Slug:    m.Slug,
			UpBid:   up.BestBid,
			UpAsk:   up.BestAsk,
			DownBid: down.BestBid,
			DownAsk: down.BestAsk,
		})
	}

	e.bus.Publish(events.TypePnLSnapshot, events.PnLSnapshot{
		RealizedPnL: e.inv.RealizedPnL(),
		ExposureUSD: exposure.Total(),
	})
}

// publishPosition mirrors one market's inventory onto the bus after a
// change.
func (e *Engine) publishPosition(slug string) {
	pos := e.inv.Position(slug)
	if pos == nil {
		return
	}
	e.bus.Publish(events.TypePositionChange, events.PositionChange{
		Slug:       slug,
		UpShares:   pos.UpShares,
		DownShares: pos.DownShares,
		UpCost:     pos.UpCost,
		DownCost:   pos.DownCost,
		Hedged:     pos.Hedged(),
	})
}

// exposure derives the current bankroll usage from open orders and
// positions.
func (e *Engine) exposure() sizing.Breakdown {
	var orderViews []sizing.OrderExposure
	for _, o := range e.om.All() {
		orderViews = append(orderViews, sizing.OrderExposure{
			Price:                 o.Price,
			Size:                  o.Size,
			Matched:               o.Matched,
			ReservedHedgeNotional: o.ReservedHedgeNotional,
		})
	}
	var posViews []sizing.PositionExposure
	for _, p := range e.inv.Positions() {
		upVWAP, _ := p.UpVWAP()
		downVWAP, _ := p.DownVWAP()
		posViews = append(posViews, sizing.PositionExposure{
			UpShares:   p.UpShares,
			DownShares: p.DownShares,
			UpVWAP:     upVWAP,
			DownVWAP:   downVWAP,
		})
	}
	return sizing.ComputeExposure(orderViews, posViews)
}

func (e *Engine) activeList() []*Market {
	out := make([]*Market, 0, len(e.active))
	for _, m := range e.active {
		out = append(out, m)
	}
	return out
}

// shutdown cancels everything and waits for in-flight settlements.
func (e *Engine) shutdown() {
	log.Info("engine stopping")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	e.om.CancelAll(ctx, orders.ReasonShutdown)
	e.settle.Wait()

	if e.snapshots != nil {
		if err := e.snapshots.Save(e.inv); err != nil {
			log.WithError(err).Warn("inventory snapshot failed")
		}
	}
	log.WithField("realized_pnl", e.inv.RealizedPnL().StringFixed(4)).Info("engine stopped")
}
