package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pairbot/gopair/clob/client"
	"github.com/pairbot/gopair/clob/types"
	"github.com/pairbot/gopair/internal/events"
	"github.com/pairbot/gopair/internal/inventory"
	"github.com/pairbot/gopair/internal/orders"
	"github.com/pairbot/gopair/internal/settlement"
	"github.com/pairbot/gopair/internal/signal"
	"github.com/pairbot/gopair/pkg/config"
)

type fakeGamma struct{}

func (fakeGamma) FetchEvent(ctx context.Context, slug string) (*client.GammaEvent, error) {
	return nil, nil
}

type fakeBooks struct {
	books map[string]*types.OrderBookSummary
}

func (f *fakeBooks) GetOrderBook(ctx context.Context, tokenID string) (*types.OrderBookSummary, error) {
	b, ok := f.books[tokenID]
	if !ok {
		return nil, fmt.Errorf("no book for %s", tokenID)
	}
	return b, nil
}

func (f *fakeBooks) GetOrderBooks(ctx context.Context, params []types.BookParams) ([]types.OrderBookSummary, error) {
	var out []types.OrderBookSummary
	for _, p := range params {
		if b, ok := f.books[p.TokenID]; ok {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (f *fakeBooks) SetMarketFacts(tokenID string, tickSize types.TickSize, negRisk bool) {}

func (f *fakeBooks) set(tokenID string, bid, ask float64) {
	f.books[tokenID] = &types.OrderBookSummary{
		AssetID: tokenID,
		Bids:    []types.OrderSummary{{Price: fmt.Sprintf("%.2f", bid), Size: "1000"}},
		Asks:    []types.OrderSummary{{Price: fmt.Sprintf("%.2f", ask), Size: "1000"}},
	}
}

func testMarket(now time.Time, secondsToEnd int) *Market {
	return &Market{
		Slug:        "btc-updown-15m-1700000000",
		ConditionID: "0xcond",
		UpToken:     "tok-up",
		DownToken:   "tok-down",
		MarketType:  "updown-15m",
		EndTime:     now.Add(time.Duration(secondsToEnd) * time.Second),
	}
}

func newTestEngine(t *testing.T) (*Engine, *fakeBooks) {
	t.Helper()
	cfg := config.Default()
	cfg.DryRun = true

	books := &fakeBooks{books: make(map[string]*types.OrderBookSummary)}
	e := New(Deps{
		Config:    cfg,
		Market:    NewMarketData(fakeGamma{}, books),
		Inventory: inventory.NewTracker(),
		Settle: settlement.NewCoordinator(nil, settlement.Options{
			DryRun:         true,
			MinMergeShares: decimal.NewFromFloat(cfg.MinMergeShares),
			NoNewOrdersSec: cfg.NoNewOrdersSec,
		}),
		Bus:       events.NewBus(128),
	})
	return e, books
}

// refresh reloads the book cache after a fake book change, the way the
// tick loop's prefetch does.
func refresh(e *Engine, m *Market) {
	e.md.Prefetch(context.Background(), []*Market{m})
}

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestHedgePlacedForImbalance(t *testing.T) {
	e, books := newTestEngine(t)
	now := time.Now()
	m := testMarket(now, 400)
	e.active[m.Slug] = m

	e.inv.RecordFill(m.Slug, true, d("178"), d("0.40"))
	books.set(m.UpToken, 0.39, 0.41)
	books.set(m.DownToken, 0.54, 0.56)
	refresh(e, m)

	e.evaluateMarket(context.Background(), m, now)

	list := e.om.OrdersFor(m.DownToken)
	if len(list) != 1 {
		t.Fatalf("expected one hedge order, got %d", len(list))
	}
	o := list[0]
	if o.Direction != orders.DirectionDown {
		t.Fatalf("hedge direction = %s", o.Direction)
	}
	if !o.Price.Equal(d("0.55")) {
		t.Fatalf("hedge price = %s, want 0.55", o.Price)
	}
	if !o.Size.Equal(d("178")) {
		t.Fatalf("hedge size = %s, want 178", o.Size)
	}
}

func TestNoQuotingOutsideTimeWindow(t *testing.T) {
	e, books := newTestEngine(t)
	now := time.Now()
	m := testMarket(now, 950) // past the default 900 s ceiling
	e.active[m.Slug] = m

	e.inv.RecordFill(m.Slug, true, d("178"), d("0.40"))
	books.set(m.UpToken, 0.39, 0.41)
	books.set(m.DownToken, 0.54, 0.56)
	refresh(e, m)

	e.evaluateMarket(context.Background(), m, now)

	if e.om.HasOrders(m.DownToken) || e.om.HasOrders(m.UpToken) {
		t.Fatal("no order should be placed outside the time window")
	}
	if e.completed[m.Slug] {
		t.Fatal("window gate must not mark the market done")
	}
}

func TestHedgeAbandonedOnUnrecoverableEdge(t *testing.T) {
	e, books := newTestEngine(t)
	now := time.Now()
	m := testMarket(now, 400)
	e.active[m.Slug] = m

	// Hedging at 0.74 against a 0.40 basis leaves -0.14, past the
	// default -0.10 threshold. The up bid at 0.25 offers no better exit.
	e.inv.RecordFill(m.Slug, true, d("178"), d("0.40"))
	books.set(m.UpToken, 0.25, 0.27)
	books.set(m.DownToken, 0.72, 0.74)
	refresh(e, m)

	e.evaluateMarket(context.Background(), m, now)

	if !e.completed[m.Slug] {
		t.Fatal("market should be marked done after abandon")
	}
	if e.om.HasOrders(m.DownToken) {
		t.Fatal("no hedge order should rest after abandon")
	}
}

func TestHedgeMirrorKeepsEdgeRecoverable(t *testing.T) {
	e, books := newTestEngine(t)
	now := time.Now()
	m := testMarket(now, 400)
	e.active[m.Slug] = m

	// The down ask at 0.74 alone would abandon, but the up bid at 0.39
	// mirrors to an effective 0.61 hedge cost: edge -0.01, recoverable.
	e.inv.RecordFill(m.Slug, true, d("178"), d("0.40"))
	books.set(m.UpToken, 0.39, 0.41)
	books.set(m.DownToken, 0.72, 0.74)
	refresh(e, m)

	e.evaluateMarket(context.Background(), m, now)

	if e.completed[m.Slug] {
		t.Fatal("mirror exit should keep the hedge alive")
	}
	list := e.om.OrdersFor(m.DownToken)
	if len(list) != 1 {
		t.Fatalf("expected a capped hedge order, got %d", len(list))
	}
	// Maker 0.73 exceeds maxPay 1-0.40-0.01, so the order rests there.
	if !list[0].Price.Equal(d("0.59")) {
		t.Fatalf("hedge price = %s, want 0.59", list[0].Price)
	}
}

func TestHedgeFrozenPastChaseLimit(t *testing.T) {
	e, books := newTestEngine(t)
	now := time.Now()
	m := testMarket(now, 400)
	e.active[m.Slug] = m

	e.inv.RecordFill(m.Slug, true, d("100"), d("0.40"))
	books.set(m.UpToken, 0.39, 0.41)
	books.set(m.DownToken, 0.49, 0.51)
	refresh(e, m)
	e.evaluateMarket(context.Background(), m, now)

	first := e.om.OrdersFor(m.DownToken)
	if len(first) != 1 || !first[0].Price.Equal(d("0.50")) {
		t.Fatalf("setup order missing, got %+v", first)
	}

	// Book jumps 9 cents: beyond the 3-cent chase limit, the resting
	// order must stay put.
	books.set(m.DownToken, 0.58, 0.60)
	refresh(e, m)
	e.evaluateMarket(context.Background(), m, now)

	list := e.om.OrdersFor(m.DownToken)
	if len(list) != 1 {
		t.Fatalf("expected the frozen order only, got %d", len(list))
	}
	if !list[0].Price.Equal(d("0.50")) {
		t.Fatalf("frozen order re-priced to %s", list[0].Price)
	}
}

func TestHedgeChasesWithinLimit(t *testing.T) {
	e, books := newTestEngine(t)
	now := time.Now()
	m := testMarket(now, 400)
	e.active[m.Slug] = m

	e.inv.RecordFill(m.Slug, true, d("100"), d("0.40"))
	books.set(m.UpToken, 0.39, 0.41)
	books.set(m.DownToken, 0.49, 0.51)
	refresh(e, m)
	e.evaluateMarket(context.Background(), m, now)

	books.set(m.DownToken, 0.51, 0.53)
	refresh(e, m)
	e.evaluateMarket(context.Background(), m, now)

	list := e.om.OrdersFor(m.DownToken)
	if len(list) != 1 {
		t.Fatalf("expected one re-priced order, got %d", len(list))
	}
	if !list[0].Price.Equal(d("0.52")) {
		t.Fatalf("chased price = %s, want 0.52", list[0].Price)
	}
}

func TestHedgeDeferredWithoutHeadroom(t *testing.T) {
	e, books := newTestEngine(t)
	e.cfg.BankrollUSD = 100 // budget 90: the embedded reserve cannot cover the hedge
	now := time.Now()
	m := testMarket(now, 400)
	e.active[m.Slug] = m

	e.inv.RecordFill(m.Slug, true, d("178"), d("0.40"))
	books.set(m.UpToken, 0.39, 0.41)
	books.set(m.DownToken, 0.54, 0.56)
	refresh(e, m)

	e.evaluateMarket(context.Background(), m, now)

	if e.om.HasOrders(m.DownToken) {
		t.Fatal("hedge must wait when bankroll headroom cannot cover it")
	}
	if e.completed[m.Slug] {
		t.Fatal("a deferred hedge is not an abandon")
	}
}

func TestCompoundedBankrollFoldsRealizedPnL(t *testing.T) {
	e, _ := newTestEngine(t)
	e.cfg.Compound = true
	e.cfg.CompoundIntervalSec = 60
	now := time.Unix(1_700_000_000, 0)

	if !e.bankroll(now).Equal(d("500")) {
		t.Fatalf("initial bankroll = %s, want 500", e.bankroll(now))
	}

	e.inv.RecordFill("m", true, d("100"), d("0.40"))
	e.inv.RecordFill("m", false, d("100"), d("0.55"))
	e.inv.ReduceMerged("m", d("100")) // realizes 5

	// Inside the interval the snapshot holds; past it the profit folds in.
	if !e.bankroll(now.Add(30 * time.Second)).Equal(d("500")) {
		t.Fatal("compounded bankroll must hold between intervals")
	}
	if !e.bankroll(now.Add(61 * time.Second)).Equal(d("505")) {
		t.Fatalf("bankroll = %s, want 505 after compounding", e.bankroll(now.Add(61*time.Second)))
	}
}

func TestCompletionMarksAndSweeps(t *testing.T) {
	e, books := newTestEngine(t)
	now := time.Now()
	m := testMarket(now, 400)
	e.active[m.Slug] = m

	e.inv.RecordFill(m.Slug, true, d("100"), d("0.40"))
	e.inv.RecordFill(m.Slug, false, d("100"), d("0.55"))
	books.set(m.UpToken, 0.39, 0.41)
	books.set(m.DownToken, 0.54, 0.56)
	refresh(e, m)

	// A leftover order must be swept on completion.
	_, _ = e.om.PlaceOrder(context.Background(), orders.PlaceRequest{
		Slug: m.Slug, TokenID: m.UpToken, Direction: orders.DirectionUp,
		Side: types.SideBuy, Price: d("0.40"), Size: d("10"),
		OrderType: types.OrderTypeGTC,
	})

	e.evaluateMarket(context.Background(), m, now)

	if !e.completed[m.Slug] {
		t.Fatal("balanced position should complete")
	}
	if e.om.HasOrders(m.UpToken) {
		t.Fatal("leftover order should be swept on completion")
	}
}

func TestPartialPositionKeepsHedging(t *testing.T) {
	e, books := newTestEngine(t)
	now := time.Now()
	m := testMarket(now, 400)
	e.active[m.Slug] = m

	// 100 vs 50: both sides above the merge minimum, but the imbalance
	// is far from negligible. Must hedge, not complete.
	e.inv.RecordFill(m.Slug, true, d("100"), d("0.40"))
	e.inv.RecordFill(m.Slug, false, d("50"), d("0.55"))
	books.set(m.UpToken, 0.39, 0.41)
	books.set(m.DownToken, 0.54, 0.56)
	refresh(e, m)

	e.evaluateMarket(context.Background(), m, now)

	if e.completed[m.Slug] {
		t.Fatal("imbalanced position must not complete")
	}
	list := e.om.OrdersFor(m.DownToken)
	if len(list) != 1 {
		t.Fatalf("expected a hedge order for the deficit, got %d", len(list))
	}
	if !list[0].Size.Equal(d("50")) {
		t.Fatalf("hedge size = %s, want 50", list[0].Size)
	}
}

func TestEntryChaseCancelSetsCap(t *testing.T) {
	e, books := newTestEngine(t)
	now := time.Now()
	m := testMarket(now, 400)
	e.active[m.Slug] = m
	e.decideFn = func(signal.Books, int, time.Time) signal.Decision {
		return signal.Decision{Action: signal.BuyUp, Reason: "test"}
	}

	books.set(m.UpToken, 0.29, 0.31)
	books.set(m.DownToken, 0.69, 0.71)
	refresh(e, m)
	e.evaluateMarket(context.Background(), m, now)

	list := e.om.OrdersFor(m.UpToken)
	if len(list) != 1 || !list[0].Price.Equal(d("0.30")) {
		t.Fatalf("entry not placed at 0.30: %+v", list)
	}

	// Book moves up: the entry is cancelled and its old price becomes
	// the re-entry cap.
	books.set(m.UpToken, 0.33, 0.35)
	books.set(m.DownToken, 0.65, 0.67)
	refresh(e, m)
	e.evaluateMarket(context.Background(), m, now)

	if e.om.HasOrders(m.UpToken) {
		t.Fatal("chased entry should be cancelled")
	}
	capPrice, ok := e.entryPriceCap[m.Slug]
	if !ok || !capPrice.Equal(d("0.30")) {
		t.Fatalf("cap = %s (%v), want 0.30", capPrice, ok)
	}

	// Same book again: the cap blocks re-entry above 0.30.
	e.evaluateMarket(context.Background(), m, now)
	if e.om.HasOrders(m.UpToken) {
		t.Fatal("cap should block re-entry above the abandoned price")
	}

	// A retrace below the cap is allowed back in.
	books.set(m.UpToken, 0.27, 0.29)
	refresh(e, m)
	e.evaluateMarket(context.Background(), m, now)
	list = e.om.OrdersFor(m.UpToken)
	if len(list) != 1 || !list[0].Price.Equal(d("0.28")) {
		t.Fatalf("re-entry below cap not placed: %+v", list)
	}
}

func TestFillClearsEntryCap(t *testing.T) {
	e, _ := newTestEngine(t)
	slug := "btc-updown-15m-1700000000"
	e.entryPriceCap[slug] = d("0.30")

	e.onFill(&orders.OrderState{
		OrderID: "o1", Slug: slug, TokenID: "tok-up",
		Direction: orders.DirectionUp, Side: types.SideBuy,
		Price: d("0.30"), Size: d("100"), Matched: d("100"),
	}, d("100"))

	if _, ok := e.entryPriceCap[slug]; ok {
		t.Fatal("fill should clear the chase cap")
	}
	pos := e.inv.Position(slug)
	if pos == nil || !pos.UpShares.Equal(d("100")) {
		t.Fatalf("fill not booked: %+v", pos)
	}
}

func TestRetireQueuesRedemptionAndClears(t *testing.T) {
	e, books := newTestEngine(t)
	now := time.Now()
	m := testMarket(now, -10)
	e.active[m.Slug] = m

	e.inv.RecordFill(m.Slug, true, d("100"), d("0.40"))
	e.inv.RecordFill(m.Slug, false, d("100"), d("0.55"))
	books.set(m.UpToken, 0.98, 0.99)
	books.set(m.DownToken, 0.01, 0.02)
	refresh(e, m)

	e.applyDiscovery(nil)

	if len(e.active) != 0 {
		t.Fatalf("active set should be empty, got %d", len(e.active))
	}
	if e.settle.PendingRedemptions() != 1 {
		t.Fatalf("pending redemptions = %d, want 1", e.settle.PendingRedemptions())
	}
	if e.inv.Position(m.Slug) != nil {
		t.Fatal("position should be cleared on retirement")
	}
	// Fully hedged 100 sets at 0.95 total cost realize 0.05 each.
	if !e.inv.RealizedPnL().Equal(d("5")) {
		t.Fatalf("realized = %s, want 5", e.inv.RealizedPnL())
	}
}

func TestMergeResultReducesInventory(t *testing.T) {
	e, _ := newTestEngine(t)
	slug := "btc-updown-15m-1700000000"
	e.completed[slug] = true
	e.inv.RecordFill(slug, true, d("100"), d("0.40"))
	e.inv.RecordFill(slug, false, d("100"), d("0.55"))

	e.applySettlement(settlement.Result{
		Kind:   settlement.KindMerge,
		Slug:   slug,
		Shares: d("100"),
		TxHash: "0xabc",
	})

	pos := e.inv.Position(slug)
	if pos == nil || !pos.IsEmpty() {
		t.Fatalf("position should be emptied by the merge: %+v", pos)
	}
	if !e.inv.RealizedPnL().Equal(d("5")) {
		t.Fatalf("realized = %s, want 5", e.inv.RealizedPnL())
	}
	if e.completed[slug] {
		t.Fatal("completion flag should reset after the merge lands")
	}
}

func TestPreResolutionBufferSweepsOrders(t *testing.T) {
	e, books := newTestEngine(t)
	now := time.Now()
	m := testMarket(now, 60) // inside the default 90s buffer
	e.active[m.Slug] = m

	books.set(m.UpToken, 0.39, 0.41)
	books.set(m.DownToken, 0.54, 0.56)
	refresh(e, m)
	_, _ = e.om.PlaceOrder(context.Background(), orders.PlaceRequest{
		Slug: m.Slug, TokenID: m.UpToken, Direction: orders.DirectionUp,
		Side: types.SideBuy, Price: d("0.40"), Size: d("10"),
		OrderType: types.OrderTypeGTC,
	})

	e.evaluateMarket(context.Background(), m, now)

	if e.om.HasOrders(m.UpToken) {
		t.Fatal("orders must be swept inside the pre-resolution buffer")
	}
}
