package orders

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/pairbot/gopair/clob/types"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// fakeClob scripts the exchange for manager tests.
type fakeClob struct {
	postErr   error
	postResp  *types.OrderResponse
	orders    map[string]*types.OpenOrder
	openList  []types.OpenOrder
	listErr   error
	cancelled []string
}

func newFakeClob() *fakeClob {
	return &fakeClob{orders: make(map[string]*types.OpenOrder)}
}

func (f *fakeClob) CreateOrder(_ context.Context, user *types.UserOrder) (*types.SignedOrder, error) {
	return &types.SignedOrder{TokenID: user.TokenID}, nil
}

func (f *fakeClob) PostOrder(_ context.Context, _ *types.SignedOrder, _ types.OrderType) (*types.OrderResponse, error) {
	if f.postErr != nil {
		return nil, f.postErr
	}
	if f.postResp != nil {
		return f.postResp, nil
	}
	return &types.OrderResponse{Success: true, OrderID: "ord-1"}, nil
}

func (f *fakeClob) GetOrder(_ context.Context, orderID string) (*types.OpenOrder, error) {
	o, ok := f.orders[orderID]
	if !ok {
		return nil, errors.New("not found")
	}
	return o, nil
}

func (f *fakeClob) GetOpenOrders(_ context.Context, _ *types.OpenOrderParams) ([]types.OpenOrder, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.openList, nil
}

func (f *fakeClob) Cancel(_ context.Context, orderID string) error {
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

func gtcRequest() PlaceRequest {
	return PlaceRequest{
		Slug:      "btc-updown-15m-1",
		TokenID:   "tok-up",
		Direction: DirectionUp,
		Side:      types.SideBuy,
		Price:     dec("0.40"),
		Size:      dec("100"),
		OrderType: types.OrderTypeGTC,
		Reason:    "first_leg",
	}
}

func TestPlaceOrderTracksOnSuccess(t *testing.T) {
	fc := newFakeClob()
	m := NewManager(fc, false, nil, nil)

	ok, err := m.PlaceOrder(context.Background(), gtcRequest())
	if err != nil || !ok {
		t.Fatalf("place = (%v, %v), want (true, nil)", ok, err)
	}
	list := m.OrdersFor("tok-up")
	if len(list) != 1 || list[0].OrderID != "ord-1" {
		t.Fatalf("tracked orders = %+v", list)
	}
}

func TestSentinelOnGTCFailure(t *testing.T) {
	fc := newFakeClob()
	fc.postErr = errors.New("internal exchange error")
	m := NewManager(fc, false, nil, nil)

	ok, err := m.PlaceOrder(context.Background(), gtcRequest())
	if err == nil {
		t.Fatal("expected error")
	}
	if !ok {
		t.Fatal("sentinel should be tracked")
	}
	list := m.OrdersFor("tok-up")
	if len(list) != 1 || !list[0].IsSentinel() {
		t.Fatalf("expected one sentinel, got %+v", list)
	}
}

func TestNoSentinelOnBalanceError(t *testing.T) {
	fc := newFakeClob()
	fc.postErr = errors.New("not enough balance / allowance")
	m := NewManager(fc, false, nil, nil)

	ok, _ := m.PlaceOrder(context.Background(), gtcRequest())
	if ok || m.HasOrders("tok-up") {
		t.Fatal("balance errors must not insert a sentinel")
	}
}

func TestNoSentinelOnFOKFailure(t *testing.T) {
	fc := newFakeClob()
	fc.postErr = errors.New("no crossing liquidity")
	m := NewManager(fc, false, nil, nil)

	req := gtcRequest()
	req.OrderType = types.OrderTypeFOK
	ok, _ := m.PlaceOrder(context.Background(), req)
	if ok || m.HasOrders("tok-up") {
		t.Fatal("FOK failures must not insert a sentinel")
	}
}

func TestFOKNullOrderIDNotTracked(t *testing.T) {
	fc := newFakeClob()
	fc.postResp = &types.OrderResponse{Success: true, OrderID: ""}
	m := NewManager(fc, false, nil, nil)

	req := gtcRequest()
	req.OrderType = types.OrderTypeFOK
	ok, err := m.PlaceOrder(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if ok || m.HasOrders("tok-up") {
		t.Fatal("FOK with null order id is not-filled, nothing tracked")
	}
}

func TestFOKRounding(t *testing.T) {
	// BUY below the minimum notional bumps up.
	size, ok := roundFOKSize(dec("0.10"), dec("3"), types.SideBuy)
	if !ok {
		t.Fatal("buy should bump, not reject")
	}
	if size.Mul(dec("0.10")).LessThan(dec("1")) {
		t.Fatalf("bumped size %s still below $1 notional", size)
	}

	// SELL below minimum is rejected.
	if _, ok := roundFOKSize(dec("0.10"), dec("3"), types.SideSell); ok {
		t.Fatal("sell below minimum must be rejected")
	}

	// Size is truncated to the common tick.
	size, ok = roundFOKSize(dec("0.50"), dec("10.999"), types.SideBuy)
	if !ok || !size.Equal(dec("10.99")) {
		t.Fatalf("size = %s, want 10.99", size)
	}
}

func TestLiveFillDetection(t *testing.T) {
	fc := newFakeClob()
	var fills []decimal.Decimal
	m := NewManager(fc, false, nil, func(_ *OrderState, delta decimal.Decimal) {
		fills = append(fills, delta)
	})
	if _, err := m.PlaceOrder(context.Background(), gtcRequest()); err != nil {
		t.Fatal(err)
	}

	fc.orders["ord-1"] = &types.OpenOrder{ID: "ord-1", Status: "LIVE", OriginalSize: "100", SizeMatched: "30"}
	m.DetectFills(context.Background())
	if len(fills) != 1 || !fills[0].Equal(dec("30")) {
		t.Fatalf("fills = %v, want [30]", fills)
	}

	// Matched grows; only the delta fires.
	fc.orders["ord-1"].SizeMatched = "100"
	fc.orders["ord-1"].Status = "FILLED"
	m.DetectFills(context.Background())
	if len(fills) != 2 || !fills[1].Equal(dec("70")) {
		t.Fatalf("fills = %v, want [30 70]", fills)
	}
	if m.HasOrders("tok-up") {
		t.Fatal("filled order should be dropped")
	}
}

func TestDryRunSimulatorConsumesCrossing(t *testing.T) {
	book := &types.OrderBookSummary{
		Asks: []types.OrderSummary{{Price: "0.38", Size: "40"}, {Price: "0.45", Size: "500"}},
	}
	var fills []decimal.Decimal
	m := NewManager(newFakeClob(), true, func(string) *types.OrderBookSummary { return book },
		func(_ *OrderState, delta decimal.Decimal) { fills = append(fills, delta) })

	if _, err := m.PlaceOrder(context.Background(), gtcRequest()); err != nil {
		t.Fatal(err)
	}

	// Only the 0.38 level crosses a 0.40 buy: 40 shares.
	m.DetectFills(context.Background())
	if len(fills) != 1 || !fills[0].Equal(dec("40")) {
		t.Fatalf("fills = %v, want [40]", fills)
	}

	// Same book again: crossing already consumed, no new fill.
	m.DetectFills(context.Background())
	if len(fills) != 1 {
		t.Fatalf("fills = %v, repeat sweep must not double-count", fills)
	}

	// More liquidity arrives below the order price.
	book.Asks = append(book.Asks, types.OrderSummary{Price: "0.39", Size: "100"})
	m.DetectFills(context.Background())
	if len(fills) != 2 || !fills[1].Equal(dec("60")) {
		t.Fatalf("fills = %v, want second delta 60 (capped at size)", fills)
	}
	if m.HasOrders("tok-up") {
		t.Fatal("fully simulated order should be dropped")
	}
}

func TestBulkDetectionFallsBackForAbsentOrders(t *testing.T) {
	fc := newFakeClob()
	var fills []decimal.Decimal
	m := NewManager(fc, false, nil, func(_ *OrderState, delta decimal.Decimal) {
		fills = append(fills, delta)
	})
	if _, err := m.PlaceOrder(context.Background(), gtcRequest()); err != nil {
		t.Fatal(err)
	}

	// Listing is empty; the single check reports the order filled.
	fc.openList = nil
	fc.orders["ord-1"] = &types.OpenOrder{ID: "ord-1", Status: "FILLED", OriginalSize: "100", SizeMatched: "100"}
	m.DetectFillsBulk(context.Background())

	if len(fills) != 1 || !fills[0].Equal(dec("100")) {
		t.Fatalf("fills = %v, want [100]", fills)
	}
	if m.HasOrders("tok-up") {
		t.Fatal("terminal order should be dropped")
	}
}

func TestCancelSkipsWhenAlreadyFilled(t *testing.T) {
	fc := newFakeClob()
	var fills []decimal.Decimal
	m := NewManager(fc, false, nil, func(_ *OrderState, delta decimal.Decimal) {
		fills = append(fills, delta)
	})
	if _, err := m.PlaceOrder(context.Background(), gtcRequest()); err != nil {
		t.Fatal(err)
	}

	fc.orders["ord-1"] = &types.OpenOrder{ID: "ord-1", Status: "FILLED", OriginalSize: "100", SizeMatched: "100"}
	m.CancelOrder(context.Background(), "tok-up", ReasonChaseCancel)

	if len(fc.cancelled) != 0 {
		t.Fatal("cancel API must be skipped for a filled order")
	}
	if len(fills) != 1 || !fills[0].Equal(dec("100")) {
		t.Fatalf("late fill delta must be dispatched before cancel, got %v", fills)
	}
	if m.HasOrders("tok-up") {
		t.Fatal("order should be dropped either way")
	}
}

func TestReconcileUpgradesSentinel(t *testing.T) {
	fc := newFakeClob()
	fc.postErr = errors.New("timeout talking to exchange")
	m := NewManager(fc, false, nil, nil)
	_, _ = m.PlaceOrder(context.Background(), gtcRequest())

	fc.postErr = nil
	fc.openList = []types.OpenOrder{
		{ID: "ord-real", AssetID: "tok-up", OriginalSize: "100", SizeMatched: "10", Status: "LIVE"},
	}
	m.Reconcile(context.Background())

	list := m.OrdersFor("tok-up")
	if len(list) != 1 || list[0].OrderID != "ord-real" {
		t.Fatalf("sentinel not upgraded: %+v", list)
	}
	if !list[0].Matched.Equal(dec("10")) {
		t.Fatalf("matched = %s, want 10", list[0].Matched)
	}
}
