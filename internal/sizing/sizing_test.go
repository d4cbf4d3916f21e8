package sizing

import (
	"testing"
	"testing/quick"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func params() Params {
	return Params{
		BankrollUSD:   dec("500"),
		TotalFraction: dec("0.9"),
		OrderFraction: dec("0.2"),
	}
}

func TestSizeFreshWindow(t *testing.T) {
	// $500 bankroll, first leg maker 0.40, hedge leg 0.56, 600s left.
	shares, reason := SizeBalancedOrder(dec("0.40"), dec("0.56"), 600, decimal.Zero, params())
	if reason != "" {
		t.Fatalf("unexpected rejection: %s", reason)
	}
	// 0.20 * 500 / 0.56 ~= 178.57
	if shares.LessThan(dec("178")) || shares.GreaterThan(dec("179")) {
		t.Fatalf("size = %s, want ~178", shares)
	}
}

func TestSizeHeadroomCap(t *testing.T) {
	// Exposure already near the total cap: remaining 30 at 0.60/leg.
	shares, reason := SizeBalancedOrder(dec("0.40"), dec("0.60"), 400, dec("420"), params())
	if reason != "" {
		t.Fatalf("unexpected rejection: %s", reason)
	}
	cap := dec("30").Div(dec("0.60")).Truncate(2)
	if !shares.Equal(cap) {
		t.Fatalf("size = %s, want headroom cap %s", shares, cap)
	}
}

func TestSizeRejectsBelowMinimum(t *testing.T) {
	shares, reason := SizeBalancedOrder(dec("0.50"), dec("0.50"), 400, dec("448"), params())
	if !shares.IsZero() || reason == "" {
		t.Fatalf("size = %s reason = %q, want zero with a reason", shares, reason)
	}
}

func TestSizeRejectsNoHeadroom(t *testing.T) {
	shares, reason := SizeBalancedOrder(dec("0.50"), dec("0.50"), 400, dec("450"), params())
	if !shares.IsZero() || reason == "" {
		t.Fatalf("size = %s reason = %q, want zero with a reason", shares, reason)
	}
}

func TestSizeTimeFactorSteps(t *testing.T) {
	early, _ := SizeBalancedOrder(dec("0.40"), dec("0.50"), 700, decimal.Zero, params())
	mid, _ := SizeBalancedOrder(dec("0.40"), dec("0.50"), 400, decimal.Zero, params())
	late, _ := SizeBalancedOrder(dec("0.40"), dec("0.50"), 100, decimal.Zero, params())
	if !early.LessThan(mid) || !mid.LessThan(late) {
		t.Fatalf("sizes %s < %s < %s expected as the window end approaches", early, mid, late)
	}
}

func TestHedgeAlwaysAffordable(t *testing.T) {
	// If sizing returns N, the follow-up hedge for N must fit the
	// remaining bankroll under the embedded-reserve rule.
	f := func(upC, downC uint8, secs uint16, expC uint16) bool {
		up := decimal.NewFromInt(int64(upC%99) + 1).Div(decimal.NewFromInt(100))
		down := decimal.NewFromInt(int64(downC%99) + 1).Div(decimal.NewFromInt(100))
		exposure := decimal.NewFromInt(int64(expC % 450))
		p := params()

		shares, reason := SizeBalancedOrder(up, down, int(secs%900), exposure, p)
		if reason != "" {
			return true
		}
		expensive := up
		if down.GreaterThan(expensive) {
			expensive = down
		}
		// Both legs at the expensive reference must fit the cap.
		after := exposure.Add(shares.Mul(expensive).Mul(decimal.NewFromInt(2)))
		limit := p.BankrollUSD.Mul(p.TotalFraction).Add(shares.Mul(expensive))
		return after.LessThanOrEqual(limit)
	}
	if err := quick.Check(f, nil); err != nil {
		t.Fatal(err)
	}
}

func TestDynamicEdgeBreakpoints(t *testing.T) {
	base := dec("0.01")
	cases := []struct {
		spread string
		want   string
	}{
		{"0.00", "0.01"},
		{"0.05", "0.01"},
		{"0.06", "0.015"},
		{"0.09", "0.015"},
		{"0.10", "0.02"},
		{"0.25", "0.02"},
	}
	for _, c := range cases {
		got := DynamicEdge(base, dec(c.spread))
		if !got.Equal(dec(c.want)) {
			t.Errorf("DynamicEdge(spread=%s) = %s, want %s", c.spread, got, c.want)
		}
	}
}

func TestUnhedgedShareReservesFullDollar(t *testing.T) {
	b := ComputeExposure(nil, []PositionExposure{
		{UpShares: dec("1"), UpVWAP: dec("0.37")},
	})
	if !b.Unhedged.Equal(dec("1")) {
		t.Fatalf("unhedged = %s, want exactly 1.00", b.Unhedged)
	}
}

func TestUnhedgedFallbackVWAP(t *testing.T) {
	// No cost history: the 0.50 fallback still reserves a full dollar.
	b := ComputeExposure(nil, []PositionExposure{
		{DownShares: dec("10")},
	})
	if !b.Unhedged.Equal(dec("10")) {
		t.Fatalf("unhedged = %s, want 10", b.Unhedged)
	}
}

func TestBreakdownComponentsSumToTotal(t *testing.T) {
	orders := []OrderExposure{
		{Price: dec("0.40"), Size: dec("100"), Matched: dec("30"), ReservedHedgeNotional: dec("18")},
		{Price: dec("0.55"), Size: dec("50")},
	}
	positions := []PositionExposure{
		{UpShares: dec("178"), DownShares: dec("178"), UpVWAP: dec("0.40"), DownVWAP: dec("0.55")},
		{UpShares: dec("20"), UpVWAP: dec("0.60")},
	}
	b := ComputeExposure(orders, positions)

	wantOrders := dec("0.40").Mul(dec("70")).Add(dec("0.55").Mul(dec("50")))
	if !b.OrdersNotional.Equal(wantOrders) {
		t.Fatalf("orders notional = %s, want %s", b.OrdersNotional, wantOrders)
	}
	if !b.ReservedHedges.Equal(dec("18")) {
		t.Fatalf("reserved = %s, want 18", b.ReservedHedges)
	}
	if !b.HedgedLocked.Equal(dec("178").Mul(dec("0.95"))) {
		t.Fatalf("hedged locked = %s", b.HedgedLocked)
	}
	if !b.Unhedged.Equal(dec("20")) {
		t.Fatalf("unhedged = %s, want 20 (one dollar per share)", b.Unhedged)
	}

	sum := b.OrdersNotional.Add(b.ReservedHedges).Add(b.Unhedged).Add(b.HedgedLocked)
	if !b.Total().Equal(sum) {
		t.Fatalf("total = %s, components sum = %s", b.Total(), sum)
	}
}
