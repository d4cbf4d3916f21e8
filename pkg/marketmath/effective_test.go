package marketmath

import (
	"testing"
	"testing/quick"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestEffectivePrices(t *testing.T) {
	tob := TopOfBook{
		UpBid:   d("0.55"),
		UpAsk:   d("0.56"),
		DownBid: d("0.47"),
		DownAsk: d("0.48"),
	}
	eff, err := Effective(tob)
	if err != nil {
		t.Fatalf("Effective: %v", err)
	}
	// buy up = min(0.56, 1-0.47) = 0.53
	if !eff.BuyUp.Equal(d("0.53")) {
		t.Fatalf("BuyUp = %s, want 0.53", eff.BuyUp)
	}
	// buy down = min(0.48, 1-0.55) = 0.45
	if !eff.BuyDown.Equal(d("0.45")) {
		t.Fatalf("BuyDown = %s, want 0.45", eff.BuyDown)
	}
	// sell up = max(0.55, 1-0.48) = 0.55
	if !eff.SellUp.Equal(d("0.55")) {
		t.Fatalf("SellUp = %s, want 0.55", eff.SellUp)
	}
	// sell down = max(0.47, 1-0.56) = 0.47
	if !eff.SellDown.Equal(d("0.47")) {
		t.Fatalf("SellDown = %s, want 0.47", eff.SellDown)
	}
}

func TestEffectiveMissingSides(t *testing.T) {
	// Only the up ask is quoted; mirrors stay missing, not free.
	eff, err := Effective(TopOfBook{UpAsk: d("0.40")})
	if err != nil {
		t.Fatalf("Effective: %v", err)
	}
	if !eff.BuyUp.Equal(d("0.40")) {
		t.Fatalf("BuyUp = %s, want 0.40", eff.BuyUp)
	}
	if eff.BuyDown.IsPositive() {
		t.Fatalf("BuyDown should be missing, got %s", eff.BuyDown)
	}
	// sell down = 1 - up.ask = 0.60 via the mirror.
	if !eff.SellDown.Equal(d("0.60")) {
		t.Fatalf("SellDown = %s, want 0.60", eff.SellDown)
	}
}

func TestEmptyBookRejected(t *testing.T) {
	if _, err := Effective(TopOfBook{}); err == nil {
		t.Fatal("empty top-of-book must error")
	}
}

func TestCheckCompleteSetLong(t *testing.T) {
	// 0.40 + 0.55 = 0.95: a nickel per set buying both sides.
	op, err := CheckCompleteSet(TopOfBook{
		UpBid: d("0.38"), UpAsk: d("0.40"),
		DownBid: d("0.53"), DownAsk: d("0.55"),
	})
	if err != nil {
		t.Fatalf("CheckCompleteSet: %v", err)
	}
	if op == nil || !op.Long {
		t.Fatalf("expected a long opportunity, got %+v", op)
	}
	if !op.Profit.Equal(d("0.05")) {
		t.Fatalf("profit = %s, want 0.05", op.Profit)
	}
}

func TestCheckCompleteSetNoneOnConsistentBooks(t *testing.T) {
	op, err := CheckCompleteSet(TopOfBook{
		UpBid: d("0.55"), UpAsk: d("0.56"),
		DownBid: d("0.43"), DownAsk: d("0.44"),
	})
	if err != nil {
		t.Fatalf("CheckCompleteSet: %v", err)
	}
	if op != nil {
		t.Fatalf("no opportunity expected, got %+v", op)
	}
}

func TestEffectiveNeverWorseThanDirect(t *testing.T) {
	// Buying through the mirror can only improve on the direct ask.
	f := func(upBidC, upAskC, downBidC, downAskC uint8) bool {
		cents := func(c uint8) decimal.Decimal {
			return decimal.New(int64(c%99)+1, -2)
		}
		tob := TopOfBook{
			UpBid: cents(upBidC), UpAsk: cents(upAskC),
			DownBid: cents(downBidC), DownAsk: cents(downAskC),
		}
		eff, err := Effective(tob)
		if err != nil {
			return false
		}
		return eff.BuyUp.LessThanOrEqual(tob.UpAsk) && eff.BuyDown.LessThanOrEqual(tob.DownAsk)
	}
	if err := quick.Check(f, nil); err != nil {
		t.Fatal(err)
	}
}
