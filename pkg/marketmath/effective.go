// Package marketmath holds the binary-market price identities. Both
// outcome books mirror each other: buying UP at P is equivalent to
// selling DOWN at 1-P, so the effective cost of a side must consider
// the opposite book too.
package marketmath

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var one = decimal.NewFromInt(1)

// TopOfBook carries both outcomes' touch. A zero value means that side
// of that book is unquoted.
type TopOfBook struct {
	UpBid   decimal.Decimal
	UpAsk   decimal.Decimal
	DownBid decimal.Decimal
	DownAsk decimal.Decimal
}

// Validate rejects an entirely empty top-of-book. Prices at zero are
// treated as missing, not as free liquidity.
func (t TopOfBook) Validate() error {
	if !t.UpBid.IsPositive() && !t.UpAsk.IsPositive() && !t.DownBid.IsPositive() && !t.DownAsk.IsPositive() {
		return errors.New("top-of-book is empty")
	}
	for _, p := range []decimal.Decimal{t.UpBid, t.UpAsk, t.DownBid, t.DownAsk} {
		if p.IsNegative() || p.GreaterThan(one) {
			return errors.Errorf("price out of range: %s", p)
		}
	}
	return nil
}

// EffectivePrices is the best achievable price per action once the
// mirror book is considered.
type EffectivePrices struct {
	BuyUp    decimal.Decimal
	BuyDown  decimal.Decimal
	SellUp   decimal.Decimal
	SellDown decimal.Decimal
}

// Effective computes the four effective prices:
//
//	buy up   = min(up.ask,   1 - down.bid)
//	buy down = min(down.ask, 1 - up.bid)
//	sell up  = max(up.bid,   1 - down.ask)
//	sell down= max(down.bid, 1 - up.ask)
func Effective(t TopOfBook) (EffectivePrices, error) {
	if err := t.Validate(); err != nil {
		return EffectivePrices{}, err
	}
	return EffectivePrices{
		BuyUp:    minPos(t.UpAsk, mirror(t.DownBid)),
		BuyDown:  minPos(t.DownAsk, mirror(t.UpBid)),
		SellUp:   maxPos(t.UpBid, mirror(t.DownAsk)),
		SellDown: maxPos(t.DownBid, mirror(t.UpAsk)),
	}, nil
}

// Opportunity is a complete-set mispricing across the two books.
type Opportunity struct {
	// Long means buy both sides for under a dollar; short means sell
	// both sides for over a dollar.
	Long   bool
	Profit decimal.Decimal // per complete set

	Prices EffectivePrices
}

// CheckCompleteSet reports a complete-set arbitrage, nil when the books
// are internally consistent.
func CheckCompleteSet(t TopOfBook) (*Opportunity, error) {
	eff, err := Effective(t)
	if err != nil {
		return nil, err
	}

	if eff.BuyUp.IsPositive() && eff.BuyDown.IsPositive() {
		if profit := one.Sub(eff.BuyUp).Sub(eff.BuyDown); profit.IsPositive() {
			return &Opportunity{Long: true, Profit: profit, Prices: eff}, nil
		}
	}
	if eff.SellUp.IsPositive() && eff.SellDown.IsPositive() {
		if profit := eff.SellUp.Add(eff.SellDown).Sub(one); profit.IsPositive() {
			return &Opportunity{Long: false, Profit: profit, Prices: eff}, nil
		}
	}
	return nil, nil
}

// mirror is the opposite book's equivalent price; missing stays missing.
func mirror(p decimal.Decimal) decimal.Decimal {
	if !p.IsPositive() {
		return decimal.Zero
	}
	return one.Sub(p)
}

func minPos(a, b decimal.Decimal) decimal.Decimal {
	if !a.IsPositive() {
		return b
	}
	if !b.IsPositive() {
		return a
	}
	if a.LessThan(b) {
		return a
	}
	return b
}

func maxPos(a, b decimal.Decimal) decimal.Decimal {
	if !a.IsPositive() {
		return b
	}
	if !b.IsPositive() {
		return a
	}
	if a.GreaterThan(b) {
		return a
	}
	return b
}
