package types

import "github.com/shopspring/decimal"

// OrderSummary is one price level of a book side.
type OrderSummary struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// BookParams names one token in a batched book request.
type BookParams struct {
	TokenID string `json:"token_id"`
}

// OrderBookSummary is the CLOB book snapshot for one token.
type OrderBookSummary struct {
	Market       string         `json:"market"`
	AssetID      string         `json:"asset_id"`
	Timestamp    string         `json:"timestamp"`
	Hash         string         `json:"hash"`
	Bids         []OrderSummary `json:"bids"`
	Asks         []OrderSummary `json:"asks"`
	MinOrderSize string         `json:"min_order_size"`
	NegRisk      bool           `json:"neg_risk"`
	TickSize     string         `json:"tick_size"`
}

// BestBid returns the highest bid. Level ordering in the response is
// not assumed.
func (b *OrderBookSummary) BestBid() (decimal.Decimal, bool) {
	return extreme(b.Bids, func(best, p decimal.Decimal) bool { return p.GreaterThan(best) })
}

// BestAsk returns the lowest ask.
func (b *OrderBookSummary) BestAsk() (decimal.Decimal, bool) {
	return extreme(b.Asks, func(best, p decimal.Decimal) bool { return p.LessThan(best) })
}

// Spread returns ask minus bid when both sides are quoted.
func (b *OrderBookSummary) Spread() (decimal.Decimal, bool) {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return decimal.Zero, false
	}
	return ask.Sub(bid), true
}

// Mid returns (bid+ask)/2 when both sides are quoted.
func (b *OrderBookSummary) Mid() (decimal.Decimal, bool) {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return decimal.Zero, false
	}
	return bid.Add(ask).Div(decimal.NewFromInt(2)), true
}

// CrossingDepth sums the far-side liquidity an order at the given
// price reaches: asks at or below it for a BUY, bids at or above it
// for a SELL. Used by the dry-run fill simulator.
func (b *OrderBookSummary) CrossingDepth(side Side, price decimal.Decimal) decimal.Decimal {
	var levels []OrderSummary
	crosses := func(p decimal.Decimal) bool { return p.LessThanOrEqual(price) }
	if side == SideSell {
		crosses = func(p decimal.Decimal) bool { return p.GreaterThanOrEqual(price) }
		levels = b.Bids
	} else {
		levels = b.Asks
	}

	total := decimal.Zero
	for _, lv := range levels {
		p, err := decimal.NewFromString(lv.Price)
		if err != nil {
			continue
		}
		if crosses(p) {
			total = total.Add(parseDecimal(lv.Size))
		}
	}
	return total
}

func extreme(levels []OrderSummary, better func(best, p decimal.Decimal) bool) (decimal.Decimal, bool) {
	found := false
	best := decimal.Zero
	for _, lv := range levels {
		p, err := decimal.NewFromString(lv.Price)
		if err != nil {
			continue
		}
		if !found || better(best, p) {
			best = p
			found = true
		}
	}
	return best, found
}

// MarketPrice mirrors the /price response.
type MarketPrice struct {
	Price string `json:"price"`
}

// MidpointResponse mirrors the /midpoint response.
type MidpointResponse struct {
	Mid string `json:"mid"`
}

// BalanceAllowanceParams selects the balance to query. TokenID is
// required for conditional assets.
type BalanceAllowanceParams struct {
	AssetType     AssetType
	TokenID       string
	SignatureType *SignatureType
}

// BalanceAllowanceResponse carries 6-decimal base-unit strings.
type BalanceAllowanceResponse struct {
	Balance   string `json:"balance"`
	Allowance string `json:"allowance"`
}
