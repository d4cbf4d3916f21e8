package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// Market is one active binary up/down window.
type Market struct {
	Slug        string
	ConditionID string
	UpToken     string
	DownToken   string
	MarketType  string
	NegRisk     bool
	EndTime     time.Time
}

// SecondsToEnd is the remaining window time at now, floored at zero
// only by the caller when needed; expired markets go negative.
func (m *Market) SecondsToEnd(now time.Time) int {
	return int(m.EndTime.Sub(now).Seconds())
}

// TopOfBook is the parsed best level of one token's book.
type TopOfBook struct {
	BestBid   decimal.Decimal
	BestAsk   decimal.Decimal
	HasBid    bool
	HasAsk    bool
	UpdatedAt time.Time
}

// Spread is ask minus bid, zero unless both sides are quoted.
func (t *TopOfBook) Spread() decimal.Decimal {
	if t == nil || !t.HasBid || !t.HasAsk {
		return decimal.Zero
	}
	return t.BestAsk.Sub(t.BestBid)
}

// Mid is the midpoint, ok=false unless both sides are quoted.
func (t *TopOfBook) Mid() (decimal.Decimal, bool) {
	if t == nil || !t.HasBid || !t.HasAsk {
		return decimal.Zero, false
	}
	return t.BestBid.Add(t.BestAsk).Div(decimal.NewFromInt(2)), true
}
