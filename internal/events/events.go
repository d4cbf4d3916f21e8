// Package events is the engine's bounded pub/sub spine: producers
// never block, overflow drops, and a single consumer fans events out
// to the dashboard and the persistence writer.
package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// Type tags every event on the bus.
type Type string

const (
	TypeTickSnapshot   Type = "tick_snapshot"
	TypeBTCPrice       Type = "btc_price"
	TypeVolumeState    Type = "volume_state"
	TypeOrderPlaced    Type = "order_placed"
	TypeOrderFilled    Type = "order_filled"
	TypeOrderCancelled Type = "order_cancelled"
	TypeHedgeComplete  Type = "hedge_complete"
	TypeMergeComplete  Type = "merge_complete"
	TypeMarketEntered  Type = "market_entered"
	TypeMarketExited   Type = "market_exited"
	TypeProbability    Type = "probability"
	TypePositionChange Type = "position_change"
	TypePnLSnapshot    Type = "pnl_snapshot"
)

// Event is one bus item. Payload is one of the typed structs below.
type Event struct {
	Type    Type
	At      time.Time
	Payload any
}

// TickSnapshot summarizes one engine tick.
type TickSnapshot struct {
	ActiveMarkets int
	OpenOrders    int
	ExposureUSD   decimal.Decimal
	RealizedPnL   decimal.Decimal
}

// BTCPrice is one reference-price observation.
type BTCPrice struct {
	Price     float64
	Deviation float64
	RangePct  float64
	TickCount int
}

// VolumeSnapshot mirrors the rolling taker-flow state.
type VolumeSnapshot struct {
	ShortImbalance  float64
	MediumImbalance float64
	ShortTotal      float64
}

// OrderEvent covers placed, filled, and cancelled orders.
type OrderEvent struct {
	OrderID   string
	Slug      string
	TokenID   string
	Direction string // UP or DOWN
	Side      string // BUY or SELL
	Price     decimal.Decimal
	Size      decimal.Decimal
	Matched   decimal.Decimal
	EntryEdge decimal.Decimal
	Reason    string
}

// HedgeComplete marks a fully balanced market.
type HedgeComplete struct {
	Slug   string
	Hedged decimal.Decimal
}

// MergeComplete reports one on-chain merge.
type MergeComplete struct {
	Slug   string
	Shares decimal.Decimal
	PnL    decimal.Decimal
	TxHash string
}

// MarketLifecycle covers entered/exited markets.
type MarketLifecycle struct {
	Slug        string
	ConditionID string
	MarketType  string
	NegRisk     bool
	EndTime     time.Time
}

// ProbabilitySnapshot is both books' touch for one market, persisted at
// most once per second per slug.
type ProbabilitySnapshot struct {
	Slug    string
	UpBid   decimal.Decimal
	UpAsk   decimal.Decimal
	DownBid decimal.Decimal
	DownAsk decimal.Decimal
}

// PositionChange mirrors one market's inventory after a fill, merge,
// or sync adjustment.
type PositionChange struct {
	Slug       string
	UpShares   decimal.Decimal
	DownShares decimal.Decimal
	UpCost     decimal.Decimal
	DownCost   decimal.Decimal
	Hedged     decimal.Decimal
}

// PnLSnapshot is the periodic session PnL record.
type PnLSnapshot struct {
	RealizedPnL decimal.Decimal
	ExposureUSD decimal.Decimal
}
