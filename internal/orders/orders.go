// Package orders owns order submission and lifecycle: placement,
// per-token tracking, fill detection, cancellation, reconciliation
// against the remote listing, and stale-order cleanup.
package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pairbot/gopair/clob/client"
	"github.com/pairbot/gopair/clob/types"
	"github.com/pairbot/gopair/pkg/logger"
)

var log = logger.WithField("module", "orders")

// Cancellation reasons carried into events and logs.
const (
	ReasonChaseCancel        = "CHASE_CANCEL"
	ReasonHedgeCleanup       = "HEDGE_COMPLETE_CLEANUP"
	ReasonStaleTimeout       = "STALE_TIMEOUT"
	ReasonShutdown           = "SHUTDOWN"
	ReasonPreResolutionSweep = "PRE_RESOLUTION_BUFFER"
)

// staleAfter is the age at which an untouched order is force-cancelled.
const staleAfter = 2 * time.Hour

// minNotionalUSD is the exchange's minimum order value.
var minNotionalUSD = decimal.NewFromInt(1)

// Direction is the market side an order targets.
type Direction int

const (
	DirectionUp Direction = iota
	DirectionDown
)

func (d Direction) String() string {
	if d == DirectionUp {
		return "UP"
	}
	return "DOWN"
}

// OrderState is one tracked order. An empty OrderID is a sentinel: the
// engine tried to place but did not learn an id, kept only to block
// duplicate submissions until reconciliation resolves it.
type OrderState struct {
	OrderID   string
	Slug      string
	TokenID   string
	Direction Direction
	Side      types.Side
	OrderType types.OrderType
	Price     decimal.Decimal
	Size      decimal.Decimal
	Matched   decimal.Decimal

	PlacedAt          time.Time
	LastStatusCheckAt time.Time

	ReservedHedgeNotional decimal.Decimal
	EntryDynamicEdge      decimal.Decimal

	// Dry-run simulator: crossing liquidity already counted as fills.
	ConsumedCrossing decimal.Decimal

	Reason string
}

// IsSentinel reports whether this state only blocks resubmission.
func (o *OrderState) IsSentinel() bool { return o.OrderID == "" }

// Remaining is the unmatched quantity.
func (o *OrderState) Remaining() decimal.Decimal { return o.Size.Sub(o.Matched) }

// Clob is the slice of the exchange client the manager needs.
type Clob interface {
	CreateOrder(ctx context.Context, user *types.UserOrder) (*types.SignedOrder, error)
	PostOrder(ctx context.Context, order *types.SignedOrder, orderType types.OrderType) (*types.OrderResponse, error)
	GetOrder(ctx context.Context, orderID string) (*types.OpenOrder, error)
	GetOpenOrders(ctx context.Context, params *types.OpenOrderParams) ([]types.OpenOrder, error)
	Cancel(ctx context.Context, orderID string) error
}

// BookFunc supplies a book snapshot for the dry-run simulator.
type BookFunc func(tokenID string) *types.OrderBookSummary

// FillFunc receives each detected fill increment.
type FillFunc func(state *OrderState, delta decimal.Decimal)

// Manager tracks orders per token. All methods run on the engine's
// tick worker.
type Manager struct {
	client Clob
	dryRun bool
	book   BookFunc
	onFill FillFunc

	// token id -> orders, oldest first. Multiple orders per token.
	orders map[string][]*OrderState

	now func() time.Time
}

// NewManager builds a manager. book is only consulted in dry-run mode.
func NewManager(c Clob, dryRun bool, book BookFunc, onFill FillFunc) *Manager {
	return &Manager{
		client: c,
		dryRun: dryRun,
		book:   book,
		onFill: onFill,
		orders: make(map[string][]*OrderState),
		now:    time.Now,
	}
}

// PlaceRequest is the full placement contract.
type PlaceRequest struct {
	Slug         string
	TokenID      string
	Direction    Direction
	Side         types.Side
	Price        decimal.Decimal
	Size         decimal.Decimal
	SecondsToEnd int
	Reason       string
	OrderType    types.OrderType

	ReservedHedgeNotional decimal.Decimal
	EntryDynamicEdge      decimal.Decimal
}

// PlaceOrder submits one order and tracks it. Returns true when an
// order (or sentinel) is now tracked. FOK sizes are rounded to the
// common tick and bumped to the minimum notional on the BUY side;
// SELL below minimum is rejected outright.
func (m *Manager) PlaceOrder(ctx context.Context, req PlaceRequest) (bool, error) {
	size := req.Size
	if req.OrderType == types.OrderTypeFOK {
		var ok bool
		size, ok = roundFOKSize(req.Price, size, req.Side)
		if !ok {
			log.WithField("slug", req.Slug).
				WithField("size", req.Size.String()).
				Debug("fok order below minimum notional, rejected")
			return false, nil
		}
	}

	state := &OrderState{
		Slug:                  req.Slug,
		TokenID:               req.TokenID,
		Direction:             req.Direction,
		Side:                  req.Side,
		OrderType:             req.OrderType,
		Price:                 req.Price,
		Size:                  size,
		PlacedAt:              m.now(),
		ReservedHedgeNotional: req.ReservedHedgeNotional,
		EntryDynamicEdge:      req.EntryDynamicEdge,
		Reason:                req.Reason,
	}

	if m.dryRun {
		state.OrderID = "dry-" + uuid.NewString()
		m.track(state)
		log.WithField("slug", req.Slug).
			WithField("dir", req.Direction.String()).
			WithField("price", req.Price.String()).
			WithField("size", size.String()).
			Info("dry-run order tracked")
		return true, nil
	}

	signed, err := m.client.CreateOrder(ctx, &types.UserOrder{
		TokenID: req.TokenID,
		Price:   req.Price,
		Size:    size,
		Side:    req.Side,
	})
	if err != nil {
		return false, err
	}
	resp, err := m.client.PostOrder(ctx, signed, req.OrderType)
	if err != nil {
		// A sentinel only makes sense when the order might actually be
		// resting: GTC, and not a balance problem that clears itself.
		if req.OrderType == types.OrderTypeGTC && !client.IsBalanceOrAllowanceError(err) {
			m.track(state)
			log.WithError(err).WithField("slug", req.Slug).Error("order failed, sentinel inserted")
			return true, err
		}
		log.WithError(err).WithField("slug", req.Slug).Warn("order failed, no sentinel")
		return false, err
	}
	if resp == nil || resp.OrderID == "" {
		// FOK with no id means nothing filled and nothing rests.
		if req.OrderType == types.OrderTypeGTC {
			m.track(state)
			return true, nil
		}
		return false, nil
	}

	state.OrderID = resp.OrderID
	m.track(state)
	log.WithField("slug", req.Slug).
		WithField("order_id", resp.OrderID).
		WithField("dir", req.Direction.String()).
		WithField("side", string(req.Side)).
		WithField("price", req.Price.String()).
		WithField("size", size.String()).
		WithField("reason", req.Reason).
		Info("order placed")
	return true, nil
}

// roundFOKSize truncates to the common tick and enforces the minimum
// notional. BUY bumps up to the minimum; SELL cannot and is rejected.
func roundFOKSize(price, size decimal.Decimal, side types.Side) (decimal.Decimal, bool) {
	if !price.IsPositive() {
		return decimal.Zero, false
	}
	size = size.Truncate(2)
	if price.Mul(size).GreaterThanOrEqual(minNotionalUSD) {
		return size, true
	}
	if side == types.SideSell {
		return decimal.Zero, false
	}
	bumped := minNotionalUSD.Div(price).RoundCeil(2)
	return bumped, true
}

func (m *Manager) track(state *OrderState) {
	m.orders[state.TokenID] = append(m.orders[state.TokenID], state)
}

func (m *Manager) drop(state *OrderState) {
	list := m.orders[state.TokenID]
	for i, o := range list {
		if o == state {
			m.orders[state.TokenID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(m.orders[state.TokenID]) == 0 {
		delete(m.orders, state.TokenID)
	}
}

// OrdersFor returns the tracked orders for one token, oldest first.
func (m *Manager) OrdersFor(tokenID string) []*OrderState {
	return m.orders[tokenID]
}

// HasOrders reports whether any order is tracked for the token.
func (m *Manager) HasOrders(tokenID string) bool {
	return len(m.orders[tokenID]) > 0
}

// All returns every tracked order.
func (m *Manager) All() []*OrderState {
	var out []*OrderState
	for _, list := range m.orders {
		out = append(out, list...)
	}
	return out
}

// CancelOrder pops the first order for a token. Live mode checks the
// remote status first so a just-arrived fill is dispatched before the
// cancel, and skips the cancel call when already fully matched.
func (m *Manager) CancelOrder(ctx context.Context, tokenID, reason string) {
	list := m.orders[tokenID]
	if len(list) == 0 {
		return
	}
	state := list[0]
	defer m.drop(state)

	if state.IsSentinel() || m.dryRun {
		log.WithField("slug", state.Slug).WithField("reason", reason).Debug("local order dropped")
		return
	}

	if remote, err := m.client.GetOrder(ctx, state.OrderID); err == nil && remote != nil {
		m.applyRemote(state, remote)
		if state.Matched.GreaterThanOrEqual(state.Size) {
			log.WithField("order_id", state.OrderID).Debug("order already filled, cancel skipped")
			return
		}
	}
	if err := m.client.Cancel(ctx, state.OrderID); err != nil {
		log.WithError(err).WithField("order_id", state.OrderID).Warn("cancel failed")
		return
	}
	log.WithField("order_id", state.OrderID).
		WithField("slug", state.Slug).
		WithField("reason", reason).
		Info("order cancelled")
}

// CancelMarketOrders drains both sides of one market.
func (m *Manager) CancelMarketOrders(ctx context.Context, upToken, downToken, reason string) {
	for m.HasOrders(upToken) {
		m.CancelOrder(ctx, upToken, reason)
	}
	for m.HasOrders(downToken) {
		m.CancelOrder(ctx, downToken, reason)
	}
}

// CancelAll drains every tracked order.
func (m *Manager) CancelAll(ctx context.Context, reason string) {
	for token := range m.orders {
		for m.HasOrders(token) {
			m.CancelOrder(ctx, token, reason)
		}
	}
}

// CancelStale cancels orders older than the stale timeout.
func (m *Manager) CancelStale(ctx context.Context) {
	cutoff := m.now().Add(-staleAfter)
	for _, state := range m.All() {
		if state.PlacedAt.Before(cutoff) {
			log.WithField("order_id", state.OrderID).
				WithField("slug", state.Slug).
				WithField("age", m.now().Sub(state.PlacedAt).String()).
				Warn("stale order")
			m.cancelState(ctx, state, ReasonStaleTimeout)
		}
	}
}

func (m *Manager) cancelState(ctx context.Context, state *OrderState, reason string) {
	defer m.drop(state)
	if state.IsSentinel() || m.dryRun {
		return
	}
	if err := m.client.Cancel(ctx, state.OrderID); err != nil {
		log.WithError(err).WithField("order_id", state.OrderID).Warn("cancel failed")
		return
	}
	log.WithField("order_id", state.OrderID).WithField("reason", reason).Info("order cancelled")
}

// Reconcile matches local state with the remote open-order listing:
// sentinels are upgraded to the matching remote order by token, and
// remote orders unknown locally are logged as orphans. Skipped in
// dry-run mode.
func (m *Manager) Reconcile(ctx context.Context) {
	if m.dryRun {
		return
	}
	remote, err := m.client.GetOpenOrders(ctx, nil)
	if err != nil {
		log.WithError(err).Debug("reconcile listing failed")
		return
	}

	known := make(map[string]bool)
	for _, state := range m.All() {
		if !state.IsSentinel() {
			known[state.OrderID] = true
		}
	}

	for i := range remote {
		r := &remote[i]
		if known[r.ID] {
			continue
		}
		if s := m.findSentinel(r.AssetID); s != nil {
			s.OrderID = r.ID
			s.Matched = r.MatchedSize()
			known[r.ID] = true
			log.WithField("order_id", r.ID).
				WithField("slug", s.Slug).
				Info("sentinel upgraded from remote listing")
			continue
		}
		log.WithField("order_id", r.ID).
			WithField("token", r.AssetID).
			Warn("orphan remote order not tracked locally")
	}
}

func (m *Manager) findSentinel(tokenID string) *OrderState {
	for _, o := range m.orders[tokenID] {
		if o.IsSentinel() {
			return o
		}
	}
	return nil
}
