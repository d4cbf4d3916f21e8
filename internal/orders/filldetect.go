package orders

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/pairbot/gopair/clob/types"
)

// DetectFills sweeps every tracked order once: the dry-run simulator
// consumes crossing liquidity at the order's price, live mode polls
// each order by id. Terminal or fully matched orders are dropped.
func (m *Manager) DetectFills(ctx context.Context) {
	for _, state := range m.All() {
		if state.IsSentinel() {
			continue
		}
		if m.dryRun {
			m.simulateFill(state)
		} else {
			m.pollFill(ctx, state)
		}
	}
}

// simulateFill advances the depth-aware simulator: new crossing
// liquidity beyond what this order already consumed becomes a fill.
func (m *Manager) simulateFill(state *OrderState) {
	if m.book == nil {
		return
	}
	book := m.book(state.TokenID)
	if book == nil {
		return
	}
	crossing := book.CrossingDepth(state.Side, state.Price)
	fresh := crossing.Sub(state.ConsumedCrossing)
	if !fresh.IsPositive() {
		return
	}
	delta := fresh
	if remaining := state.Remaining(); delta.GreaterThan(remaining) {
		delta = remaining
	}
	state.ConsumedCrossing = state.ConsumedCrossing.Add(delta)
	if !delta.IsPositive() {
		return
	}
	state.Matched = state.Matched.Add(delta)
	m.fireFill(state, delta)
	if state.Matched.GreaterThanOrEqual(state.Size) {
		m.drop(state)
	}
}

// pollFill queries one order and dispatches any matched-size increase.
func (m *Manager) pollFill(ctx context.Context, state *OrderState) {
	remote, err := m.client.GetOrder(ctx, state.OrderID)
	state.LastStatusCheckAt = m.now()
	if err != nil || remote == nil {
		log.WithError(err).WithField("order_id", state.OrderID).Debug("order poll failed")
		return
	}
	m.applyRemote(state, remote)
	if types.IsTerminalStatus(remote.Status) || state.Matched.GreaterThanOrEqual(state.Size) {
		m.drop(state)
	}
}

// DetectFillsBulk fetches the whole open-order listing once and
// updates every tracked order from it; orders absent from the listing
// fall back to a single status check, since absence can mean either
// filled or cancelled.
func (m *Manager) DetectFillsBulk(ctx context.Context) {
	if m.dryRun {
		m.DetectFills(ctx)
		return
	}
	remote, err := m.client.GetOpenOrders(ctx, nil)
	if err != nil {
		log.WithError(err).Debug("bulk listing failed, falling back to polls")
		m.DetectFills(ctx)
		return
	}
	byID := make(map[string]*types.OpenOrder, len(remote))
	for i := range remote {
		byID[remote[i].ID] = &remote[i]
	}

	for _, state := range m.All() {
		if state.IsSentinel() {
			continue
		}
		if r, ok := byID[state.OrderID]; ok {
			m.applyRemote(state, r)
			if state.Matched.GreaterThanOrEqual(state.Size) {
				m.drop(state)
			}
			continue
		}
		m.pollFill(ctx, state)
	}
}

// applyRemote folds a remote view into local state and fires the fill
// callback for any matched-size increase.
func (m *Manager) applyRemote(state *OrderState, remote *types.OpenOrder) {
	matched := remote.MatchedSize()
	if matched.GreaterThan(state.Matched) {
		delta := matched.Sub(state.Matched)
		state.Matched = matched
		m.fireFill(state, delta)
	}
}

func (m *Manager) fireFill(state *OrderState, delta decimal.Decimal) {
	log.WithField("order_id", state.OrderID).
		WithField("slug", state.Slug).
		WithField("delta", delta.String()).
		WithField("matched", state.Matched.String()).
		Info("fill detected")
	if m.onFill != nil {
		m.onFill(state, delta)
	}
}
