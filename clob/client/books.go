package client

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/pairbot/gopair/clob/types"
)

// GetOrderBook fetches one token's book. Public endpoint.
func (c *Client) GetOrderBook(ctx context.Context, tokenID string) (*types.OrderBookSummary, error) {
	if err := c.limits.Wait(ctx, "clob:book:get"); err != nil {
		return nil, err
	}
	var out types.OrderBookSummary
	resp, err := c.newRequest(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&out).
		Get(EndpointGetOrderBook)
	if err != nil {
		return nil, errors.Wrap(err, "get order book")
	}
	if !resp.IsSuccess() {
		return nil, errors.Errorf("get order book %s: http %d", tokenID, resp.StatusCode())
	}
	c.rememberMarketFacts(&out)
	return &out, nil
}

// GetOrderBooks fetches several books in one request. The response
// order is not assumed; callers key by AssetID.
func (c *Client) GetOrderBooks(ctx context.Context, params []types.BookParams) ([]types.OrderBookSummary, error) {
	if len(params) == 0 {
		return nil, nil
	}
	if err := c.limits.Wait(ctx, "clob:books:post"); err != nil {
		return nil, err
	}
	body, err := marshalBody(params)
	if err != nil {
		return nil, err
	}
	var out []types.OrderBookSummary
	resp, err := c.newRequest(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&out).
		Post(EndpointGetOrderBooks)
	if err != nil {
		return nil, errors.Wrap(err, "get order books")
	}
	if !resp.IsSuccess() {
		return nil, errors.Errorf("get order books: http %d", resp.StatusCode())
	}
	for i := range out {
		c.rememberMarketFacts(&out[i])
	}
	return out, nil
}

// rememberMarketFacts caches per-token tick size and neg-risk carried
// on book responses, saving dedicated lookups at order time.
func (c *Client) rememberMarketFacts(book *types.OrderBookSummary) {
	if book.AssetID == "" {
		return
	}
	if book.TickSize != "" {
		c.tickSizes.Set(book.AssetID, types.TickSize(book.TickSize), time.Hour)
	}
	c.negRisk.Set(book.AssetID, book.NegRisk, time.Hour)
}

// TickSizeFor returns the cached tick size for a token, fetching the
// book once on a cold cache. Falls back to 0.01.
func (c *Client) TickSizeFor(ctx context.Context, tokenID string) types.TickSize {
	if ts, ok := c.tickSizes.Get(tokenID); ok {
		return ts
	}
	if book, err := c.GetOrderBook(ctx, tokenID); err == nil && book.TickSize != "" {
		return types.TickSize(book.TickSize)
	}
	return types.TickSize001
}

// NegRiskFor returns the cached neg-risk flag for a token; false when
// unknown.
func (c *Client) NegRiskFor(tokenID string) bool {
	nr, _ := c.negRisk.Get(tokenID)
	return nr
}

// SetMarketFacts primes the per-token caches from discovery data so
// the first order does not need a book fetch.
func (c *Client) SetMarketFacts(tokenID string, tickSize types.TickSize, negRisk bool) {
	if tokenID == "" {
		return
	}
	if tickSize != "" {
		c.tickSizes.Set(tokenID, tickSize, time.Hour)
	}
	c.negRisk.Set(tokenID, negRisk, time.Hour)
}
