package client

import (
	"context"
	"net/http"
	"strconv"

	"github.com/pkg/errors"

	"github.com/pairbot/gopair/clob/types"
)

// CreateOrder rounds and signs a user order using the cached tick
// size and neg-risk flag for its token.
func (c *Client) CreateOrder(ctx context.Context, user *types.UserOrder) (*types.SignedOrder, error) {
	opts := &types.CreateOrderOptions{
		TickSize: c.TickSizeFor(ctx, user.TokenID),
		NegRisk:  c.NegRiskFor(user.TokenID),
	}
	return c.builder.BuildSignedOrder(user, opts)
}

// PostOrder submits a signed order. A response with success=false is
// returned as an error carrying the exchange's errorMsg.
func (c *Client) PostOrder(ctx context.Context, order *types.SignedOrder, orderType types.OrderType) (*types.OrderResponse, error) {
	if err := c.limits.Wait(ctx, "clob:order:post"); err != nil {
		return nil, err
	}
	if c.auth.Creds == nil {
		return nil, errors.New("api credentials not set")
	}

	payload := &types.NewOrder{Order: *order, Owner: c.auth.Creds.Key, OrderType: orderType}
	body, err := marshalBody(payload)
	if err != nil {
		return nil, err
	}

	req, err := c.l2Request(ctx, http.MethodPost, EndpointPostOrder, body)
	if err != nil {
		return nil, err
	}
	var out types.OrderResponse
	resp, err := req.SetResult(&out).SetError(&out).Post(EndpointPostOrder)
	if err != nil {
		return nil, errors.Wrap(err, "post order")
	}
	if !resp.IsSuccess() {
		if out.ErrorMsg != "" {
			return &out, errors.Errorf("post order rejected: %s", out.ErrorMsg)
		}
		return nil, errors.Errorf("post order: http %d: %s", resp.StatusCode(), resp.String())
	}
	if !out.Success && out.ErrorMsg != "" {
		return &out, errors.Errorf("post order rejected: %s", out.ErrorMsg)
	}
	return &out, nil
}

// GetOrder fetches one order by id.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*types.OpenOrder, error) {
	if err := c.limits.Wait(ctx, "clob:orders:get"); err != nil {
		return nil, err
	}
	path := EndpointGetOrder + orderID
	req, err := c.l2Request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var out types.OpenOrder
	resp, err := req.SetResult(&out).Get(path)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	if !resp.IsSuccess() {
		return nil, errors.Errorf("get order %s: http %d", orderID, resp.StatusCode())
	}
	return &out, nil
}

// GetOpenOrders lists open orders, walking pagination to the end
// cursor. Params filter server-side when set.
func (c *Client) GetOpenOrders(ctx context.Context, params *types.OpenOrderParams) ([]types.OpenOrder, error) {
	if err := c.limits.Wait(ctx, "clob:orders:get"); err != nil {
		return nil, err
	}

	var all []types.OpenOrder
	cursor := ""
	for {
		req, err := c.l2Request(ctx, http.MethodGet, EndpointGetOpenOrders, nil)
		if err != nil {
			return nil, err
		}
		if params != nil {
			if params.ID != "" {
				req.SetQueryParam("id", params.ID)
			}
			if params.Market != "" {
				req.SetQueryParam("market", params.Market)
			}
			if params.AssetID != "" {
				req.SetQueryParam("asset_id", params.AssetID)
			}
		}
		if cursor != "" {
			req.SetQueryParam("next_cursor", cursor)
		}

		var page types.OpenOrdersAPIResponse
		resp, err := req.SetResult(&page).Get(EndpointGetOpenOrders)
		if err != nil {
			return nil, errors.Wrap(err, "get open orders")
		}
		if !resp.IsSuccess() {
			return nil, errors.Errorf("get open orders: http %d", resp.StatusCode())
		}
		all = append(all, page.Data...)
		if page.NextCursor == "" || page.NextCursor == types.EndCursor {
			return all, nil
		}
		cursor = page.NextCursor
	}
}

// Cancel cancels one order by id.
func (c *Client) Cancel(ctx context.Context, orderID string) error {
	if err := c.limits.Wait(ctx, "clob:order:delete"); err != nil {
		return err
	}
	body, err := marshalBody(map[string]string{"orderID": orderID})
	if err != nil {
		return err
	}
	req, err := c.l2Request(ctx, http.MethodDelete, EndpointCancelOrder, body)
	if err != nil {
		return err
	}
	resp, err := req.Delete(EndpointCancelOrder)
	if err != nil {
		return errors.Wrap(err, "cancel order")
	}
	if !resp.IsSuccess() {
		return errors.Errorf("cancel order %s: http %d: %s", orderID, resp.StatusCode(), resp.String())
	}
	return nil
}

// CancelAll cancels every open order for the api key.
func (c *Client) CancelAll(ctx context.Context) error {
	if err := c.limits.Wait(ctx, "clob:orders:delete"); err != nil {
		return err
	}
	req, err := c.l2Request(ctx, http.MethodDelete, EndpointCancelAll, nil)
	if err != nil {
		return err
	}
	resp, err := req.Delete(EndpointCancelAll)
	if err != nil {
		return errors.Wrap(err, "cancel all")
	}
	if !resp.IsSuccess() {
		return errors.Errorf("cancel all: http %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// GetBalanceAllowance reads the settled balance for one asset. The
// response balance is a 6-decimal base-unit string.
func (c *Client) GetBalanceAllowance(ctx context.Context, params *types.BalanceAllowanceParams) (*types.BalanceAllowanceResponse, error) {
	if err := c.limits.Wait(ctx, "clob:balance:get"); err != nil {
		return nil, err
	}
	req, err := c.l2Request(ctx, http.MethodGet, EndpointGetBalanceAllowance, nil)
	if err != nil {
		return nil, err
	}
	req.SetQueryParam("asset_type", string(params.AssetType))
	if params.TokenID != "" {
		req.SetQueryParam("token_id", params.TokenID)
	}
	sigType := c.auth.SignatureType
	if params.SignatureType != nil {
		sigType = *params.SignatureType
	}
	req.SetQueryParam("signature_type", strconv.Itoa(int(sigType)))

	var out types.BalanceAllowanceResponse
	resp, err := req.SetResult(&out).Get(EndpointGetBalanceAllowance)
	if err != nil {
		return nil, errors.Wrap(err, "get balance allowance")
	}
	if !resp.IsSuccess() {
		return nil, errors.Errorf("get balance allowance: http %d", resp.StatusCode())
	}
	return &out, nil
}
