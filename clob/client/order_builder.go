package client

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/polymarket/go-order-utils/pkg/builder"
	"github.com/polymarket/go-order-utils/pkg/model"
	"github.com/shopspring/decimal"

	"github.com/pairbot/gopair/clob/signing"
	"github.com/pairbot/gopair/clob/types"
)

// RoundConfig is the decimal-place budget for one tick size: price
// precision, share precision, and the max precision of price*size.
type RoundConfig struct {
	Price  int32
	Size   int32
	Amount int32
}

// RoundingConfig maps tick size to the CLOB's accepted precisions.
var RoundingConfig = map[types.TickSize]RoundConfig{
	types.TickSize01:    {Price: 1, Size: 2, Amount: 3},
	types.TickSize001:   {Price: 2, Size: 2, Amount: 4},
	types.TickSize0001:  {Price: 3, Size: 2, Amount: 5},
	types.TickSize00001: {Price: 4, Size: 2, Amount: 6},
}

// OrderBuilder rounds, converts, and signs user orders for submission.
type OrderBuilder struct {
	client *Client
	util   builder.ExchangeOrderBuilder
}

// NewOrderBuilder creates a builder bound to the client's chain.
func NewOrderBuilder(c *Client) *OrderBuilder {
	return &OrderBuilder{
		client: c,
		util:   builder.NewExchangeOrderBuilderImpl(big.NewInt(int64(c.chainID)), nil),
	}
}

// BuildSignedOrder rounds the order to its tick-size precision,
// converts to 6-decimal base units, and signs against the exchange
// contract (neg-risk markets verify against the neg-risk exchange).
func (ob *OrderBuilder) BuildSignedOrder(user *types.UserOrder, opts *types.CreateOrderOptions) (*types.SignedOrder, error) {
	if ob.client.auth.PrivateKey == nil {
		return nil, errors.New("private key required to sign orders")
	}
	rc, ok := RoundingConfig[opts.TickSize]
	if !ok {
		return nil, errors.Errorf("unsupported tick size: %s", opts.TickSize)
	}

	signer := signing.AddressFromPrivateKey(ob.client.auth.PrivateKey).Hex()
	maker := signer
	if ob.client.auth.FunderAddress != "" {
		maker = ob.client.auth.FunderAddress
	}
	taker := "0x0000000000000000000000000000000000000000"
	if user.Taker != "" {
		taker = user.Taker
	}

	makerAmt, takerAmt := orderRawAmounts(user.Side, user.Size, user.Price, rc)

	contract := model.CTFExchange
	if opts.NegRisk {
		contract = model.NegRiskCTFExchange
	}

	data := &model.OrderData{
		Maker:         maker,
		Signer:        signer,
		Taker:         taker,
		TokenId:       user.TokenID,
		MakerAmount:   toBaseUnits(makerAmt),
		TakerAmount:   toBaseUnits(takerAmt),
		Side:          model.BUY,
		FeeRateBps:    decimal.NewFromInt(int64(user.FeeRateBps)).String(),
		Nonce:         decimal.NewFromInt(user.Nonce).String(),
		Expiration:    decimal.NewFromInt(user.Expiration).String(),
		SignatureType: model.SignatureType(ob.client.auth.SignatureType),
	}
	if user.Side == types.SideSell {
		data.Side = model.SELL
	}

	signed, err := ob.util.BuildSignedOrder(ob.client.auth.PrivateKey, data, contract)
	if err != nil {
		return nil, errors.Wrap(err, "sign order")
	}

	return &types.SignedOrder{
		Salt:          signed.Salt.Int64(),
		Maker:         signed.Maker.Hex(),
		Signer:        signed.Signer.Hex(),
		Taker:         signed.Taker.Hex(),
		TokenID:       signed.TokenId.String(),
		MakerAmount:   signed.MakerAmount.String(),
		TakerAmount:   signed.TakerAmount.String(),
		Expiration:    signed.Expiration.String(),
		Nonce:         signed.Nonce.String(),
		FeeRateBps:    signed.FeeRateBps.String(),
		Side:          user.Side,
		SignatureType: int(signed.SignatureType.Int64()),
		Signature:     "0x" + common.Bytes2Hex(signed.Signature),
	}, nil
}

// orderRawAmounts computes the maker/taker amounts in market units.
// BUY: maker pays USDC, taker amount is shares. SELL: maker amount is
// shares (2 dp), taker USDC capped at 4 dp.
func orderRawAmounts(side types.Side, size, price decimal.Decimal, rc RoundConfig) (makerAmt, takerAmt decimal.Decimal) {
	p := price.Round(rc.Price)
	if side == types.SideBuy {
		takerAmt = size.Truncate(rc.Size)
		makerAmt = takerAmt.Mul(p).Truncate(rc.Amount)
		return makerAmt, takerAmt
	}
	makerAmt = size.Truncate(rc.Size)
	takerAmt = makerAmt.Mul(p).Truncate(4)
	return makerAmt, takerAmt
}

// toBaseUnits converts a market-unit amount to the 6-decimal integer
// string the exchange contract expects.
func toBaseUnits(d decimal.Decimal) string {
	return d.Shift(CollateralTokenDecimals).Truncate(0).String()
}
