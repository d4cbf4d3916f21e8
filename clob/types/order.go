package types

import (
	"strings"

	"github.com/shopspring/decimal"
)

// UserOrder is a caller-facing order request before rounding and
// signing. Price and Size are in market units (price in USDC per
// share, size in shares).
type UserOrder struct {
	TokenID    string
	Price      decimal.Decimal
	Size       decimal.Decimal
	Side       Side
	FeeRateBps int
	Nonce      int64
	Expiration int64
	Taker      string
}

// CreateOrderOptions carries the per-market facts the builder needs.
type CreateOrderOptions struct {
	TickSize TickSize
	NegRisk  bool
}

// SignedOrder is the exact JSON the CLOB expects inside a post-order
// payload. Salt and signatureType are integers, everything numeric
// else is a string.
type SignedOrder struct {
	Salt          int64  `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          Side   `json:"side"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`
}

// NewOrder wraps a signed order for submission. Owner is the api key,
// not the maker address.
type NewOrder struct {
	Order     SignedOrder `json:"order"`
	Owner     string      `json:"owner"`
	OrderType OrderType   `json:"orderType"`
	DeferExec bool        `json:"deferExec"`
}

// OrderResponse is returned by post- and cancel-order calls.
type OrderResponse struct {
	Success      bool     `json:"success"`
	ErrorMsg     string   `json:"errorMsg"`
	OrderID      string   `json:"orderID"`
	TxHashes     []string `json:"transactionsHashes"`
	Status       string   `json:"status"`
	TakingAmount string   `json:"takingAmount"`
	MakingAmount string   `json:"makingAmount"`
}

// OpenOrder is one row of the open-order listing.
type OpenOrder struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Owner        string `json:"owner"`
	Maker        string `json:"maker_address"`
	Market       string `json:"market"`
	AssetID      string `json:"asset_id"`
	Side         string `json:"side"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
	Price        string `json:"price"`
	Expiration   string `json:"expiration"`
	OrderType    string `json:"order_type"`
	CreatedAt    int64  `json:"created_at"`
}

// MatchedSize parses size_matched; zero when absent or malformed.
func (o *OpenOrder) MatchedSize() decimal.Decimal {
	return parseDecimal(o.SizeMatched)
}

// Size parses original_size; zero when absent or malformed.
func (o *OpenOrder) Size() decimal.Decimal {
	return parseDecimal(o.OriginalSize)
}

// PriceDecimal parses price; zero when absent or malformed.
func (o *OpenOrder) PriceDecimal() decimal.Decimal {
	return parseDecimal(o.Price)
}

// OpenOrdersAPIResponse is one page of the open-order listing.
type OpenOrdersAPIResponse struct {
	Data       []OpenOrder `json:"data"`
	NextCursor string      `json:"next_cursor"`
	Limit      int         `json:"limit"`
	Count      int         `json:"count"`
}

// EndCursor marks the last page of a paginated listing.
const EndCursor = "LTE="

// OpenOrderParams filters the open-order listing. Empty fields are
// omitted.
type OpenOrderParams struct {
	ID      string
	Market  string
	AssetID string
}

// A status containing any of these markers is final: the order is off
// the book and will not match further.
var terminalMarkers = []string{"FILLED", "CANCELED", "EXPIRED", "REJECTED", "DONE"}

// IsTerminalStatus reports whether an order status string is final.
func IsTerminalStatus(status string) bool {
	s := strings.ToUpper(status)
	for _, m := range terminalMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
