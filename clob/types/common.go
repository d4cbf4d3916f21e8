// Package types defines the wire types shared by the CLOB REST
// client, the order builder, and the trading engine.
package types

// Side is the order side exactly as the CLOB API spells it.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType selects the CLOB time-in-force.
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC" // good til cancelled
	OrderTypeFOK OrderType = "FOK" // fill or kill
	OrderTypeGTD OrderType = "GTD" // good til date
	OrderTypeFAK OrderType = "FAK" // fill and kill
)

// Chain is an EVM chain id.
type Chain int

const (
	ChainPolygon Chain = 137
	ChainAmoy    Chain = 80002
)

// SignatureType tells the exchange how an order signature must be
// verified against the maker address.
type SignatureType int

const (
	// SignatureTypeEOA: the maker signs and funds directly.
	SignatureTypeEOA SignatureType = 0
	// SignatureTypeProxy: funds sit in a Polymarket proxy wallet
	// owned by the signing key (email login accounts).
	SignatureTypeProxy SignatureType = 1
	// SignatureTypeGnosisSafe: funds sit in a Gnosis Safe whose owner
	// is the signing key (browser wallet accounts).
	SignatureTypeGnosisSafe SignatureType = 2
)

// AssetType selects the balance kind in balance/allowance queries.
type AssetType string

const (
	AssetTypeCollateral  AssetType = "COLLATERAL"
	AssetTypeConditional AssetType = "CONDITIONAL"
)

// TickSize is a market's minimum price increment as the CLOB reports
// it.
type TickSize string

const (
	TickSize01    TickSize = "0.1"
	TickSize001   TickSize = "0.01"
	TickSize0001  TickSize = "0.001"
	TickSize00001 TickSize = "0.0001"
)

// ApiKeyCreds are the L2 credentials issued by the CLOB.
type ApiKeyCreds struct {
	Key        string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// ApiKeyRaw mirrors the create/derive api-key response body.
type ApiKeyRaw struct {
	ApiKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// Per-token caches maintained by the client.
type (
	TickSizes map[string]TickSize
	NegRisk   map[string]bool
)
