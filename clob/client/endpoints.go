package client

// CLOB REST endpoints.
const (
	EndpointTime = "/time"

	EndpointCreateAPIKey = "/auth/api-key"
	EndpointDeriveAPIKey = "/auth/derive-api-key"

	EndpointGetOrderBook  = "/book"
	EndpointGetOrderBooks = "/books"
	EndpointGetMidpoint   = "/midpoint"
	EndpointGetPrice      = "/price"
	EndpointGetTickSize   = "/tick-size"
	EndpointGetNegRisk    = "/neg-risk"

	EndpointPostOrder          = "/order"
	EndpointCancelOrder        = "/order"
	EndpointCancelAll          = "/cancel-all"
	EndpointCancelMarketOrders = "/cancel-market-orders"
	EndpointGetOrder           = "/data/order/"
	EndpointGetOpenOrders      = "/data/orders"

	EndpointGetBalanceAllowance = "/balance-allowance"
)

// Gamma discovery endpoints.
const (
	EndpointGammaEvents = "/events"
)
