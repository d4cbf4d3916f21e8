package client

import (
	"github.com/pkg/errors"

	"github.com/pairbot/gopair/clob/types"
)

// ContractConfig holds the per-chain contract addresses the engine
// touches.
type ContractConfig struct {
	Exchange          string // standard CTF exchange
	NegRiskAdapter    string // neg-risk merge/redeem adapter
	NegRiskExchange   string // neg-risk exchange
	Collateral        string // USDC
	ConditionalTokens string // CTF (ERC-1155)
	ProxyFactory      string // Safe-style proxy wallet factory
	BTCUSDOracle      string // Chainlink BTC/USD aggregator
}

const (
	// CollateralTokenDecimals is the USDC precision.
	CollateralTokenDecimals = 6

	// ConditionalTokenDecimals is the outcome-share precision.
	ConditionalTokenDecimals = 6

	// OracleDecimals is the Chainlink USD answer precision.
	OracleDecimals = 8
)

// PolygonMainnetContracts are the production addresses.
var PolygonMainnetContracts = ContractConfig{
	Exchange:          "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E",
	NegRiskAdapter:    "0xd91E80cF2E7be2e162c6513ceD06f1dD0dA35296",
	NegRiskExchange:   "0xC5d563A36AE78145C45a50134d48A1215220f80a",
	Collateral:        "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174",
	ConditionalTokens: "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045",
	ProxyFactory:      "0xaB45c5A4B0c941a2F231C04C3f49182e1A254052",
	BTCUSDOracle:      "0xc907E116054Ad103354f2D350FD2514433D57F6f",
}

// AmoyTestnetContracts are the testnet addresses.
var AmoyTestnetContracts = ContractConfig{
	Exchange:          "0xdFE02Eb6733538f8Ea35D585af8DE5958AD99E40",
	NegRiskAdapter:    "0xd91E80cF2E7be2e162c6513ceD06f1dD0dA35296",
	NegRiskExchange:   "0xC5d563A36AE78145C45a50134d48A1215220f80a",
	Collateral:        "0x9c4e1703476e875070ee25b56a58b008cfb8fa78",
	ConditionalTokens: "0x69308FB512518e39F9b16112fA8d994F4e2Bf8bB",
	ProxyFactory:      "0xaB45c5A4B0c941a2F231C04C3f49182e1A254052",
	BTCUSDOracle:      "",
}

// GetContractConfig resolves addresses for a chain id.
func GetContractConfig(chainID types.Chain) (*ContractConfig, error) {
	switch chainID {
	case types.ChainPolygon:
		return &PolygonMainnetContracts, nil
	case types.ChainAmoy:
		return &AmoyTestnetContracts, nil
	default:
		return nil, errors.Errorf("unsupported chain id: %d", chainID)
	}
}
