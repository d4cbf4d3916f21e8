package client

// Minimal ABI fragments: only the functions the engine calls.

// CTFABI covers merge/redeem on the conditional-token framework.
const CTFABI = `[
	{
		"inputs": [
			{"name": "collateralToken", "type": "address"},
			{"name": "parentCollectionId", "type": "bytes32"},
			{"name": "conditionId", "type": "bytes32"},
			{"name": "partition", "type": "uint256[]"},
			{"name": "amount", "type": "uint256"}
		],
		"name": "mergePositions",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "collateralToken", "type": "address"},
			{"name": "parentCollectionId", "type": "bytes32"},
			{"name": "conditionId", "type": "bytes32"},
			{"name": "indexSets", "type": "uint256[]"}
		],
		"name": "redeemPositions",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

// NegRiskAdapterABI has different merge/redeem signatures: amounts are
// explicit and collateral is implied by the adapter.
const NegRiskAdapterABI = `[
	{
		"inputs": [
			{"name": "_conditionId", "type": "bytes32"},
			{"name": "_amount", "type": "uint256"}
		],
		"name": "mergePositions",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "_conditionId", "type": "bytes32"},
			{"name": "_amounts", "type": "uint256[]"}
		],
		"name": "redeemPositions",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

// ERC1155ABI covers balance and operator-approval reads plus the
// approval write routed through the proxy.
const ERC1155ABI = `[
	{
		"inputs": [
			{"name": "account", "type": "address"},
			{"name": "id", "type": "uint256"}
		],
		"name": "balanceOf",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "account", "type": "address"},
			{"name": "operator", "type": "address"}
		],
		"name": "isApprovedForAll",
		"outputs": [{"name": "", "type": "bool"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "operator", "type": "address"},
			{"name": "approved", "type": "bool"}
		],
		"name": "setApprovalForAll",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

// ProxyFactoryABI is the Safe-style multicall entry: each inner call
// is (typeCode, to, value, data) forwarded from the proxy wallet.
const ProxyFactoryABI = `[
	{
		"inputs": [
			{
				"components": [
					{"name": "typeCode", "type": "uint8"},
					{"name": "to", "type": "address"},
					{"name": "value", "type": "uint256"},
					{"name": "data", "type": "bytes"}
				],
				"name": "calls",
				"type": "tuple[]"
			}
		],
		"name": "proxy",
		"outputs": [{"name": "returnData", "type": "bytes[]"}],
		"stateMutability": "payable",
		"type": "function"
	}
]`

// AggregatorABI is the Chainlink read used for the window open price.
const AggregatorABI = `[
	{
		"inputs": [],
		"name": "latestRoundData",
		"outputs": [
			{"name": "roundId", "type": "uint80"},
			{"name": "answer", "type": "int256"},
			{"name": "startedAt", "type": "uint256"},
			{"name": "updatedAt", "type": "uint256"},
			{"name": "answeredInRound", "type": "uint80"}
		],
		"stateMutability": "view",
		"type": "function"
	}
]`
