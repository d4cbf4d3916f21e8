package client

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/pairbot/gopair/clob/types"
)

// Sentinel chain errors checked by the settlement coordinator.
var (
	// ErrGasTooHigh is raised before signing when the suggested gas
	// price exceeds the configured cap. No transaction is sent.
	ErrGasTooHigh = errors.New("gas price above cap")

	// ErrReceiptTimeout is raised when no receipt lands within the
	// wait deadline. The transaction may still confirm later.
	ErrReceiptTimeout = errors.New("transaction receipt not found within deadline")
)

// receiptWaitDeadline bounds how long a submission waits for a receipt.
const receiptWaitDeadline = 120 * time.Second

// ProxyCall is one inner call forwarded by the proxy wallet:
// (typeCode, to, value, data).
type ProxyCall struct {
	TypeCode uint8
	To       common.Address
	Value    *big.Int
	Data     []byte
}

// ChainClient submits settlement transactions through the proxy
// wallet and reads on-chain balances, approvals, and the oracle.
type ChainClient struct {
	eth        *ethclient.Client
	cfg        *ContractConfig
	privateKey *ecdsa.PrivateKey
	chainID    *big.Int

	// proxyWallet owns the positions; zero means the EOA holds them
	// and calls go direct instead of through the factory.
	proxyWallet common.Address

	maxGasPriceWei *big.Int
	maticPriceUSD  decimal.Decimal // gas-cost reporting only

	ctfABI        abi.ABI
	negRiskABI    abi.ABI
	erc1155ABI    abi.ABI
	proxyABI      abi.ABI
	aggregatorABI abi.ABI

	// Serializes nonce allocation across concurrent submissions.
	nonceMu sync.Mutex
}

// NewChainClient dials the RPC endpoint and parses the contract ABIs.
// maxGasPriceGwei caps every submission; see ErrGasTooHigh.
// maticPriceUSD prices submission gas in the logs; zero disables it.
func NewChainClient(rpcURL string, chainID types.Chain, privateKey *ecdsa.PrivateKey, proxyWallet string, maxGasPriceGwei, maticPriceUSD float64) (*ChainClient, error) {
	eth, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, errors.Wrap(err, "dial rpc")
	}
	cfg, err := GetContractConfig(chainID)
	if err != nil {
		return nil, err
	}

	parse := func(name, raw string) (abi.ABI, error) {
		parsed, err := abi.JSON(strings.NewReader(raw))
		if err != nil {
			return abi.ABI{}, errors.Wrapf(err, "parse %s abi", name)
		}
		return parsed, nil
	}
	ctfABI, err := parse("ctf", CTFABI)
	if err != nil {
		return nil, err
	}
	negRiskABI, err := parse("neg-risk", NegRiskAdapterABI)
	if err != nil {
		return nil, err
	}
	erc1155ABI, err := parse("erc1155", ERC1155ABI)
	if err != nil {
		return nil, err
	}
	proxyABI, err := parse("proxy-factory", ProxyFactoryABI)
	if err != nil {
		return nil, err
	}
	aggregatorABI, err := parse("aggregator", AggregatorABI)
	if err != nil {
		return nil, err
	}

	gwei := decimal.NewFromFloat(maxGasPriceGwei)
	maxWei := gwei.Shift(9).Truncate(0).BigInt()

	c := &ChainClient{
		eth:            eth,
		cfg:            cfg,
		privateKey:     privateKey,
		chainID:        big.NewInt(int64(chainID)),
		maxGasPriceWei: maxWei,
		maticPriceUSD:  decimal.NewFromFloat(maticPriceUSD),
		ctfABI:         ctfABI,
		negRiskABI:     negRiskABI,
		erc1155ABI:     erc1155ABI,
		proxyABI:       proxyABI,
		aggregatorABI:  aggregatorABI,
	}
	if proxyWallet != "" {
		c.proxyWallet = common.HexToAddress(proxyWallet)
	}
	return c, nil
}

// PositionOwner is the address holding outcome shares: the proxy
// wallet when configured, otherwise the signing EOA.
func (c *ChainClient) PositionOwner() common.Address {
	if c.proxyWallet != (common.Address{}) {
		return c.proxyWallet
	}
	return crypto.PubkeyToAddress(c.privateKey.PublicKey)
}

// ERC1155Balance reads the settled outcome-share balance for one
// token id, converted from 6-decimal base units.
func (c *ChainClient) ERC1155Balance(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	id, ok := new(big.Int).SetString(tokenID, 10)
	if !ok {
		return decimal.Zero, errors.Errorf("invalid token id: %s", tokenID)
	}
	data, err := c.erc1155ABI.Pack("balanceOf", c.PositionOwner(), id)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "pack balanceOf")
	}
	ctf := common.HexToAddress(c.cfg.ConditionalTokens)
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &ctf, Data: data}, nil)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "call balanceOf")
	}
	var bal *big.Int
	if err := c.erc1155ABI.UnpackIntoInterface(&bal, "balanceOf", out); err != nil {
		return decimal.Zero, errors.Wrap(err, "unpack balanceOf")
	}
	return decimal.NewFromBigInt(bal, -ConditionalTokenDecimals), nil
}

// IsApprovedForAll reports whether operator may move the owner's
// conditional tokens.
func (c *ChainClient) IsApprovedForAll(ctx context.Context, operator common.Address) (bool, error) {
	data, err := c.erc1155ABI.Pack("isApprovedForAll", c.PositionOwner(), operator)
	if err != nil {
		return false, errors.Wrap(err, "pack isApprovedForAll")
	}
	ctf := common.HexToAddress(c.cfg.ConditionalTokens)
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &ctf, Data: data}, nil)
	if err != nil {
		return false, errors.Wrap(err, "call isApprovedForAll")
	}
	var approved bool
	if err := c.erc1155ABI.UnpackIntoInterface(&approved, "isApprovedForAll", out); err != nil {
		return false, errors.Wrap(err, "unpack isApprovedForAll")
	}
	return approved, nil
}

// BuildApprovalCall builds the proxy call granting operator approval
// over the owner's conditional tokens.
func (c *ChainClient) BuildApprovalCall(operator common.Address) (ProxyCall, error) {
	data, err := c.erc1155ABI.Pack("setApprovalForAll", operator, true)
	if err != nil {
		return ProxyCall{}, errors.Wrap(err, "pack setApprovalForAll")
	}
	return ProxyCall{
		TypeCode: 1,
		To:       common.HexToAddress(c.cfg.ConditionalTokens),
		Value:    big.NewInt(0),
		Data:     data,
	}, nil
}

// MergeTarget resolves which contract a market merges through.
func (c *ChainClient) MergeTarget(negRisk bool) common.Address {
	if negRisk {
		return common.HexToAddress(c.cfg.NegRiskAdapter)
	}
	return common.HexToAddress(c.cfg.ConditionalTokens)
}

// BuildMergeCall builds the mergePositions proxy call. amount is in
// shares; on-chain units are 6 decimals. The standard CTF signature
// takes collateral/parent/partition; the neg-risk adapter takes only
// (conditionId, amount).
func (c *ChainClient) BuildMergeCall(conditionID string, negRisk bool, amount decimal.Decimal) (ProxyCall, error) {
	condition := common.HexToHash(conditionID)
	if condition == (common.Hash{}) {
		return ProxyCall{}, errors.Errorf("invalid condition id: %s", conditionID)
	}
	base := amount.Shift(ConditionalTokenDecimals).Truncate(0).BigInt()
	if base.Sign() <= 0 {
		return ProxyCall{}, errors.Errorf("merge amount must be positive, got %s", amount)
	}

	if negRisk {
		data, err := c.negRiskABI.Pack("mergePositions", condition, base)
		if err != nil {
			return ProxyCall{}, errors.Wrap(err, "pack neg-risk mergePositions")
		}
		return ProxyCall{TypeCode: 1, To: common.HexToAddress(c.cfg.NegRiskAdapter), Value: big.NewInt(0), Data: data}, nil
	}

	partition := []*big.Int{big.NewInt(1), big.NewInt(2)}
	data, err := c.ctfABI.Pack("mergePositions",
		common.HexToAddress(c.cfg.Collateral),
		common.Hash{},
		condition,
		partition,
		base,
	)
	if err != nil {
		return ProxyCall{}, errors.Wrap(err, "pack mergePositions")
	}
	return ProxyCall{TypeCode: 1, To: common.HexToAddress(c.cfg.ConditionalTokens), Value: big.NewInt(0), Data: data}, nil
}

// BuildRedeemCall builds the redeemPositions proxy call. For binary
// CTF markets the index sets are [1, 2]; the neg-risk adapter wants
// explicit per-outcome amounts instead.
func (c *ChainClient) BuildRedeemCall(conditionID string, negRisk bool, upAmount, downAmount decimal.Decimal) (ProxyCall, error) {
	condition := common.HexToHash(conditionID)
	if condition == (common.Hash{}) {
		return ProxyCall{}, errors.Errorf("invalid condition id: %s", conditionID)
	}

	if negRisk {
		amounts := []*big.Int{
			upAmount.Shift(ConditionalTokenDecimals).Truncate(0).BigInt(),
			downAmount.Shift(ConditionalTokenDecimals).Truncate(0).BigInt(),
		}
		data, err := c.negRiskABI.Pack("redeemPositions", condition, amounts)
		if err != nil {
			return ProxyCall{}, errors.Wrap(err, "pack neg-risk redeemPositions")
		}
		return ProxyCall{TypeCode: 1, To: common.HexToAddress(c.cfg.NegRiskAdapter), Value: big.NewInt(0), Data: data}, nil
	}

	indexSets := []*big.Int{big.NewInt(1), big.NewInt(2)}
	data, err := c.ctfABI.Pack("redeemPositions",
		common.HexToAddress(c.cfg.Collateral),
		common.Hash{},
		condition,
		indexSets,
	)
	if err != nil {
		return ProxyCall{}, errors.Wrap(err, "pack redeemPositions")
	}
	return ProxyCall{TypeCode: 1, To: common.HexToAddress(c.cfg.ConditionalTokens), Value: big.NewInt(0), Data: data}, nil
}

// SubmitProxyCalls signs and sends one transaction batching the given
// calls through the proxy factory, then waits for the receipt. The gas
// cap is enforced before signing.
func (c *ChainClient) SubmitProxyCalls(ctx context.Context, calls []ProxyCall) (common.Hash, error) {
	if len(calls) == 0 {
		return common.Hash{}, errors.New("no calls to submit")
	}

	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "suggest gas price")
	}
	if c.maxGasPriceWei.Sign() > 0 && gasPrice.Cmp(c.maxGasPriceWei) > 0 {
		return common.Hash{}, errors.Wrapf(ErrGasTooHigh, "suggested %s wei, cap %s wei", gasPrice, c.maxGasPriceWei)
	}

	type proxyCall struct {
		TypeCode uint8          `abi:"typeCode"`
		To       common.Address `abi:"to"`
		Value    *big.Int       `abi:"value"`
		Data     []byte         `abi:"data"`
	}
	packed := make([]proxyCall, len(calls))
	for i, call := range calls {
		packed[i] = proxyCall{TypeCode: call.TypeCode, To: call.To, Value: call.Value, Data: call.Data}
	}
	data, err := c.proxyABI.Pack("proxy", packed)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "pack proxy calls")
	}

	from := crypto.PubkeyToAddress(c.privateKey.PublicKey)
	to := common.HexToAddress(c.cfg.ProxyFactory)

	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()

	nonce, err := c.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "pending nonce")
	}
	gasLimit, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data, Value: big.NewInt(0)})
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "estimate gas")
	}
	if c.maticPriceUSD.IsPositive() {
		costWei := decimal.NewFromBigInt(gasPrice, 0).Mul(decimal.NewFromInt(int64(gasLimit)))
		log.WithField("gas_limit", gasLimit).
			WithField("cost_usd", costWei.Shift(-18).Mul(c.maticPriceUSD).StringFixed(4)).
			Debug("submitting proxy transaction")
	}

	tx := ethtypes.NewTransaction(nonce, to, big.NewInt(0), gasLimit, gasPrice, data)
	signedTx, err := ethtypes.SignTx(tx, ethtypes.NewEIP155Signer(c.chainID), c.privateKey)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "sign transaction")
	}
	if err := c.eth.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, errors.Wrap(err, "send transaction")
	}

	hash := signedTx.Hash()
	if err := c.waitForReceipt(ctx, hash); err != nil {
		return hash, err
	}
	return hash, nil
}

// waitForReceipt polls until the receipt lands, the deadline passes,
// or ctx is cancelled. A reverted receipt is an error.
func (c *ChainClient) waitForReceipt(ctx context.Context, hash common.Hash) error {
	deadline := time.Now().Add(receiptWaitDeadline)
	for {
		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			if receipt.Status != ethtypes.ReceiptStatusSuccessful {
				return errors.Errorf("transaction %s reverted", hash.Hex())
			}
			return nil
		}
		if time.Now().After(deadline) {
			return errors.Wrapf(ErrReceiptTimeout, "tx %s", hash.Hex())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

// OracleLatestPrice reads the Chainlink BTC/USD answer, converted
// from its 8-decimal fixed point.
func (c *ChainClient) OracleLatestPrice(ctx context.Context) (decimal.Decimal, error) {
	if c.cfg.BTCUSDOracle == "" {
		return decimal.Zero, errors.New("no oracle configured for this chain")
	}
	data, err := c.aggregatorABI.Pack("latestRoundData")
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "pack latestRoundData")
	}
	oracle := common.HexToAddress(c.cfg.BTCUSDOracle)
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &oracle, Data: data}, nil)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "call latestRoundData")
	}
	vals, err := c.aggregatorABI.Unpack("latestRoundData", out)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "unpack latestRoundData")
	}
	if len(vals) < 2 {
		return decimal.Zero, errors.New("short latestRoundData response")
	}
	answer, ok := vals[1].(*big.Int)
	if !ok {
		return decimal.Zero, errors.New("latestRoundData answer not an int")
	}
	return decimal.NewFromBigInt(answer, -OracleDecimals), nil
}

// Close releases the RPC connection.
func (c *ChainClient) Close() {
	if c.eth != nil {
		c.eth.Close()
	}
}
