package signing

import (
	"crypto/ecdsa"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/pkg/errors"

	"github.com/pairbot/gopair/clob/types"
)

// BuildClobAuthSignature signs the L1 wallet attestation. The result
// goes into POLY_SIGNATURE when creating or deriving api keys.
func BuildClobAuthSignature(privateKey *ecdsa.PrivateKey, chainID types.Chain, timestamp, nonce int64) (string, error) {
	address := crypto.PubkeyToAddress(privateKey.PublicKey)

	typed := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"ClobAuth": {
				{Name: "address", Type: "address"},
				{Name: "timestamp", Type: "string"},
				{Name: "nonce", Type: "uint256"},
				{Name: "message", Type: "string"},
			},
		},
		PrimaryType: "ClobAuth",
		Domain: apitypes.TypedDataDomain{
			Name:    ClobDomainName,
			Version: ClobVersion,
			ChainId: ethmath.NewHexOrDecimal256(int64(chainID)),
		},
		Message: apitypes.TypedDataMessage{
			"address":   address.Hex(),
			"timestamp": strconv.FormatInt(timestamp, 10),
			"nonce":     big.NewInt(nonce),
			"message":   MsgToSign,
		},
	}

	hash, _, err := apitypes.TypedDataAndHash(typed)
	if err != nil {
		return "", errors.Wrap(err, "hash clob auth typed data")
	}

	sig, err := crypto.Sign(hash, privateKey)
	if err != nil {
		return "", errors.Wrap(err, "sign clob auth digest")
	}
	// crypto.Sign yields v in {0,1}; the CLOB expects Ethereum's 27/28.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + common.Bytes2Hex(sig), nil
}

// AddressFromPrivateKey returns the EOA address the key controls.
func AddressFromPrivateKey(privateKey *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(privateKey.PublicKey)
}

// PrivateKeyFromHex parses a hex-encoded secp256k1 key, with or
// without the 0x prefix.
func PrivateKeyFromHex(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "parse private key")
	}
	return key, nil
}
