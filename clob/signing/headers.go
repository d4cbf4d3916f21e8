package signing

import (
	"crypto/ecdsa"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/pairbot/gopair/clob/types"
)

// CreateL1Headers builds the EIP-712 attestation headers. nonce and
// timestamp default to 0 and now when nil.
func CreateL1Headers(privateKey *ecdsa.PrivateKey, chainID types.Chain, nonce, timestamp *int64) (*types.L1PolyHeader, error) {
	ts := time.Now().Unix()
	if timestamp != nil {
		ts = *timestamp
	}
	var n int64
	if nonce != nil {
		n = *nonce
	}

	sig, err := BuildClobAuthSignature(privateKey, chainID, ts, n)
	if err != nil {
		return nil, errors.Wrap(err, "build clob auth signature")
	}

	return &types.L1PolyHeader{
		PolyAddress:   AddressFromPrivateKey(privateKey).Hex(),
		PolySignature: sig,
		PolyTimestamp: strconv.FormatInt(ts, 10),
		PolyNonce:     strconv.FormatInt(n, 10),
	}, nil
}

// CreateL2Headers builds the api-key HMAC headers for one request.
// timestamp defaults to now when nil.
func CreateL2Headers(privateKey *ecdsa.PrivateKey, creds *types.ApiKeyCreds, args *types.L2HeaderArgs, timestamp *int64) (*types.L2PolyHeader, error) {
	ts := time.Now().Unix()
	if timestamp != nil {
		ts = *timestamp
	}

	sig, err := BuildHmacSignature(creds.Secret, ts, args.Method, args.RequestPath, args.Body)
	if err != nil {
		return nil, errors.Wrap(err, "build hmac signature")
	}

	return &types.L2PolyHeader{
		PolyAddress:    AddressFromPrivateKey(privateKey).Hex(),
		PolySignature:  sig,
		PolyTimestamp:  strconv.FormatInt(ts, 10),
		PolyAPIKey:     creds.Key,
		PolyPassphrase: creds.Passphrase,
	}, nil
}
