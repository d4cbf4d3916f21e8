// Package signing implements the two CLOB authentication levels: the
// L1 EIP-712 wallet attestation used to create or derive api keys,
// and the L2 HMAC request signature used on every private endpoint.
package signing

const (
	// ClobDomainName is the EIP-712 domain of the auth attestation.
	ClobDomainName = "ClobAuthDomain"

	// ClobVersion is the EIP-712 domain version.
	ClobVersion = "1"

	// MsgToSign is the fixed attestation text the CLOB verifies.
	MsgToSign = "This message attests that I control the given wallet"
)
