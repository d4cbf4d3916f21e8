// Package client talks to the Polymarket surfaces the engine depends
// on: the CLOB REST API (orders, books, balances), the Gamma discovery
// API, and the on-chain CTF contracts.
package client

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/pairbot/gopair/clob/signing"
	"github.com/pairbot/gopair/clob/types"
	"github.com/pairbot/gopair/pkg/cache"
	"github.com/pairbot/gopair/pkg/logger"
	"github.com/pairbot/gopair/pkg/ratelimit"
)

var log = logger.WithField("module", "clob")

// AuthConfig carries the signing key and api credentials. Creds may be
// nil until DeriveAPIKey fills them in.
type AuthConfig struct {
	PrivateKey    *ecdsa.PrivateKey
	Creds         *types.ApiKeyCreds
	SignatureType types.SignatureType
	// FunderAddress is the proxy wallet holding funds; empty means the
	// EOA funds directly.
	FunderAddress string
}

// Client is the CLOB REST client. All request throttling is
// client-side via the rate-limit manager.
type Client struct {
	http    *resty.Client
	host    string
	chainID types.Chain
	auth    *AuthConfig
	limits  *ratelimit.Manager

	builder *OrderBuilder

	// Per-token market facts, fed from book responses.
	tickSizes *cache.InMemoryCache[string, types.TickSize]
	negRisk   *cache.InMemoryCache[string, bool]
}

// NewClient creates a CLOB client. auth may carry a nil Creds for
// public-endpoint-only use (dry run).
func NewClient(host string, chainID types.Chain, auth *AuthConfig) (*Client, error) {
	if auth == nil {
		return nil, errors.New("auth config is required")
	}
	hc := resty.New().
		SetBaseURL(strings.TrimSuffix(host, "/")).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second).
		SetRetryMaxWaitTime(10 * time.Second).
		SetRetryAfter(func(_ *resty.Client, resp *resty.Response) (time.Duration, error) {
			if resp.StatusCode() == http.StatusTooManyRequests {
				if ra := resp.Header().Get("Retry-After"); ra != "" {
					if d, err := time.ParseDuration(ra + "s"); err == nil {
						return d, nil
					}
				}
				return 10 * time.Second, nil
			}
			return 0, nil
		})

	c := &Client{
		http:      hc,
		host:      strings.TrimSuffix(host, "/"),
		chainID:   chainID,
		auth:      auth,
		limits:    ratelimit.NewManager(),
		tickSizes: cache.NewInMemoryCache[string, types.TickSize](time.Hour),
		negRisk:   cache.NewInMemoryCache[string, bool](time.Hour),
	}
	c.builder = NewOrderBuilder(c)
	return c, nil
}

// ChainID reports the configured chain.
func (c *Client) ChainID() types.Chain { return c.chainID }

// DeriveAPIKey recovers the api credentials bound to the signing key
// and stores them on the client.
func (c *Client) DeriveAPIKey(ctx context.Context, nonce int64) (*types.ApiKeyCreds, error) {
	if c.auth.PrivateKey == nil {
		return nil, errors.New("private key required to derive api key")
	}
	l1, err := signing.CreateL1Headers(c.auth.PrivateKey, c.chainID, &nonce, nil)
	if err != nil {
		return nil, err
	}

	var raw types.ApiKeyRaw
	resp, err := c.newRequest(ctx).
		SetHeader("POLY_ADDRESS", l1.PolyAddress).
		SetHeader("POLY_SIGNATURE", l1.PolySignature).
		SetHeader("POLY_TIMESTAMP", l1.PolyTimestamp).
		SetHeader("POLY_NONCE", l1.PolyNonce).
		SetResult(&raw).
		Get(EndpointDeriveAPIKey)
	if err != nil {
		return nil, errors.Wrap(err, "derive api key")
	}
	if !resp.IsSuccess() {
		return nil, errors.Errorf("derive api key: http %d: %s", resp.StatusCode(), resp.String())
	}

	creds := &types.ApiKeyCreds{Key: raw.ApiKey, Secret: raw.Secret, Passphrase: raw.Passphrase}
	c.auth.Creds = creds
	return creds, nil
}

func (c *Client) newRequest(ctx context.Context) *resty.Request {
	r := c.http.R()
	if ctx != nil {
		r.SetContext(ctx)
	}
	r.SetHeader("Accept", "*/*")
	r.SetHeader("Connection", "keep-alive")
	r.SetHeader("User-Agent", "gopair-clob")
	return r
}

// l2Request builds an authenticated request. body must already be the
// exact JSON bytes to send; the HMAC covers them.
func (c *Client) l2Request(ctx context.Context, method, path string, body []byte) (*resty.Request, error) {
	if c.auth.Creds == nil {
		return nil, errors.New("api credentials not set (derive first)")
	}
	args := &types.L2HeaderArgs{Method: method, RequestPath: path}
	if body != nil {
		s := string(body)
		args.Body = &s
	}
	l2, err := signing.CreateL2Headers(c.auth.PrivateKey, c.auth.Creds, args, nil)
	if err != nil {
		return nil, err
	}

	r := c.newRequest(ctx).
		SetHeader("POLY_ADDRESS", l2.PolyAddress).
		SetHeader("POLY_SIGNATURE", l2.PolySignature).
		SetHeader("POLY_TIMESTAMP", l2.PolyTimestamp).
		SetHeader("POLY_API_KEY", l2.PolyAPIKey).
		SetHeader("POLY_PASSPHRASE", l2.PolyPassphrase)
	if body != nil {
		r.SetHeader("Content-Type", "application/json")
		r.SetBody(body)
	}
	return r, nil
}

func marshalBody(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "marshal request body")
	}
	return b, nil
}

// Balance/allowance rejections are retried next tick without a
// sentinel, so placement needs to tell them apart from other errors.
var balanceErrorMarkers = []string{"balance", "allowance"}

// IsBalanceOrAllowanceError reports whether an error text names an
// insufficient balance or allowance.
func IsBalanceOrAllowanceError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range balanceErrorMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
