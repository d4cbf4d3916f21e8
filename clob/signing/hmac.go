package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// BuildHmacSignature computes the L2 request signature: HMAC-SHA256
// over timestamp+method+path+body keyed by the api secret, emitted as
// URL-safe base64 with padding kept.
func BuildHmacSignature(secret string, timestamp int64, method, requestPath string, body *string) (string, error) {
	message := strconv.FormatInt(timestamp, 10) + method + requestPath
	if body != nil {
		message += *body
	}

	key, err := decodeSecret(secret)
	if err != nil {
		return "", errors.Wrap(err, "decode api secret")
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))

	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	sig = strings.ReplaceAll(sig, "+", "-")
	sig = strings.ReplaceAll(sig, "/", "_")
	return sig, nil
}

// decodeSecret accepts both standard and URL-safe base64 secrets.
func decodeSecret(secret string) ([]byte, error) {
	s := strings.TrimSpace(secret)
	s = strings.ReplaceAll(s, "-", "+")
	s = strings.ReplaceAll(s, "_", "/")
	return base64.StdEncoding.DecodeString(s)
}
