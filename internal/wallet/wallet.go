// Package wallet resolves the signing key and exchange credentials
// from the environment, the secret store, or a mnemonic, in that
// order.
package wallet

import (
	"crypto/ecdsa"
	"os"
	"strings"

	hdwallet "github.com/miguelmota/go-ethereum-hdwallet"
	"github.com/pkg/errors"

	"github.com/pairbot/gopair/clob/signing"
	"github.com/pairbot/gopair/clob/types"
	"github.com/pairbot/gopair/pkg/logger"
	"github.com/pairbot/gopair/pkg/secretstore"
)

var log = logger.WithField("module", "wallet")

// DefaultDerivationPath is the standard first external account.
const DefaultDerivationPath = "m/44'/60'/0'/0/0"

// Wallet holds the resolved signing key and optional CLOB api creds.
type Wallet struct {
	PrivateKey *ecdsa.PrivateKey
	Address    string
	Creds      *types.ApiKeyCreds
}

// Resolve builds a wallet. Lookup order for the private key:
// PRIVATE_KEY env, PRIVATE_KEY in the store, MNEMONIC (env then
// store) derived at the default path. store may be nil.
func Resolve(store *secretstore.Store) (*Wallet, error) {
	raw, src, err := resolveKeyMaterial(store)
	if err != nil {
		return nil, err
	}
	key, err := signing.PrivateKeyFromHex(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "parse private key from %s", src)
	}
	w := &Wallet{
		PrivateKey: key,
		Address:    signing.AddressFromPrivateKey(key).Hex(),
	}
	w.Creds = resolveCreds(store)
	log.WithField("address", w.Address).WithField("source", src).Info("wallet resolved")
	return w, nil
}

func resolveKeyMaterial(store *secretstore.Store) (raw, source string, err error) {
	if v := strings.TrimSpace(os.Getenv("PRIVATE_KEY")); v != "" {
		return v, "env", nil
	}
	if store != nil {
		v, ok, err := store.GetString(secretstore.KeyPrivateKey)
		if err != nil {
			return "", "", errors.Wrap(err, "read private key from store")
		}
		if ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), "secretstore", nil
		}
	}
	mnemonic := strings.TrimSpace(os.Getenv("MNEMONIC"))
	msrc := "env mnemonic"
	if mnemonic == "" && store != nil {
		v, ok, err := store.GetString(secretstore.KeyMnemonic)
		if err != nil {
			return "", "", errors.Wrap(err, "read mnemonic from store")
		}
		if ok {
			mnemonic = strings.TrimSpace(v)
			msrc = "store mnemonic"
		}
	}
	if mnemonic == "" {
		return "", "", errors.New("no key material: set PRIVATE_KEY or MNEMONIC, or seed the secret store")
	}
	raw, err = DeriveFromMnemonic(mnemonic, DefaultDerivationPath)
	if err != nil {
		return "", "", err
	}
	return raw, msrc, nil
}

// DeriveFromMnemonic derives the hex private key at path.
func DeriveFromMnemonic(mnemonic, path string) (string, error) {
	hd, err := hdwallet.NewFromMnemonic(mnemonic)
	if err != nil {
		return "", errors.Wrap(err, "parse mnemonic")
	}
	dp, err := hdwallet.ParseDerivationPath(path)
	if err != nil {
		return "", errors.Wrapf(err, "parse derivation path %s", path)
	}
	account, err := hd.Derive(dp, false)
	if err != nil {
		return "", errors.Wrap(err, "derive account")
	}
	return hd.PrivateKeyHex(account)
}

// resolveCreds reads CLOB api credentials, env first. Returns nil when
// incomplete: the caller derives fresh creds over L1 auth instead.
func resolveCreds(store *secretstore.Store) *types.ApiKeyCreds {
	get := func(name string) string {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
		if store != nil {
			if v, ok, err := store.GetString(name); err == nil && ok {
				return strings.TrimSpace(v)
			}
		}
		return ""
	}
	creds := &types.ApiKeyCreds{
		Key:        get(secretstore.KeyClobAPIKey),
		Secret:     get(secretstore.KeyClobSecret),
		Passphrase: get(secretstore.KeyClobPassphrase),
	}
	if creds.Key == "" || creds.Secret == "" || creds.Passphrase == "" {
		return nil
	}
	return creds
}
