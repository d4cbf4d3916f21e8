// Command env2secrets imports key material from a .env file into the
// encrypted secret store the engine reads at startup. Only the
// well-known secret keys are imported; everything else in the file is
// ignored.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/pairbot/gopair/pkg/secretstore"
)

var importedKeys = []string{
	secretstore.KeyPrivateKey,
	secretstore.KeyMnemonic,
	secretstore.KeyClobAPIKey,
	secretstore.KeyClobSecret,
	secretstore.KeyClobPassphrase,
}

func main() {
	var (
		inPath    = flag.String("in", ".env", "input .env file path")
		dbPath    = flag.String("store", getenv("SECRET_STORE_PATH", "data/secrets"), "secret store path")
		secretKey = flag.String("secret-key", getenv("SECRET_STORE_KEY", ""), "encryption key (32 bytes base64/hex)")
	)
	flag.Parse()

	keyBytes, err := secretstore.ParseKey(*secretKey)
	if err != nil {
		fatal(err)
	}
	if keyBytes == nil {
		fatal(fmt.Errorf("encryption key is required: set SECRET_STORE_KEY or pass -secret-key"))
	}

	kv, err := parseDotEnvFile(*inPath)
	if err != nil {
		fatal(err)
	}

	ss, err := secretstore.Open(secretstore.OpenOptions{
		Path:          *dbPath,
		EncryptionKey: keyBytes,
		ReadOnly:      false,
	})
	if err != nil {
		fatal(err)
	}
	defer ss.Close()

	written := 0
	for _, k := range importedKeys {
		v, ok := kv[k]
		if !ok || v == "" {
			continue
		}
		if err := ss.SetString(k, v); err != nil {
			fatal(err)
		}
		written++
	}

	fmt.Fprintf(os.Stderr, "imported %d secrets into %s\n", written, *dbPath)
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err.Error())
	os.Exit(1)
}

func parseDotEnvFile(path string) (map[string]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	out := map[string]string{}
	for _, line := range strings.Split(string(b), "\n") {
		l := strings.TrimSpace(strings.TrimRight(line, "\r"))
		if l == "" || strings.HasPrefix(l, "#") {
			continue
		}
		if !strings.Contains(l, "=") {
			continue
		}
		parts := strings.SplitN(l, "=", 2)
		k := strings.TrimSpace(parts[0])
		v := strings.TrimSpace(parts[1])
		if k == "" {
			continue
		}
		if len(v) >= 2 && ((v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'')) {
			v = v[1 : len(v)-1]
		}
		out[k] = v
	}
	return out, nil
}
