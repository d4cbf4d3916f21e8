// Command mnemonic-init interactively stores a wallet mnemonic in the
// encrypted secret store, keeping it out of .env files and shell
// history.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/pairbot/gopair/pkg/secretstore"
)

func main() {
	var (
		dbPath    = flag.String("store", getenv("SECRET_STORE_PATH", "data/secrets"), "secret store path")
		secretKey = flag.String("secret-key", getenv("SECRET_STORE_KEY", ""), "encryption key (32 bytes base64/hex)")
		force     = flag.Bool("force", false, "overwrite a stored mnemonic")
	)
	flag.Parse()

	keyBytes, err := secretstore.ParseKey(*secretKey)
	if err != nil {
		fatal(err)
	}
	if keyBytes == nil {
		fatal(fmt.Errorf("encryption key is required: set SECRET_STORE_KEY or pass -secret-key"))
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

	if !*force {
		if _, ok, err := ss.GetString(secretstore.KeyMnemonic); err == nil && ok {
			fatal(fmt.Errorf("a mnemonic is already stored (use -force to overwrite)"))
		}
	}

	fmt.Fprintln(os.Stderr, "enter the mnemonic (12/15/18/21/24 words), then press enter:")
	mn := strings.TrimSpace(readLine())
	if mn == "" {
		fatal(fmt.Errorf("mnemonic is empty"))
	}
	switch len(strings.Fields(mn)) {
	case 12, 15, 18, 21, 24:
	default:
		fatal(fmt.Errorf("mnemonic must be 12/15/18/21/24 words"))
	}

	if err := ss.SetString(secretstore.KeyMnemonic, mn); err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stderr, "mnemonic stored in %s\n", *dbPath)
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func readLine() string {
	br := bufio.NewReader(os.Stdin)
	s, _ := br.ReadString('\n')
	return strings.TrimSpace(s)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err.Error())
	os.Exit(1)
}
