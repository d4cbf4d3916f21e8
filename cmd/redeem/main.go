// Command redeem manually redeems a resolved up/down market: it looks
// the market up by slug, reads both settled balances, and submits one
// redeemPositions transaction through the proxy wallet.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/pairbot/gopair/clob/client"
	"github.com/pairbot/gopair/clob/types"
	"github.com/pairbot/gopair/internal/wallet"
	"github.com/pairbot/gopair/pkg/config"
	"github.com/pairbot/gopair/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	cfgPath := flag.String("config", "config.yaml", "path to the YAML config")
	slug := flag.String("slug", "", "market slug to redeem, e.g. btc-updown-15m-1765985400")
	dryRun := flag.Bool("dry-run", false, "resolve and print, do not submit")
	flag.Parse()

	if *slug == "" {
		fmt.Fprintln(os.Stderr, "usage: redeem -slug <market-slug> [-config config.yaml] [-dry-run]")
		os.Exit(2)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := logger.Init(logger.Config{Level: cfg.LogLevel}); err != nil {
		fmt.Fprintln(os.Stderr, "logger init:", err)
		os.Exit(1)
	}
	log := logger.WithField("module", "redeem")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w, err := wallet.Resolve(nil)
	if err != nil {
		log.WithError(err).Fatal("wallet")
	}

	gamma := client.NewGammaClient(cfg.GammaHost)
	event, err := gamma.FetchEvent(ctx, *slug)
	if err != nil {
		log.WithError(err).Fatal("fetch market")
	}
	if event == nil || len(event.Markets) == 0 {
		log.WithField("slug", *slug).Fatal("market not found")
	}
	gm := &event.Markets[0]
	upToken, downToken, err := gm.UpDownTokens()
	if err != nil {
		log.WithError(err).Fatal("identify outcomes")
	}

	chain, err := client.NewChainClient(cfg.RPCURL, types.Chain(cfg.ChainID), w.PrivateKey, cfg.ProxyWallet, cfg.MaxGasPriceGwei, cfg.MaticPriceUSD)
	if err != nil {
		log.WithError(err).Fatal("chain client")
	}
	defer chain.Close()

	upBal, err := chain.ERC1155Balance(ctx, upToken)
	if err != nil {
		log.WithError(err).Fatal("up balance")
	}
	downBal, err := chain.ERC1155Balance(ctx, downToken)
	if err != nil {
		log.WithError(err).Fatal("down balance")
	}
	log.WithField("slug", *slug).
		WithField("up", upBal.String()).
		WithField("down", downBal.String()).
		WithField("neg_risk", gm.NegRisk).
		Info("settled balances")

	if upBal.IsZero() && downBal.IsZero() {
		log.Info("nothing to redeem")
		return
	}
	if *dryRun {
		log.Info("dry run, not submitting")
		return
	}

	call, err := chain.BuildRedeemCall(gm.ConditionID, gm.NegRisk, upBal, downBal)
	if err != nil {
		log.WithError(err).Fatal("build redeem call")
	}

	start := time.Now()
	hash, err := chain.SubmitProxyCalls(ctx, []client.ProxyCall{call})
	if err != nil {
		log.WithError(err).Fatal("submit")
	}
	log.WithField("tx", hash.Hex()).
		WithField("took", time.Since(start).String()).
		Info("redeemed")
}
