// Command bot runs the up/down market-making engine: discovery, entry
// and hedge quoting, fill tracking, on-chain merges and redemptions,
// persistence, and the operator dashboard.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/pairbot/gopair/clob/client"
	"github.com/pairbot/gopair/clob/types"
	"github.com/pairbot/gopair/internal/dashboard"
	"github.com/pairbot/gopair/internal/engine"
	"github.com/pairbot/gopair/internal/events"
	"github.com/pairbot/gopair/internal/feed"
	"github.com/pairbot/gopair/internal/inventory"
	"github.com/pairbot/gopair/internal/settlement"
	"github.com/pairbot/gopair/internal/storage"
	"github.com/pairbot/gopair/internal/wallet"
	"github.com/pairbot/gopair/pkg/config"
	"github.com/pairbot/gopair/pkg/logger"
	"github.com/pairbot/gopair/pkg/marketspec"
	"github.com/pairbot/gopair/pkg/secretstore"
	"github.com/pairbot/gopair/pkg/shutdown"
	"github.com/pairbot/gopair/pkg/syncgroup"
)

func main() {
	_ = godotenv.Load()

	cfgPath := flag.String("config", "config.yaml", "path to the YAML config")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		OutputFile: cfg.LogFile,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     7,
		Compress:   true,
	}); err != nil {
		fmt.Fprintln(os.Stderr, "logger init:", err)
		os.Exit(1)
	}
	log := logger.WithField("module", "main")

	specs, err := buildSpecs(cfg)
	if err != nil {
		log.WithError(err).Fatal("market specs")
	}

	store := openSecretStore()
	if store != nil {
		defer store.Close()
	}

	w, err := wallet.Resolve(store)
	if err != nil {
		if !cfg.DryRun {
			log.WithError(err).Fatal("wallet required for live trading")
		}
		log.WithError(err).Warn("no wallet material, dry run continues unauthenticated")
	}

	auth := &client.AuthConfig{}
	if w != nil {
		auth.PrivateKey = w.PrivateKey
		auth.Creds = w.Creds
	}
	if cfg.ProxyWallet != "" {
		auth.SignatureType = types.SignatureTypeProxy
		auth.FunderAddress = cfg.ProxyWallet
	}
	clob, err := client.NewClient(cfg.ClobHost, types.Chain(cfg.ChainID), auth)
	if err != nil {
		log.WithError(err).Fatal("clob client")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !cfg.DryRun && auth.Creds == nil {
		if _, err := clob.DeriveAPIKey(ctx, 0); err != nil {
			log.WithError(err).Fatal("derive api key")
		}
	}

	var chain *client.ChainClient
	if !cfg.DryRun {
		if cfg.RPCURL == "" {
			log.Fatal("rpc_url required for live trading")
		}
		chain, err = client.NewChainClient(cfg.RPCURL, types.Chain(cfg.ChainID), w.PrivateKey, cfg.ProxyWallet, cfg.MaxGasPriceGwei, cfg.MaticPriceUSD)
		if err != nil {
			log.WithError(err).Fatal("chain client")
		}
		defer chain.Close()
	}

	db, err := storage.Open(cfg.DatabasePath, cfg.RetentionDays)
	if err != nil {
		log.WithError(err).Fatal("open database")
	}
	defer db.Close()
	writer := storage.NewWriter(db)

	snapStore, err := inventory.NewSnapshotStore(filepath.Join(filepath.Dir(cfg.DatabasePath), "inventory.json"))
	if err != nil {
		log.WithError(err).Fatal("snapshot store")
	}
	tracker, err := snapStore.Load()
	if err != nil {
		log.WithError(err).Fatal("load inventory snapshot")
	}

	var openPrice feed.OpenPriceFunc
	if chain != nil {
		openPrice = func(ctx context.Context) (float64, error) {
			p, err := chain.OracleLatestPrice(ctx)
			if err != nil {
				return 0, err
			}
			return p.InexactFloat64(), nil
		}
	}
	teardown := shutdown.NewManager()

	refFeed := feed.New(cfg.BinanceWSURL, cfg.Assets[0]+"usdt", cfg.VolumeShortSec, cfg.VolumeMediumSec, openPrice)
	refFeed.Start()
	teardown.OnShutdown(func(context.Context) { refFeed.Stop() })

	var chainIface settlement.Chain
	if chain != nil {
		chainIface = chain
	}
	settle := settlement.NewCoordinator(chainIface, settlement.Options{
		DryRun:            cfg.DryRun,
		MinMergeShares:    decimal.NewFromFloat(cfg.MinMergeShares),
		NoNewOrdersSec:    cfg.NoNewOrdersSec,
		RedeemDelaySec:    cfg.RedeemDelaySec,
		MergeCooldownSec:  cfg.MergeCooldownSec,
		RedeemMaxAttempts: cfg.RedeemMaxAttempts,
	})

	bus := events.NewBus(cfg.EventQueueSize)

	var balanceOf engine.BalanceFunc
	if chain != nil {
		balanceOf = chain.ERC1155Balance
	}

	eng := engine.New(engine.Deps{
		Config:    cfg,
		Specs:     specs,
		Market:    engine.NewMarketData(client.NewGammaClient(cfg.GammaHost), clob),
		Feed:      refFeed,
		Inventory: tracker,
		Clob:      clob,
		Settle:    settle,
		Bus:       bus,
		BalanceOf: balanceOf,
		Snapshots: snapStore,
	})

	if err := db.StartSession(eng.SessionID(), time.Now(), cfg.DryRun, cfg.BankrollUSD, ""); err != nil {
		log.WithError(err).Fatal("start session")
	}

	background := syncgroup.NewSyncGroup()

	var dash *dashboard.Server
	if cfg.DashboardListen != "" {
		dash = dashboard.NewServer(cfg.DashboardListen)
		background.Add(dash.Run)
		teardown.OnShutdown(dash.Shutdown)
	}

	consumerStop := make(chan struct{})
	consumerDone := make(chan struct{})
	background.Add(func() { consume(bus, writer, eng, dash, cfg, consumerStop, consumerDone) })
	background.Run()

	eng.Run(ctx)

	// The consumer must drain before the session closes and the writer
	// takes its final flush.
	close(consumerStop)
	<-consumerDone
	if err := db.EndSession(eng.SessionID(), time.Now(), tracker.RealizedPnL().InexactFloat64()); err != nil {
		log.WithError(err).Warn("end session")
	}
	writer.Close()

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	teardown.Shutdown(sctx)
	cancel()
	background.Wait()
	log.Info("bye")
}

// buildSpecs derives one market spec per configured asset x timeframe.
func buildSpecs(cfg *config.Config) ([]marketspec.Spec, error) {
	var out []marketspec.Spec
	for _, asset := range cfg.Assets {
		for tf := range cfg.GridSizes[asset] {
			spec, err := marketspec.New(asset, tf, "updown")
			if err != nil {
				return nil, err
			}
			out = append(out, spec)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no market specs derived from assets %v and grid_sizes", cfg.Assets)
	}
	return out, nil
}

// openSecretStore opens the optional encrypted key store named by
// SECRET_STORE_PATH. A missing path just means env-based secrets.
func openSecretStore() *secretstore.Store {
	path := os.Getenv("SECRET_STORE_PATH")
	if path == "" {
		return nil
	}
	var key []byte
	if raw := os.Getenv("SECRET_STORE_KEY"); raw != "" {
		var err error
		key, err = secretstore.ParseKey(raw)
		if err != nil {
			logger.Warnf("secret store key unusable: %v", err)
			return nil
		}
	}
	store, err := secretstore.Open(secretstore.OpenOptions{Path: path, EncryptionKey: key, ReadOnly: true})
	if err != nil {
		logger.Warnf("secret store open failed: %v", err)
		return nil
	}
	return store
}
