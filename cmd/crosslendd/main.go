package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"crosslend/config"
	"crosslend/crypto"
	"crosslend/native/bridge"
	"crosslend/native/lending"
	"crosslend/native/oracle"
	"crosslend/observability/logging"
	"crosslend/rpc"
	"crosslend/storage"
)

const rpcTokenEnv = "CROSSLEND_RPC_TOKEN"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "generate-key":
			generateKey(os.Args[2:])
			return
		case "show-address":
			showAddress(os.Args[2:])
			return
		}
	}

	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup("crosslendd", cfg.Environment, cfg.LogLevel)

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		logger.Error("failed to open state database", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	store := storage.NewStore(db)

	treasury, err := crypto.DecodeAddress(cfg.TreasuryAddress)
	if err != nil {
		logger.Error("invalid treasury address", "err", err)
		os.Exit(1)
	}
	owner, err := crypto.DecodeAddress(cfg.OwnerAddress)
	if err != nil {
		logger.Error("invalid owner address", "err", err)
		os.Exit(1)
	}

	feeds := oracle.NewRegistry()
	manualFeeds := make(map[string]*oracle.ManualFeed)
	httpClient := &http.Client{Timeout: 10 * time.Second}
	for _, spec := range cfg.Oracles {
		switch spec.Kind {
		case "manual":
			feedOwner, err := crypto.DecodeAddress(spec.OwnerAddress)
			if err != nil {
				logger.Error("invalid oracle owner", "asset", spec.Asset, "err", err)
				os.Exit(1)
			}
			feed := oracle.NewManualFeed(feedOwner, spec.Decimals)
			feeds.Register(spec.Asset, feed)
			manualFeeds[spec.Asset] = feed
		case "http":
			feed := oracle.NewHTTPFeed(httpClient, spec.Endpoint, spec.APIKey(), spec.Decimals)
			feeds.Register(spec.Asset, feed)
		}
		logger.Info("oracle feed registered", "asset", spec.Asset, "kind", spec.Kind)
	}

	pools := lending.NewRegistry(store)
	for _, spec := range cfg.Pools {
		ltv, err := spec.ParseLTV()
		if err != nil {
			logger.Error("invalid pool ltv", "pool", spec.ID, "err", err)
			os.Exit(1)
		}
		if err := pools.CreatePool(lending.PoolSpec{
			PoolID:          spec.ID,
			CollateralAsset: spec.CollateralAsset,
			BorrowAsset:     spec.BorrowAsset,
			LTV:             ltv,
		}); err != nil {
			logger.Error("failed to register pool", "pool", spec.ID, "err", err)
			os.Exit(1)
		}
	}

	// Bridge lanes loop back through an in-process mailbox: dispatches to a
	// remote domain are delivered locally, which suits single-operator and
	// development deployments. The dispatch journal is still durable.
	mailboxIdentity := crypto.ModuleAddress("bridge/mailbox")
	senders := lending.NewSenderRegistry()
	var journal *bridge.Outbox
	for _, lane := range cfg.Bridges {
		fee, err := lane.ParseMessagingFee()
		if err != nil {
			logger.Error("invalid messaging fee", "domain", lane.DestinationDomain, "err", err)
			os.Exit(1)
		}
		paymaster, err := crypto.DecodeAddress(lane.PaymasterAddress)
		if err != nil {
			logger.Error("invalid paymaster address", "domain", lane.DestinationDomain, "err", err)
			os.Exit(1)
		}
		mailbox := bridge.NewLoopbackMailbox(cfg.LocalDomain, mailboxIdentity, fee)
		receiver, err := bridge.NewReceiver(mailboxIdentity, store, cfg.Pools[0].BorrowAsset, crypto.AccountPrefix)
		if err != nil {
			logger.Error("failed to build bridge receiver", "domain", lane.DestinationDomain, "err", err)
			os.Exit(1)
		}
		mailbox.RegisterHandler(lane.DestinationDomain, receiver)

		sender, err := bridge.NewSender(mailbox, store, lane.DestinationDomain, paymaster)
		if err != nil {
			logger.Error("failed to build bridge sender", "domain", lane.DestinationDomain, "err", err)
			os.Exit(1)
		}
		outboxPath := lane.OutboxPath
		if strings.TrimSpace(outboxPath) == "" {
			outboxPath = filepath.Join(cfg.DataDir, fmt.Sprintf("outbox-%d.db", lane.DestinationDomain))
		}
		outbox, err := bridge.OpenOutbox(outboxPath)
		if err != nil {
			logger.Error("failed to open dispatch journal", "path", outboxPath, "err", err)
			os.Exit(1)
		}
		defer outbox.Close()
		sender.SetOutbox(outbox)
		if journal == nil {
			journal = outbox
		}
		senders.Register(lane.DestinationDomain, lane.SenderIndex, sender)
		logger.Info("bridge lane registered", "domain", lane.DestinationDomain, "index", lane.SenderIndex)
	}

	swapper := lending.NewOracleSwapper(feeds)
	engines := make(map[string]*lending.Engine, len(cfg.Pools))
	for _, spec := range cfg.Pools {
		engine := lending.NewEngine(
			crypto.ModuleAddress("lending/"+spec.ID),
			crypto.ModuleAddress("collateral/"+spec.ID),
		)
		engine.SetState(store)
		engine.SetLedger(store)
		engine.SetPoolID(spec.ID)
		engine.SetTreasury(treasury)
		engine.SetOwner(owner)
		engine.SetLocalDomain(cfg.LocalDomain)
		engine.SetFeeAsset(cfg.FeeAsset)
		engine.SetPriceSource(feeds)
		engine.SetSwapExecutor(swapper)
		engine.SetSenderRegistry(senders)
		if spec.InterestRateBps > 0 {
			engine.SetInterestRate(spec.InterestRateBps)
		}
		engines[spec.ID] = engine
	}

	server := rpc.NewServer(logger, engines, cfg.Pools[0].ID)
	server.SetPoolRegistry(pools)
	server.SetRateLimit(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	if journal != nil {
		server.SetOutbox(journal)
	}
	for asset, feed := range manualFeeds {
		server.SetManualFeed(asset, feed)
	}
	if token := strings.TrimSpace(os.Getenv(rpcTokenEnv)); token != "" {
		server.SetAuthToken(token)
	} else {
		logger.Warn("no rpc auth token configured, admin methods are disabled", "env", rpcTokenEnv)
	}

	logger.Info("node starting", "pools", len(engines), "lanes", len(cfg.Bridges))
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("rpc server stopped", "err", err)
		os.Exit(1)
	}
}

func generateKey(args []string) {
	fileName := "wallet.key"
	if len(args) > 0 {
		fileName = args[0]
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate key: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(fileName, key.Bytes(), 0600); err != nil {
		fmt.Fprintf(os.Stderr, "failed to save key to %s: %v\n", fileName, err)
		os.Exit(1)
	}
	fmt.Printf("Generated new key and saved to %s\n", fileName)
	fmt.Printf("Your account address is: %s\n", key.PubKey().Address().String())
	fmt.Println("Store this file securely; it is the only copy.")
}

func showAddress(args []string) {
	fileName := "wallet.key"
	if len(args) > 0 {
		fileName = args[0]
	}
	raw, err := os.ReadFile(fileName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read %s: %v\n", fileName, err)
		os.Exit(1)
	}
	key, err := crypto.PrivateKeyFromBytes(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid key material in %s: %v\n", fileName, err)
		os.Exit(1)
	}
	fmt.Println(key.PubKey().Address().String())
}
