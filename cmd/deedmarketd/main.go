package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"deedmarket/config"
	"deedmarket/core"
	"deedmarket/integrations/local"
	"deedmarket/native/fees"
	"deedmarket/native/market"
	"deedmarket/observability/logging"
	"deedmarket/rpc"
	"deedmarket/storage"
)

const rpcTokenEnv = "DEEDMARKET_RPC_TOKEN"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("DEEDMARKET_ENV"))

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup("deedmarketd", env, cfg.LogFile)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("failed to create data dir", "err", err)
		os.Exit(1)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "market"))
	if err != nil {
		logger.Error("failed to open database", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	collector, err := cfg.FeeCollectorAddress()
	if err != nil {
		logger.Error("invalid fee collector", "err", err)
		os.Exit(1)
	}
	admin := local.NewAdmin(fees.Config{
		RateBps:   cfg.Market.FeeRateBps,
		Base:      cfg.Market.FeeBase,
		Collector: collector,
	}, cfg.Admin.KYCOpen)
	if err := grantAll(admin, market.RoleAdmin, cfg.Admin.Admins); err != nil {
		logger.Error("invalid admin list", "err", err)
		os.Exit(1)
	}
	if err := grantAll(admin, market.RoleMarketAdmin, cfg.Admin.MarketAdmins); err != nil {
		logger.Error("invalid market admin list", "err", err)
		os.Exit(1)
	}
	verified, err := config.DecodeAddresses(cfg.Admin.KYCVerified)
	if err != nil {
		logger.Error("invalid KYC list", "err", err)
		os.Exit(1)
	}
	for _, addr := range verified {
		admin.Verify(addr)
	}

	assets := local.NewAssets(db)
	tokens := local.NewTokens()

	node := core.NewNode(db, admin, assets, tokens, logger)
	if cfg.Market.CleanupThreshold > 0 {
		node.Engine().SetCleanupThreshold(cfg.Market.CleanupThreshold)
	}

	alloc, err := cfg.GenesisAllocations()
	if err != nil {
		logger.Error("invalid genesis allocations", "err", err)
		os.Exit(1)
	}
	if len(alloc) > 0 {
		if err := node.InitGenesis(alloc); err != nil {
			logger.Error("genesis allocation failed", "err", err)
			os.Exit(1)
		}
	}

	token := cfg.RPCToken
	if envToken := strings.TrimSpace(os.Getenv(rpcTokenEnv)); envToken != "" {
		token = envToken
	}
	server := rpc.NewServer(node, token)
	logger.Info("starting JSON-RPC server", "addr", cfg.RPCAddress, "network", cfg.NetworkName)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("rpc server stopped", "err", err)
		os.Exit(1)
	}
}

func grantAll(admin *local.Admin, role market.Role, entries []string) error {
	addrs, err := config.DecodeAddresses(entries)
	if err != nil {
		return err
	}
	for _, addr := range addrs {
		admin.Grant(role, addr)
	}
	return nil
}
