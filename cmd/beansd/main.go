package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"bakedbeans/config"
	"bakedbeans/core"
	"bakedbeans/crypto"
	"bakedbeans/observability/logging"
	"bakedbeans/rpc"
	"bakedbeans/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("BEANS_ENV"))
	logger := logging.Setup("beansd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	node := core.NewNode(db)
	logger.Info("node ready",
		slog.String("network", cfg.NetworkName),
		slog.String("dataDir", cfg.DataDir),
		slog.String("vault", crypto.NewAddress(node.VaultAddress()).String()),
	)

	if err := initializeFromConfig(node, cfg, logger); err != nil {
		logger.Error("genesis initialization failed", slog.Any("error", err))
		os.Exit(1)
	}

	server := rpc.NewServer(node)

	if addr := strings.TrimSpace(cfg.MetricsAddress); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", server.Metrics())
		go func() {
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Error("metrics server stopped", slog.Any("error", err))
			}
		}()
		logger.Info("metrics listening", slog.String("address", addr))
	}

	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("rpc server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

// initializeFromConfig runs the initialize operation when the config names
// all fee accounts and the registry is not set up yet. The configured
// authority acts as the caller, which only works for the first-ever
// initialization; later changes must come signed over RPC.
func initializeFromConfig(node *core.Node, cfg *config.Config, logger *slog.Logger) error {
	authority, dev, marketing, ceo, giveaway, ok, err := cfg.FeeAccounts()
	if err != nil {
		return err
	}
	if !ok {
		logger.Info("registry accounts not configured, waiting for initialize over RPC")
		return nil
	}
	gs, err := node.GlobalState()
	if err != nil {
		return err
	}
	if gs != nil && gs.Initialized {
		return nil
	}
	// The caller funds the vault top-up to the rent floor.
	if err := node.Credit(authority.Bytes(), 1_000_000_000); err != nil {
		return err
	}
	if err := node.Initialize(authority.Bytes(), authority.Bytes(), dev.Bytes(), marketing.Bytes(), ceo.Bytes(), giveaway.Bytes()); err != nil {
		return err
	}
	logger.Info("registry initialized", slog.String("authority", authority.String()))
	return nil
}
