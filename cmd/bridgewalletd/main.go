// Package main provides bridgewalletd - the bridge wallet daemon.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/klingon-exchange/bridgewallet/internal/config"
	"github.com/klingon-exchange/bridgewallet/internal/events"
	"github.com/klingon-exchange/bridgewallet/pkg/bridgewallet"
	"github.com/klingon-exchange/bridgewallet/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		dataDir     = flag.String("data-dir", "~/.bridgewallet", "Data directory")
		testnet     = flag.Bool("testnet", false, "Run on testnet")
		mnemonicEnv = flag.String("mnemonic-env", "BRIDGEWALLET_MNEMONIC", "Environment variable holding the BIP-39 mnemonic")
		logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	log := logging.New(&logging.Config{Level: *logLevel, TimeFormat: time.TimeOnly})
	if err := logging.Init(log); err != nil && logging.Initialized() {
		log.Warn("default logger already installed by another caller, keeping it", "error", err)
	}

	if *showVersion {
		log.Infof("bridgewalletd %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	network := config.Mainnet
	effectiveDataDir := *dataDir
	if *testnet {
		network = config.Testnet
		effectiveDataDir = filepath.Join(*dataDir, "testnet")
	}

	cfg, err := config.LoadConfig(effectiveDataDir)
	if err != nil {
		log.Fatal("failed to load config", "error", err)
	}
	cfg.Network = network
	cfg.LogLevel = *logLevel
	if err := config.SaveConfig(effectiveDataDir, cfg); err != nil {
		log.Fatal("failed to persist config", "error", err)
	}

	mnemonic := os.Getenv(*mnemonicEnv)
	if mnemonic == "" {
		log.Fatal("no mnemonic provided", "env_var", *mnemonicEnv)
	}

	w, err := bridgewallet.Connect(mnemonic, effectiveDataDir, network)
	if err != nil {
		log.Fatal("failed to connect wallet", "error", err)
	}
	log.Info("wallet connected", "network", network, "data_dir", effectiveDataDir)

	removeListener := w.AddEventListener(func(ev events.Event) {
		log.Info("payment event", "kind", ev.Kind)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	info, err := w.GetInfo(ctx, false)
	if err != nil {
		log.Warn("failed to read initial wallet info", "error", err)
	} else {
		log.Info("wallet status", "balance_sat", info.BalanceSat, "pending_send_sat", info.PendingSendSat, "pending_receive_sat", info.PendingReceiveSat, "pubkey", info.Pubkey)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down...")

	w.RemoveEventListener(removeListener)
	if err := w.Disconnect(); err != nil {
		log.Error("error during shutdown", "error", err)
	}
	log.Info("goodbye!")
}
