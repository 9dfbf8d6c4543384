package main

import (
	"crypto/ed25519"
	"fmt"
	"os"

	"github.com/mr-tron/base58"

	"Tally/internal/logger"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main entry point with error handling.
func run(args []string) error {
	if err := loadEnvFile(".env"); err != nil {
		return err
	}

	cfg, err := parseFlags(args)
	if err != nil {
		return fmt.Errorf("parse flags:\n%w", err)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}

	logger.InitWith(os.Stdout, level)

	cfg.PrivateKey, err = loadOrGenerateKey(cfg.KeyPath)
	if err != nil {
		return fmt.Errorf("load key:\n%w", err)
	}

	node, err := NewNode(cfg)
	if err != nil {
		return fmt.Errorf("create node:\n%w", err)
	}

	printStartupInfo(cfg)

	return node.Run()
}

// printStartupInfo displays node configuration at startup.
func printStartupInfo(cfg *Config) {
	pubKey := cfg.PrivateKey.Public().(ed25519.PublicKey)

	logger.Info("starting Tally node",
		"pubkey", base58.Encode(pubKey),
		"program", cfg.ProgramID.String(),
		"http", cfg.HTTPAddress,
		"feed", cfg.FeedAddress,
		"data", cfg.DataPath,
	)
}
