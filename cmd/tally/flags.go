package main

import (
	"crypto/ed25519"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"Tally/client"
)

const (
	NodeKey    = "node"
	KeyFileKey = "key"
	FeedKey    = "feed"
)

// AddGlobalFlags registers the flags shared by every command.
func AddGlobalFlags(flags *pflag.FlagSet) {
	flags.String(NodeKey, "127.0.0.1:8080", "HTTP address of the Tally node")
	flags.String(KeyFileKey, "tally.key", "Ed25519 wallet key file")
	flags.String(FeedKey, "127.0.0.1:7100", "QUIC event feed address of the Tally node")
}

// connect returns a client for the node named by the --node flag.
func connect(flags *pflag.FlagSet) (*client.Client, error) {
	node, err := flags.GetString(NodeKey)
	if err != nil {
		return nil, err
	}

	c, err := client.NewClient(node)
	if err != nil {
		return nil, fmt.Errorf("connect to %s:\n%w", node, err)
	}

	return c, nil
}

// loadWallet reads the wallet key named by the --key flag.
func loadWallet(flags *pflag.FlagSet) (*client.Wallet, error) {
	path, err := flags.GetString(KeyFileKey)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file (run `tally keygen` first):\n%w", err)
	}

	if len(data) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(data), ed25519.PrivateKeySize)
	}

	return client.WalletFromKey(ed25519.PrivateKey(data)), nil
}
