package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/zeebo/blake3"

	"Tally/internal/address"
	"Tally/internal/snapshot"
)

const (
	// defaultProgramSeed names the program identity used when -program is empty.
	defaultProgramSeed = "tally:poll-program:v1"

	// envPrefix prefixes the environment variables that back unset flags.
	envPrefix = "TALLY_"
)

// Config holds the node configuration.
type Config struct {
	// DataPath is the directory for persistent storage.
	DataPath string

	// HTTPAddress is the HTTP API listen address.
	HTTPAddress string

	// FeedAddress is the QUIC event feed listen address. Empty disables the feed.
	FeedAddress string

	// KeyPath is the path to the Ed25519 private key file.
	KeyPath string

	// PrivateKey is the node's Ed25519 identity on the event feed.
	PrivateKey ed25519.PrivateKey

	// ProgramText is the base58 program identity from the command line.
	ProgramText string

	// ProgramID namespaces every derived address.
	ProgramID address.Address

	// RestorePath is a compressed snapshot loaded into an empty ledger at startup.
	RestorePath string

	// CacheSize is the number of decoded records kept in memory.
	CacheSize int

	// SnapshotInterval is the period between background snapshots.
	SnapshotInterval time.Duration

	// LogLevel is the minimum log level.
	LogLevel string

	// CORSOrigins are the browser origins allowed to call the HTTP API.
	CORSOrigins []string
}

// parseFlags parses command-line flags into Config.
// Flags not given on the command line fall back to TALLY_<NAME> environment variables.
func parseFlags(args []string) (*Config, error) {
	return parseFlagsEnv(args, os.LookupEnv)
}

// parseFlagsEnv parses flags, reading unset ones from lookup.
func parseFlagsEnv(args []string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("tally", flag.ContinueOnError)
	fs.StringVar(&cfg.DataPath, "data", "./data", "Data directory path")
	fs.StringVar(&cfg.HTTPAddress, "http", ":8080", "HTTP API address")
	fs.StringVar(&cfg.FeedAddress, "feed", ":7100", "QUIC event feed address (empty disables the feed)")
	fs.StringVar(&cfg.KeyPath, "key", "", "Ed25519 private key path (generates new if missing)")
	fs.StringVar(&cfg.ProgramText, "program", "", "Base58 program identity (default derived from a fixed seed)")
	fs.StringVar(&cfg.RestorePath, "restore", "", "Compressed snapshot to restore into an empty ledger")
	fs.IntVar(&cfg.CacheSize, "cache", 4096, "Decoded record cache size")
	fs.DurationVar(&cfg.SnapshotInterval, "snapshot-interval", snapshot.DefaultInterval, "Background snapshot interval")
	fs.StringVar(&cfg.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	corsText := fs.String("cors", "", "Comma-separated browser origins allowed by CORS (* for any)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := applyEnv(fs, lookup); err != nil {
		return nil, err
	}

	programID, err := parseProgram(cfg.ProgramText)
	if err != nil {
		return nil, err
	}

	cfg.ProgramID = programID
	cfg.CORSOrigins = splitList(*corsText)

	if cfg.CacheSize <= 0 {
		return nil, fmt.Errorf("cache size must be positive, got %d", cfg.CacheSize)
	}

	return cfg, nil
}

// parseProgram decodes the program identity, defaulting to the fixed seed.
func parseProgram(text string) (address.Address, error) {
	if text == "" {
		return address.Address(blake3.Sum256([]byte(defaultProgramSeed))), nil
	}

	id, err := address.Parse(text)
	if err != nil {
		return address.Address{}, fmt.Errorf("parse program:\n%w", err)
	}

	if id.IsZero() {
		return address.Address{}, fmt.Errorf("program identity must not be zero")
	}

	return id, nil
}

// applyEnv sets every flag absent from the command line from its environment variable.
func applyEnv(fs *flag.FlagSet, lookup func(string) (string, bool)) error {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	var err error

	fs.VisitAll(func(f *flag.Flag) {
		if set[f.Name] || err != nil {
			return
		}

		key := envName(f.Name)

		value, ok := lookup(key)
		if !ok {
			return
		}

		if serr := fs.Set(f.Name, value); serr != nil {
			err = fmt.Errorf("invalid %s:\n%w", key, serr)
		}
	})

	return err
}

// envName maps a flag name to its environment variable, e.g. log-level to TALLY_LOG_LEVEL.
func envName(flagName string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

// loadEnvFile loads a dotenv file into the process environment. A missing file is not an error.
func loadEnvFile(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}

	return fmt.Errorf("load %s:\n%w", path, err)
}

// splitList splits a comma-separated flag value, dropping empty items.
func splitList(text string) []string {
	var out []string

	for _, item := range strings.Split(text, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}

	return out
}

// loadOrGenerateKey loads the private key from file or generates a new one.
func loadOrGenerateKey(keyPath string) (ed25519.PrivateKey, error) {
	if keyPath == "" {
		return generateNewKey()
	}

	data, err := os.ReadFile(keyPath)
	if os.IsNotExist(err) {
		return generateAndSaveKey(keyPath)
	}

	if err != nil {
		return nil, fmt.Errorf("read key file:\n%w", err)
	}

	if len(data) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(data), ed25519.PrivateKeySize)
	}

	return ed25519.PrivateKey(data), nil
}

// generateNewKey creates a new Ed25519 private key.
func generateNewKey() (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key:\n%w", err)
	}

	return priv, nil
}

// generateAndSaveKey creates a new key and saves it to the given path.
func generateAndSaveKey(path string) (ed25519.PrivateKey, error) {
	priv, err := generateNewKey()
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(path, priv, 0600); err != nil {
		return nil, fmt.Errorf("save key to %s:\n%w", path, err)
	}

	return priv, nil
}
