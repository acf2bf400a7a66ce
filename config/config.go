// Package config handles faucet configuration.
//
// Settings come from defaults, then <datadir>/faucet.conf, then the
// environment (secrets only), then command-line flags.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// NetworkType identifies mainnet or testnet.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
)

// Environment variables that carry secrets, so they stay out of the
// config file and the process list.
const (
	EnvPassword    = "KLINGNET_FAUCET_PASSWORD"
	EnvAdminSecret = "KLINGNET_FAUCET_ADMIN_SECRET"
)

// Config holds the faucet runtime configuration.
type Config struct {
	// Core
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`

	// Node the faucet spends through
	Ledger LedgerConfig

	// HTTP API
	API APIConfig

	// Keystore
	Wallet WalletConfig

	// Disbursement policy
	Faucet FaucetConfig

	// Logging
	Log LogConfig
}

// LedgerConfig holds the node connection settings.
type LedgerConfig struct {
	URL         string        `conf:"ledger.url"`
	Timeout     time.Duration `conf:"ledger.timeout"`
	Parallelism int           `conf:"ledger.parallelism"` // Concurrent balance queries.
}

// APIConfig holds HTTP server settings.
type APIConfig struct {
	Addr           string   `conf:"api.addr"`
	Port           int      `conf:"api.port"`
	RatePerMinute  float64  `conf:"api.rate_per_minute"` // Send requests per client; 0 disables.
	Burst          int      `conf:"api.burst"`
	CORSOrigins    []string `conf:"api.cors"`            // Allowed CORS origins ("*" = all).
	TrustedProxies []string `conf:"api.trusted_proxies"` // Proxies (IPs or CIDRs) whose forwarding headers are believed.
}

// WalletConfig holds keystore settings.
type WalletConfig struct {
	Name string `conf:"wallet.name"`
}

// FaucetConfig holds the disbursement policy.
type FaucetConfig struct {
	TokenID         string `conf:"faucet.token_id"` // Token, or NFT group in NFT mode.
	Quantity        uint64 `conf:"faucet.quantity"`
	NFT             bool   `conf:"faucet.nft"`
	PoolSize        int    `conf:"faucet.pool_size"`
	ChainCap        int    `conf:"faucet.chain_cap"`
	Dust            uint64 `conf:"faucet.dust"`
	FeeRate         uint64 `conf:"faucet.fee_rate"`
	AdminSecret     string `conf:"faucet.admin_secret"`
	RebalanceTokens bool   `conf:"faucet.rebalance_tokens"`
	NFTName         string `conf:"faucet.nft_name"`
	NFTTicker       string `conf:"faucet.nft_ticker"`
	NFTDocumentURI  string `conf:"faucet.nft_document_uri"`
	NFTDocumentHash string `conf:"faucet.nft_document_hash"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level      string `conf:"log.level"`
	File       string `conf:"log.file"`
	JSON       bool   `conf:"log.json"`
	MaxSizeMB  int    `conf:"log.max_size_mb"`
	MaxBackups int    `conf:"log.max_backups"`
}

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.klingnet-faucet
//	macOS:   ~/Library/Application Support/KlingnetFaucet
//	Windows: %APPDATA%\KlingnetFaucet
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".klingnet-faucet"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "KlingnetFaucet")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "KlingnetFaucet")
		}
		return filepath.Join(home, "AppData", "Roaming", "KlingnetFaucet")
	default:
		return filepath.Join(home, ".klingnet-faucet")
	}
}

// NetworkDir returns the network-specific data directory.
func (c *Config) NetworkDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// KeystoreDir returns the keystore directory.
func (c *Config) KeystoreDir() string {
	return filepath.Join(c.NetworkDir(), "keystore")
}

// DBDir returns the faucet database directory.
func (c *Config) DBDir() string {
	return filepath.Join(c.NetworkDir(), "faucetdb")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "faucet.conf")
}
