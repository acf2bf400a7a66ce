package config

import (
	"time"

	"github.com/Klingon-tech/klingnet-faucet/internal/faucet"
)

// Defaults for the child tokens minted in NFT mode.
const (
	DefaultNFTName   = "Klingnet Faucet NFT"
	DefaultNFTTicker = "KFNFT"
)

// DefaultMainnet returns the default faucet configuration for mainnet.
func DefaultMainnet() *Config {
	return &Config{
		Network: Mainnet,
		DataDir: DefaultDataDir(),
		Ledger: LedgerConfig{
			URL:         "http://127.0.0.1:8545",
			Timeout:     10 * time.Second,
			Parallelism: 4,
		},
		API: APIConfig{
			Addr:          "0.0.0.0",
			Port:          8080,
			RatePerMinute: 6,
			Burst:         3,
		},
		Wallet: WalletConfig{
			Name: "faucet",
		},
		Faucet: FaucetConfig{
			PoolSize:        faucet.DefaultPoolSize,
			ChainCap:        faucet.DefaultChainCap,
			Dust:            faucet.DefaultDust,
			FeeRate:         faucet.DefaultFeeRate,
			RebalanceTokens: true,
			NFTName:         DefaultNFTName,
			NFTTicker:       DefaultNFTTicker,
		},
		Log: LogConfig{
			Level:      "info",
			JSON:       false,
			MaxSizeMB:  100,
			MaxBackups: 5,
		},
	}
}

// DefaultTestnet returns the default faucet configuration for testnet.
func DefaultTestnet() *Config {
	cfg := DefaultMainnet()
	cfg.Network = Testnet
	cfg.Ledger.URL = "http://127.0.0.1:8645"
	cfg.API.Port = 8180
	return cfg
}

// Default returns the default configuration for the given network.
func Default(network NetworkType) *Config {
	switch network {
	case Testnet:
		return DefaultTestnet()
	default:
		return DefaultMainnet()
	}
}
