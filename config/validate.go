package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/Klingon-tech/klingnet-faucet/internal/api"
	"github.com/Klingon-tech/klingnet-faucet/internal/faucet"
	"github.com/Klingon-tech/klingnet-faucet/pkg/types"
)

// Validate checks the configuration for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Network != Mainnet && cfg.Network != Testnet {
		return fmt.Errorf("network must be %q or %q", Mainnet, Testnet)
	}

	u, err := url.Parse(cfg.Ledger.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("ledger.url must be an http(s) URL")
	}
	if cfg.Ledger.Timeout <= 0 {
		return fmt.Errorf("ledger.timeout must be positive")
	}
	if cfg.API.Port < 0 || cfg.API.Port > 65535 {
		return fmt.Errorf("api.port must be in range [0, 65535]")
	}
	if cfg.API.RatePerMinute < 0 {
		return fmt.Errorf("api.rate_per_minute must not be negative")
	}
	if _, err := api.ParseTrustedProxies(cfg.API.TrustedProxies); err != nil {
		return fmt.Errorf("api.trusted_proxies: %w", err)
	}
	if strings.TrimSpace(cfg.Wallet.Name) == "" {
		return fmt.Errorf("wallet.name is required")
	}

	f := &cfg.Faucet
	if f.TokenID == "" {
		return fmt.Errorf("faucet.token_id is required")
	}
	if _, err := types.ParseTokenID(f.TokenID); err != nil {
		return fmt.Errorf("faucet.token_id: %w", err)
	}
	if f.PoolSize < 1 || f.PoolSize > faucet.MaxPoolSize {
		return fmt.Errorf("faucet.pool_size must be in range [1, %d]", faucet.MaxPoolSize)
	}
	if f.NFT && f.PoolSize < 2 {
		return fmt.Errorf("faucet.nft needs faucet.pool_size >= 2")
	}
	if !f.NFT && f.Quantity == 0 {
		return fmt.Errorf("faucet.quantity must be positive")
	}
	if f.ChainCap < 1 {
		return fmt.Errorf("faucet.chain_cap must be positive")
	}
	if f.Dust == 0 {
		return fmt.Errorf("faucet.dust must be positive")
	}
	if f.FeeRate == 0 {
		return fmt.Errorf("faucet.fee_rate must be positive")
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error", "disabled":
	default:
		return fmt.Errorf("log.level %q is not a known level", cfg.Log.Level)
	}
	return nil
}

// AddressHRP returns the address prefix of the configured network.
func (c *Config) AddressHRP() string {
	if c.Network == Testnet {
		return types.TestnetHRP
	}
	return types.MainnetHRP
}

// ControllerConfig converts the validated settings into controller config.
func (c *Config) ControllerConfig() (faucet.Config, error) {
	id, err := types.ParseTokenID(c.Faucet.TokenID)
	if err != nil {
		return faucet.Config{}, fmt.Errorf("faucet.token_id: %w", err)
	}
	return faucet.Config{
		Token:           id,
		Quantity:        c.Faucet.Quantity,
		NFT:             c.Faucet.NFT,
		ChainCap:        c.Faucet.ChainCap,
		Dust:            c.Faucet.Dust,
		FeeRate:         c.Faucet.FeeRate,
		AdminSecret:     c.Faucet.AdminSecret,
		RebalanceTokens: c.Faucet.RebalanceTokens,
		AddressHRP:      c.AddressHRP(),
		NFTName:         c.Faucet.NFTName,
		NFTTicker:       c.Faucet.NFTTicker,
		NFTDocumentURI:  c.Faucet.NFTDocumentURI,
		NFTDocumentHash: c.Faucet.NFTDocumentHash,
	}, nil
}
