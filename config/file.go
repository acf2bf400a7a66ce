package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadFile loads configuration from a .conf file.
// Format: key = value (one per line, # for comments)
func LoadFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("line %d: invalid format (expected key = value)", lineNum)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		// Remove quotes if present
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		values[key] = value
	}

	return values, scanner.Err()
}

// ApplyFileConfig applies file configuration to a Config struct.
func ApplyFileConfig(cfg *Config, values map[string]string) error {
	for key, value := range values {
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}
	return nil
}

// setConfigValue sets a config value by key.
func setConfigValue(cfg *Config, key, value string) error {
	var err error
	switch key {
	// Core
	case "network":
		cfg.Network = NetworkType(value)
	case "datadir":
		cfg.DataDir = value

	// Ledger
	case "ledger.url":
		cfg.Ledger.URL = value
	case "ledger.timeout":
		cfg.Ledger.Timeout, err = time.ParseDuration(value)
	case "ledger.parallelism":
		cfg.Ledger.Parallelism, err = strconv.Atoi(value)

	// API
	case "api.addr":
		cfg.API.Addr = value
	case "api.port":
		cfg.API.Port, err = strconv.Atoi(value)
	case "api.rate_per_minute":
		cfg.API.RatePerMinute, err = strconv.ParseFloat(value, 64)
	case "api.burst":
		cfg.API.Burst, err = strconv.Atoi(value)
	case "api.cors":
		cfg.API.CORSOrigins = parseStringList(value)
	case "api.trusted_proxies":
		cfg.API.TrustedProxies = parseStringList(value)

	// Wallet
	case "wallet.name", "wallet":
		cfg.Wallet.Name = value

	// Faucet
	case "faucet.token_id":
		cfg.Faucet.TokenID = value
	case "faucet.quantity":
		cfg.Faucet.Quantity, err = strconv.ParseUint(value, 10, 64)
	case "faucet.nft":
		cfg.Faucet.NFT = parseBool(value)
	case "faucet.pool_size":
		cfg.Faucet.PoolSize, err = strconv.Atoi(value)
	case "faucet.chain_cap":
		cfg.Faucet.ChainCap, err = strconv.Atoi(value)
	case "faucet.dust":
		cfg.Faucet.Dust, err = strconv.ParseUint(value, 10, 64)
	case "faucet.fee_rate":
		cfg.Faucet.FeeRate, err = strconv.ParseUint(value, 10, 64)
	case "faucet.admin_secret":
		cfg.Faucet.AdminSecret = value
	case "faucet.rebalance_tokens":
		cfg.Faucet.RebalanceTokens = parseBool(value)
	case "faucet.nft_name":
		cfg.Faucet.NFTName = value
	case "faucet.nft_ticker":
		cfg.Faucet.NFTTicker = value
	case "faucet.nft_document_uri":
		cfg.Faucet.NFTDocumentURI = value
	case "faucet.nft_document_hash":
		cfg.Faucet.NFTDocumentHash = value

	// Logging
	case "log.level":
		cfg.Log.Level = value
	case "log.file":
		cfg.Log.File = value
	case "log.json":
		cfg.Log.JSON = parseBool(value)
	case "log.max_size_mb":
		cfg.Log.MaxSizeMB, err = strconv.Atoi(value)
	case "log.max_backups":
		cfg.Log.MaxBackups, err = strconv.Atoi(value)

	default:
		// Unknown keys are ignored
	}
	return err
}

// ApplyEnv overrides secrets from the environment.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv(EnvAdminSecret); v != "" {
		cfg.Faucet.AdminSecret = v
	}
}

// parseBool parses a boolean value.
func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// parseStringList parses a comma-separated list.
func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// WriteDefaultConfig writes a default faucet configuration file.
func WriteDefaultConfig(path string, network NetworkType) error {
	d := Default(network)
	content := `# Klingnet Faucet Configuration

# Network: mainnet or testnet
network = ` + string(network) + `

# Data directory (default: ~/.klingnet-faucet)
# datadir = ~/.klingnet-faucet

# ============================================================================
# Node
# ============================================================================

ledger.url = ` + d.Ledger.URL + `
ledger.timeout = 10s
# ledger.parallelism = 4

# ============================================================================
# HTTP API
# ============================================================================

api.addr = ` + d.API.Addr + `
api.port = ` + strconv.Itoa(d.API.Port) + `
# Send requests per client IP per minute (0 disables limiting)
api.rate_per_minute = 6
api.burst = 3
# CORS allowed origins ("*" for all)
# api.cors = https://faucet.example.org
# Reverse proxies allowed to name the client in X-Forwarded-For / X-Real-IP.
# Without this, limits apply to the connecting address.
# api.trusted_proxies = 127.0.0.1

# ============================================================================
# Keystore
# ============================================================================

wallet.name = ` + d.Wallet.Name + `

# ============================================================================
# Faucet
# ============================================================================

# Token to disburse (64-char hex); the group token id in NFT mode
# faucet.token_id =
# Token units per request (fungible mode)
# faucet.quantity = 10
faucet.nft = false
faucet.pool_size = ` + strconv.Itoa(d.Faucet.PoolSize) + `
faucet.chain_cap = ` + strconv.Itoa(d.Faucet.ChainCap) + `
faucet.dust = ` + strconv.FormatUint(d.Faucet.Dust, 10) + `
faucet.fee_rate = ` + strconv.FormatUint(d.Faucet.FeeRate, 10) + `
faucet.rebalance_tokens = true

# Admin secret for rebalancing. Prefer ` + EnvAdminSecret + `.
# faucet.admin_secret =

# Child token metadata (NFT mode)
# faucet.nft_name = ` + DefaultNFTName + `
# faucet.nft_ticker = ` + DefaultNFTTicker + `
# faucet.nft_document_uri =
# faucet.nft_document_hash =

# ============================================================================
# Logging
# ============================================================================

log.level = info
# log.file =
log.json = false
# log.max_size_mb = 100
# log.max_backups = 5
`
	return os.WriteFile(path, []byte(content), 0600)
}
