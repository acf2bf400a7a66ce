package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

// Version is reported by --version.
const Version = "0.1.0"

// ErrHelp is returned by Load when --help or --version was handled.
var ErrHelp = errors.New("help requested")

// Flags holds parsed command-line flags.
type Flags struct {
	// Commands
	Help    bool
	Version bool

	// Core
	Network string
	DataDir string
	Config  string

	// Ledger
	LedgerURL string

	// API
	APIAddr string
	APIPort int

	// Wallet
	WalletName string

	// Faucet
	TokenID  string
	Quantity uint64
	NFT      bool

	// Logging
	LogLevel string
	LogFile  string
	LogJSON  bool

	// Remaining args
	Args []string

	// Explicitly-set bool flags (for true/false overrides).
	SetNFT     bool
	SetLogJSON bool
}

// ParseFlags parses command-line flags from args (without the program name).
func ParseFlags(args []string) (*Flags, error) {
	f := &Flags{}
	fs := flag.NewFlagSet("faucetd", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	// Commands
	fs.BoolVar(&f.Help, "help", false, "Show help message")
	fs.BoolVar(&f.Help, "h", false, "Show help message (shorthand)")
	fs.BoolVar(&f.Version, "version", false, "Show version information")
	fs.BoolVar(&f.Version, "v", false, "Show version (shorthand)")

	// Core
	fs.StringVar(&f.Network, "network", "", "Network type (mainnet or testnet)")
	testnet := fs.Bool("testnet", false, "Shorthand for --network=testnet")
	fs.StringVar(&f.DataDir, "datadir", "", "Data directory path")
	fs.StringVar(&f.Config, "config", "", "Config file path")
	fs.StringVar(&f.Config, "c", "", "Config file path (shorthand)")

	// Ledger
	fs.StringVar(&f.LedgerURL, "ledger-url", "", "Node JSON-RPC URL")

	// API
	fs.StringVar(&f.APIAddr, "api-addr", "", "HTTP listen address")
	fs.IntVar(&f.APIPort, "api-port", 0, "HTTP listen port")

	// Wallet
	fs.StringVar(&f.WalletName, "wallet", "", "Keystore wallet name")

	// Faucet
	fs.StringVar(&f.TokenID, "token", "", "Token id to disburse (NFT group id in NFT mode)")
	fs.Uint64Var(&f.Quantity, "quantity", 0, "Token units per request")
	fs.BoolVar(&f.NFT, "nft", false, "Mint child NFTs instead of sending a fungible token")

	// Logging
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.LogFile, "log-file", "", "Log file path")
	fs.BoolVar(&f.LogJSON, "log-json", false, "Output logs as JSON")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			f.Help = true
			return f, nil
		}
		return nil, err
	}

	if *testnet {
		f.Network = string(Testnet)
	}
	f.SetNFT = isFlagSet(fs, "nft")
	f.SetLogJSON = isFlagSet(fs, "log-json")
	f.Args = fs.Args()

	for _, arg := range f.Args {
		if strings.HasPrefix(arg, "-") {
			return nil, fmt.Errorf("flag %q was not parsed (positional argument stopped parsing)", arg)
		}
	}
	return f, nil
}

// ApplyFlags applies command-line flags to a Config struct.
func ApplyFlags(cfg *Config, f *Flags) {
	// Core
	if f.Network != "" {
		cfg.Network = NetworkType(f.Network)
	}
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}

	if f.LedgerURL != "" {
		cfg.Ledger.URL = f.LedgerURL
	}

	if f.APIAddr != "" {
		cfg.API.Addr = f.APIAddr
	}
	if f.APIPort != 0 {
		cfg.API.Port = f.APIPort
	}

	if f.WalletName != "" {
		cfg.Wallet.Name = f.WalletName
	}

	// Faucet
	if f.TokenID != "" {
		cfg.Faucet.TokenID = f.TokenID
	}
	if f.Quantity != 0 {
		cfg.Faucet.Quantity = f.Quantity
	}
	if f.SetNFT {
		cfg.Faucet.NFT = f.NFT
	}

	// Logging
	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.LogFile != "" {
		cfg.Log.File = f.LogFile
	}
	if f.SetLogJSON {
		cfg.Log.JSON = f.LogJSON
	}
}

// isFlagSet checks if a flag was explicitly set.
func isFlagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// PrintUsage writes the daemon's help text.
func PrintUsage(w io.Writer) {
	fmt.Fprint(w, `Klingnet Faucet - disburses tokens from a pool of custodial addresses

Usage:
  faucetd [options]
  faucetd --help

Commands:
  --help, -h      Show this help message
  --version, -v   Show version information

Core Options:
  --network       Network type: mainnet (default) or testnet
  --testnet       Shorthand for --network=testnet
  --datadir       Data directory (default: ~/.klingnet-faucet)
  --config, -c    Config file path (default: <datadir>/faucet.conf)

Node Options:
  --ledger-url    Node JSON-RPC URL (mainnet: http://127.0.0.1:8545)

API Options:
  --api-addr      HTTP listen address (default: 0.0.0.0)
  --api-port      HTTP port (mainnet: 8080, testnet: 8180)

Faucet Options:
  --wallet        Keystore wallet name (default: faucet)
  --token         Token id to disburse, or the NFT group id with --nft
  --quantity      Token units per request
  --nft           Mint one child NFT per request

Logging Options:
  --log-level     Log level: debug, info, warn, error (default: info)
  --log-file      Log file path, rotated (default: stdout only)
  --log-json      Output logs as JSON

Environment:
  `+EnvPassword+`      Keystore password (prompted when unset)
  `+EnvAdminSecret+`  Admin secret for rebalancing

Create the pool wallet first with: faucet-cli init
`)
}

// Load loads configuration with the following precedence:
// 1. Default values
// 2. Auto-create data dirs + default config (idempotent)
// 3. Config file
// 4. Environment (secrets)
// 5. Command-line flags
//
// It returns ErrHelp after printing help or version information.
func Load(args []string) (*Config, *Flags, error) {
	flags, err := ParseFlags(args)
	if err != nil {
		return nil, nil, err
	}

	if flags.Help {
		PrintUsage(os.Stdout)
		return nil, flags, ErrHelp
	}
	if flags.Version {
		fmt.Println("faucetd version " + Version)
		return nil, flags, ErrHelp
	}

	// Determine network first (needed for defaults)
	network := Mainnet
	if strings.ToLower(flags.Network) == string(Testnet) {
		network = Testnet
	}

	cfg := Default(network)
	if flags.DataDir != "" {
		cfg.DataDir = flags.DataDir
	}

	if err := EnsureDataDirs(cfg); err != nil {
		return nil, nil, fmt.Errorf("ensuring data dirs: %w", err)
	}

	configPath := flags.Config
	if configPath == "" {
		configPath = cfg.ConfigFile()
	}

	fileValues, err := LoadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config file: %w", err)
	}
	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, nil, fmt.Errorf("applying config file: %w", err)
	}
	ApplyEnv(cfg)

	// Apply flags (highest precedence)
	ApplyFlags(cfg, flags)
	if err := Validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, flags, nil
}

// EnsureDataDirs creates the data directory structure and a default config
// file if they don't already exist. Safe to call on every startup.
func EnsureDataDirs(cfg *Config) error {
	dirs := []string{
		cfg.DataDir,
		cfg.NetworkDir(),
		cfg.KeystoreDir(),
		cfg.DBDir(),
		cfg.LogsDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	configPath := cfg.ConfigFile()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := WriteDefaultConfig(configPath, cfg.Network); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
	}

	return nil
}
