// faucet-cli manages the faucet's pool wallet and talks to a running
// faucetd.
package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Klingon-tech/klingnet-faucet/config"
	"github.com/Klingon-tech/klingnet-faucet/pkg/types"
)

// globals holds the persistent flags shared by every command.
type globals struct {
	dataDir   string
	network   string
	testnet   bool
	wallet    string
	apiURL    string
	ledgerURL string
}

func (g *globals) config() *config.Config {
	network := config.NetworkType(g.network)
	if g.testnet {
		network = config.Testnet
	}
	cfg := config.Default(network)
	cfg.Network = network
	if g.dataDir != "" {
		cfg.DataDir = g.dataDir
	}
	if g.wallet != "" {
		cfg.Wallet.Name = g.wallet
	}
	if g.ledgerURL != "" {
		cfg.Ledger.URL = g.ledgerURL
	}
	types.SetAddressHRP(cfg.AddressHRP())
	return cfg
}

func (g *globals) keystoreDir() string {
	return g.config().KeystoreDir()
}

func (g *globals) api() *apiClient {
	url := g.apiURL
	if url == "" {
		cfg := g.config()
		url = fmt.Sprintf("http://127.0.0.1:%d", cfg.API.Port)
	}
	return newAPIClient(url)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "faucet-cli",
		Short:         "Manage the Klingnet faucet pool and query a running faucetd",
		Version:       config.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !g.testnet && g.network != string(config.Mainnet) && g.network != string(config.Testnet) {
				return fmt.Errorf("network must be %q or %q", config.Mainnet, config.Testnet)
			}
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.dataDir, "datadir", "", "data directory (default: ~/.klingnet-faucet)")
	pf.StringVar(&g.network, "network", string(config.Mainnet), "network: mainnet or testnet")
	pf.BoolVar(&g.testnet, "testnet", false, "shorthand for --network=testnet")
	pf.StringVar(&g.wallet, "wallet", "", "pool wallet name (default: faucet)")
	pf.StringVar(&g.apiURL, "api", "", "faucetd base URL (default: http://127.0.0.1:<api.port>)")
	pf.StringVar(&g.ledgerURL, "ledger-url", "", "node JSON-RPC URL")

	root.AddCommand(
		newInitCmd(g),
		newAddressesCmd(g),
		newBalancesCmd(g),
		newStatusCmd(g),
		newRequestCmd(g),
		newRebalanceCmd(g),
		newHistoryCmd(g),
	)
	return root
}

// readPassword reads a password from env, or prompts without echo.
func readPassword(prompt string) ([]byte, error) {
	if p := os.Getenv(config.EnvPassword); p != "" {
		return []byte(p), nil
	}
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr) // newline after hidden input
	if err != nil {
		return nil, err
	}
	return password, nil
}
