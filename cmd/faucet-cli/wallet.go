package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Klingon-tech/klingnet-faucet/config"
	"github.com/Klingon-tech/klingnet-faucet/internal/faucet"
	"github.com/Klingon-tech/klingnet-faucet/internal/ledger"
	"github.com/Klingon-tech/klingnet-faucet/internal/rpcclient"
	"github.com/Klingon-tech/klingnet-faucet/internal/wallet"
	"github.com/Klingon-tech/klingnet-faucet/pkg/types"
)

func newInitCmd(g *globals) *cobra.Command {
	var (
		mnemonic string
		poolSize int
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the encrypted pool wallet",
		Long: `Create the encrypted pool wallet from a new or imported BIP-39 mnemonic.
The first --pool-size addresses are recorded in the keystore so they can be
funded before faucetd first starts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := g.config()
			if err := os.MkdirAll(cfg.KeystoreDir(), 0700); err != nil {
				return fmt.Errorf("create keystore dir: %w", err)
			}
			ks, err := wallet.NewKeystore(cfg.KeystoreDir())
			if err != nil {
				return err
			}
			if ks.Exists(cfg.Wallet.Name) {
				return fmt.Errorf("wallet %q already exists in %s", cfg.Wallet.Name, cfg.KeystoreDir())
			}

			generated := mnemonic == ""
			if generated {
				if mnemonic, err = wallet.GenerateMnemonic(); err != nil {
					return fmt.Errorf("generate mnemonic: %w", err)
				}
			} else if !wallet.ValidateMnemonic(mnemonic) {
				return fmt.Errorf("invalid mnemonic")
			}

			password, err := readPassword("New wallet password: ")
			if err != nil {
				return err
			}
			defer clear(password)
			if os.Getenv(config.EnvPassword) == "" {
				confirm, err := readPassword("Confirm password: ")
				if err != nil {
					return err
				}
				match := bytes.Equal(password, confirm)
				clear(confirm)
				if !match {
					return fmt.Errorf("passwords do not match")
				}
			}

			seed, err := wallet.SeedFromMnemonic(mnemonic, "")
			if err != nil {
				return err
			}
			defer clear(seed)
			info, err := ks.Create(cfg.Wallet.Name, seed, password, poolSize, wallet.DefaultParams())
			if err != nil {
				return fmt.Errorf("create wallet: %w", err)
			}

			out := cmd.OutOrStdout()
			if generated {
				fmt.Fprintln(out, "Mnemonic (write this down!):")
				fmt.Fprintf(out, "  %s\n\n", mnemonic)
			}
			fmt.Fprintf(out, "Wallet created: %s\n", info.Name)
			return printAddresses(cmd, info.Addresses)
		},
	}
	cmd.Flags().StringVar(&mnemonic, "mnemonic", "", "import this 24-word mnemonic instead of generating one")
	cmd.Flags().IntVar(&poolSize, "pool-size", faucet.DefaultPoolSize, fmt.Sprintf("number of pool addresses (max %d)", faucet.MaxPoolSize))
	return cmd
}

func newAddressesCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "addresses",
		Short: "List the pool addresses (no password needed)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := g.config()
			ks, err := wallet.NewKeystore(cfg.KeystoreDir())
			if err != nil {
				return err
			}
			info, err := ks.Info(cfg.Wallet.Name)
			if err != nil {
				return err
			}
			return printAddresses(cmd, info.Addresses)
		},
	}
}

func newBalancesCmd(g *globals) *cobra.Command {
	var tokenHex string
	cmd := &cobra.Command{
		Use:   "balances",
		Short: "Query the node for the balance of every pool address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := g.config()
			ks, err := wallet.NewKeystore(cfg.KeystoreDir())
			if err != nil {
				return err
			}
			info, err := ks.Info(cfg.Wallet.Name)
			if err != nil {
				return err
			}
			addrs, err := parseAddresses(info.Addresses)
			if err != nil {
				return err
			}
			var token *types.TokenID
			if tokenHex != "" {
				id, err := types.ParseTokenID(tokenHex)
				if err != nil {
					return err
				}
				token = &id
			}

			client := ledger.New(rpcclient.NewWithTimeout(cfg.Ledger.URL, cfg.Ledger.Timeout), ledger.Config{
				Parallelism: cfg.Ledger.Parallelism,
			})
			bals, err := client.Balances(context.Background(), addrs)
			if err != nil {
				return fmt.Errorf("query %s: %w", cfg.Ledger.URL, err)
			}

			out := cmd.OutOrStdout()
			var total uint64
			for i, b := range bals {
				line := fmt.Sprintf("%2d  %s  %d", i, b.Address, b.Available)
				if token != nil {
					tb, _ := b.TokenBalance(*token)
					line += fmt.Sprintf("  token=%d", tb)
				}
				fmt.Fprintln(out, line)
				total += b.Available
			}
			fmt.Fprintf(out, "Total: %d\n", total)
			return nil
		},
	}
	cmd.Flags().StringVar(&tokenHex, "token", "", "also show the balance of this token id")
	return cmd
}

func parseAddresses(hexAddrs []string) ([]types.Address, error) {
	addrs := make([]types.Address, len(hexAddrs))
	for i, h := range hexAddrs {
		a, err := types.HexToAddress(h)
		if err != nil {
			return nil, fmt.Errorf("keystore address %d: %w", i, err)
		}
		addrs[i] = a
	}
	return addrs, nil
}

func printAddresses(cmd *cobra.Command, hexAddrs []string) error {
	addrs, err := parseAddresses(hexAddrs)
	if err != nil {
		return err
	}
	var sb strings.Builder
	for i, a := range addrs {
		fmt.Fprintf(&sb, "%2d  %s\n", i, a)
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), sb.String())
	return err
}
