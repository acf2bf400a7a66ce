// Klingnet faucet daemon.
//
// Usage:
//
//	faucetd [--testnet --token=<id> --quantity=<n>]  Run faucet
//	faucetd --help                                  Show help
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/Klingon-tech/klingnet-faucet/config"
	"github.com/Klingon-tech/klingnet-faucet/internal/service"
)

func main() {
	cfg, _, err := config.Load(os.Args[1:])
	if errors.Is(err, config.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	password, err := walletPassword()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	svc, err := service.New(cfg, password)
	clear(password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := svc.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		svc.Stop()
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	svc.Stop()
}

// walletPassword reads the keystore password from the environment, or
// prompts for it on a terminal.
func walletPassword() ([]byte, error) {
	if p := os.Getenv(config.EnvPassword); p != "" {
		return []byte(p), nil
	}
	if !term.IsTerminal(int(syscall.Stdin)) {
		return nil, fmt.Errorf("no terminal to prompt for the wallet password; set %s", config.EnvPassword)
	}
	fmt.Fprint(os.Stderr, "Wallet password: ")
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr) // newline after hidden input
	if err != nil {
		return nil, err
	}
	return password, nil
}
