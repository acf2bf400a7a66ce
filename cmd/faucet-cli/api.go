package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Klingon-tech/klingnet-faucet/config"
	"github.com/Klingon-tech/klingnet-faucet/internal/faucet"
	"github.com/Klingon-tech/klingnet-faucet/internal/faucetdb"
)

// apiClient calls a running faucetd.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 2 * time.Minute},
	}
}

// apiError is a non-2xx answer from faucetd. BaseTxID is set when a
// rebalance failed after its base split was submitted.
type apiError struct {
	Status   int
	Message  string
	BaseTxID string
}

func (e *apiError) Error() string {
	if e.BaseTxID != "" {
		return fmt.Sprintf("faucetd answered %d: %s (base split already sent: %s)", e.Status, e.Message, e.BaseTxID)
	}
	return fmt.Sprintf("faucetd answered %d: %s", e.Status, e.Message)
}

// do sends body (if any) as JSON and decodes the answer into out.
func (c *apiClient) do(method, path string, header map[string]string, body, out interface{}) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode/100 != 2 {
		var e struct {
			Error    string `json:"error"`
			BaseTxID string `json:"base_txid"`
		}
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
		}
		return &apiError{Status: resp.StatusCode, Message: e.Error, BaseTxID: e.BaseTxID}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func newStatusCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the cursor and per-address chain lengths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var st faucet.Status
			if err := g.api().do(http.MethodGet, "/api/v1/status", nil, nil, &st); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Mode:      %s\n", st.Mode)
			fmt.Fprintf(out, "Token:     %s\n", st.Token)
			fmt.Fprintf(out, "Height:    %d\n", st.Height)
			fmt.Fprintf(out, "Cursor:    %d\n", st.Cursor)
			fmt.Fprintf(out, "Chain cap: %d\n", st.ChainCap)
			for _, a := range st.Addresses {
				fmt.Fprintf(out, "  %2d  %s  %d\n", a.Index, a.Address, a.ChainLength)
			}
			return nil
		},
	}
}

func newRequestCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "request <address>",
		Short: "Ask the faucet to pay out to an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				TxID string `json:"txid"`
			}
			body := map[string]string{"address": args[0]}
			if err := g.api().do(http.MethodPost, "/api/v1/request", nil, body, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent: %s\n", resp.TxID)
			return nil
		},
	}
}

func newRebalanceCmd(g *globals) *cobra.Command {
	var secret string
	cmd := &cobra.Command{
		Use:   "rebalance",
		Short: "Split the pool's funds evenly across all addresses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			set := false
			cmd.Flags().Visit(func(f *pflag.Flag) { set = set || f.Name == "secret" })
			if !set {
				secret = os.Getenv(config.EnvAdminSecret)
			}
			if secret == "" {
				return fmt.Errorf("admin secret required (--secret or %s)", config.EnvAdminSecret)
			}

			var resp struct {
				Status    string `json:"status"`
				BaseTxID  string `json:"base_txid"`
				TokenTxID string `json:"token_txid"`
			}
			header := map[string]string{"X-Faucet-Secret": secret}
			if err := g.api().do(http.MethodPost, "/api/v1/admin/rebalance", header, nil, &resp); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, resp.Status)
			fmt.Fprintf(out, "Base:  %s\n", resp.BaseTxID)
			if resp.TokenTxID != "" {
				fmt.Fprintf(out, "Token: %s\n", resp.TokenTxID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "admin secret (default: $"+config.EnvAdminSecret+")")
	return cmd
}

func newHistoryCmd(g *globals) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent submissions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Entries []faucetdb.Entry `json:"entries"`
			}
			path := fmt.Sprintf("/api/v1/history?limit=%d", limit)
			if err := g.api().do(http.MethodGet, path, nil, nil, &resp); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, e := range resp.Entries {
				result := e.TxID
				if !e.OK() {
					result = "FAILED " + e.Error
				}
				fmt.Fprintf(out, "%6d  %s  %-15s  #%-2d  %s\n",
					e.Seq, e.Time.Format(time.RFC3339), e.Kind, e.Index, result)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of entries")
	return cmd
}
