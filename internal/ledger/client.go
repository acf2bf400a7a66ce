// Package ledger implements faucet.Ledger against a klingnet node's
// JSON-RPC API.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Klingon-tech/klingnet-faucet/internal/faucet"
	klog "github.com/Klingon-tech/klingnet-faucet/internal/log"
	"github.com/Klingon-tech/klingnet-faucet/internal/rpcclient"
	"github.com/Klingon-tech/klingnet-faucet/pkg/crypto"
	"github.com/Klingon-tech/klingnet-faucet/pkg/tx"
	"github.com/Klingon-tech/klingnet-faucet/pkg/types"
)

// DefaultParallelism bounds concurrent balance queries.
const DefaultParallelism = 4

// Config holds the transaction policy of the client.
type Config struct {
	FeeRate     uint64 // base units per byte
	Dust        uint64 // value carried by token outputs
	Parallelism int
}

// Client talks to one node.
type Client struct {
	rpc    *rpcclient.Client
	cfg    Config
	logger zerolog.Logger
}

var _ faucet.Ledger = (*Client)(nil)

// New creates a ledger client over rpc.
func New(rpc *rpcclient.Client, cfg Config) *Client {
	if cfg.FeeRate == 0 {
		cfg.FeeRate = faucet.DefaultFeeRate
	}
	if cfg.Dust == 0 {
		cfg.Dust = faucet.DefaultDust
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = DefaultParallelism
	}
	return &Client{rpc: rpc, cfg: cfg, logger: klog.Ledger}
}

// ChainHeight returns the node's tip height.
func (c *Client) ChainHeight(ctx context.Context) (uint64, error) {
	var info chainInfoResult
	if err := c.rpc.Call(ctx, methodChainInfo, nil, &info); err != nil {
		return 0, readErr("chain height", err)
	}
	return info.Height, nil
}

// readErr marks reads that never reached the node as ErrLedgerUnavailable.
// Node refusals keep their *rpcclient.NodeError.
func readErr(what string, err error) error {
	if errors.Is(err, rpcclient.ErrUnreachable) {
		return fmt.Errorf("%w: %s: %w", faucet.ErrLedgerUnavailable, what, err)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// Balance fetches the UTXOs of addr and sorts them into base and token units.
// Outputs the pool key cannot spend directly, or that are locked, are left out.
func (c *Client) Balance(ctx context.Context, addr types.Address) (*faucet.AddressBalance, error) {
	var res utxoListResult
	if err := c.rpc.Call(ctx, methodUTXOsByAddr, addressParam{Address: addr.String()}, &res); err != nil {
		return nil, readErr("balance of "+addr.String(), err)
	}

	bal := &faucet.AddressBalance{
		Address:       addr,
		TokenUnits:    make(map[types.TokenID][]faucet.Unit),
		TokenBalances: make(map[types.TokenID]uint64),
	}
	for _, u := range res.UTXOs {
		if u == nil || !u.Script.Spendable() || u.LockedUntil > 0 {
			continue
		}
		unit := faucet.Unit{Outpoint: u.Outpoint, Owner: addr, Value: u.Value, Token: u.Token}
		if u.Token == nil {
			bal.BaseUnits = append(bal.BaseUnits, unit)
			bal.Available += u.Value
			continue
		}
		bal.TokenUnits[u.Token.ID] = append(bal.TokenUnits[u.Token.ID], unit)
		bal.TokenBalances[u.Token.ID] += u.Token.Amount
	}

	c.logger.Debug().
		Str("address", addr.String()).
		Int("base_units", len(bal.BaseUnits)).
		Uint64("available", bal.Available).
		Int("tokens", len(bal.TokenBalances)).
		Msg("Fetched balance")
	return bal, nil
}

// Balances fetches every address concurrently; results keep the order of
// addrs. The first failure cancels the rest.
func (c *Client) Balances(ctx context.Context, addrs []types.Address) ([]*faucet.AddressBalance, error) {
	out := make([]*faucet.AddressBalance, len(addrs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Parallelism)
	for i, a := range addrs {
		g.Go(func() error {
			b, err := c.Balance(gctx, a)
			if err != nil {
				return err
			}
			out[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// SubmitSend builds, signs and submits plan. Token payments carry the dust
// value; leftover token units and base currency return to plan.Change.
func (c *Client) SubmitSend(ctx context.Context, plan *faucet.SendPlan, signers map[types.Address]crypto.Signer) (string, error) {
	if err := checkInputs(plan.Inputs); err != nil {
		return "", err
	}
	b := tx.NewBuilder()
	var baseIn, tokenIn, baseOut, tokenOut uint64
	for _, in := range plan.Inputs {
		switch {
		case in.Token == nil:
			baseIn += in.Value
		case plan.Token != nil && in.Token.ID == *plan.Token:
			// The dust a token unit carries is spendable base currency.
			baseIn += in.Value
			tokenIn += in.Token.Amount
		default:
			return "", fmt.Errorf("input %s carries unexpected token %s", in.Outpoint, in.Token.ID)
		}
		b.AddInput(in.Outpoint, in.Owner)
	}

	for _, p := range plan.Outputs {
		if plan.Token == nil {
			b.AddOutput(p.Amount, types.P2PKH(p.To))
			baseOut += p.Amount
			continue
		}
		b.AddTokenOutput(c.cfg.Dust, types.P2PKH(p.To), types.TokenData{ID: *plan.Token, Amount: p.Amount})
		baseOut += c.cfg.Dust
		tokenOut += p.Amount
	}
	if tokenOut > tokenIn {
		return "", fmt.Errorf("token inputs %d do not cover outputs %d", tokenIn, tokenOut)
	}
	if rest := tokenIn - tokenOut; rest > 0 {
		b.AddTokenOutput(c.cfg.Dust, types.P2PKH(plan.Change), types.TokenData{ID: *plan.Token, Amount: rest})
		baseOut += c.cfg.Dust
	}

	if err := c.addChange(b, baseIn, baseOut, plan.Change); err != nil {
		return "", err
	}
	return c.signAndSubmit(ctx, b, signers)
}

// SubmitChildGenesis mints one child of plan.GroupID to plan.Destination,
// burning the baton in plan.Inputs[0].
func (c *Client) SubmitChildGenesis(ctx context.Context, plan *faucet.GenesisPlan, signers map[types.Address]crypto.Signer) (string, error) {
	if len(plan.Inputs) == 0 || !plan.Inputs[0].Token.IsBaton(plan.GroupID) {
		return "", fmt.Errorf("first input must be a baton of group %s", plan.GroupID)
	}
	if err := checkInputs(plan.Inputs); err != nil {
		return "", err
	}

	b := tx.NewBuilder()
	var baseIn uint64
	for i, in := range plan.Inputs {
		if i > 0 && in.Token != nil {
			return "", fmt.Errorf("input %s carries unexpected token %s", in.Outpoint, in.Token.ID)
		}
		baseIn += in.Value
		b.AddInput(in.Outpoint, in.Owner)
	}

	baton := plan.Inputs[0].Outpoint
	child := DeriveTokenID(baton.TxID, baton.Index)
	mint := types.Script{
		Type: types.ScriptTypeMint,
		Data: EncodeMintData(plan.Destination, ChildMetadata{
			Name:         plan.Name,
			Ticker:       plan.Ticker,
			DocumentURI:  plan.DocumentURI,
			DocumentHash: plan.DocumentHash,
		}),
	}
	b.AddTokenOutput(c.cfg.Dust, mint, types.TokenData{ID: child, Amount: 1})
	b.AddTokenOutput(0, types.Script{Type: types.ScriptTypeBurn}, types.TokenData{ID: plan.GroupID, Amount: 1})

	if err := c.addChange(b, baseIn, c.cfg.Dust, plan.Change); err != nil {
		return "", err
	}
	c.logger.Debug().Str("group", plan.GroupID.String()).Str("child", child.String()).Msg("Minting child token")
	return c.signAndSubmit(ctx, b, signers)
}

func checkInputs(units []faucet.Unit) error {
	ops := make([]types.Outpoint, len(units))
	for i, u := range units {
		ops[i] = u.Outpoint
	}
	return types.CheckSpend(ops)
}

// addChange pays the fee and returns the remaining base currency to change.
// Change below the dust floor is left to the fee.
func (c *Client) addChange(b *tx.Builder, in, out uint64, change types.Address) error {
	draft := b.Build()
	draft.Outputs = append(draft.Outputs, tx.Output{Script: types.P2PKH(change)})
	fee := tx.RequiredFee(draft, c.cfg.FeeRate)
	draft.Outputs = draft.Outputs[:len(draft.Outputs)-1]

	if in < out+fee {
		return fmt.Errorf("%w: inputs %d, outputs %d, fee %d", faucet.ErrInsufficientBalance, in, out, fee)
	}
	if rest := in - out - fee; rest >= c.cfg.Dust {
		b.AddOutput(rest, types.P2PKH(change))
	}
	return nil
}

func (c *Client) signAndSubmit(ctx context.Context, b *tx.Builder, signers map[types.Address]crypto.Signer) (string, error) {
	if err := b.Sign(signers); err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	transaction := b.Build()

	var res txSubmitResult
	if err := c.rpc.Call(ctx, methodSubmitTx, txSubmitParam{Transaction: transaction}, &res); err != nil {
		return "", fmt.Errorf("%s: %w", methodSubmitTx, err)
	}
	c.logger.Debug().
		Str("tx_hash", res.TxHash).
		Int("inputs", len(transaction.Inputs)).
		Int("outputs", len(transaction.Outputs)).
		Msg("Submitted transaction")
	return res.TxHash, nil
}
