package faucet

import (
	"context"
	"fmt"

	"github.com/Klingon-tech/klingnet-faucet/pkg/types"
)

// mode is the distribution strategy, fixed at construction.
type mode interface {
	name() string
	// scanStart is the lowest pool index the selector may pick.
	scanStart() int
	// prepare runs before every send.
	prepare(ctx context.Context) error
	send(ctx context.Context, sel *Selection, dest types.Address) (*SendResult, error)
	// rebalanceTokens runs after a base rebalance. It returns the token
	// rebalance txid, or "" when the mode has nothing to rebalance.
	rebalanceTokens(ctx context.Context) (string, error)
}

// fungibleMode sends a fixed quantity of the token.
type fungibleMode struct {
	c *Controller
}

func (m *fungibleMode) name() string   { return "fungible" }
func (m *fungibleMode) scanStart() int { return 0 }

func (m *fungibleMode) prepare(context.Context) error { return nil }

func (m *fungibleMode) send(ctx context.Context, sel *Selection, dest types.Address) (*SendResult, error) {
	c := m.c
	token := c.cfg.Token
	tokenUnits, _ := sel.Balance.Units(token)

	inputs := make([]Unit, 0, len(sel.Balance.BaseUnits)+len(tokenUnits))
	inputs = append(inputs, sel.Balance.BaseUnits...)
	inputs = append(inputs, tokenUnits...)

	plan := &SendPlan{
		Token:   &token,
		Inputs:  inputs,
		Outputs: []Payment{{To: dest, Amount: c.cfg.Quantity}},
		Change:  sel.Address.Address,
	}
	txid, err := c.submitSend(ctx, KindSend, plan, dest.String())
	if err != nil {
		return nil, err
	}
	return &SendResult{
		TxID:        txid,
		Spender:     sel.Address.Address,
		Index:       sel.Address.Index,
		ChainLength: c.tracker.ChainLength(sel.Address.Address),
	}, nil
}

func (m *fungibleMode) rebalanceTokens(ctx context.Context) (string, error) {
	plan, err := m.c.planner.PlanTokenRebalance(ctx, m.c.cfg.Token)
	if err != nil {
		return "", err
	}
	return m.c.submitSend(ctx, KindTokenRebalance, plan, "")
}

// nftMode mints a child of the group per send. Address 0 holds the group
// supply and hands out batons; addresses 1.. spend them.
type nftMode struct {
	c *Controller
}

func (m *nftMode) name() string   { return "nft" }
func (m *nftMode) scanStart() int { return 1 }

// prepare tops up missing batons before every send.
func (m *nftMode) prepare(ctx context.Context) error {
	plan, err := m.c.planner.PlanBatonTopUp(ctx, m.c.cfg.Token)
	if err != nil {
		return fmt.Errorf("baton top-up: %w", err)
	}
	if plan == nil {
		return nil
	}
	m.c.logger.Info().Int("missing", len(plan.Outputs)).Msg("Topping up batons")
	if _, err := m.c.submitSend(ctx, KindBatonTopUp, plan, ""); err != nil {
		return fmt.Errorf("baton top-up: %w", err)
	}
	return nil
}

func (m *nftMode) send(ctx context.Context, sel *Selection, dest types.Address) (*SendResult, error) {
	c := m.c
	baton := findBaton(sel.Balance, c.cfg.Token)
	if baton == nil {
		return nil, fmt.Errorf("%w: address %d (%s)", ErrMissingBaton, sel.Address.Index, sel.Address.Address)
	}

	inputs := make([]Unit, 0, len(sel.Balance.BaseUnits)+1)
	inputs = append(inputs, *baton)
	inputs = append(inputs, sel.Balance.BaseUnits...)

	plan := &GenesisPlan{
		GroupID:      c.cfg.Token,
		Name:         c.cfg.NFTName,
		Ticker:       c.cfg.NFTTicker,
		DocumentURI:  c.cfg.NFTDocumentURI,
		DocumentHash: c.cfg.NFTDocumentHash,
		Destination:  dest,
		Change:       sel.Address.Address,
		Inputs:       inputs,
	}
	txid, err := c.submitGenesis(ctx, sel.Address, plan)
	if err != nil {
		return nil, err
	}
	return &SendResult{
		TxID:        txid,
		Spender:     sel.Address.Address,
		Index:       sel.Address.Index,
		ChainLength: c.tracker.ChainLength(sel.Address.Address),
	}, nil
}

func (m *nftMode) rebalanceTokens(context.Context) (string, error) { return "", nil }
