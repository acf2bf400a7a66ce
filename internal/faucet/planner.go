package faucet

import (
	"context"
	"fmt"

	"github.com/Klingon-tech/klingnet-faucet/pkg/types"
)

// Planner computes even-split rebalancing plans across the pool.
type Planner struct {
	pool      Pool
	ledger    Ledger
	estimator CostEstimator
	feeRate   uint64
}

// NewPlanner creates a planner over pool.
func NewPlanner(pool Pool, ledger Ledger, estimator CostEstimator, feeRate uint64) *Planner {
	return &Planner{pool: pool, ledger: ledger, estimator: estimator, feeRate: feeRate}
}

func (p *Planner) balances(ctx context.Context) ([]*AddressBalance, error) {
	if len(p.pool) > MaxPoolSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyAddresses, len(p.pool), MaxPoolSize)
	}
	bals, err := p.ledger.Balances(ctx, p.pool.Addresses())
	if err != nil {
		return nil, unavailable("balances", err)
	}
	if len(bals) != len(p.pool) {
		return nil, fmt.Errorf("%w: got %d balances for %d addresses", ErrLedgerUnavailable, len(bals), len(p.pool))
	}
	return bals, nil
}

// evenOutputs pays per to every pool address.
func (p *Planner) evenOutputs(per uint64) []Payment {
	out := make([]Payment, len(p.pool))
	for i, a := range p.pool {
		out[i] = Payment{To: a.Address, Amount: per}
	}
	return out
}

// PlanTokenRebalance splits the pool's whole balance of token evenly: each
// address receives floor(total/n) and the remainder stays as change at
// address 0. Base units of every address are added as fee inputs.
func (p *Planner) PlanTokenRebalance(ctx context.Context, token types.TokenID) (*SendPlan, error) {
	bals, err := p.balances(ctx)
	if err != nil {
		return nil, err
	}

	var tokenInputs, baseInputs []Unit
	var total uint64
	for _, b := range bals {
		if v, _ := b.TokenBalance(token); v > 0 {
			units, _ := b.Units(token)
			tokenInputs = append(tokenInputs, units...)
			total += v
		}
		baseInputs = append(baseInputs, b.BaseUnits...)
	}
	if len(tokenInputs) == 0 {
		return nil, fmt.Errorf("%w: no address holds token %s", ErrInsufficientBalance, token)
	}
	if len(baseInputs) == 0 {
		return nil, fmt.Errorf("%w: no base currency to pay fees", ErrInsufficientBalance)
	}

	per := total / uint64(len(p.pool))
	if per == 0 {
		return nil, fmt.Errorf("%w: %d token units cannot cover %d addresses", ErrInsufficientBalance, total, len(p.pool))
	}

	tok := token
	return &SendPlan{
		Token:   &tok,
		Inputs:  append(baseInputs, tokenInputs...),
		Outputs: p.evenOutputs(per),
		Change:  p.pool[0].Address,
	}, nil
}

// PlanBaseRebalance splits the pool's base currency evenly after reserving
// the rebalancing transaction's own estimated cost.
func (p *Planner) PlanBaseRebalance(ctx context.Context) (*SendPlan, error) {
	bals, err := p.balances(ctx)
	if err != nil {
		return nil, err
	}

	var inputs []Unit
	for _, b := range bals {
		inputs = append(inputs, b.BaseUnits...)
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: pool holds no base currency", ErrInsufficientBalance)
	}

	total := sumValues(inputs)
	cost := p.estimator.Estimate(EstimateParams{
		Inputs:  len(inputs),
		Outputs: len(p.pool),
		Change:  true,
		FeeRate: p.feeRate,
	})
	if total <= cost {
		return nil, fmt.Errorf("%w: total %d does not exceed cost %d", ErrInsufficientBalance, total, cost)
	}

	per := (total - cost) / uint64(len(p.pool))
	if per < p.estimator.Dust {
		return nil, fmt.Errorf("%w: per-address amount %d below dust %d", ErrInsufficientBalance, per, p.estimator.Dust)
	}

	return &SendPlan{
		Inputs:  inputs,
		Outputs: p.evenOutputs(per),
		Change:  p.pool[0].Address,
	}, nil
}

// PlanBatonTopUp returns a plan sending one unit of group from address 0 to
// every other address that lacks a baton, or nil when none is missing.
// It only reads ledger state.
func (p *Planner) PlanBatonTopUp(ctx context.Context, group types.TokenID) (*SendPlan, error) {
	bals, err := p.balances(ctx)
	if err != nil {
		return nil, err
	}

	holder := bals[0]
	groupUnits, ok := holder.Units(group)
	if !ok {
		return nil, fmt.Errorf("%w: address 0 holds no units of group %s", ErrNoGroupTokens, group)
	}

	missing := MissingBatons(p.pool, bals, group)
	if len(missing) == 0 {
		return nil, nil
	}

	if len(holder.BaseUnits) == 0 {
		return nil, fmt.Errorf("%w: address 0 holds no base currency", ErrInsufficientBalance)
	}
	if have, _ := holder.TokenBalance(group); have < uint64(len(missing)) {
		return nil, fmt.Errorf("%w: address 0 holds %d group units, %d batons missing", ErrNoGroupTokens, have, len(missing))
	}

	outputs := make([]Payment, len(missing))
	for i, a := range missing {
		outputs[i] = Payment{To: a, Amount: 1}
	}
	g := group
	return &SendPlan{
		Token:   &g,
		Inputs:  append(append([]Unit(nil), holder.BaseUnits...), groupUnits...),
		Outputs: outputs,
		Change:  p.pool[0].Address,
	}, nil
}

// MissingBatons lists the addresses after index 0 that hold no unit of group
// with amount exactly 1. bals must be ordered like pool.
func MissingBatons(pool Pool, bals []*AddressBalance, group types.TokenID) []types.Address {
	var missing []types.Address
	for i := 1; i < len(pool) && i < len(bals); i++ {
		if findBaton(bals[i], group) == nil {
			missing = append(missing, pool[i].Address)
		}
	}
	return missing
}

// findBaton returns the first unit of group with amount exactly 1.
func findBaton(b *AddressBalance, group types.TokenID) *Unit {
	units, _ := b.Units(group)
	for i := range units {
		if units[i].Token.IsBaton(group) {
			return &units[i]
		}
	}
	return nil
}
