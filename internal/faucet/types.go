// Package faucet implements the disbursement controller: address selection
// under a rotating cursor, per-address chain-length backpressure, and the
// even-split arithmetic used to rebalance the pool.
package faucet

import (
	"context"
	"fmt"

	"github.com/Klingon-tech/klingnet-faucet/pkg/crypto"
	"github.com/Klingon-tech/klingnet-faucet/pkg/types"
)

// MaxPoolSize bounds the number of managed addresses. A rebalance pays
// every address from one transaction, which has to stay small.
const MaxPoolSize = 19

// Default policy values.
const (
	DefaultChainCap = 50
	DefaultDust     = 546
	DefaultFeeRate  = 1
	DefaultPoolSize = 18
)

// ManagedAddress is one custodial address of the pool.
type ManagedAddress struct {
	Index   int
	Address types.Address
	Signer  crypto.Signer
}

// Pool is the fixed, ordered set of managed addresses.
type Pool []ManagedAddress

// NewPool validates addrs and numbers them by position.
func NewPool(addrs []ManagedAddress) (Pool, error) {
	if len(addrs) == 0 {
		return nil, fmt.Errorf("empty address pool")
	}
	if len(addrs) > MaxPoolSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyAddresses, len(addrs), MaxPoolSize)
	}
	p := make(Pool, len(addrs))
	seen := make(map[types.Address]bool, len(addrs))
	for i, a := range addrs {
		if seen[a.Address] {
			return nil, fmt.Errorf("duplicate pool address %s", a.Address)
		}
		seen[a.Address] = true
		a.Index = i
		p[i] = a
	}
	return p, nil
}

// Addresses returns the pool addresses in order.
func (p Pool) Addresses() []types.Address {
	out := make([]types.Address, len(p))
	for i, a := range p {
		out[i] = a.Address
	}
	return out
}

// Signers maps each address to its signing key.
func (p Pool) Signers() map[types.Address]crypto.Signer {
	m := make(map[types.Address]crypto.Signer, len(p))
	for _, a := range p {
		m[a.Address] = a.Signer
	}
	return m
}

// Unit is a spendable output owned by a pool address.
type Unit struct {
	Outpoint types.Outpoint
	Owner    types.Address
	Value    uint64
	Token    *types.TokenData
}

// AddressBalance is a point-in-time view of what an address can spend.
// Snapshots are fetched per decision and never cached.
type AddressBalance struct {
	Address       types.Address
	BaseUnits     []Unit
	Available     uint64
	TokenUnits    map[types.TokenID][]Unit
	TokenBalances map[types.TokenID]uint64
}

// TokenBalance returns the aggregate balance of id, and whether the address
// holds any units of it at all.
func (b *AddressBalance) TokenBalance(id types.TokenID) (uint64, bool) {
	v, ok := b.TokenBalances[id]
	return v, ok
}

// Units returns the spendable units of id.
func (b *AddressBalance) Units(id types.TokenID) ([]Unit, bool) {
	u, ok := b.TokenUnits[id]
	return u, ok && len(u) > 0
}

// Payment is one planned output.
type Payment struct {
	To     types.Address
	Amount uint64
}

// SendPlan describes a transfer of base currency (Token == nil) or of a
// single token type.
type SendPlan struct {
	Token   *types.TokenID
	Inputs  []Unit
	Outputs []Payment
	Change  types.Address
}

// GenesisPlan mints one child token of a group to Destination.
type GenesisPlan struct {
	GroupID      types.TokenID
	Name         string
	Ticker       string
	DocumentURI  string
	DocumentHash string
	Destination  types.Address
	Change       types.Address
	Inputs       []Unit
}

// Ledger is the node-facing collaborator of the controller.
type Ledger interface {
	// Balance returns a fresh snapshot for one address.
	Balance(ctx context.Context, addr types.Address) (*AddressBalance, error)
	// Balances returns snapshots in the order of addrs.
	Balances(ctx context.Context, addrs []types.Address) ([]*AddressBalance, error)
	ChainHeight(ctx context.Context) (uint64, error)
	// SubmitSend signs and submits a plan. The returned string is whatever
	// the node answered; callers validate it as a transaction hash.
	SubmitSend(ctx context.Context, plan *SendPlan, signers map[types.Address]crypto.Signer) (string, error)
	SubmitChildGenesis(ctx context.Context, plan *GenesisPlan, signers map[types.Address]crypto.Signer) (string, error)
}

func sumValues(units []Unit) uint64 {
	var total uint64
	for _, u := range units {
		total += u.Value
	}
	return total
}
