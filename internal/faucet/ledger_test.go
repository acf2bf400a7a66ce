package faucet

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/Klingon-tech/klingnet-faucet/pkg/crypto"
	"github.com/Klingon-tech/klingnet-faucet/pkg/types"
)

var (
	testToken = types.TokenID{0x70, 0x6b}
	testTxID  = strings.Repeat("ab", 32)
)

// fakeLedger serves scripted balances and records submissions.
type fakeLedger struct {
	mu sync.Mutex

	height     uint64
	heightErr  error
	balances   map[types.Address]*AddressBalance
	balanceErr error
	lookups    []types.Address

	results   []string // consumed in order, then testTxID
	submitErr error
	sends     []*SendPlan
	geneses   []*GenesisPlan
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{height: 100, balances: make(map[types.Address]*AddressBalance)}
}

func (f *fakeLedger) Balance(_ context.Context, addr types.Address) (*AddressBalance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups = append(f.lookups, addr)
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	if b, ok := f.balances[addr]; ok {
		return b, nil
	}
	return &AddressBalance{Address: addr}, nil
}

func (f *fakeLedger) Balances(ctx context.Context, addrs []types.Address) ([]*AddressBalance, error) {
	out := make([]*AddressBalance, len(addrs))
	for i, a := range addrs {
		b, err := f.Balance(ctx, a)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

func (f *fakeLedger) ChainHeight(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.height, f.heightErr
}

func (f *fakeLedger) next() (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	if len(f.results) > 0 {
		r := f.results[0]
		f.results = f.results[1:]
		return r, nil
	}
	return testTxID, nil
}

func (f *fakeLedger) SubmitSend(_ context.Context, plan *SendPlan, _ map[types.Address]crypto.Signer) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, plan)
	return f.next()
}

func (f *fakeLedger) SubmitChildGenesis(_ context.Context, plan *GenesisPlan, _ map[types.Address]crypto.Signer) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.geneses = append(f.geneses, plan)
	return f.next()
}

func (f *fakeLedger) set(b *AddressBalance) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[b.Address] = b
}

func (f *fakeLedger) setHeight(h uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.height = h
}

func testPool(t *testing.T, n int) Pool {
	t.Helper()
	addrs := make([]ManagedAddress, n)
	for i := range addrs {
		key, err := crypto.GenerateKey()
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}
		addrs[i] = ManagedAddress{Address: key.Address(), Signer: key}
	}
	pool, err := NewPool(addrs)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	return pool
}

var outpointSeq byte

func nextOutpoint() types.Outpoint {
	outpointSeq++
	return types.Outpoint{TxID: types.Hash{0xee, outpointSeq}, Index: uint32(outpointSeq)}
}

// balanceOf builds a snapshot with one base unit per entry of base and one
// token unit per entry of tokens.
func balanceOf(addr types.Address, base []uint64, token types.TokenID, tokens []uint64) *AddressBalance {
	b := &AddressBalance{
		Address:       addr,
		TokenUnits:    make(map[types.TokenID][]Unit),
		TokenBalances: make(map[types.TokenID]uint64),
	}
	for _, v := range base {
		b.BaseUnits = append(b.BaseUnits, Unit{Outpoint: nextOutpoint(), Owner: addr, Value: v})
		b.Available += v
	}
	for _, amt := range tokens {
		b.TokenUnits[token] = append(b.TokenUnits[token], Unit{
			Outpoint: nextOutpoint(),
			Owner:    addr,
			Value:    DefaultDust,
			Token:    &types.TokenData{ID: token, Amount: amt},
		})
		b.TokenBalances[token] += amt
	}
	return b
}

func funded(addr types.Address) *AddressBalance {
	return balanceOf(addr, []uint64{1_000_000}, testToken, []uint64{1000})
}
