package tx

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-faucet/pkg/crypto"
	"github.com/Klingon-tech/klingnet-faucet/pkg/types"
)

// Builder constructs transactions incrementally.
type Builder struct {
	tx     *Transaction
	owners []types.Address // owners[i] holds the key for tx.Inputs[i]
}

// NewBuilder creates a new transaction builder.
func NewBuilder() *Builder {
	return &Builder{
		tx: &Transaction{Version: 1},
	}
}

// AddInput adds an input spending prevOut, owned by owner.
func (b *Builder) AddInput(prevOut types.Outpoint, owner types.Address) *Builder {
	b.tx.Inputs = append(b.tx.Inputs, Input{PrevOut: prevOut})
	b.owners = append(b.owners, owner)
	return b
}

// AddOutput adds an output with a value and script.
func (b *Builder) AddOutput(value uint64, script types.Script) *Builder {
	b.tx.Outputs = append(b.tx.Outputs, Output{Value: value, Script: script})
	return b
}

// AddTokenOutput adds a token-carrying output.
func (b *Builder) AddTokenOutput(value uint64, script types.Script, token types.TokenData) *Builder {
	b.tx.Outputs = append(b.tx.Outputs, Output{
		Value:  value,
		Script: script,
		Token:  &token,
	})
	return b
}

// Sign signs each input with the key of the address that owns it.
// Inputs sharing an owner share one signature.
func (b *Builder) Sign(signers map[types.Address]crypto.Signer) error {
	hash := b.tx.Hash()

	type sigPub struct {
		sig    []byte
		pubKey []byte
	}
	cache := make(map[types.Address]*sigPub)

	for i := range b.tx.Inputs {
		owner := b.owners[i]
		sp, cached := cache[owner]
		if !cached {
			key, ok := signers[owner]
			if !ok {
				return fmt.Errorf("no signer for address %s (input %d)", owner, i)
			}
			sig, err := key.Sign(hash[:])
			if err != nil {
				return fmt.Errorf("sign input %d: %w", i, err)
			}
			sp = &sigPub{sig: sig, pubKey: key.PublicKey()}
			cache[owner] = sp
		}
		b.tx.Inputs[i].Signature = sp.sig
		b.tx.Inputs[i].PubKey = sp.pubKey
	}
	return nil
}

// Build returns the constructed transaction.
func (b *Builder) Build() *Transaction {
	return b.tx
}
