package faucet

import (
	"time"

	"github.com/Klingon-tech/klingnet-faucet/pkg/types"
)

// Kind names the purpose of a submitted transaction.
type Kind string

// Submission kinds.
const (
	KindSend           Kind = "send"
	KindChildGenesis   Kind = "child_genesis"
	KindBaseRebalance  Kind = "base_rebalance"
	KindTokenRebalance Kind = "token_rebalance"
	KindBatonTopUp     Kind = "baton_topup"
)

// Record describes one submission attempt, successful or not.
type Record struct {
	Kind        Kind          `json:"kind"`
	Spender     types.Address `json:"spender"`
	Index       int           `json:"index"`
	Destination string        `json:"destination,omitempty"`
	Amount      uint64        `json:"amount,omitempty"`
	TxID        string        `json:"txid,omitempty"`
	Error       string        `json:"error,omitempty"`
	Height      uint64        `json:"height"`
	ChainLength int           `json:"chain_length"`
	Cursor      int           `json:"cursor"`
	Time        time.Time     `json:"time"`
}

// OK reports whether the submission produced a transaction hash.
func (r Record) OK() bool {
	return r.Error == ""
}

// Recorder observes submissions. Implementations must not block for long;
// they run under the controller lock.
type Recorder interface {
	Record(rec Record)
}

// StateStore persists the chain-length table so a restart within the same
// block keeps its backpressure.
type StateStore interface {
	LoadChainLengths() (uint64, map[types.Address]int, error)
	SaveChainLengths(height uint64, lengths map[types.Address]int) error
}
