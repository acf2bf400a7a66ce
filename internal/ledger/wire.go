package ledger

import (
	"github.com/Klingon-tech/klingnet-faucet/pkg/tx"
	"github.com/Klingon-tech/klingnet-faucet/pkg/types"
)

// Node RPC methods used by the faucet.
const (
	methodChainInfo   = "chain_getInfo"
	methodUTXOsByAddr = "utxo_getByAddress"
	methodSubmitTx    = "tx_submit"
)

// UTXO is an unspent output as reported by the node.
type UTXO struct {
	Outpoint    types.Outpoint   `json:"outpoint"`
	Value       uint64           `json:"value"`
	Script      types.Script     `json:"script"`
	Token       *types.TokenData `json:"token,omitempty"`
	Height      uint64           `json:"height"`
	Coinbase    bool             `json:"coinbase"`
	LockedUntil uint64           `json:"locked_until,omitempty"`
}

type addressParam struct {
	Address string `json:"address"`
}

type utxoListResult struct {
	Address string  `json:"address"`
	UTXOs   []*UTXO `json:"utxos"`
}

type chainInfoResult struct {
	ChainID string `json:"chain_id"`
	Height  uint64 `json:"height"`
	TipHash string `json:"tip_hash"`
}

type txSubmitParam struct {
	Transaction *tx.Transaction `json:"transaction"`
}

type txSubmitResult struct {
	TxHash string `json:"tx_hash"`
}
