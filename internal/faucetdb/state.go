// Package faucetdb persists faucet state: the chain-length table and the
// journal of submitted transactions.
package faucetdb

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-faucet/internal/storage"
	"github.com/Klingon-tech/klingnet-faucet/pkg/types"
)

var keyChainLengths = []byte("s/chain") // -> chainState JSON

type chainState struct {
	Height  uint64         `json:"height"`
	Lengths map[string]int `json:"lengths"` // hex address -> count
}

// StateStore persists the chain-length table.
type StateStore struct {
	db storage.DB
}

// NewStateStore creates a state store over db.
func NewStateStore(db storage.DB) *StateStore {
	return &StateStore{db: db}
}

// LoadChainLengths returns the saved table, or height 0 and no counters if
// nothing was saved yet.
func (s *StateStore) LoadChainLengths() (uint64, map[types.Address]int, error) {
	data, err := s.db.Get(keyChainLengths)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, map[types.Address]int{}, nil
	}
	if err != nil {
		return 0, nil, fmt.Errorf("chain lengths get: %w", err)
	}
	var st chainState
	if err := json.Unmarshal(data, &st); err != nil {
		return 0, nil, fmt.Errorf("chain lengths unmarshal: %w", err)
	}
	lengths := make(map[types.Address]int, len(st.Lengths))
	for k, n := range st.Lengths {
		addr, err := types.HexToAddress(k)
		if err != nil {
			return 0, nil, fmt.Errorf("chain lengths: bad address %q: %w", k, err)
		}
		lengths[addr] = n
	}
	return st.Height, lengths, nil
}

// SaveChainLengths replaces the saved table.
func (s *StateStore) SaveChainLengths(height uint64, lengths map[types.Address]int) error {
	st := chainState{Height: height, Lengths: make(map[string]int, len(lengths))}
	for a, n := range lengths {
		st.Lengths[a.Hex()] = n
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("chain lengths marshal: %w", err)
	}
	return s.db.Put(keyChainLengths, data)
}
