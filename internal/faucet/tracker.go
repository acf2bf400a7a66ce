package faucet

import (
	"sync"

	"github.com/Klingon-tech/klingnet-faucet/pkg/types"
)

// ChainLengthTracker counts sends per address since the last observed block
// height. A new height resets every counter: the sends it covered are
// assumed confirmed.
type ChainLengthTracker struct {
	mu      sync.RWMutex
	height  uint64
	lengths map[types.Address]int
}

// NewChainLengthTracker creates an empty tracker.
func NewChainLengthTracker() *ChainLengthTracker {
	return &ChainLengthTracker{lengths: make(map[types.Address]int)}
}

// RecordHeight stores h and reports whether it differed from the stored
// height, in which case all counters were zeroed.
func (t *ChainLengthTracker) RecordHeight(h uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h == t.height {
		return false
	}
	t.height = h
	clear(t.lengths)
	return true
}

// ChainLength returns the counter for addr.
func (t *ChainLengthTracker) ChainLength(addr types.Address) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lengths[addr]
}

// Increment records one send from addr. There is no upper clamp.
func (t *ChainLengthTracker) Increment(addr types.Address) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lengths[addr]++
	return t.lengths[addr]
}

// Height returns the last recorded height.
func (t *ChainLengthTracker) Height() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.height
}

// Snapshot returns the height and a copy of the non-zero counters.
func (t *ChainLengthTracker) Snapshot() (uint64, map[types.Address]int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[types.Address]int, len(t.lengths))
	for a, n := range t.lengths {
		if n > 0 {
			out[a] = n
		}
	}
	return t.height, out
}

// Restore replaces the tracker state.
func (t *ChainLengthTracker) Restore(height uint64, lengths map[types.Address]int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.height = height
	t.lengths = make(map[types.Address]int, len(lengths))
	for a, n := range lengths {
		if n > 0 {
			t.lengths[a] = n
		}
	}
}
