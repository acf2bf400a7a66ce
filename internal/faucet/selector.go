package faucet

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/klingnet-faucet/pkg/types"
)

// Shape of the transaction the selector budgets for.
const (
	selectOverheadBytes = 60
	selectOutputs       = 3
)

// Selection is an address accepted to fund a send, with the balance
// snapshot the decision was based on.
type Selection struct {
	Address ManagedAddress
	Balance *AddressBalance
}

// Selector scans the pool from a forward-only cursor for an address that
// can fund a token send.
type Selector struct {
	pool      Pool
	ledger    Ledger
	tracker   *ChainLengthTracker
	estimator CostEstimator
	feeRate   uint64
	chainCap  int
	cursor    int
	logger    zerolog.Logger
}

// NewSelector creates a selector over pool with the cursor at 0.
func NewSelector(pool Pool, ledger Ledger, tracker *ChainLengthTracker,
	estimator CostEstimator, feeRate uint64, chainCap int, logger zerolog.Logger) *Selector {
	return &Selector{
		pool:      pool,
		ledger:    ledger,
		tracker:   tracker,
		estimator: estimator,
		feeRate:   feeRate,
		chainCap:  chainCap,
		logger:    logger,
	}
}

// Cursor returns the index the next scan starts from.
func (s *Selector) Cursor() int {
	return s.cursor
}

// Reset moves the cursor back to the start of the pool.
func (s *Selector) Reset() {
	s.cursor = 0
}

// Select returns the first address at or after max(cursor, start) that is
// under the chain cap, holds base currency and units of token, and has
// enough base currency for the estimated cost. Addresses rejected on cost
// advance the cursor past them; they are not revisited until Reset.
func (s *Selector) Select(ctx context.Context, token types.TokenID, start int) (*Selection, error) {
	from := max(s.cursor, start)

	for i := from; i < len(s.pool); i++ {
		ma := s.pool[i]
		logger := s.logger.With().Int("index", i).Str("address", ma.Address.String()).Logger()

		if n := s.tracker.ChainLength(ma.Address); n >= s.chainCap {
			logger.Debug().Int("chain_length", n).Msg("Skipping address at chain cap")
			continue
		}

		bal, err := s.ledger.Balance(ctx, ma.Address)
		if err != nil {
			return nil, unavailable("balance of "+ma.Address.String(), err)
		}
		tokenUnits, ok := bal.Units(token)
		if len(bal.BaseUnits) == 0 || !ok {
			logger.Debug().
				Int("base_units", len(bal.BaseUnits)).
				Int("token_units", len(tokenUnits)).
				Msg("Skipping address without spendable units")
			continue
		}

		budget := s.estimator.Budget(EstimateParams{
			OverheadBytes: selectOverheadBytes,
			Inputs:        len(bal.BaseUnits) + len(tokenUnits),
			Outputs:       selectOutputs,
			Change:        true,
			FeeRate:       s.feeRate,
			TokenSend:     true,
		})
		tokenBal, _ := bal.TokenBalance(token)
		if tokenBal > 0 && bal.Available > budget {
			logger.Debug().
				Uint64("available", bal.Available).
				Uint64("token_balance", tokenBal).
				Msg("Selected address")
			return &Selection{Address: ma, Balance: bal}, nil
		}

		logger.Debug().
			Uint64("available", bal.Available).
			Uint64("budget", budget).
			Uint64("token_balance", tokenBal).
			Msg("Address cannot fund send, advancing cursor")
		s.cursor = i + 1
	}

	return nil, ErrNoFundedAddress
}
