package faucet

import "github.com/Klingon-tech/klingnet-faucet/pkg/tx"

// tokenMarkerSize is the allowance for the token marker a token send carries.
const tokenMarkerSize = 10

// EstimateParams describes the shape of a transaction to price.
type EstimateParams struct {
	OverheadBytes int
	Inputs        int
	Outputs       int // destination outputs, not counting change
	Change        bool
	FeeRate       uint64
	TokenSend     bool
}

// CostEstimator prices transactions pessimistically. Overestimating only
// makes the selector skip an address; underestimating broadcasts a send
// that cannot pay for itself.
type CostEstimator struct {
	Dust uint64
}

// Estimate returns the base currency a transaction of shape p consumes:
// its fee plus, for token sends, the dust each destination output carries.
func (e CostEstimator) Estimate(p EstimateParams) uint64 {
	outputs := p.Outputs
	if p.Change {
		outputs++
	}
	var tokenBytes int
	if p.TokenSend {
		tokenBytes = tx.TokenSize
	}

	size := tx.EstimateTxFee(p.Inputs, outputs, 1, tokenBytes)
	size += uint64(p.Inputs * tx.WitnessSize)
	size += uint64(p.OverheadBytes)
	if p.TokenSend {
		size += tokenMarkerSize
	}

	cost := size * p.FeeRate
	if p.TokenSend {
		cost += uint64(p.Outputs) * e.Dust
	}
	return cost
}

// Budget is Estimate less the dust floor, saturating at zero. An address
// can fund the send when its available base currency exceeds the budget.
func (e CostEstimator) Budget(p EstimateParams) uint64 {
	cost := e.Estimate(p)
	if cost <= e.Dust {
		return 0
	}
	return cost - e.Dust
}
