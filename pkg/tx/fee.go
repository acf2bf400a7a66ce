package tx

// Byte sizes of the serialized transaction layout.
const (
	OverheadSize = 4 + 4 + 4 + 8   // version + inputCount + outputCount + locktime
	InputSize    = 32 + 4          // txID + index
	OutputSize   = 8 + 1 + 4 + 20  // value + scriptType + scriptDataLen + P2PKH addr
	TokenSize    = 32 + 8          // token id + amount
	WitnessSize  = 64 + 33         // schnorr signature + compressed pubkey
)

// EstimateTxFee returns the minimum fee for a transaction with the given
// number of inputs and outputs at the given fee rate (base units per byte).
//
// The estimate is based on the SigningBytes layout (which excludes signatures):
//
//	version(4) + inputCount(4) + inputs(36*n) + outputCount(4) + outputs(perOut*n) + locktime(8)
//
// Pass an optional extraOutputBytes to add extra bytes per output (e.g.
// TokenSize for token-carrying outputs).
func EstimateTxFee(numInputs, numOutputs int, feeRate uint64, extraOutputBytes ...int) uint64 {
	extra := 0
	if len(extraOutputBytes) > 0 {
		extra = extraOutputBytes[0]
	}

	size := OverheadSize + InputSize*numInputs + (OutputSize+extra)*numOutputs
	return uint64(size) * feeRate
}

// RequiredFee returns the exact minimum fee for a fully built transaction
// at the given fee rate (base units per byte of SigningBytes).
func RequiredFee(transaction *Transaction, feeRate uint64) uint64 {
	return uint64(len(transaction.SigningBytes())) * feeRate
}
